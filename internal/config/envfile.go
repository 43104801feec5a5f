package config

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/adergaoui/b2up/internal/failure"
)

// Variable names read from the credentials file.
const (
	envAccountID  = "B2_ACCOUNT_ID"
	envAccountKey = "B2_ACCOUNT_KEY"
	envRepository = "RESTIC_REPOSITORY"
	envPassword   = "RESTIC_PASSWORD"
	envMaxRetries = "B2UP_MAX_RETRIES"
	envRetryDelay = "B2UP_RETRY_DELAY"
)

// keyPattern is the only shape a variable name may take. Anything else
// is rejected outright; the file is parsed line by line and never
// handed to a shell.
var keyPattern = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)

// Credentials is the immutable result of loading the credentials file.
// It is passed by value between phases; the process environment is
// never mutated.
type Credentials struct {
	AccountID    string
	AccountKey   string
	Repository   string
	Password     string // inline password, empty when a file is used
	PasswordFile string // set when no inline password was supplied

	// Optional retry overrides; zero values mean "use the config".
	MaxRetries int
	RetryDelay time.Duration
}

// LoadEnvFile parses a newline-delimited KEY=VALUE file into a
// Credentials struct. passwordFile is the already-validated password
// file path, used when the file supplies no inline password.
func LoadEnvFile(path, passwordFile string) (Credentials, error) {
	f, err := os.Open(path)
	if err != nil {
		return Credentials{}, failure.Newf(failure.Config, "load-env", "open %s: %v", path, err)
	}
	defer f.Close()

	vars := make(map[string]string)
	scanner := bufio.NewScanner(f)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, found := strings.Cut(line, "=")
		if !found {
			return Credentials{}, failure.Newf(failure.Config, "load-env",
				"%s:%d: not a KEY=VALUE line", path, lineno)
		}
		key = strings.TrimSpace(key)
		if !keyPattern.MatchString(key) {
			return Credentials{}, failure.Newf(failure.Config, "load-env",
				"%s:%d: invalid variable name %q", path, lineno, key)
		}
		vars[key] = unquote(strings.TrimSpace(value))
	}
	if err := scanner.Err(); err != nil {
		return Credentials{}, failure.Newf(failure.Config, "load-env", "read %s: %v", path, err)
	}

	for _, required := range []string{envAccountID, envAccountKey, envRepository} {
		if vars[required] == "" {
			return Credentials{}, failure.Newf(failure.Config, "load-env",
				"%s: mandatory variable %s is missing", path, required)
		}
	}

	creds := Credentials{
		AccountID:  vars[envAccountID],
		AccountKey: vars[envAccountKey],
		Repository: vars[envRepository],
		Password:   vars[envPassword],
	}
	if creds.Password == "" {
		creds.PasswordFile = passwordFile
	}

	if raw, ok := vars[envMaxRetries]; ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return Credentials{}, failure.Newf(failure.Config, "load-env",
				"%s: %s must be a positive integer, got %q", path, envMaxRetries, raw)
		}
		creds.MaxRetries = n
	}

	if raw, ok := vars[envRetryDelay]; ok {
		d, err := parseDelay(raw)
		if err != nil {
			return Credentials{}, failure.Newf(failure.Config, "load-env",
				"%s: %s: %v", path, envRetryDelay, err)
		}
		creds.RetryDelay = d
	}

	return creds, nil
}

// parseDelay accepts either a Go duration string or a bare integer
// number of seconds.
func parseDelay(raw string) (time.Duration, error) {
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 1 {
			return 0, fmt.Errorf("must be positive, got %d", secs)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", d)
	}
	return d, nil
}

// unquote strips one matching pair of surrounding single or double
// quotes, if present.
func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
