// Package paths turns the newline-delimited backup path list into the
// ordered set of absolute paths handed to the backup tool.
package paths

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	homedir "github.com/mitchellh/go-homedir"

	"github.com/adergaoui/b2up/internal/failure"
)

// Resolve reads the path list file, skipping blank lines and comments,
// expands a leading tilde, and resolves every entry to an absolute,
// symlink-normalized form. Inaccessible entries are collected and
// reported together in a single PermissionError rather than one at a
// time. The returned list is ordered and deduplicated.
func Resolve(listPath string) ([]string, error) {
	f, err := os.Open(listPath)
	if err != nil {
		return nil, failure.Newf(failure.Config, "resolve-paths", "open %s: %v", listPath, err)
	}
	defer f.Close()

	var (
		resolved     []string
		seen         = make(map[string]bool)
		inaccessible *multierror.Error
	)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		expanded, err := homedir.Expand(line)
		if err != nil {
			return nil, failure.Newf(failure.Config, "resolve-paths",
				"cannot expand %q: %v", line, err)
		}
		abs, err := filepath.Abs(expanded)
		if err != nil {
			return nil, failure.Newf(failure.Config, "resolve-paths",
				"cannot resolve %q: %v", line, err)
		}

		path, reason := classify(abs)
		if reason != "" {
			inaccessible = multierror.Append(inaccessible,
				fmt.Errorf("%s %s", abs, reason))
			continue
		}
		if !seen[path] {
			seen[path] = true
			resolved = append(resolved, path)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, failure.Newf(failure.Config, "resolve-paths", "read %s: %v", listPath, err)
	}

	if err := inaccessible.ErrorOrNil(); err != nil {
		return nil, failure.Newf(failure.Permission, "resolve-paths",
			"inaccessible backup paths:\n%v", err)
	}

	return resolved, nil
}

// classify normalizes symlinks on an existing path and reports why it
// cannot be backed up, if it cannot. An empty reason means accessible.
func classify(abs string) (string, string) {
	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			return abs, "(not found)"
		}
		return abs, "(not readable)"
	}

	path, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// Dangling symlink or a component we cannot traverse.
		return abs, "(not readable)"
	}

	// Opening is the readability check; it works for files and
	// directories alike.
	h, err := os.Open(path)
	if err != nil {
		return path, "(not readable)"
	}
	h.Close()

	return path, ""
}
