package config

import (
	"os"
	"path/filepath"

	"github.com/adergaoui/b2up/internal/failure"
)

// Fixed file names inside the configuration directory.
const (
	EnvFileName      = "b2.env"
	PasswordFileName = "password"
	IncludesFileName = "includes.txt"
	ExcludesFileName = "excludes.txt"
)

// Bundle is the fixed four-file layout of the configuration directory.
// All four files must exist before any backup attempt is made.
type Bundle struct {
	Dir          string
	EnvFile      string
	PasswordFile string
	IncludesFile string
	ExcludesFile string
}

// NewBundle builds the file paths for a configuration directory.
func NewBundle(dir string) Bundle {
	return Bundle{
		Dir:          dir,
		EnvFile:      filepath.Join(dir, EnvFileName),
		PasswordFile: filepath.Join(dir, PasswordFileName),
		IncludesFile: filepath.Join(dir, IncludesFileName),
		ExcludesFile: filepath.Join(dir, ExcludesFileName),
	}
}

// Validate checks that every expected file exists and that the password
// file is restricted to owner read/write. Configuration defects are not
// transient, so there is no retry anywhere near this path.
func (b Bundle) Validate() error {
	for _, f := range []string{b.EnvFile, b.PasswordFile, b.IncludesFile, b.ExcludesFile} {
		if _, err := os.Stat(f); err != nil {
			if os.IsNotExist(err) {
				return failure.Newf(failure.Config, "validate",
					"required configuration file %s is missing", f)
			}
			return failure.Newf(failure.Config, "validate", "stat %s: %v", f, err)
		}
	}

	info, err := os.Stat(b.PasswordFile)
	if err != nil {
		return failure.Newf(failure.Config, "validate", "stat %s: %v", b.PasswordFile, err)
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		return failure.Newf(failure.Permission, "validate",
			"password file %s has mode %04o, must not be readable by group or others",
			b.PasswordFile, mode)
	}

	return nil
}
