package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/adergaoui/b2up/internal/failure"
)

// writeBundle creates a complete, valid bundle in a temp directory.
func writeBundle(t *testing.T) Bundle {
	t.Helper()
	dir := t.TempDir()
	files := map[string]os.FileMode{
		EnvFileName:      0o644,
		PasswordFileName: 0o600,
		IncludesFileName: 0o644,
		ExcludesFileName: 0o644,
	}
	for name, mode := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x\n"), mode); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return NewBundle(dir)
}

func TestValidate_CompleteBundle(t *testing.T) {
	b := writeBundle(t)
	if err := b.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
}

func TestValidate_MissingFiles(t *testing.T) {
	for _, name := range []string{EnvFileName, PasswordFileName, IncludesFileName, ExcludesFileName} {
		t.Run(name, func(t *testing.T) {
			b := writeBundle(t)
			if err := os.Remove(filepath.Join(b.Dir, name)); err != nil {
				t.Fatal(err)
			}
			err := b.Validate()
			if !failure.Is(err, failure.Config) {
				t.Fatalf("Validate error = %v, want ConfigError", err)
			}
			if failure.ExitCode(err) != failure.ExitConfig {
				t.Fatalf("exit code = %d, want 10", failure.ExitCode(err))
			}
			if !strings.Contains(err.Error(), name) {
				t.Errorf("error %q does not name the missing file", err)
			}
		})
	}
}

func TestValidate_PasswordFileModes(t *testing.T) {
	cases := []struct {
		mode os.FileMode
		ok   bool
	}{
		{0o600, true},
		{0o400, true},
		{0o640, false},
		{0o644, false},
		{0o660, false},
	}
	for _, tc := range cases {
		b := writeBundle(t)
		if err := os.Chmod(b.PasswordFile, tc.mode); err != nil {
			t.Fatal(err)
		}
		err := b.Validate()
		if tc.ok && err != nil {
			t.Errorf("mode %04o: unexpected error %v", tc.mode, err)
		}
		if !tc.ok {
			if !failure.Is(err, failure.Permission) {
				t.Errorf("mode %04o: error = %v, want PermissionError", tc.mode, err)
			}
			if failure.ExitCode(err) != failure.ExitPermission {
				t.Errorf("mode %04o: exit code = %d, want 11", tc.mode, failure.ExitCode(err))
			}
		}
	}
}
