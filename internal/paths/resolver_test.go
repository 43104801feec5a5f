package paths

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/adergaoui/b2up/internal/failure"
)

func writeList(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "includes.txt")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write list: %v", err)
	}
	return path
}

func TestResolve_SkipsCommentsAndBlanks(t *testing.T) {
	dir := t.TempDir()
	list := writeList(t,
		"# documents",
		"",
		dir,
		"   ",
	)

	got, err := Resolve(list)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("resolved %d paths, want 1: %v", len(got), got)
	}
}

func TestResolve_Idempotent(t *testing.T) {
	dir := t.TempDir()
	list := writeList(t, dir)

	first, err := Resolve(list)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	second, err := Resolve(list)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(first) != 1 || len(second) != 1 || first[0] != second[0] {
		t.Fatalf("resolution not idempotent: %v vs %v", first, second)
	}
}

func TestResolve_DeduplicatesPreservingOrder(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()
	list := writeList(t, a, b, a)

	got, err := Resolve(list)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(got) != 2 || got[0] != a || got[1] != b {
		// TempDir paths may themselves contain symlinked components on
		// some systems; compare after normalization.
		na, _ := filepath.EvalSymlinks(a)
		nb, _ := filepath.EvalSymlinks(b)
		if len(got) != 2 || got[0] != na || got[1] != nb {
			t.Fatalf("resolved = %v, want [%s %s]", got, na, nb)
		}
	}
}

func TestResolve_ExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	list := writeList(t, "~")

	got, err := Resolve(list)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	normalized, _ := filepath.EvalSymlinks(home)
	if len(got) != 1 || (got[0] != home && got[0] != normalized) {
		t.Fatalf("resolved = %v, want home %s", got, home)
	}
}

func TestResolve_ReportsAllInaccessiblePaths(t *testing.T) {
	existing := t.TempDir()
	list := writeList(t,
		existing,
		"/nonexistent/dir",
		"/another/missing/one",
	)

	_, err := Resolve(list)
	if !failure.Is(err, failure.Permission) {
		t.Fatalf("error = %v, want PermissionError", err)
	}
	if failure.ExitCode(err) != failure.ExitPermission {
		t.Fatalf("exit code = %d, want 11", failure.ExitCode(err))
	}
	msg := err.Error()
	if !strings.Contains(msg, "/nonexistent/dir (not found)") {
		t.Errorf("error does not tag /nonexistent/dir: %q", msg)
	}
	if !strings.Contains(msg, "/another/missing/one (not found)") {
		t.Errorf("error does not report the second missing path: %q", msg)
	}
}

func TestResolve_MissingListFile(t *testing.T) {
	_, err := Resolve(filepath.Join(t.TempDir(), "absent.txt"))
	if !failure.Is(err, failure.Config) {
		t.Fatalf("error = %v, want ConfigError", err)
	}
}
