package restic

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adergaoui/b2up/internal/logger"
)

// fakeRestic writes a shell script that stands in for the restic
// binary: it prints stdout/stderr and exits with the given code.
func fakeRestic(t *testing.T, stdout, stderr string, exitCode int) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake restic script requires a POSIX shell")
	}

	dir := t.TempDir()
	outFile := filepath.Join(dir, "stdout")
	errFile := filepath.Join(dir, "stderr")
	require.NoError(t, os.WriteFile(outFile, []byte(stdout), 0o644))
	require.NoError(t, os.WriteFile(errFile, []byte(stderr), 0o644))

	script := fmt.Sprintf("#!/bin/sh\ncat %s >&2\ncat %s\nexit %d\n", errFile, outFile, exitCode)

	path := filepath.Join(dir, "restic")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func testConfig() Config {
	return Config{
		Repository: "b2:bucket:host",
		AccountID:  "id",
		AccountKey: "key",
		Password:   "secret",
	}
}

const summaryLine = `{"message_type":"summary","snapshot_id":"1a2b3c4d","files_new":2,` +
	`"files_changed":1,"files_unmodified":40,"dirs_new":0,"dirs_changed":3,` +
	`"dirs_unmodified":12,"data_added":18432,"total_files_processed":43,` +
	`"total_bytes_processed":1048576,"total_duration":12.5}`

func TestBackup_ParsesSummary(t *testing.T) {
	output := `{"message_type":"status","percent_done":0.5}` + "\n" + summaryLine + "\n"
	bin := fakeRestic(t, output, "", 0)
	r := NewWithBinary(bin, logger.Global())

	stats, err := r.Backup(context.Background(), testConfig(), []string{"/home"}, "", nil)
	require.NoError(t, err)

	assert.Equal(t, "1a2b3c4d", stats.SnapshotID)
	assert.Equal(t, 2, stats.FilesNew)
	assert.Equal(t, 1, stats.FilesChanged)
	assert.Equal(t, 40, stats.FilesUnmodified)
	assert.Equal(t, int64(18432), stats.DataAdded)
	assert.Equal(t, int64(1048576), stats.BytesProcessed)
}

func TestBackup_NoPaths(t *testing.T) {
	r := New(logger.Global())
	_, err := r.Backup(context.Background(), testConfig(), nil, "", nil)
	require.Error(t, err)
}

func TestBackup_NonZeroExitYieldsCmdError(t *testing.T) {
	bin := fakeRestic(t, "", "Fatal: unable to open repository: connection reset by peer", 1)
	r := NewWithBinary(bin, logger.Global())

	_, err := r.Backup(context.Background(), testConfig(), []string{"/home"}, "", nil)
	require.Error(t, err)

	var cmdErr *CmdError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 1, cmdErr.ExitCode)
	assert.Contains(t, cmdErr.Stderr, "connection reset")
}

func TestParseBackupOutput_NoSummary(t *testing.T) {
	_, err := parseBackupOutput([]byte(`{"message_type":"status"}` + "\n"))
	require.Error(t, err)
}

func TestParseBackupOutput_Duration(t *testing.T) {
	stats, err := parseBackupOutput([]byte(summaryLine))
	require.NoError(t, err)
	assert.Equal(t, 12500*time.Millisecond, stats.Duration)
}

func TestForget_ParsesGroups(t *testing.T) {
	output := `[{"keep":[{"id":"aaa","short_id":"aaa1"},{"id":"bbb","short_id":"bbb1"}],` +
		`"remove":[{"id":"ccc","short_id":"ccc1"}]}]`
	bin := fakeRestic(t, output, "", 0)
	r := NewWithBinary(bin, logger.Global())

	result, err := r.Forget(context.Background(), testConfig(), RetentionPolicy{KeepDaily: 7})
	require.NoError(t, err)

	assert.Equal(t, 2, result.SnapshotsKept)
	assert.Equal(t, 1, result.SnapshotsRemoved)
	assert.Equal(t, []string{"ccc1"}, result.RemovedIDs)
}

func TestForget_RefusesEmptyPolicy(t *testing.T) {
	r := New(logger.Global())
	_, err := r.Forget(context.Background(), testConfig(), RetentionPolicy{})
	require.Error(t, err)
}

func TestParseForgetOutput_LineDelimited(t *testing.T) {
	output := `{"keep":[{"id":"aaa","short_id":"aaa1"}],"remove":[]}` + "\n" +
		`{"keep":[],"remove":[{"id":"bbb","short_id":"bbb1"},{"id":"ccc","short_id":"ccc1"}]}` + "\n"

	result, err := parseForgetOutput([]byte(output))
	require.NoError(t, err)
	assert.Equal(t, 1, result.SnapshotsKept)
	assert.Equal(t, 2, result.SnapshotsRemoved)
}

func TestCheck_PassesAndFails(t *testing.T) {
	ok := NewWithBinary(fakeRestic(t, "no errors were found", "", 0), logger.Global())
	require.NoError(t, ok.Check(context.Background(), testConfig(), "5%"))

	bad := NewWithBinary(fakeRestic(t, "", "pack 1234: checksum mismatch", 1), logger.Global())
	err := bad.Check(context.Background(), testConfig(), "5%")
	require.Error(t, err)

	var cmdErr *CmdError
	require.True(t, errors.As(err, &cmdErr))
	assert.Contains(t, cmdErr.Stderr, "checksum mismatch")
}

func TestSnapshots(t *testing.T) {
	output := `[{"id":"deadbeef","short_id":"dead","time":"2026-08-01T02:00:00Z",` +
		`"hostname":"web1","paths":["/home"]}]`
	r := NewWithBinary(fakeRestic(t, output, "", 0), logger.Global())

	snaps, err := r.Snapshots(context.Background(), testConfig())
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "dead", snaps[0].ShortID)
	assert.Equal(t, "web1", snaps[0].Hostname)
}

func TestRetentionPolicyEmpty(t *testing.T) {
	assert.True(t, RetentionPolicy{}.Empty())
	assert.False(t, RetentionPolicy{KeepWeekly: 4}.Empty())
}
