// Package restic wraps the restic CLI for backup, retention and
// integrity-check operations against a Backblaze B2 repository. All
// durable state (snapshots, locking, deduplication) belongs to restic
// itself; this package only builds invocations and parses the
// machine-readable output.
package restic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/adergaoui/b2up/internal/logger"
)

// Config carries everything one restic invocation needs. Credentials
// are injected into the child process environment only; the
// orchestrator's own environment is never touched.
type Config struct {
	Repository   string
	AccountID    string
	AccountKey   string
	Password     string // inline password; preferred when set
	PasswordFile string // used when Password is empty
}

// CmdError is a restic invocation that exited non-zero. Stderr is kept
// so callers can classify the failure.
type CmdError struct {
	ExitCode int
	Stderr   string
}

func (e *CmdError) Error() string {
	return fmt.Sprintf("restic exited with code %d: %s", e.ExitCode, e.Stderr)
}

// Restic runs a restic binary.
type Restic struct {
	binary string
	log    logger.Logger
}

// New returns a wrapper around the restic binary found on PATH.
func New(log logger.Logger) *Restic {
	return &Restic{binary: "restic", log: log}
}

// NewWithBinary returns a wrapper around a specific binary path.
func NewWithBinary(binary string, log logger.Logger) *Restic {
	return &Restic{binary: binary, log: log}
}

// BackupStats is the parsed final summary record of a backup run.
type BackupStats struct {
	SnapshotID      string
	FilesNew        int
	FilesChanged    int
	FilesUnmodified int
	DirsNew         int
	DirsChanged     int
	DirsUnmodified  int
	DataAdded       int64
	BytesProcessed  int64
	FilesProcessed  int
	Duration        time.Duration
}

// Backup runs restic backup over the given paths with an exclude file,
// requesting line-delimited JSON output, and returns the parsed
// summary.
func (r *Restic) Backup(ctx context.Context, cfg Config, paths []string, excludeFile string, tags []string) (*BackupStats, error) {
	if len(paths) == 0 {
		return nil, errors.New("no paths specified for backup")
	}

	r.log.Info("starting backup", "repository", cfg.Repository, "paths", len(paths))
	start := time.Now()

	args := []string{"backup", "--json"}
	if excludeFile != "" {
		args = append(args, "--exclude-file", excludeFile)
	}
	for _, tag := range tags {
		args = append(args, "--tag", tag)
	}
	args = append(args, paths...)

	output, err := r.run(ctx, cfg, args)
	if err != nil {
		return nil, err
	}

	stats, err := parseBackupOutput(output)
	if err != nil {
		return nil, fmt.Errorf("parse backup output: %w", err)
	}
	stats.Duration = time.Since(start)

	r.log.Info("backup completed",
		"snapshot_id", stats.SnapshotID,
		"files_new", stats.FilesNew,
		"files_changed", stats.FilesChanged,
		"data_added", stats.DataAdded,
		"duration", stats.Duration.String(),
	)
	return stats, nil
}

// RetentionPolicy holds the keep counts handed to restic forget.
type RetentionPolicy struct {
	KeepDaily   int
	KeepWeekly  int
	KeepMonthly int
	KeepYearly  int
}

// Empty reports whether the policy keeps nothing at all.
func (p RetentionPolicy) Empty() bool {
	return p.KeepDaily <= 0 && p.KeepWeekly <= 0 && p.KeepMonthly <= 0 && p.KeepYearly <= 0
}

// ForgetResult summarizes a forget/prune run.
type ForgetResult struct {
	SnapshotsKept    int
	SnapshotsRemoved int
	RemovedIDs       []string
}

// Forget applies the retention policy and prunes unreferenced data.
func (r *Restic) Forget(ctx context.Context, cfg Config, policy RetentionPolicy) (*ForgetResult, error) {
	if policy.Empty() {
		return nil, errors.New("retention policy keeps nothing, refusing to forget")
	}

	r.log.Info("applying retention policy",
		"keep_daily", policy.KeepDaily,
		"keep_weekly", policy.KeepWeekly,
		"keep_monthly", policy.KeepMonthly,
		"keep_yearly", policy.KeepYearly,
	)

	args := []string{"forget", "--json", "--prune"}
	if policy.KeepDaily > 0 {
		args = append(args, "--keep-daily", strconv.Itoa(policy.KeepDaily))
	}
	if policy.KeepWeekly > 0 {
		args = append(args, "--keep-weekly", strconv.Itoa(policy.KeepWeekly))
	}
	if policy.KeepMonthly > 0 {
		args = append(args, "--keep-monthly", strconv.Itoa(policy.KeepMonthly))
	}
	if policy.KeepYearly > 0 {
		args = append(args, "--keep-yearly", strconv.Itoa(policy.KeepYearly))
	}

	output, err := r.run(ctx, cfg, args)
	if err != nil {
		return nil, err
	}

	result, err := parseForgetOutput(output)
	if err != nil {
		return nil, fmt.Errorf("parse forget output: %w", err)
	}

	r.log.Info("retention applied",
		"snapshots_kept", result.SnapshotsKept,
		"snapshots_removed", result.SnapshotsRemoved,
	)
	return result, nil
}

// Check verifies repository integrity, reading back the given subset of
// pack data (for example "5%"). An empty subset checks structure only.
func (r *Restic) Check(ctx context.Context, cfg Config, readDataSubset string) error {
	r.log.Info("checking repository integrity", "read_data_subset", readDataSubset)

	args := []string{"check"}
	if readDataSubset != "" {
		args = append(args, "--read-data-subset", readDataSubset)
	}

	if _, err := r.run(ctx, cfg, args); err != nil {
		return err
	}
	r.log.Info("repository check passed")
	return nil
}

// Snapshot is one entry of restic snapshots --json.
type Snapshot struct {
	ID       string    `json:"id"`
	ShortID  string    `json:"short_id"`
	Time     time.Time `json:"time"`
	Hostname string    `json:"hostname"`
	Paths    []string  `json:"paths"`
	Tags     []string  `json:"tags,omitempty"`
}

// Snapshots lists all snapshots in the repository.
func (r *Restic) Snapshots(ctx context.Context, cfg Config) ([]Snapshot, error) {
	output, err := r.run(ctx, cfg, []string{"snapshots", "--json"})
	if err != nil {
		return nil, err
	}

	var snapshots []Snapshot
	if err := json.Unmarshal(output, &snapshots); err != nil {
		return nil, fmt.Errorf("parse snapshots: %w", err)
	}
	return snapshots, nil
}

// run executes one restic command with credentials in the child
// environment and returns stdout. A non-zero exit becomes a *CmdError
// carrying stderr (or stdout when stderr is empty).
func (r *Restic) run(ctx context.Context, cfg Config, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.binary, args...)

	env := cmd.Environ()
	env = append(env,
		"RESTIC_REPOSITORY="+cfg.Repository,
		"B2_ACCOUNT_ID="+cfg.AccountID,
		"B2_ACCOUNT_KEY="+cfg.AccountKey,
	)
	if cfg.Password != "" {
		env = append(env, "RESTIC_PASSWORD="+cfg.Password)
	} else if cfg.PasswordFile != "" {
		env = append(env, "RESTIC_PASSWORD_FILE="+cfg.PasswordFile)
	}
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.log.Debug("executing restic", "args", strings.Join(args, " "))

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &CmdError{ExitCode: exitErr.ExitCode(), Stderr: msg}
		}
		return nil, fmt.Errorf("run restic: %w", err)
	}

	return stdout.Bytes(), nil
}

// backupSummary is the summary record of restic backup --json.
type backupSummary struct {
	MessageType     string  `json:"message_type"`
	SnapshotID      string  `json:"snapshot_id"`
	FilesNew        int     `json:"files_new"`
	FilesChanged    int     `json:"files_changed"`
	FilesUnmodified int     `json:"files_unmodified"`
	DirsNew         int     `json:"dirs_new"`
	DirsChanged     int     `json:"dirs_changed"`
	DirsUnmodified  int     `json:"dirs_unmodified"`
	DataAdded       int64   `json:"data_added"`
	TotalFilesProc  int     `json:"total_files_processed"`
	TotalBytesProc  int64   `json:"total_bytes_processed"`
	TotalDuration   float64 `json:"total_duration"`
}

// parseBackupOutput finds the summary message in the line-delimited
// JSON stream restic emits.
func parseBackupOutput(output []byte) (*BackupStats, error) {
	for _, line := range bytes.Split(output, []byte("\n")) {
		if len(line) == 0 {
			continue
		}

		var msg struct {
			MessageType string `json:"message_type"`
		}
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		if msg.MessageType != "summary" {
			continue
		}

		var summary backupSummary
		if err := json.Unmarshal(line, &summary); err != nil {
			return nil, fmt.Errorf("parse summary: %w", err)
		}
		return &BackupStats{
			SnapshotID:      summary.SnapshotID,
			FilesNew:        summary.FilesNew,
			FilesChanged:    summary.FilesChanged,
			FilesUnmodified: summary.FilesUnmodified,
			DirsNew:         summary.DirsNew,
			DirsChanged:     summary.DirsChanged,
			DirsUnmodified:  summary.DirsUnmodified,
			DataAdded:       summary.DataAdded,
			BytesProcessed:  summary.TotalBytesProc,
			FilesProcessed:  summary.TotalFilesProc,
			Duration:        time.Duration(summary.TotalDuration * float64(time.Second)),
		}, nil
	}

	return nil, errors.New("no backup summary found in output")
}

// forgetGroup is one retention group of restic forget --json.
type forgetGroup struct {
	Keep   []forgetSnapshot `json:"keep"`
	Remove []forgetSnapshot `json:"remove"`
}

type forgetSnapshot struct {
	ID      string `json:"id"`
	ShortID string `json:"short_id"`
}

// parseForgetOutput handles both output shapes restic uses: a JSON
// array of groups, or one JSON object per line.
func parseForgetOutput(output []byte) (*ForgetResult, error) {
	result := &ForgetResult{}

	var groups []forgetGroup
	if err := json.Unmarshal(output, &groups); err == nil {
		for _, g := range groups {
			accumulate(result, g)
		}
		return result, nil
	}

	for _, line := range bytes.Split(output, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var g forgetGroup
		if err := json.Unmarshal(line, &g); err != nil {
			continue
		}
		accumulate(result, g)
	}
	return result, nil
}

func accumulate(result *ForgetResult, g forgetGroup) {
	result.SnapshotsKept += len(g.Keep)
	result.SnapshotsRemoved += len(g.Remove)
	for _, snap := range g.Remove {
		result.RemovedIDs = append(result.RemovedIDs, snap.ShortID)
	}
}
