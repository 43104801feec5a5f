// Package orchestrator sequences a run: validate the configuration
// bundle, load credentials, resolve backup paths, execute the backup
// with bounded retry, apply retention, and verify. Phases run strictly
// one after another; there is no partial-success state.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"

	"github.com/adergaoui/b2up/internal/config"
	"github.com/adergaoui/b2up/internal/failure"
	"github.com/adergaoui/b2up/internal/history"
	"github.com/adergaoui/b2up/internal/logger"
	"github.com/adergaoui/b2up/internal/notify"
	"github.com/adergaoui/b2up/internal/paths"
	"github.com/adergaoui/b2up/internal/report"
	"github.com/adergaoui/b2up/internal/restic"
	"github.com/adergaoui/b2up/internal/retry"
	"github.com/adergaoui/b2up/internal/vaultsource"
)

// Backend is the subset of the restic wrapper the orchestrator drives.
type Backend interface {
	Backup(ctx context.Context, cfg restic.Config, paths []string, excludeFile string, tags []string) (*restic.BackupStats, error)
	Forget(ctx context.Context, cfg restic.Config, policy restic.RetentionPolicy) (*restic.ForgetResult, error)
	Check(ctx context.Context, cfg restic.Config, readDataSubset string) error
	Snapshots(ctx context.Context, cfg restic.Config) ([]restic.Snapshot, error)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBackend overrides the restic backend.
func WithBackend(b Backend) Option {
	return func(o *Orchestrator) {
		o.backend = b
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// Orchestrator drives one sequential run.
type Orchestrator struct {
	cfg     config.Config
	backend Backend
	log     logger.Logger
	out     io.Writer
	now     func() time.Time
}

// New builds an Orchestrator writing reports to out.
func New(cfg config.Config, log logger.Logger, out io.Writer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		backend: restic.New(log),
		log:     log,
		out:     out,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// prepare runs the configuration phases shared by every operation:
// bundle validation, credential loading and the optional Vault
// override. It returns the bundle and the restic invocation config.
func (o *Orchestrator) prepare(ctx context.Context) (config.Bundle, config.Credentials, restic.Config, error) {
	bundle := config.NewBundle(o.cfg.ConfigDir)
	if err := bundle.Validate(); err != nil {
		return bundle, config.Credentials{}, restic.Config{}, err
	}

	creds, err := config.LoadEnvFile(bundle.EnvFile, bundle.PasswordFile)
	if err != nil {
		return bundle, creds, restic.Config{}, err
	}

	if o.cfg.Vault.Enabled() {
		secrets, err := o.vaultSecrets(ctx)
		if err != nil {
			return bundle, creds, restic.Config{}, failure.Newf(failure.Config, "load-env",
				"vault credential source: %v", err)
		}
		creds.AccountID = secrets.AccountID
		creds.AccountKey = secrets.AccountKey
		if secrets.Password != "" {
			creds.Password = secrets.Password
			creds.PasswordFile = ""
		}
	}

	rcfg := restic.Config{
		Repository:   creds.Repository,
		AccountID:    creds.AccountID,
		AccountKey:   creds.AccountKey,
		Password:     creds.Password,
		PasswordFile: creds.PasswordFile,
	}
	return bundle, creds, rcfg, nil
}

func (o *Orchestrator) vaultSecrets(ctx context.Context) (*vaultsource.Secrets, error) {
	opts := []vaultsource.Option{vaultsource.WithAddress(o.cfg.Vault.Address)}
	if o.cfg.Vault.RoleID != "" && o.cfg.Vault.ApproleName != "" {
		opts = append(opts, vaultsource.WithAppRole(o.cfg.Vault.RoleID, o.cfg.Vault.ApproleName))
	}
	client, err := vaultsource.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client.BackupSecrets(ctx, o.cfg.Vault.SecretPath)
}

// retryPolicy merges the config with per-bundle overrides from the
// credentials file.
func (o *Orchestrator) retryPolicy(creds config.Credentials) retry.Policy {
	p := retry.Policy{
		MaxAttempts: o.cfg.Retry.MaxAttempts,
		BaseDelay:   o.cfg.Retry.BaseDelay,
	}
	if creds.MaxRetries > 0 {
		p.MaxAttempts = creds.MaxRetries
	}
	if creds.RetryDelay > 0 {
		p.BaseDelay = creds.RetryDelay
	}
	return p
}

// Backup runs the full sequence: backup with retry, then retention,
// then verification when due.
func (o *Orchestrator) Backup(ctx context.Context) error {
	bundle, creds, rcfg, err := o.prepare(ctx)
	if err != nil {
		return err
	}

	includes, err := paths.Resolve(bundle.IncludesFile)
	if err != nil {
		return err
	}

	start := o.now()
	var stats *restic.BackupStats
	err = retry.Do(ctx, o.retryPolicy(creds),
		func() error {
			s, err := o.backend.Backup(ctx, rcfg, includes, bundle.ExcludesFile, nil)
			if err != nil {
				return err
			}
			stats = s
			return nil
		},
		isTransient,
		func(err error, delay time.Duration) {
			o.log.Warn("transient backup failure, backing off",
				"error", err.Error(),
				"delay", delay.String(),
			)
		},
	)
	if err != nil {
		kind := failure.Backup
		if isTransient(err) {
			kind = failure.Network
		}
		ferr := failure.New(kind, "backup", err)
		o.recordRun(history.Record{
			StartedAt: start,
			Duration:  o.now().Sub(start),
			Status:    "failure",
			Error:     err.Error(),
		})
		o.notifyRun(ctx, creds.Repository, stats, ferr)
		return ferr
	}

	report.WriteBackupSummary(o.out, stats)
	o.recordRun(history.Record{
		StartedAt:    start,
		Duration:     o.now().Sub(start),
		Status:       "success",
		SnapshotID:   stats.SnapshotID,
		FilesNew:     stats.FilesNew,
		FilesChanged: stats.FilesChanged,
		DataAdded:    stats.DataAdded,
	})
	o.notifyRun(ctx, creds.Repository, stats, nil)

	if !o.retentionPolicy().Empty() {
		result, err := o.backend.Forget(ctx, rcfg, o.retentionPolicy())
		if err != nil {
			return failure.New(failure.Backup, "retention", err)
		}
		report.WriteForgetSummary(o.out, result)
	}

	if o.verifyDue() {
		if err := o.verify(ctx, rcfg); err != nil {
			return err
		}
	}

	return nil
}

// Forget applies the retention policy on its own.
func (o *Orchestrator) Forget(ctx context.Context) error {
	_, _, rcfg, err := o.prepare(ctx)
	if err != nil {
		return err
	}

	policy := o.retentionPolicy()
	if policy.Empty() {
		return failure.Newf(failure.Config, "retention",
			"retention policy keeps nothing, refusing to forget")
	}

	result, err := o.backend.Forget(ctx, rcfg, policy)
	if err != nil {
		return failure.New(failure.Backup, "retention", err)
	}
	report.WriteForgetSummary(o.out, result)
	return nil
}

// Check runs the integrity check on its own, regardless of the
// configured verification mode.
func (o *Orchestrator) Check(ctx context.Context) error {
	_, _, rcfg, err := o.prepare(ctx)
	if err != nil {
		return err
	}
	return o.verify(ctx, rcfg)
}

// Snapshots lists the repository snapshots.
func (o *Orchestrator) Snapshots(ctx context.Context) error {
	_, _, rcfg, err := o.prepare(ctx)
	if err != nil {
		return err
	}

	snaps, err := o.backend.Snapshots(ctx, rcfg)
	if err != nil {
		return failure.New(failure.Backup, "snapshots", err)
	}
	report.WriteSnapshotsTable(o.out, snaps)
	return nil
}

// History prints the most recent run records.
func (o *Orchestrator) History(n int) error {
	store, err := o.historyStore()
	if err != nil {
		return failure.New(failure.Config, "history", err)
	}
	records, err := store.Recent(n)
	if err != nil {
		return failure.New(failure.Config, "history", err)
	}
	for _, rec := range records {
		status := rec.Status
		if rec.SnapshotID != "" {
			status = fmt.Sprintf("%s %s", status, rec.SnapshotID)
		}
		fmt.Fprintf(o.out, "%s  %-24s %s\n",
			rec.StartedAt.Local().Format("2006-01-02 15:04:05"),
			status,
			report.FormatDuration(rec.Duration),
		)
		if rec.Error != "" {
			fmt.Fprintf(o.out, "    %s\n", rec.Error)
		}
	}
	return nil
}

func (o *Orchestrator) verify(ctx context.Context, rcfg restic.Config) error {
	start := o.now()
	if err := o.backend.Check(ctx, rcfg, o.cfg.Verify.ReadDataSubset); err != nil {
		return failure.New(failure.Verification, "verify", err)
	}
	report.WriteCheckSummary(o.out, o.cfg.Verify.ReadDataSubset, o.now().Sub(start))
	return nil
}

// verifyDue decides whether the post-backup check runs now.
func (o *Orchestrator) verifyDue() bool {
	switch o.cfg.Verify.Mode {
	case config.VerifyAlways:
		return true
	case config.VerifyMonthly:
		return o.now().Day() == 1
	default:
		return false
	}
}

func (o *Orchestrator) retentionPolicy() restic.RetentionPolicy {
	return restic.RetentionPolicy{
		KeepDaily:   o.cfg.Retention.KeepDaily,
		KeepWeekly:  o.cfg.Retention.KeepWeekly,
		KeepMonthly: o.cfg.Retention.KeepMonthly,
		KeepYearly:  o.cfg.Retention.KeepYearly,
	}
}

func (o *Orchestrator) historyStore() (*history.Store, error) {
	dir := o.cfg.StateDir
	if dir == "" {
		home, err := homedir.Dir()
		if err != nil {
			return nil, fmt.Errorf("resolve state directory: %w", err)
		}
		dir = filepath.Join(home, ".local", "state", "b2up")
	}
	return history.NewStore(dir, o.log)
}

// recordRun appends the run to local history; bookkeeping trouble is
// logged, never fatal.
func (o *Orchestrator) recordRun(rec history.Record) {
	store, err := o.historyStore()
	if err != nil {
		o.log.Warn("run history unavailable", "error", err.Error())
		return
	}
	if err := store.Append(rec); err != nil {
		o.log.Warn("recording run failed", "error", err.Error())
	}
}

// notifyRun posts the completion webhook when one is configured.
func (o *Orchestrator) notifyRun(ctx context.Context, repository string, stats *restic.BackupStats, runErr error) {
	wh := notify.NewWebhook(o.cfg.Notify.WebhookURL, o.log)
	if !wh.Enabled() {
		return
	}

	hostname, _ := os.Hostname()
	event := notify.Event{
		Status:     "success",
		Hostname:   hostname,
		Repository: repository,
	}
	if runErr != nil {
		event.Status = "failure"
		event.Error = runErr.Error()
	}
	if stats != nil {
		event.SnapshotID = stats.SnapshotID
		event.DataAdded = stats.DataAdded
		event.Duration = report.FormatDuration(stats.Duration)
	}

	if err := wh.Send(ctx, event); err != nil {
		o.log.Warn("notification failed", "error", err.Error())
	}
}

// networkKeywords is the fallback classifier for transient transport
// failures. restic's CLI exposes no structured error category, so the
// stderr text is matched against transport-flavored keywords. A bare
// "b2" is deliberately not on the list: it would match every
// repository locator restic prints.
var networkKeywords = []string{
	"connection",
	"timeout",
	"timed out",
	"unreachable",
	"network",
	"dial tcp",
	"i/o timeout",
	"temporary failure",
	"backblaze",
	"service unavailable",
	"tls handshake",
	"503",
}

// isTransient reports whether the error looks like a transient
// transport failure worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range networkKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}
