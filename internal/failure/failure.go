// Package failure defines the error taxonomy shared by every phase of a
// run. Each kind maps to a fixed process exit code so that supervisors
// and log scrapers can tell configuration defects, permission problems,
// transient network failures and genuine backup errors apart.
package failure

import (
	"errors"
	"fmt"
)

// Process exit codes, one per failure kind.
const (
	ExitOK           = 0
	ExitConfig       = 10
	ExitPermission   = 11
	ExitBackup       = 12
	ExitNetwork      = 13
	ExitVerification = 14
)

// Kind classifies a terminal failure.
type Kind int

const (
	// Config is a missing or malformed configuration. Never retried.
	Config Kind = iota
	// Permission is an insecure file mode or an inaccessible backup path.
	Permission
	// Backup is any non-network failure of the backup tool.
	Backup
	// Network is a transient transport failure, fatal only after the
	// bounded retry budget is exhausted.
	Network
	// Verification is a failed post-backup integrity check.
	Verification
)

// String returns the taxonomy name for the kind.
func (k Kind) String() string {
	switch k {
	case Config:
		return "ConfigError"
	case Permission:
		return "PermissionError"
	case Backup:
		return "BackupError"
	case Network:
		return "NetworkError"
	case Verification:
		return "VerificationError"
	}
	return "UnknownError"
}

// ExitCode returns the process exit code for the kind.
func (k Kind) ExitCode() int {
	switch k {
	case Config:
		return ExitConfig
	case Permission:
		return ExitPermission
	case Backup:
		return ExitBackup
	case Network:
		return ExitNetwork
	case Verification:
		return ExitVerification
	}
	return ExitBackup
}

// Error is a classified failure produced by one of the run phases.
type Error struct {
	Kind  Kind
	Phase string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s in phase %q: %v", e.Kind, e.Phase, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err as a classified failure attributed to phase.
func New(kind Kind, phase string, err error) *Error {
	return &Error{Kind: kind, Phase: phase, Err: err}
}

// Newf is New with fmt.Errorf semantics.
func Newf(kind Kind, phase, format string, args ...any) *Error {
	return &Error{Kind: kind, Phase: phase, Err: fmt.Errorf(format, args...)}
}

// ExitCode maps an error to its process exit code. Unclassified non-nil
// errors count as backup failures.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind.ExitCode()
	}
	return ExitBackup
}

// Phase returns the phase name recorded on a classified failure, or
// "run" when the error carries none.
func Phase(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Phase
	}
	return "run"
}

// Is reports whether err is a classified failure of the given kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}
