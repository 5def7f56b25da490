package chaindexing

import "fmt"

// RepoError is returned by Repo operations. A connection-layer failure
// (ErrRepoNotConnected) aborts the current ingestion tick and is retried on
// the next tick with no backoff of its own (§7); any other repo failure is
// RepoUnknown and carries the driver's message.
type RepoError struct {
	msg        string
	notConnected bool
}

func (e *RepoError) Error() string {
	if e.notConnected {
		return "repo: not connected"
	}
	return fmt.Sprintf("repo: %s", e.msg)
}

// NotConnected reports whether this error represents a lost/never-opened
// connection, as opposed to some other repo-driver failure.
func (e *RepoError) NotConnected() bool { return e.notConnected }

// ErrRepoNotConnected builds the RepoNotConnected error kind.
func ErrRepoNotConnected() error {
	return &RepoError{notConnected: true}
}

// ErrRepoUnknown builds the RepoUnknown(msg) error kind.
func ErrRepoUnknown(msg string) error {
	return &RepoError{msg: msg}
}

// ProviderError wraps a JSON-RPC provider failure. These never surface past
// the ingester's fetch helpers (§7): they are retried with infinite
// exponential backoff and only ever observed via logging.
type ProviderError struct {
	msg string
	err error
}

func (e *ProviderError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("provider error: %s: %v", e.msg, e.err)
	}
	return fmt.Sprintf("provider error: %s", e.msg)
}

func (e *ProviderError) Unwrap() error { return e.err }

// NewProviderError wraps err as a ProviderError with added context.
func NewProviderError(msg string, err error) error {
	return &ProviderError{msg: msg, err: err}
}

// MigrationValidationError is fatal at startup (§7): an invalid user
// migration (e.g. one that declares a temporal column type) must crash the
// process before any DB work is attempted.
type MigrationValidationError struct {
	msg string
}

func (e *MigrationValidationError) Error() string {
	return fmt.Sprintf("migration validation: %s", e.msg)
}

// NewMigrationValidationError builds the MigrationValidation(msg) error kind.
func NewMigrationValidationError(msg string) error {
	return &MigrationValidationError{msg: msg}
}
