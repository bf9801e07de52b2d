package errors

import (
	"errors"
	"fmt"
)

// Error represents a sync error with context about the operation that failed.
type Error struct {
	// Op is the operation that failed (e.g., "scan", "mark_done", "upload")
	Op string

	// Code classifies the failure
	Code ErrorCode

	// Path is the local path or remote location (if applicable)
	Path string

	// Fingerprint is the content fingerprint (if applicable)
	Fingerprint string

	// Err is the underlying error
	Err error
}

// Error implements the error interface by providing a formatted error message.
func (e *Error) Error() string {
	msg := "<nil>"
	if e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Path != "" && e.Fingerprint != "":
		return fmt.Sprintf("stagesync.%s %s (%s): %s", e.Op, e.Path, e.Fingerprint, msg)
	case e.Path != "":
		return fmt.Sprintf("stagesync.%s %s: %s", e.Op, e.Path, msg)
	case e.Fingerprint != "":
		return fmt.Sprintf("stagesync.%s %s: %s", e.Op, e.Fingerprint, msg)
	default:
		return fmt.Sprintf("stagesync.%s: %s", e.Op, msg)
	}
}

// Unwrap returns the underlying error for error chaining support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel that corresponds to the error's code, so
// errors.Is(err, ErrConflict) holds for any conflict built by this package.
func (e *Error) Is(target error) bool {
	sentinel, ok := sentinels[e.Code]
	return ok && sentinel == target
}

// WithPath adds path context to an existing error.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// WithFingerprint adds fingerprint context to an existing error.
func (e *Error) WithFingerprint(fingerprint string) *Error {
	e.Fingerprint = fingerprint
	return e
}

// WithMessage wraps the underlying error with a custom message.
func (e *Error) WithMessage(message string) *Error {
	if e.Err == nil {
		e.Err = errors.New(message)
		return e
	}
	e.Err = fmt.Errorf("%s: %w", message, e.Err)
	return e
}

// NewError creates a new Error with the given operation, code and underlying error.
func NewError(op string, code ErrorCode, err error) *Error {
	return &Error{
		Op:   op,
		Code: code,
		Err:  err,
	}
}

// Sentinel errors for the sync error taxonomy.
// These can be used with errors.Is() for error checking.
var (
	// ErrScan indicates the root directory is missing or unreadable
	ErrScan = errors.New("stagesync: scan failed")

	// ErrConflict indicates an upload of the same content is already in progress
	ErrConflict = errors.New("stagesync: upload already in progress")

	// ErrState indicates an illegal ledger state transition
	ErrState = errors.New("stagesync: illegal ledger transition")

	// ErrTransientUpload indicates an upload failed in a way that may be retried
	ErrTransientUpload = errors.New("stagesync: transient upload failure")

	// ErrPermanentUpload indicates an upload failed in a way that must not be retried
	ErrPermanentUpload = errors.New("stagesync: permanent upload failure")

	// ErrLedgerCorrupt indicates the ledger store holds unusable data
	ErrLedgerCorrupt = errors.New("stagesync: ledger corrupt")

	// ErrNotFound indicates a requested record does not exist
	ErrNotFound = errors.New("stagesync: not found")
)

var sentinels = map[ErrorCode]error{
	CodeScan:          ErrScan,
	CodeConflict:      ErrConflict,
	CodeInvalidState:  ErrState,
	CodeTransient:     ErrTransientUpload,
	CodePermanent:     ErrPermanentUpload,
	CodeLedgerCorrupt: ErrLedgerCorrupt,
	CodeNotFound:      ErrNotFound,
}

// ScanError reports that root could not be walked.
func ScanError(root string, err error) *Error {
	return &Error{Op: "scan", Code: CodeScan, Path: root, Err: err}
}

// ConflictError reports that fingerprint is already IN_PROGRESS.
func ConflictError(fingerprint string) *Error {
	return &Error{
		Op:          "mark_in_progress",
		Code:        CodeConflict,
		Fingerprint: fingerprint,
		Err:         errors.New("upload already in progress"),
	}
}

// StateError reports an illegal transition of fingerprint from one status to another.
func StateError(op, fingerprint, from, to string) *Error {
	return &Error{
		Op:          op,
		Code:        CodeInvalidState,
		Fingerprint: fingerprint,
		Err:         fmt.Errorf("cannot transition %s -> %s", from, to),
	}
}

// TransientUploadError wraps an upload failure that may be retried.
func TransientUploadError(remote string, err error) *Error {
	return &Error{Op: "upload", Code: CodeTransient, Path: remote, Err: err}
}

// PermanentUploadError wraps an upload failure that must not be retried.
func PermanentUploadError(remote string, err error) *Error {
	return &Error{Op: "upload", Code: CodePermanent, Path: remote, Err: err}
}

// LedgerCorruptError wraps a store failure that makes the ledger unusable.
func LedgerCorruptError(key string, err error) *Error {
	return &Error{Op: "ledger", Code: CodeLedgerCorrupt, Fingerprint: key, Err: err}
}

// IsScan checks if an error is a directory scan failure.
func IsScan(err error) bool {
	return errors.Is(err, ErrScan)
}

// IsConflict checks if an error is a concurrent upload conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsState checks if an error is an illegal ledger transition.
func IsState(err error) bool {
	return errors.Is(err, ErrState)
}

// IsTransient checks if an error is a retryable upload failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientUpload)
}

// IsPermanent checks if an error is a non-retryable upload failure.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanentUpload)
}

// IsLedgerCorrupt checks if an error indicates ledger corruption.
func IsLedgerCorrupt(err error) bool {
	return errors.Is(err, ErrLedgerCorrupt)
}

// IsNotFound checks if an error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
