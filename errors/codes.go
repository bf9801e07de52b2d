// Package errors provides the error taxonomy for stage synchronization.
// It extends Go's standard error handling with structured error codes, retry
// classification and context about the file or fingerprint involved.
package errors

// ErrorCode represents a specific error condition during a sync run.
// Error codes are string-based for debuggability and natural JSON serialization.
type ErrorCode string

const (
	// Scan errors.

	// CodeScan indicates the root directory could not be walked.
	CodeScan ErrorCode = "SCAN_FAILED"

	// Ledger errors.

	// CodeConflict indicates another worker already holds the fingerprint.
	CodeConflict ErrorCode = "CONFLICT"

	// CodeInvalidState indicates an illegal ledger transition was attempted.
	CodeInvalidState ErrorCode = "INVALID_STATE"

	// CodeLedgerCorrupt indicates the ledger store returned unusable data.
	CodeLedgerCorrupt ErrorCode = "LEDGER_CORRUPT"

	// CodeNotFound indicates a requested record or object does not exist.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// Upload errors.

	// CodeTransient indicates an upload failure that may succeed on retry.
	CodeTransient ErrorCode = "TRANSIENT_UPLOAD"

	// CodePermanent indicates an upload failure that will not succeed on retry.
	CodePermanent ErrorCode = "PERMANENT_UPLOAD"

	// Infrastructure errors.

	// CodeNetwork indicates a network operation failed.
	CodeNetwork ErrorCode = "NETWORK_ERROR"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeRateLimit indicates the remote side throttled the request.
	CodeRateLimit ErrorCode = "RATE_LIMIT_EXCEEDED"

	// CodeUnavailable indicates the remote service is temporarily unavailable.
	CodeUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// CodeForbidden indicates the session lacks permission for the operation.
	CodeForbidden ErrorCode = "FORBIDDEN"

	// CodeInvalidInput indicates the request was rejected as malformed.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeInvalidConfig indicates a configuration error prevents the operation.
	CodeInvalidConfig ErrorCode = "INVALID_CONFIGURATION"

	// CodeCanceled indicates the caller cancelled the operation.
	CodeCanceled ErrorCode = "CANCELED"

	// CodeUnknown indicates an unknown or unclassified error occurred.
	CodeUnknown ErrorCode = "UNKNOWN"
)

// Retryable reports whether errors carrying this code are worth another attempt.
func (c ErrorCode) Retryable() bool {
	switch c {
	case CodeTransient, CodeNetwork, CodeTimeout, CodeRateLimit, CodeUnavailable:
		return true
	default:
		return false
	}
}
