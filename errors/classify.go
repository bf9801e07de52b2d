package errors

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// Classify maps err to an ErrorCode. Errors already built by this package keep
// their code; otherwise context, network and syscall errors are inspected.
// Remote API errors should be classified by the stage binding that
// understands them before they reach this function.
func Classify(err error) ErrorCode {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	case errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return CodeNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CodeTimeout
		}
		return CodeNetwork
	}

	return CodeUnknown
}

// IsRetryable reports whether err is worth another upload attempt.
func IsRetryable(err error) bool {
	return Classify(err).Retryable()
}

// ClassifyHTTPStatus maps an HTTP status code returned by a remote stage.
func ClassifyHTTPStatus(status int) ErrorCode {
	switch {
	case status == 408:
		return CodeTimeout
	case status == 429:
		return CodeRateLimit
	case status == 401, status == 403:
		return CodeForbidden
	case status == 404:
		return CodeNotFound
	case status >= 500:
		return CodeUnavailable
	case status >= 400:
		return CodeInvalidInput
	default:
		return CodeUnknown
	}
}

// Wrap builds a transient or permanent upload error for remote based on code.
func Wrap(remote string, code ErrorCode, err error) *Error {
	if code.Retryable() {
		return TransientUploadError(remote, err)
	}
	return PermanentUploadError(remote, err)
}
