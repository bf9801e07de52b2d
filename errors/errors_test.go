package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "path and fingerprint",
			err:  NewError("upload", CodeTransient, errors.New("boom")).WithPath("a/b.csv").WithFingerprint("sha256:ab"),
			want: "stagesync.upload a/b.csv (sha256:ab): boom",
		},
		{
			name: "path only",
			err:  ScanError("/data", errors.New("missing")),
			want: "stagesync.scan /data: missing",
		},
		{
			name: "fingerprint only",
			err:  ConflictError("sha256:ff"),
			want: "stagesync.mark_in_progress sha256:ff: upload already in progress",
		},
		{
			name: "no context",
			err:  NewError("plan", CodeUnknown, errors.New("x")),
			want: "stagesync.plan: x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestSentinelMatching(t *testing.T) {
	wrapped := fmt.Errorf("run: %w", StateError("mark_done", "sha256:01", "DONE", "DONE"))

	assert.True(t, IsState(wrapped))
	assert.False(t, IsConflict(wrapped))
	assert.True(t, IsConflict(ConflictError("sha256:01")))
	assert.True(t, IsScan(ScanError("/x", nil)))
	assert.True(t, IsTransient(TransientUploadError("k", errors.New("t"))))
	assert.True(t, IsPermanent(PermanentUploadError("k", errors.New("p"))))
	assert.True(t, IsLedgerCorrupt(LedgerCorruptError("k", errors.New("bad json"))))
	assert.False(t, IsNotFound(errors.New("plain")))
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := errors.New("disk gone")
	err := ScanError("/root", cause).WithMessage("walk")

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrScan)
	assert.Equal(t, "stagesync.scan /root: walk: disk gone", err.Error())
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		want      ErrorCode
		retryable bool
	}{
		{"nil", nil, "", false},
		{"deadline", fmt.Errorf("put: %w", context.DeadlineExceeded), CodeTimeout, true},
		{"canceled", context.Canceled, CodeCanceled, false},
		{"conn reset", fmt.Errorf("write: %w", syscall.ECONNRESET), CodeNetwork, true},
		{"net timeout", &net.OpError{Op: "dial", Err: timeoutErr{}}, CodeTimeout, true},
		{"already classified", PermanentUploadError("k", errors.New("denied")), CodePermanent, false},
		{"transient wrapper", TransientUploadError("k", errors.New("503")), CodeTransient, true},
		{"unknown", errors.New("mystery"), CodeUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestClassifyHTTPStatus(t *testing.T) {
	assert.Equal(t, CodeRateLimit, ClassifyHTTPStatus(429))
	assert.Equal(t, CodeUnavailable, ClassifyHTTPStatus(503))
	assert.Equal(t, CodeForbidden, ClassifyHTTPStatus(403))
	assert.Equal(t, CodeNotFound, ClassifyHTTPStatus(404))
	assert.Equal(t, CodeInvalidInput, ClassifyHTTPStatus(400))
	assert.Equal(t, CodeTimeout, ClassifyHTTPStatus(408))
}

func TestWrap(t *testing.T) {
	cause := errors.New("slow down")

	assert.True(t, IsTransient(Wrap("p", CodeRateLimit, cause)))
	assert.True(t, IsPermanent(Wrap("p", CodeForbidden, cause)))
	assert.ErrorIs(t, Wrap("p", CodeTimeout, cause), cause)
}
