package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gabriel-vasile/mimetype"

	serrors "github.com/input-output-hk/catalyst-forge-libs/stagesync/errors"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/fs"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stage"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stagetypes"
)

// sniffLen is how much of a file is read to detect its content type.
const sniffLen = 512

// AttemptHook runs before every attempt. Returning an error stops the upload
// without touching the stage.
type AttemptHook func(ctx context.Context, record stagetypes.FileRecord, attempt int) error

// Config controls retry behavior.
type Config struct {
	// MaxAttempts is the total attempts per upload, first try included
	MaxAttempts int

	BaseDelay time.Duration
	MaxDelay  time.Duration

	// AttemptTimeout bounds one attempt; zero disables it
	AttemptTimeout time.Duration

	OnAttempt AttemptHook
	Logger    *slog.Logger
	Observer  stagetypes.Observer
}

// ConfigFrom derives an uploader Config from the syncer configuration.
func ConfigFrom(cfg stagetypes.SyncerConfig) Config {
	return Config{
		MaxAttempts:    cfg.MaxAttempts,
		BaseDelay:      cfg.BaseDelay,
		MaxDelay:       cfg.MaxDelay,
		AttemptTimeout: cfg.AttemptTimeout,
		Logger:         cfg.Logger,
		Observer:       cfg.Observer,
	}
}

// Uploader puts local files on a Stage.
type Uploader struct {
	stage stage.Stage
	fs    fs.Filesystem
	cfg   Config
}

// New creates an Uploader. The stage handle is used as given; the uploader
// never builds or refreshes sessions itself.
func New(st stage.Stage, filesystem fs.Filesystem, cfg Config) *Uploader {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Observer == nil {
		cfg.Observer = stagetypes.NopObserver{}
	}
	return &Uploader{stage: st, fs: filesystem, cfg: cfg}
}

func (u *Uploader) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(u.cfg.BaseDelay),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxInterval(u.cfg.MaxDelay),
		backoff.WithMaxElapsedTime(0),
	)
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(u.cfg.MaxAttempts-1)), ctx)
}

// Upload stages record under prefix, retrying transient failures. It never
// returns an error: the outcome carries the terminal status and reason.
// When ctx is cancelled before a terminal result the outcome is Aborted and
// its status stays IN_PROGRESS.
func (u *Uploader) Upload(ctx context.Context, record stagetypes.FileRecord, prefix string) stagetypes.UploadOutcome {
	return u.UploadTo(ctx, record, RemoteLocation(prefix, record))
}

// UploadTo is Upload with a precomputed remote location.
func (u *Uploader) UploadTo(ctx context.Context, record stagetypes.FileRecord, remote string) stagetypes.UploadOutcome {
	logger := u.cfg.Logger.With("path", record.RelPath, "fingerprint", record.Fingerprint, "remote", remote)
	start := time.Now()

	attempts := 0
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++
		if u.cfg.OnAttempt != nil {
			if err := u.cfg.OnAttempt(ctx, record, attempts); err != nil {
				return backoff.Permanent(err)
			}
		}
		u.cfg.Observer.UploadAttempt(attempts)

		err := u.attempt(ctx, record, remote)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !serrors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("upload attempt failed, retrying",
			"attempt", attempts, "wait", wait, "error", err)
	}

	err := backoff.RetryNotify(op, u.newBackOff(ctx), notify)
	outcome := stagetypes.UploadOutcome{
		RemoteLocation: remote,
		Attempts:       attempts,
		Duration:       time.Since(start),
	}

	switch {
	case err == nil:
		outcome.Status = stagetypes.StatusDone
		outcome.Bytes = record.SizeBytes
		logger.Info("uploaded file", "attempts", attempts, "bytes", record.SizeBytes)
	case ctx.Err() != nil:
		outcome.Status = stagetypes.StatusInProgress
		outcome.Aborted = true
		outcome.Err = err
		outcome.Reason = "aborted: " + ctx.Err().Error()
		logger.Info("upload aborted", "attempts", attempts)
	default:
		outcome.Status = stagetypes.StatusFailed
		outcome.Err = err
		outcome.Reason = err.Error()
		if serrors.IsRetryable(err) {
			outcome.Reason = fmt.Sprintf("gave up after %d attempts: %s", attempts, err)
		}
		logger.Error("upload failed", "attempts", attempts, "error", err)
	}

	u.cfg.Observer.UploadFinished(outcome.Status, outcome.Bytes, outcome.Duration)
	return outcome
}

// attempt performs one Put under its own timeout.
func (u *Uploader) attempt(ctx context.Context, record stagetypes.FileRecord, remote string) error {
	attemptCtx := ctx
	if u.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, u.cfg.AttemptTimeout)
		defer cancel()
	}

	f, err := u.fs.Open(record.LocalPath)
	if err != nil {
		return serrors.PermanentUploadError(remote, fmt.Errorf("open %s: %w", record.LocalPath, err)).
			WithFingerprint(record.Fingerprint)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return serrors.PermanentUploadError(remote, fmt.Errorf("stat %s: %w", record.LocalPath, err))
	}
	if info.Size() != record.SizeBytes {
		return serrors.PermanentUploadError(remote,
			fmt.Errorf("%s changed since scan: size %d, scanned %d", record.LocalPath, info.Size(), record.SizeBytes))
	}

	contentType, err := u.contentType(f, record.Format)
	if err != nil {
		return serrors.PermanentUploadError(remote, err)
	}

	body := newVerifyingReader(f)
	err = u.stage.Put(attemptCtx, remote, body, record.SizeBytes, stage.PutOptions{
		Overwrite:   true,
		ContentType: contentType,
		Metadata: map[string]string{
			"fingerprint": record.Fingerprint,
			"format":      record.Format.String(),
		},
	})
	if err == nil {
		return u.verify(body, record, remote)
	}

	if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return serrors.TransientUploadError(remote,
			fmt.Errorf("attempt timed out after %s: %w", u.cfg.AttemptTimeout, err))
	}
	var se *serrors.Error
	if errors.As(err, &se) {
		return err
	}
	return serrors.Wrap(remote, serrors.Classify(err), err)
}

// verify checks that the bytes the stage read are the bytes that were
// fingerprinted at scan time.
func (u *Uploader) verify(body *verifyingReader, record stagetypes.FileRecord, remote string) error {
	staged, err := body.Fingerprint()
	if err != nil {
		return serrors.PermanentUploadError(remote, fmt.Errorf("verify %s: %w", record.LocalPath, err)).
			WithFingerprint(record.Fingerprint)
	}
	if staged != record.Fingerprint {
		return serrors.PermanentUploadError(remote,
			fmt.Errorf("%s changed since scan: staged content %s, scanned %s", record.LocalPath, staged, record.Fingerprint)).
			WithFingerprint(record.Fingerprint)
	}
	return nil
}

// contentType sniffs the head of f and rewinds it. Generic results fall back
// to the format's default type.
func (u *Uploader) contentType(f fs.File, format stagetypes.Format) (string, error) {
	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("read %s: %w", f.Name(), err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind %s: %w", f.Name(), err)
	}

	mt := mimetype.Detect(buf[:n])
	if mt.Is("application/octet-stream") || mt.Is("text/plain") {
		return format.DefaultContentType(), nil
	}
	return mt.String(), nil
}
