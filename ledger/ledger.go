// Package ledger records which file contents have been durably staged.
//
// The ledger keys every record by content fingerprint and moves it through
//
//	(absent) -> PENDING -> IN_PROGRESS -> DONE | FAILED
//
// FAILED returns to PENDING only through EvictFailed, and DONE never changes.
// Every transition is a compare-and-swap on the record's status, so two
// workers can never hold the same fingerprint IN_PROGRESS, and unrelated
// fingerprints never contend on a shared lock.
package ledger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	serrors "github.com/input-output-hk/catalyst-forge-libs/stagesync/errors"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stagetypes"
)

// maxCASRetries bounds re-reads when a swap loses to a concurrent writer.
const maxCASRetries = 8

// Ledger applies the upload state machine on top of a Store.
type Ledger struct {
	store  Store
	clock  func() time.Time
	logger *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets the time source used for attempt and eviction timestamps.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a Ledger over store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		clock:  time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store returns the underlying store.
func (l *Ledger) Store() Store {
	return l.store
}

// Lookup returns the record for fingerprint, if any.
func (l *Ledger) Lookup(ctx context.Context, fingerprint string) (stagetypes.UploadRecord, bool, error) {
	rec, ok, err := l.store.Get(ctx, fingerprint)
	if err != nil {
		return stagetypes.UploadRecord{}, false, fmt.Errorf("ledger lookup %s: %w", fingerprint, err)
	}
	if ok && !rec.Status.Valid() {
		return stagetypes.UploadRecord{}, false, serrors.LedgerCorruptError(fingerprint,
			fmt.Errorf("unknown status %q", rec.Status))
	}
	return rec, ok, nil
}

// transition re-reads the record and applies decide until the swap lands.
// decide returns the next record, or an error when the move is illegal.
func (l *Ledger) transition(
	ctx context.Context,
	fingerprint string,
	decide func(cur stagetypes.UploadRecord, exists bool) (stagetypes.UploadRecord, error),
) (stagetypes.UploadRecord, error) {
	for range maxCASRetries {
		cur, exists, err := l.Lookup(ctx, fingerprint)
		if err != nil {
			return stagetypes.UploadRecord{}, err
		}

		next, err := decide(cur, exists)
		if err != nil {
			return stagetypes.UploadRecord{}, err
		}
		next.Fingerprint = fingerprint
		next.UpdatedAt = l.clock()

		expected := Absent
		if exists {
			expected = cur.Status
		}
		swapped, err := l.store.CompareAndSwap(ctx, fingerprint, expected, next)
		if err != nil {
			return stagetypes.UploadRecord{}, fmt.Errorf("ledger swap %s: %w", fingerprint, err)
		}
		if swapped {
			return next, nil
		}
	}
	return stagetypes.UploadRecord{}, serrors.ConflictError(fingerprint).
		WithMessage("record kept changing underneath")
}

// MarkPending registers fingerprint for upload to remote. An existing
// PENDING record is returned unchanged apart from its remote location.
func (l *Ledger) MarkPending(ctx context.Context, fingerprint, remote, localPath string) (stagetypes.UploadRecord, error) {
	return l.transition(ctx, fingerprint, func(cur stagetypes.UploadRecord, exists bool) (stagetypes.UploadRecord, error) {
		if !exists {
			return stagetypes.UploadRecord{
				RemoteLocation: remote,
				Status:         stagetypes.StatusPending,
				LocalPath:      localPath,
			}, nil
		}
		switch cur.Status {
		case stagetypes.StatusPending:
			cur.RemoteLocation = remote
			cur.LocalPath = localPath
			return cur, nil
		case stagetypes.StatusInProgress:
			return cur, serrors.ConflictError(fingerprint)
		default:
			return cur, serrors.StateError("mark_pending", fingerprint, string(cur.Status), string(stagetypes.StatusPending))
		}
	})
}

// MarkInProgress claims fingerprint for one uploader. It fails with a
// conflict error when another caller already holds it IN_PROGRESS and with a
// state error when the record is DONE or FAILED. An absent record passes
// through PENDING implicitly.
func (l *Ledger) MarkInProgress(ctx context.Context, fingerprint, remote string) (stagetypes.UploadRecord, error) {
	return l.transition(ctx, fingerprint, func(cur stagetypes.UploadRecord, exists bool) (stagetypes.UploadRecord, error) {
		if exists {
			switch cur.Status {
			case stagetypes.StatusPending:
			case stagetypes.StatusInProgress:
				return cur, serrors.ConflictError(fingerprint)
			default:
				return cur, serrors.StateError("mark_in_progress", fingerprint,
					string(cur.Status), string(stagetypes.StatusInProgress))
			}
		}
		cur.Status = stagetypes.StatusInProgress
		cur.RemoteLocation = remote
		cur.LastAttemptTime = l.clock()
		return cur, nil
	})
}

// RecordAttempt increments the attempt count of an IN_PROGRESS record.
func (l *Ledger) RecordAttempt(ctx context.Context, fingerprint string) (stagetypes.UploadRecord, error) {
	return l.transition(ctx, fingerprint, func(cur stagetypes.UploadRecord, exists bool) (stagetypes.UploadRecord, error) {
		if !exists || cur.Status != stagetypes.StatusInProgress {
			return cur, serrors.StateError("record_attempt", fingerprint, statusOf(cur, exists),
				string(stagetypes.StatusInProgress))
		}
		cur.AttemptCount++
		cur.LastAttemptTime = l.clock()
		return cur, nil
	})
}

// MarkDone completes an IN_PROGRESS record.
func (l *Ledger) MarkDone(ctx context.Context, fingerprint string) error {
	_, err := l.transition(ctx, fingerprint, func(cur stagetypes.UploadRecord, exists bool) (stagetypes.UploadRecord, error) {
		if !exists || cur.Status != stagetypes.StatusInProgress {
			return cur, serrors.StateError("mark_done", fingerprint, statusOf(cur, exists), string(stagetypes.StatusDone))
		}
		cur.Status = stagetypes.StatusDone
		cur.Reason = ""
		return cur, nil
	})
	return err
}

// MarkFailed fails an IN_PROGRESS record with reason.
func (l *Ledger) MarkFailed(ctx context.Context, fingerprint, reason string) error {
	_, err := l.transition(ctx, fingerprint, func(cur stagetypes.UploadRecord, exists bool) (stagetypes.UploadRecord, error) {
		if !exists || cur.Status != stagetypes.StatusInProgress {
			return cur, serrors.StateError("mark_failed", fingerprint, statusOf(cur, exists), string(stagetypes.StatusFailed))
		}
		cur.Status = stagetypes.StatusFailed
		cur.Reason = reason
		return cur, nil
	})
	return err
}

// EvictFailed returns FAILED records whose last attempt is at least olderThan
// ago to PENDING with a fresh attempt count, so the next run uploads them
// again. It returns the number of records evicted.
func (l *Ledger) EvictFailed(ctx context.Context, olderThan time.Duration) (int, error) {
	return l.sweep(ctx, stagetypes.StatusFailed, olderThan, func(rec stagetypes.UploadRecord) stagetypes.UploadRecord {
		rec.Status = stagetypes.StatusPending
		rec.AttemptCount = 0
		rec.Reason = "evicted after failure: " + rec.Reason
		return rec
	})
}

// ReclaimStale returns IN_PROGRESS records whose last attempt is at least
// olderThan ago to PENDING. Their attempt count is kept, so the planner
// resumes them as retries. Only call this when no live uploader can still
// hold those records.
func (l *Ledger) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	return l.sweep(ctx, stagetypes.StatusInProgress, olderThan, func(rec stagetypes.UploadRecord) stagetypes.UploadRecord {
		rec.Status = stagetypes.StatusPending
		rec.Reason = "reclaimed after interrupted upload"
		return rec
	})
}

func (l *Ledger) sweep(
	ctx context.Context,
	status stagetypes.UploadStatus,
	olderThan time.Duration,
	update func(stagetypes.UploadRecord) stagetypes.UploadRecord,
) (int, error) {
	records, err := l.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger list: %w", err)
	}

	cutoff := l.clock().Add(-olderThan)
	n := 0
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if rec.Status != status || rec.LastAttemptTime.After(cutoff) {
			continue
		}
		next := update(rec)
		next.UpdatedAt = l.clock()
		swapped, err := l.store.CompareAndSwap(ctx, rec.Fingerprint, status, next)
		if err != nil {
			return n, fmt.Errorf("ledger swap %s: %w", rec.Fingerprint, err)
		}
		if !swapped {
			// changed since List; leave it to its new owner
			continue
		}
		l.logger.Info("ledger record reset",
			"fingerprint", rec.Fingerprint, "from", string(status), "to", string(next.Status))
		n++
	}
	return n, nil
}

// Records returns every record in the ledger.
func (l *Ledger) Records(ctx context.Context) ([]stagetypes.UploadRecord, error) {
	records, err := l.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger list: %w", err)
	}
	return records, nil
}

func statusOf(rec stagetypes.UploadRecord, exists bool) string {
	if !exists {
		return "ABSENT"
	}
	return string(rec.Status)
}
