// Package planner joins scanned files against the upload ledger and decides
// what a sync run does with each one.
package planner

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/stagesync/internal/uploader"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stagetypes"
)

// Plan reasons
const (
	ReasonNew          = "not yet staged"
	ReasonDone         = "already staged"
	ReasonFailedRecent = "failed within eviction window"
	ReasonFailedStale  = "failed outside eviction window"
	ReasonInProgress   = "in progress elsewhere"
	ReasonResume       = "resuming earlier attempts"
	ReasonPending      = "pending"
	ReasonDuplicate    = "duplicate content"
)

// Lookuper reads ledger records.
type Lookuper interface {
	Lookup(ctx context.Context, fingerprint string) (stagetypes.UploadRecord, bool, error)
}

// Planner builds SyncPlans.
type Planner struct {
	ledger         Lookuper
	evictionWindow time.Duration
	clock          func() time.Time
	observer       stagetypes.Observer
}

// New creates a Planner. FAILED records younger than evictionWindow are
// skipped.
func New(ledger Lookuper, evictionWindow time.Duration, clock func() time.Time, observer stagetypes.Observer) *Planner {
	if clock == nil {
		clock = time.Now
	}
	if observer == nil {
		observer = stagetypes.NopObserver{}
	}
	return &Planner{
		ledger:         ledger,
		evictionWindow: evictionWindow,
		clock:          clock,
		observer:       observer,
	}
}

// Plan consumes records and returns one entry per record, in scan order.
// The first error from records or from the ledger stops planning.
func (p *Planner) Plan(
	ctx context.Context,
	records iter.Seq2[stagetypes.FileRecord, error],
	prefix string,
) (*stagetypes.SyncPlan, error) {
	plan := &stagetypes.SyncPlan{}
	seen := make(map[string]string)

	for rec, err := range records {
		if err != nil {
			return nil, err
		}
		entry, err := p.entry(ctx, rec, prefix, seen)
		if err != nil {
			return nil, err
		}
		p.observer.Planned(entry.Action)
		plan.Entries = append(plan.Entries, entry)
	}
	return plan, nil
}

func (p *Planner) entry(
	ctx context.Context,
	rec stagetypes.FileRecord,
	prefix string,
	seen map[string]string,
) (stagetypes.PlanEntry, error) {
	entry := stagetypes.PlanEntry{
		Record:         rec,
		RemoteLocation: uploader.RemoteLocation(prefix, rec),
	}

	if first, dup := seen[rec.Fingerprint]; dup {
		entry.Action = stagetypes.ActionSkip
		entry.Reason = fmt.Sprintf("%s of %s", ReasonDuplicate, first)
		return entry, nil
	}
	seen[rec.Fingerprint] = rec.RelPath

	existing, ok, err := p.ledger.Lookup(ctx, rec.Fingerprint)
	if err != nil {
		return entry, err
	}
	if !ok {
		entry.Action = stagetypes.ActionUpload
		entry.Reason = ReasonNew
		return entry, nil
	}
	entry.Existing = &existing
	entry.Action, entry.Reason = p.decide(existing)
	return entry, nil
}

func (p *Planner) decide(rec stagetypes.UploadRecord) (stagetypes.Action, string) {
	switch rec.Status {
	case stagetypes.StatusDone:
		return stagetypes.ActionSkip, ReasonDone
	case stagetypes.StatusFailed:
		if p.clock().Sub(rec.LastAttemptTime) < p.evictionWindow {
			return stagetypes.ActionSkip, ReasonFailedRecent
		}
		return stagetypes.ActionUpload, ReasonFailedStale
	case stagetypes.StatusInProgress:
		return stagetypes.ActionSkip, ReasonInProgress
	default:
		if rec.AttemptCount > 0 {
			return stagetypes.ActionRetry, ReasonResume
		}
		return stagetypes.ActionUpload, ReasonPending
	}
}
