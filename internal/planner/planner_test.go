package planner

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-libs/stagesync/ledger"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stagetypes"
)

var now = time.Date(2022, 2, 22, 12, 0, 0, 0, time.UTC)

func seq(records ...stagetypes.FileRecord) iter.Seq2[stagetypes.FileRecord, error] {
	return func(yield func(stagetypes.FileRecord, error) bool) {
		for _, r := range records {
			if !yield(r, nil) {
				return
			}
		}
	}
}

func record(rel, fp string) stagetypes.FileRecord {
	return stagetypes.FileRecord{
		LocalPath:    "/data/" + rel,
		RelPath:      rel,
		Format:       stagetypes.FormatCSV,
		Fingerprint:  fp,
		PartitionKey: stagetypes.PartitionKey{{Key: "source", Value: "IN"}},
	}
}

func TestPlanActions(t *testing.T) {
	tests := []struct {
		name       string
		existing   *stagetypes.UploadRecord
		wantAction stagetypes.Action
		wantReason string
	}{
		{
			name:       "absent",
			wantAction: stagetypes.ActionUpload,
			wantReason: ReasonNew,
		},
		{
			name:       "done",
			existing:   &stagetypes.UploadRecord{Status: stagetypes.StatusDone},
			wantAction: stagetypes.ActionSkip,
			wantReason: ReasonDone,
		},
		{
			name: "failed recently",
			existing: &stagetypes.UploadRecord{
				Status:          stagetypes.StatusFailed,
				LastAttemptTime: now.Add(-time.Hour),
				AttemptCount:    3,
			},
			wantAction: stagetypes.ActionSkip,
			wantReason: ReasonFailedRecent,
		},
		{
			name: "failed long ago",
			existing: &stagetypes.UploadRecord{
				Status:          stagetypes.StatusFailed,
				LastAttemptTime: now.Add(-48 * time.Hour),
				AttemptCount:    3,
			},
			wantAction: stagetypes.ActionUpload,
			wantReason: ReasonFailedStale,
		},
		{
			name:       "in progress",
			existing:   &stagetypes.UploadRecord{Status: stagetypes.StatusInProgress, LastAttemptTime: now},
			wantAction: stagetypes.ActionSkip,
			wantReason: ReasonInProgress,
		},
		{
			name:       "pending with attempts",
			existing:   &stagetypes.UploadRecord{Status: stagetypes.StatusPending, AttemptCount: 2},
			wantAction: stagetypes.ActionRetry,
			wantReason: ReasonResume,
		},
		{
			name:       "pending fresh",
			existing:   &stagetypes.UploadRecord{Status: stagetypes.StatusPending},
			wantAction: stagetypes.ActionUpload,
			wantReason: ReasonPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := ledger.NewMemoryStore()
			if tt.existing != nil {
				rec := *tt.existing
				rec.Fingerprint = "sha256:a"
				require.NoError(t, store.Put(ctx, rec))
			}
			p := New(ledger.New(store), 24*time.Hour, func() time.Time { return now }, nil)

			plan, err := p.Plan(ctx, seq(record("source=IN/a.csv", "sha256:a")), "landing")
			require.NoError(t, err)
			require.Len(t, plan.Entries, 1)

			e := plan.Entries[0]
			assert.Equal(t, tt.wantAction, e.Action)
			assert.Equal(t, tt.wantReason, e.Reason)
			assert.Equal(t, "landing/source=IN/a.csv", e.RemoteLocation)
			assert.Equal(t, tt.existing != nil, e.Existing != nil)
		})
	}
}

func TestPlanZeroWindowUploadsFailed(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	require.NoError(t, store.Put(ctx, stagetypes.UploadRecord{
		Fingerprint:     "sha256:a",
		Status:          stagetypes.StatusFailed,
		LastAttemptTime: now,
	}))
	p := New(ledger.New(store), 0, func() time.Time { return now }, nil)

	plan, err := p.Plan(ctx, seq(record("a.csv", "sha256:a")), "")
	require.NoError(t, err)
	assert.Equal(t, stagetypes.ActionUpload, plan.Entries[0].Action)
}

func TestPlanDuplicateContent(t *testing.T) {
	p := New(ledger.New(ledger.NewMemoryStore()), time.Hour, nil, nil)

	plan, err := p.Plan(context.Background(), seq(
		record("source=IN/a.csv", "sha256:same"),
		record("source=IN/b.csv", "sha256:other"),
		record("source=IN/copy-of-a.csv", "sha256:same"),
	), "")
	require.NoError(t, err)
	require.Len(t, plan.Entries, 3)

	assert.Equal(t, stagetypes.ActionUpload, plan.Entries[0].Action)
	assert.Equal(t, stagetypes.ActionUpload, plan.Entries[1].Action)
	assert.Equal(t, stagetypes.ActionSkip, plan.Entries[2].Action)
	assert.Equal(t, "duplicate content of source=IN/a.csv", plan.Entries[2].Reason)
	assert.Equal(t, 2, plan.Count(stagetypes.ActionUpload))
	assert.Len(t, plan.Dispatchable(), 2)
}

type failingLedger struct{ err error }

func (f failingLedger) Lookup(context.Context, string) (stagetypes.UploadRecord, bool, error) {
	return stagetypes.UploadRecord{}, false, f.err
}

func TestPlanPropagatesErrors(t *testing.T) {
	ledgerErr := errors.New("store offline")
	p := New(failingLedger{err: ledgerErr}, time.Hour, nil, nil)
	_, err := p.Plan(context.Background(), seq(record("a.csv", "sha256:a")), "")
	assert.ErrorIs(t, err, ledgerErr)

	scanErr := errors.New("walk failed")
	p = New(ledger.New(ledger.NewMemoryStore()), time.Hour, nil, nil)
	_, err = p.Plan(context.Background(), func(yield func(stagetypes.FileRecord, error) bool) {
		yield(stagetypes.FileRecord{}, scanErr)
	}, "")
	assert.ErrorIs(t, err, scanErr)
}
