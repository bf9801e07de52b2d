package stagesync

import (
	"context"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stagetypes"
)

// Sync performs one pass over root, staging every new or changed data file
// under prefix. Remote locations are prefix/<partition segments>/<filename>.
//
// Per-file failures are reported in the SyncReport and do not produce an
// error. An error is returned only when root cannot be scanned or the ledger
// store fails. If ctx is cancelled, Sync stops dispatching, waits for
// in-flight uploads and returns the partial report with Cancelled set.
func (s *Syncer) Sync(ctx context.Context, root, prefix string) (*stagetypes.SyncReport, error) {
	return s.orchestrator.Run(ctx, root, prefix)
}

// Plan reports what Sync would do for root without uploading anything or
// changing the ledger.
func (s *Syncer) Plan(ctx context.Context, root, prefix string) (*stagetypes.SyncPlan, error) {
	return s.orchestrator.Plan(ctx, root, prefix)
}

// Evict returns FAILED records whose last attempt is older than olderThan
// to PENDING, making their content eligible for upload on the next Sync.
// It returns the number of records evicted.
func (s *Syncer) Evict(ctx context.Context, olderThan time.Duration) (int, error) {
	return s.orchestrator.Evict(ctx, olderThan)
}

// Verify checks that every DONE record still has its object in the stage.
func (s *Syncer) Verify(ctx context.Context) (*stagetypes.VerifyResult, error) {
	return s.orchestrator.Verify(ctx)
}
