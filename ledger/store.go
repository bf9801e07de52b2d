package ledger

import (
	"context"

	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stagetypes"
)

// Store is the key-value persistence behind a Ledger. Keys are fingerprints.
//
// CompareAndSwap replaces the record at key with next only when the stored
// status equals expected; an empty expected status means the key must be
// absent. It reports whether the swap happened. Implementations must make the
// compare and the write atomic with respect to other callers on the same key.
type Store interface {
	Get(ctx context.Context, key string) (stagetypes.UploadRecord, bool, error)
	Put(ctx context.Context, record stagetypes.UploadRecord) error
	CompareAndSwap(ctx context.Context, key string, expected stagetypes.UploadStatus, next stagetypes.UploadRecord) (bool, error)
	List(ctx context.Context) ([]stagetypes.UploadRecord, error)
}

// Absent is the expected status for a CompareAndSwap that creates a record.
const Absent stagetypes.UploadStatus = ""
