package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stagetypes"
)

// MemoryStore is an in-process Store. Each key has its own lock, so
// operations on different fingerprints never contend.
type MemoryStore struct {
	entries sync.Map // string -> *memEntry
}

type memEntry struct {
	mu     sync.Mutex
	record *stagetypes.UploadRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) entry(key string) *memEntry {
	e, _ := s.entries.LoadOrStore(key, &memEntry{})
	return e.(*memEntry)
}

// Get implements Store.Get.
func (s *MemoryStore) Get(_ context.Context, key string) (stagetypes.UploadRecord, bool, error) {
	v, ok := s.entries.Load(key)
	if !ok {
		return stagetypes.UploadRecord{}, false, nil
	}
	e := v.(*memEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.record == nil {
		return stagetypes.UploadRecord{}, false, nil
	}
	return *e.record, true, nil
}

// Put implements Store.Put.
func (s *MemoryStore) Put(_ context.Context, record stagetypes.UploadRecord) error {
	e := s.entry(record.Fingerprint)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record = &record
	return nil
}

// CompareAndSwap implements Store.CompareAndSwap.
func (s *MemoryStore) CompareAndSwap(
	ctx context.Context,
	key string,
	expected stagetypes.UploadStatus,
	next stagetypes.UploadRecord,
) (bool, error) {
	return s.compareAndSwap(ctx, key, expected, next, nil)
}

// compareAndSwap runs commit under the key lock after the comparison
// succeeds; the in-memory record only changes when commit returns nil.
func (s *MemoryStore) compareAndSwap(
	_ context.Context,
	key string,
	expected stagetypes.UploadStatus,
	next stagetypes.UploadRecord,
	commit func(stagetypes.UploadRecord) error,
) (bool, error) {
	e := s.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	current := Absent
	if e.record != nil {
		current = e.record.Status
	}
	if current != expected {
		return false, nil
	}

	next.Fingerprint = key
	if commit != nil {
		if err := commit(next); err != nil {
			return false, err
		}
	}
	e.record = &next
	return true, nil
}

// List implements Store.List. Records are ordered by fingerprint.
func (s *MemoryStore) List(_ context.Context) ([]stagetypes.UploadRecord, error) {
	var out []stagetypes.UploadRecord
	s.entries.Range(func(_, v any) bool {
		e := v.(*memEntry)
		e.mu.Lock()
		if e.record != nil {
			out = append(out, *e.record)
		}
		e.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	return out, nil
}
