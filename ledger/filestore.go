package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	serrors "github.com/input-output-hk/catalyst-forge-libs/stagesync/errors"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/fs"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stagetypes"
)

// FileStore is a Store persisted as a JSON-lines journal. Every mutation
// appends the full record; on open the journal is replayed and the last line
// for each fingerprint wins. Compact rewrites the journal with one line per
// record.
type FileStore struct {
	mem        *MemoryStore
	filesystem fs.Filesystem
	path       string

	// mu guards the journal handle; it is always taken after a key lock.
	mu      sync.Mutex
	journal fs.File
}

var _ Store = (*FileStore)(nil)

// OpenFileStore replays the journal at path, creating it if missing.
// A torn final line, left by a crash mid-append, is dropped; any other
// malformed line is reported as ledger corruption.
//
// Compare-and-swap runs against the replayed state held by this FileStore,
// so a journal must be opened by at most one process at a time. Runs that
// share a ledger across processes need redisstore or sqlstore.
func OpenFileStore(filesystem fs.Filesystem, path string) (*FileStore, error) {
	s := &FileStore{
		mem:        NewMemoryStore(),
		filesystem: filesystem,
		path:       path,
	}

	exists, err := filesystem.Exists(path)
	if err != nil {
		return nil, fmt.Errorf("failed to check ledger journal: %w", err)
	}
	if exists {
		if err := s.replay(); err != nil {
			return nil, err
		}
	} else if dir := filepath.Dir(path); dir != "." {
		if err := filesystem.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	if err := s.openJournal(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) replay() error {
	data, err := s.filesystem.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read ledger journal: %w", err)
	}

	lines := bytes.Split(data, []byte("\n"))
	for i, line := range lines {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var rec stagetypes.UploadRecord
		if err := json.Unmarshal(line, &rec); err != nil || rec.Fingerprint == "" || !rec.Status.Valid() {
			if i == len(lines)-1 {
				// torn trailing write
				break
			}
			if err == nil {
				err = fmt.Errorf("invalid record %q", line)
			}
			return serrors.LedgerCorruptError(s.path, fmt.Errorf("line %d: %w", i+1, err))
		}
		s.mem.entry(rec.Fingerprint).record = &rec
	}
	return nil
}

func (s *FileStore) openJournal() error {
	f, err := s.filesystem.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open ledger journal: %w", err)
	}
	s.journal = f
	return nil
}

func (s *FileStore) appendRecord(rec stagetypes.UploadRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode ledger record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return fmt.Errorf("ledger journal %s is closed", s.path)
	}
	if _, err := s.journal.Write(line); err != nil {
		return fmt.Errorf("failed to append ledger record: %w", err)
	}
	return nil
}

// Get implements Store.Get.
func (s *FileStore) Get(ctx context.Context, key string) (stagetypes.UploadRecord, bool, error) {
	return s.mem.Get(ctx, key)
}

// Put implements Store.Put.
func (s *FileStore) Put(_ context.Context, record stagetypes.UploadRecord) error {
	e := s.mem.entry(record.Fingerprint)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := s.appendRecord(record); err != nil {
		return err
	}
	e.record = &record
	return nil
}

// CompareAndSwap implements Store.CompareAndSwap.
func (s *FileStore) CompareAndSwap(
	ctx context.Context,
	key string,
	expected stagetypes.UploadStatus,
	next stagetypes.UploadRecord,
) (bool, error) {
	return s.mem.compareAndSwap(ctx, key, expected, next, s.appendRecord)
}

// List implements Store.List.
func (s *FileStore) List(ctx context.Context) ([]stagetypes.UploadRecord, error) {
	return s.mem.List(ctx)
}

// Compact rewrites the journal so it holds exactly one line per record.
// Callers must not run Compact concurrently with ledger transitions.
func (s *FileStore) Compact(ctx context.Context) error {
	records, err := s.mem.List(ctx)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("failed to encode ledger record: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := s.filesystem.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write compacted journal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			return fmt.Errorf("failed to close ledger journal: %w", err)
		}
		s.journal = nil
	}
	if err := s.filesystem.Rename(tmp, s.path); err != nil {
		if reopenErr := s.openJournal(); reopenErr != nil {
			return fmt.Errorf("failed to replace ledger journal: %w (reopen: %v)", err, reopenErr)
		}
		return fmt.Errorf("failed to replace ledger journal: %w", err)
	}
	return s.openJournal()
}

// Close releases the journal handle.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}
