// Package redisstore persists the upload ledger in Redis. Each fingerprint is
// one string key holding the JSON-encoded record; compare-and-swap runs as an
// optimistic WATCH/MULTI transaction on that key.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	serrors "github.com/input-output-hk/catalyst-forge-libs/stagesync/errors"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/ledger"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stagetypes"
)

// DefaultPrefix namespaces ledger keys.
const DefaultPrefix = "stagesync:ledger:"

// Store implements ledger.Store on Redis.
type Store struct {
	client redis.UniversalClient
	prefix string
}

var _ ledger.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// New creates a Store on an existing client. The caller owns the client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int, opts ...Option) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return New(client, opts...), nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(fingerprint string) string {
	return s.prefix + fingerprint
}

func decode(key string, data []byte) (stagetypes.UploadRecord, error) {
	var rec stagetypes.UploadRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, serrors.LedgerCorruptError(key, err)
	}
	return rec, nil
}

// Get implements ledger.Store.Get.
func (s *Store) Get(ctx context.Context, key string) (stagetypes.UploadRecord, bool, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return stagetypes.UploadRecord{}, false, nil
	}
	if err != nil {
		return stagetypes.UploadRecord{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	rec, err := decode(key, data)
	if err != nil {
		return stagetypes.UploadRecord{}, false, err
	}
	return rec, true, nil
}

// Put implements ledger.Store.Put.
func (s *Store) Put(ctx context.Context, record stagetypes.UploadRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode ledger record: %w", err)
	}
	if err := s.client.Set(ctx, s.key(record.Fingerprint), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", record.Fingerprint, err)
	}
	return nil
}

// CompareAndSwap implements ledger.Store.CompareAndSwap. A transaction
// aborted because the key changed after WATCH reports false, not an error.
func (s *Store) CompareAndSwap(
	ctx context.Context,
	key string,
	expected stagetypes.UploadStatus,
	next stagetypes.UploadRecord,
) (bool, error) {
	next.Fingerprint = key
	data, err := json.Marshal(next)
	if err != nil {
		return false, fmt.Errorf("failed to encode ledger record: %w", err)
	}

	rkey := s.key(key)
	swapped := false
	txf := func(tx *redis.Tx) error {
		current := ledger.Absent
		raw, err := tx.Get(ctx, rkey).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			rec, err := decode(key, raw)
			if err != nil {
				return err
			}
			current = rec.Status
		}
		if current != expected {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rkey, data, 0)
			return nil
		})
		if err == nil {
			swapped = true
		}
		return err
	}

	err = s.client.Watch(ctx, txf, rkey)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		if serrors.IsLedgerCorrupt(err) {
			return false, err
		}
		return false, fmt.Errorf("redis cas %s: %w", key, err)
	}
	return swapped, nil
}

// List implements ledger.Store.List.
func (s *Store) List(ctx context.Context) ([]stagetypes.UploadRecord, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	sort.Strings(keys)

	records := make([]stagetypes.UploadRecord, 0, len(keys))
	for start := 0; start < len(keys); start += 256 {
		end := min(start+256, len(keys))
		values, err := s.client.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			return nil, fmt.Errorf("redis mget: %w", err)
		}
		for i, v := range values {
			str, ok := v.(string)
			if !ok {
				// deleted between SCAN and MGET
				continue
			}
			rec, err := decode(keys[start+i], []byte(str))
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
	}
	return records, nil
}
