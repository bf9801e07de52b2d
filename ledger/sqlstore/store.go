// Package sqlstore persists the upload ledger in PostgreSQL.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// registers the "postgres" driver
	_ "github.com/lib/pq"

	serrors "github.com/input-output-hk/catalyst-forge-libs/stagesync/errors"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/ledger"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stagetypes"
)

const schema = `CREATE TABLE IF NOT EXISTS stagesync_ledger (
	fingerprint       TEXT PRIMARY KEY,
	remote_location   TEXT NOT NULL,
	status            TEXT NOT NULL,
	last_attempt_time TIMESTAMPTZ,
	attempt_count     INTEGER NOT NULL DEFAULT 0,
	reason            TEXT NOT NULL DEFAULT '',
	local_path        TEXT NOT NULL DEFAULT '',
	updated_at        TIMESTAMPTZ NOT NULL
)`

const columns = `fingerprint, remote_location, status, last_attempt_time, attempt_count, reason, local_path, updated_at`

const (
	querySelect = `SELECT ` + columns + ` FROM stagesync_ledger WHERE fingerprint = $1`
	queryList   = `SELECT ` + columns + ` FROM stagesync_ledger ORDER BY fingerprint`
	queryUpsert = `INSERT INTO stagesync_ledger (` + columns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (fingerprint) DO UPDATE SET
	remote_location = EXCLUDED.remote_location,
	status = EXCLUDED.status,
	last_attempt_time = EXCLUDED.last_attempt_time,
	attempt_count = EXCLUDED.attempt_count,
	reason = EXCLUDED.reason,
	local_path = EXCLUDED.local_path,
	updated_at = EXCLUDED.updated_at`
	queryInsertNew = `INSERT INTO stagesync_ledger (` + columns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (fingerprint) DO NOTHING`
	queryUpdateIf = `UPDATE stagesync_ledger SET
	remote_location = $2,
	status = $3,
	last_attempt_time = $4,
	attempt_count = $5,
	reason = $6,
	local_path = $7,
	updated_at = $8
WHERE fingerprint = $1 AND status = $9`
)

// Store implements ledger.Store on a *sql.DB.
type Store struct {
	db *sql.DB
}

var _ ledger.Store = (*Store)(nil)

// New wraps an open database handle. The caller owns db.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL using a lib/pq DSN and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to ledger database: %w", err)
	}
	return New(db), nil
}

// Migrate creates the ledger table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate ledger schema: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (stagetypes.UploadRecord, error) {
	var (
		rec         stagetypes.UploadRecord
		status      string
		lastAttempt sql.NullTime
	)
	err := row.Scan(
		&rec.Fingerprint,
		&rec.RemoteLocation,
		&status,
		&lastAttempt,
		&rec.AttemptCount,
		&rec.Reason,
		&rec.LocalPath,
		&rec.UpdatedAt,
	)
	if err != nil {
		return rec, err
	}
	rec.Status = stagetypes.UploadStatus(status)
	if lastAttempt.Valid {
		rec.LastAttemptTime = lastAttempt.Time
	}
	return rec, nil
}

func args(rec stagetypes.UploadRecord) []any {
	var lastAttempt sql.NullTime
	if !rec.LastAttemptTime.IsZero() {
		lastAttempt = sql.NullTime{Time: rec.LastAttemptTime, Valid: true}
	}
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	return []any{
		rec.Fingerprint,
		rec.RemoteLocation,
		string(rec.Status),
		lastAttempt,
		rec.AttemptCount,
		rec.Reason,
		rec.LocalPath,
		updated,
	}
}

// Get implements ledger.Store.Get.
func (s *Store) Get(ctx context.Context, key string) (stagetypes.UploadRecord, bool, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, querySelect, key))
	if errors.Is(err, sql.ErrNoRows) {
		return stagetypes.UploadRecord{}, false, nil
	}
	if err != nil {
		return stagetypes.UploadRecord{}, false, fmt.Errorf("failed to read ledger record %s: %w", key, err)
	}
	return rec, true, nil
}

// Put implements ledger.Store.Put.
func (s *Store) Put(ctx context.Context, record stagetypes.UploadRecord) error {
	if _, err := s.db.ExecContext(ctx, queryUpsert, args(record)...); err != nil {
		return fmt.Errorf("failed to write ledger record %s: %w", record.Fingerprint, err)
	}
	return nil
}

// CompareAndSwap implements ledger.Store.CompareAndSwap. The status guard is
// part of the statement, so the database serializes competing swaps.
func (s *Store) CompareAndSwap(
	ctx context.Context,
	key string,
	expected stagetypes.UploadStatus,
	next stagetypes.UploadRecord,
) (bool, error) {
	next.Fingerprint = key

	var (
		res sql.Result
		err error
	)
	if expected == ledger.Absent {
		res, err = s.db.ExecContext(ctx, queryInsertNew, args(next)...)
	} else {
		res, err = s.db.ExecContext(ctx, queryUpdateIf, append(args(next), string(expected))...)
	}
	if err != nil {
		return false, fmt.Errorf("failed to swap ledger record %s: %w", key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to swap ledger record %s: %w", key, err)
	}
	return n == 1, nil
}

// List implements ledger.Store.List.
func (s *Store) List(ctx context.Context) ([]stagetypes.UploadRecord, error) {
	rows, err := s.db.QueryContext(ctx, queryList)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger records: %w", err)
	}
	defer rows.Close()

	var records []stagetypes.UploadRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, serrors.LedgerCorruptError("stagesync_ledger", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list ledger records: %w", err)
	}
	return records, nil
}
