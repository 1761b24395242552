package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// LockStore keeps named maintenance locks in cron_locks
type LockStore struct {
	db *sql.DB
}

// NewLockStore creates a lock store
func NewLockStore(db *sql.DB) *LockStore {
	return &LockStore{db: db}
}

// PurgeExpired removes job's lock if its expiry has passed
func (s *LockStore) PurgeExpired(ctx context.Context, job string, now time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM cron_locks WHERE job_name = $1 AND expires_at < $2`,
		job, now.UTC(),
	); err != nil {
		return fmt.Errorf("failed to purge expired lock %s: %w", job, err)
	}
	return nil
}

// TryInsert creates the lock row. A conflict on job_name means another
// instance holds it and yields false without error.
func (s *LockStore) TryInsert(ctx context.Context, job, owner string, now time.Time, ttl time.Duration) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO cron_locks (job_name, instance_id, acquired_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_name) DO NOTHING
	`, job, owner, now.UTC(), now.Add(ttl).UTC())
	if err != nil {
		return false, fmt.Errorf("failed to insert lock %s: %w", job, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// Delete removes job's lock only when owner holds it
func (s *LockStore) Delete(ctx context.Context, job, owner string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM cron_locks WHERE job_name = $1 AND instance_id = $2`,
		job, owner,
	)
	if err != nil {
		return false, fmt.Errorf("failed to release lock %s: %w", job, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// DeleteExpired sweeps every expired lock
func (s *LockStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM cron_locks WHERE expires_at < $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired locks: %w", err)
	}
	return result.RowsAffected()
}
