package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/spokehub/pkg/entitlements"
	"github.com/platinummonkey/spokehub/pkg/sso"
)

// NonceLedger stores launch-token nonces in sso_nonces
type NonceLedger struct {
	db *sql.DB
}

// NewNonceLedger creates a nonce ledger
func NewNonceLedger(db *sql.DB) *NonceLedger {
	return &NonceLedger{db: db}
}

// CreateNonce inserts a fresh, unused record
func (l *NonceLedger) CreateNonce(ctx context.Context, rec sso.NonceRecord) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO sso_nonces (nonce, app_id, user_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.Nonce, rec.AppID, rec.UserID, rec.CreatedAt.UTC(), rec.ExpiresAt.UTC())
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("nonce already recorded for app %s: %w", rec.AppID, err)
		}
		return fmt.Errorf("failed to create nonce: %w", err)
	}
	return nil
}

// GetNonce loads the record for (nonce, appID)
func (l *NonceLedger) GetNonce(ctx context.Context, nonce, appID string) (*sso.NonceRecord, error) {
	rec := sso.NonceRecord{Nonce: nonce, AppID: appID}
	var usedAt sql.NullTime

	err := l.db.QueryRowContext(ctx, `
		SELECT user_id, created_at, expires_at, used_at
		FROM sso_nonces
		WHERE nonce = $1 AND app_id = $2
	`, nonce, appID).Scan(&rec.UserID, &rec.CreatedAt, &rec.ExpiresAt, &usedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entitlements.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	rec.UsedAt = nullTime(usedAt)
	return &rec, nil
}

// MarkNonceUsed is a compare-and-set on used_at. Exactly one concurrent
// caller gets true.
func (l *NonceLedger) MarkNonceUsed(ctx context.Context, nonce, appID string, at time.Time) (bool, error) {
	result, err := l.db.ExecContext(ctx, `
		UPDATE sso_nonces SET used_at = $3
		WHERE nonce = $1 AND app_id = $2 AND used_at IS NULL
	`, nonce, appID, at.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to mark nonce used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// DeleteExpired removes records whose expiry has passed
func (l *NonceLedger) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx, `DELETE FROM sso_nonces WHERE expires_at < $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired nonces: %w", err)
	}
	return result.RowsAffected()
}
