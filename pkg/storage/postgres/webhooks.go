package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// WebhookMarkerStore records processed webhook deliveries in
// processed_webhooks
type WebhookMarkerStore struct {
	db *sql.DB
}

// NewWebhookMarkerStore creates a marker store
func NewWebhookMarkerStore(db *sql.DB) *WebhookMarkerStore {
	return &WebhookMarkerStore{db: db}
}

// Seen reports whether an unexpired marker exists for key
func (s *WebhookMarkerStore) Seen(ctx context.Context, key string, now time.Time) (bool, error) {
	var seen bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_webhooks WHERE idempotency_key = $1 AND expires_at > $2)`,
		key, now.UTC(),
	).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("failed to check webhook marker: %w", err)
	}
	return seen, nil
}

// Mark records key. It reports false when a marker was already present.
func (s *WebhookMarkerStore) Mark(ctx context.Context, key, eventName string, now time.Time, ttl time.Duration) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_webhooks (idempotency_key, event_name, processed_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, key, eventName, now.UTC(), now.Add(ttl).UTC())
	if err != nil {
		return false, fmt.Errorf("failed to record webhook marker: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// DeleteExpired removes markers past their expiry
func (s *WebhookMarkerStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM processed_webhooks WHERE expires_at < $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired webhook markers: %w", err)
	}
	return result.RowsAffected()
}
