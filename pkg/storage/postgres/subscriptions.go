package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/spokehub/pkg/entitlements"
)

const subscriptionColumns = `product_id, external_subscription_id, external_customer_id, status,
	valid_until, renews_at, ends_at, trial_ends_at, pause_mode, pause_resumes_at,
	portal_url, updated_at`

// SubscriptionRepository mutates subscription rows keyed by
// (user_id, product_id)
type SubscriptionRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSubscriptionRepository creates a subscription repository
func NewSubscriptionRepository(db *sql.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db, now: time.Now}
}

// execer is satisfied by *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// UpsertSubscription inserts or replaces the user's row for sub.ProductID.
// The last write wins.
func (r *SubscriptionRepository) UpsertSubscription(ctx context.Context, userID string, sub entitlements.Subscription) error {
	return r.upsert(ctx, r.db, userID, sub)
}

// ReplaceSubscription records sub as the only row for its billing
// subscription: any row holding the same external id under another user or
// product is deleted, and the (user, product) row is upserted, in one
// transaction. On error nothing changes.
func (r *SubscriptionRepository) ReplaceSubscription(ctx context.Context, userID string, sub entitlements.Subscription) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM subscriptions
		WHERE external_subscription_id = $1 AND NOT (user_id = $2 AND product_id = $3)
	`, sub.ExternalSubscriptionID, userID, sub.ProductID); err != nil {
		return fmt.Errorf("failed to release previous subscription row: %w", err)
	}

	if err := r.upsert(ctx, tx, userID, sub); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit subscription: %w", err)
	}
	return nil
}

func (r *SubscriptionRepository) upsert(ctx context.Context, db execer, userID string, sub entitlements.Subscription) error {
	updatedAt := sub.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = r.now()
	}

	var pauseMode string
	var resumesAt *time.Time
	if sub.Pause != nil {
		pauseMode = sub.Pause.Mode
		resumesAt = sub.Pause.ResumesAt
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO subscriptions (user_id, `+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (user_id, product_id) DO UPDATE SET
			external_subscription_id = EXCLUDED.external_subscription_id,
			external_customer_id = EXCLUDED.external_customer_id,
			status = EXCLUDED.status,
			valid_until = EXCLUDED.valid_until,
			renews_at = EXCLUDED.renews_at,
			ends_at = EXCLUDED.ends_at,
			trial_ends_at = EXCLUDED.trial_ends_at,
			pause_mode = EXCLUDED.pause_mode,
			pause_resumes_at = EXCLUDED.pause_resumes_at,
			portal_url = EXCLUDED.portal_url,
			updated_at = EXCLUDED.updated_at
	`,
		userID,
		sub.ProductID,
		sub.ExternalSubscriptionID,
		stringArg(sub.ExternalCustomerID),
		string(sub.Status),
		timeArg(sub.ValidUntil),
		timeArg(sub.RenewsAt),
		timeArg(sub.EndsAt),
		timeArg(sub.TrialEndsAt),
		stringArg(pauseMode),
		timeArg(resumesAt),
		stringArg(sub.PortalURL),
		updatedAt.UTC(),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("subscription %s is recorded against another product: %w", sub.ExternalSubscriptionID, err)
		}
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// DeleteSubscription removes the user's row for productID and reports
// whether one existed
func (r *SubscriptionRepository) DeleteSubscription(ctx context.Context, userID, productID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE user_id = $1 AND product_id = $2`,
		userID, productID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete subscription: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// FindSubscriptionByExternalID resolves a billing provider subscription id
func (r *SubscriptionRepository) FindSubscriptionByExternalID(ctx context.Context, externalSubscriptionID string) (string, *entitlements.Subscription, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT user_id, `+subscriptionColumns+` FROM subscriptions WHERE external_subscription_id = $1`,
		externalSubscriptionID,
	)

	var userID string
	sub, err := scanSubscription(row, &userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, entitlements.ErrNotFound
	} else if err != nil {
		return "", nil, fmt.Errorf("failed to find subscription: %w", err)
	}
	return userID, sub, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanSubscription scans subscriptionColumns, optionally preceded by extra
// destinations
func scanSubscription(row rowScanner, prefix ...interface{}) (*entitlements.Subscription, error) {
	var (
		sub                                   entitlements.Subscription
		status                                string
		customerID, pauseMode, portalURL      sql.NullString
		validUntil, renewsAt, endsAt, trialAt sql.NullTime
		resumesAt                             sql.NullTime
	)

	dest := append(prefix,
		&sub.ProductID,
		&sub.ExternalSubscriptionID,
		&customerID,
		&status,
		&validUntil,
		&renewsAt,
		&endsAt,
		&trialAt,
		&pauseMode,
		&resumesAt,
		&portalURL,
		&sub.UpdatedAt,
	)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	sub.Status = entitlements.Status(status)
	sub.ExternalCustomerID = customerID.String
	sub.ValidUntil = nullTime(validUntil)
	sub.RenewsAt = nullTime(renewsAt)
	sub.EndsAt = nullTime(endsAt)
	sub.TrialEndsAt = nullTime(trialAt)
	sub.PortalURL = portalURL.String
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	if pauseMode.Valid || resumesAt.Valid {
		sub.Pause = &entitlements.Pause{Mode: pauseMode.String, ResumesAt: nullTime(resumesAt)}
	}
	return &sub, nil
}

func listSubscriptions(ctx context.Context, db *sql.DB, userID string) ([]entitlements.Subscription, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1 ORDER BY product_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []entitlements.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}
