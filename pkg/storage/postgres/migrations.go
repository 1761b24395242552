package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/spokehub/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns the hub schema in application order
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users and user_emails tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id TEXT PRIMARY KEY,
					username TEXT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS user_emails (
					user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					address TEXT NOT NULL,
					verified BOOLEAN NOT NULL DEFAULT FALSE,
					position INT NOT NULL DEFAULT 0,
					PRIMARY KEY (user_id, address)
				);

				CREATE INDEX IF NOT EXISTS idx_user_emails_lower_address ON user_emails (LOWER(address));
			`,
		},
		{
			Version:     2,
			Description: "Create products and apps tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS products (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					slug TEXT NOT NULL UNIQUE,
					required BOOLEAN NOT NULL DEFAULT FALSE,
					external_product_id TEXT UNIQUE,
					is_approved BOOLEAN NOT NULL DEFAULT FALSE,
					is_active BOOLEAN NOT NULL DEFAULT FALSE
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_products_single_required ON products (required) WHERE required;

				CREATE TABLE IF NOT EXISTS apps (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					product_id TEXT REFERENCES products(id) ON DELETE SET NULL,
					spoke_id TEXT,
					spoke_url TEXT,
					is_approved BOOLEAN NOT NULL DEFAULT FALSE,
					is_active BOOLEAN NOT NULL DEFAULT FALSE
				);
			`,
		},
		{
			Version:     3,
			Description: "Create subscriptions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS subscriptions (
					user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
					external_subscription_id TEXT NOT NULL,
					external_customer_id TEXT,
					status TEXT NOT NULL,
					valid_until TIMESTAMPTZ,
					renews_at TIMESTAMPTZ,
					ends_at TIMESTAMPTZ,
					trial_ends_at TIMESTAMPTZ,
					pause_mode TEXT,
					pause_resumes_at TIMESTAMPTZ,
					portal_url TEXT,
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (user_id, product_id)
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_external_id ON subscriptions (external_subscription_id);
			`,
		},
		{
			Version:     4,
			Description: "Create sso_nonces table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sso_nonces (
					nonce TEXT NOT NULL,
					app_id TEXT NOT NULL,
					user_id TEXT NOT NULL,
					created_at TIMESTAMPTZ NOT NULL,
					expires_at TIMESTAMPTZ NOT NULL,
					used_at TIMESTAMPTZ,
					PRIMARY KEY (nonce, app_id)
				);

				CREATE INDEX IF NOT EXISTS idx_sso_nonces_expires_at ON sso_nonces (expires_at);
			`,
		},
		{
			Version:     5,
			Description: "Create cron_locks and processed_webhooks tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS cron_locks (
					job_name TEXT PRIMARY KEY,
					instance_id TEXT NOT NULL,
					acquired_at TIMESTAMPTZ NOT NULL,
					expires_at TIMESTAMPTZ NOT NULL
				);

				CREATE TABLE IF NOT EXISTS processed_webhooks (
					idempotency_key TEXT PRIMARY KEY,
					event_name TEXT NOT NULL,
					processed_at TIMESTAMPTZ NOT NULL,
					expires_at TIMESTAMPTZ NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_processed_webhooks_expires_at ON processed_webhooks (expires_at);
			`,
		},
	}
}

// migrationLockKey is the pg_advisory_lock key held while migrating
const migrationLockKey int64 = 0x73706f6b65687562

// Migrate applies every pending migration, each in its own transaction.
// Concurrent callers serialize on a session advisory lock.
func Migrate(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire migration connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockKey); err != nil {
			logger.WithError(err).Warn("Failed to release migration lock")
		}
	}()

	return migrate(ctx, conn, logger)
}

func migrate(ctx context.Context, conn *sql.Conn, logger *observability.Logger) error {
	_, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return err
	}

	for _, migration := range Migrations() {
		if applied[migration.Version] {
			continue
		}

		logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Running migration")

		if err := apply(ctx, conn, migration); err != nil {
			return err
		}
	}

	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[int]bool, error) {
	rows, err := conn.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func apply(ctx context.Context, conn *sql.Conn, migration Migration) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
		migration.Version, migration.Description,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
	}
	return nil
}
