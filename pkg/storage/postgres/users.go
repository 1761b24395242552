package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/spokehub/pkg/entitlements"
)

// UserRepository reads and seeds identity records
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a user repository
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetUser loads a user with emails and subscriptions
func (r *UserRepository) GetUser(ctx context.Context, userID string) (*entitlements.User, error) {
	var (
		user     entitlements.User
		username sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, created_at FROM users WHERE id = $1`,
		userID,
	).Scan(&user.ID, &username, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entitlements.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user.Username = username.String
	user.CreatedAt = user.CreatedAt.UTC()

	if user.Emails, err = r.emails(ctx, userID); err != nil {
		return nil, err
	}
	if user.Subscriptions, err = listSubscriptions(ctx, r.db, userID); err != nil {
		return nil, err
	}
	return &user, nil
}

// FindUserByEmail resolves an address case-insensitively, preferring a
// verified match
func (r *UserRepository) FindUserByEmail(ctx context.Context, email string) (*entitlements.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, entitlements.ErrNotFound
	}

	var userID string
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id FROM user_emails
		WHERE LOWER(address) = LOWER($1)
		ORDER BY verified DESC, position
		LIMIT 1
	`, email).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entitlements.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}

	return r.GetUser(ctx, userID)
}

// SaveUser creates or replaces a user and its email list
func (r *UserRepository) SaveUser(ctx context.Context, user *entitlements.User) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, username) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username
	`, user.ID, stringArg(user.Username)); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_emails WHERE user_id = $1`, user.ID); err != nil {
		return fmt.Errorf("failed to clear user emails: %w", err)
	}

	for i, email := range user.Emails {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_emails (user_id, address, verified, position) VALUES ($1, $2, $3, $4)`,
			user.ID, email.Address, email.Verified, i,
		); err != nil {
			return fmt.Errorf("failed to save email %s: %w", email.Address, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit user: %w", err)
	}
	return nil
}

func (r *UserRepository) emails(ctx context.Context, userID string) ([]entitlements.Email, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT address, verified FROM user_emails WHERE user_id = $1 ORDER BY position`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}
	defer rows.Close()

	emails := []entitlements.Email{}
	for rows.Next() {
		var e entitlements.Email
		if err := rows.Scan(&e.Address, &e.Verified); err != nil {
			return nil, fmt.Errorf("failed to scan email: %w", err)
		}
		emails = append(emails, e)
	}
	return emails, rows.Err()
}
