package entitlements

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Status is the billing provider's subscription status. It is informational
// only: access is decided by ValidUntil.
type Status string

const (
	StatusActive    Status = "active"
	StatusOnTrial   Status = "on_trial"
	StatusPastDue   Status = "past_due"
	StatusUnpaid    Status = "unpaid"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusOnTrial, StatusPastDue, StatusUnpaid,
		StatusPaused, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// ErrNotFound is returned by stores when a record does not exist
var ErrNotFound = errors.New("not found")

// Email is one of a user's addresses
type Email struct {
	Address  string `json:"address"`
	Verified bool   `json:"verified"`
}

// User is the identity record plus its subscriptions
type User struct {
	ID            string         `json:"id"`
	Username      string         `json:"username,omitempty"`
	Emails        []Email        `json:"emails"`
	Subscriptions []Subscription `json:"subscriptions"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// Pause describes a paused subscription
type Pause struct {
	Mode      string     `json:"mode,omitempty"`
	ResumesAt *time.Time `json:"resumesAt,omitempty"`
}

// Subscription is a user's entitlement record for one product.
// There is at most one per (user, product).
type Subscription struct {
	ProductID              string     `json:"productId"`
	ExternalSubscriptionID string     `json:"externalSubscriptionId"`
	ExternalCustomerID     string     `json:"externalCustomerId,omitempty"`
	Status                 Status     `json:"status"`
	ValidUntil             *time.Time `json:"validUntil"`
	RenewsAt               *time.Time `json:"renewsAt,omitempty"`
	EndsAt                 *time.Time `json:"endsAt,omitempty"`
	TrialEndsAt            *time.Time `json:"trialEndsAt,omitempty"`
	Pause                  *Pause     `json:"pause,omitempty"`
	PortalURL              string     `json:"portalUrl,omitempty"`
	UpdatedAt              time.Time  `json:"updatedAt"`
}

// Product is a purchasable entitlement unit
type Product struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Slug              string `json:"slug"`
	Required          bool   `json:"required"`
	ExternalProductID string `json:"externalProductId,omitempty"`
	IsApproved        bool   `json:"isApproved"`
	IsActive          bool   `json:"isActive"`
}

// App is a launchable spoke application
type App struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ProductID  string `json:"productId"`
	SpokeID    string `json:"spokeId,omitempty"`
	SpokeURL   string `json:"spokeUrl,omitempty"`
	IsApproved bool   `json:"isApproved"`
	IsActive   bool   `json:"isActive"`
}

// Launchable reports whether the app may be launched at all
func (a *App) Launchable() bool {
	return a != nil && a.IsApproved && a.IsActive
}

// UserStore reads identity records
type UserStore interface {
	GetUser(ctx context.Context, userID string) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
}

// CatalogStore reads products and apps
type CatalogStore interface {
	GetProduct(ctx context.Context, id string) (*Product, error)
	GetProductBySlug(ctx context.Context, slug string) (*Product, error)
	GetProductByExternalID(ctx context.Context, externalID string) (*Product, error)
	GetBaseProduct(ctx context.Context) (*Product, error)
	GetApp(ctx context.Context, id string) (*App, error)
}

// SubscriptionStore mutates a user's subscription records keyed by
// (user, product). Every method is atomic.
type SubscriptionStore interface {
	UpsertSubscription(ctx context.Context, userID string, sub Subscription) error
	// ReplaceSubscription upserts sub and drops any other row carrying the
	// same external subscription id
	ReplaceSubscription(ctx context.Context, userID string, sub Subscription) error
	DeleteSubscription(ctx context.Context, userID, productID string) (bool, error)
	FindSubscriptionByExternalID(ctx context.Context, externalSubscriptionID string) (userID string, sub *Subscription, err error)
}

// DisplayName is the username, else the local part of the primary email,
// else "user"
func DisplayName(u *User) string {
	if u == nil {
		return "user"
	}
	if u.Username != "" {
		return u.Username
	}
	if email := PrimaryEmail(u); email != nil {
		if local, _, ok := strings.Cut(email.Address, "@"); ok && local != "" {
			return local
		}
	}
	return "user"
}

// PrimaryEmail is the first address on the account, verified or not. Its
// Verified flag is what spokes see as emailVerified.
func PrimaryEmail(u *User) *Email {
	if u == nil || len(u.Emails) == 0 {
		return nil
	}
	return &u.Emails[0]
}
