package sso

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/spokehub/pkg/billing"
	"github.com/platinummonkey/spokehub/pkg/entitlements"
)

// Status values reported when the user holds no base subscription
const (
	StatusInactive     = "inactive"
	NoSubscriptionPlan = "No subscription"
)

// DirectoryConfig wires a Directory
type DirectoryConfig struct {
	Users          entitlements.UserStore
	Catalog        entitlements.CatalogStore
	BaseProductID  string
	StoreSubdomain string
	Now            func() time.Time
}

// Directory answers entitlement and profile questions about a user, for
// spokes and for the user's own account page
type Directory struct {
	cfg DirectoryConfig
}

// NewDirectory creates a Directory
func NewDirectory(cfg DirectoryConfig) *Directory {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Directory{cfg: cfg}
}

// AccountStatus summarizes the user's base subscription
type AccountStatus struct {
	Status        string     `json:"status"`
	PlanName      string     `json:"planName"`
	ValidUntil    *time.Time `json:"validUntil"`
	EmailVerified bool       `json:"emailVerified"`
	ManageURL     string     `json:"manageUrl,omitempty"`
}

// CheckSubscription reports whether the user holds an active subscription
// for every product slug listed, along with their active subscriptions.
// Unknown slugs are never satisfied.
func (d *Directory) CheckSubscription(ctx context.Context, userID string, slugs []string) (bool, []SubscriptionView, error) {
	user, err := d.user(ctx, userID)
	if err != nil {
		return false, nil, err
	}

	views, err := subscriptionViews(ctx, d.cfg.Catalog, entitlements.ActiveSubscriptions(user, d.cfg.Now()))
	if err != nil {
		return false, nil, err
	}

	held := make(map[string]struct{}, len(views))
	for _, v := range views {
		if v.ProductSlug != "" {
			held[v.ProductSlug] = struct{}{}
		}
	}
	for _, slug := range slugs {
		if _, ok := held[slug]; !ok {
			return false, views, nil
		}
	}
	return true, views, nil
}

// UserInfo returns the user's live identity and subscriptions
func (d *Directory) UserInfo(ctx context.Context, userID string) (*UserInfo, error) {
	user, err := d.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	view, err := describeUser(ctx, d.cfg.Catalog, user, d.cfg.Now())
	if err != nil {
		return nil, err
	}
	return &UserInfo{VerifiedUser: *view, CreatedAt: user.CreatedAt}, nil
}

// SubscriptionStatus summarizes the user's base subscription for the
// account page
func (d *Directory) SubscriptionStatus(ctx context.Context, userID string) (*AccountStatus, error) {
	user, err := d.user(ctx, userID)
	if err != nil {
		return nil, err
	}

	status := &AccountStatus{
		Status:   StatusInactive,
		PlanName: NoSubscriptionPlan,
	}
	if email := entitlements.PrimaryEmail(user); email != nil {
		status.EmailVerified = email.Verified
	}

	base, err := d.baseProduct(ctx)
	if errors.Is(err, entitlements.ErrNotFound) {
		return status, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load base product: %w", err)
	}

	sub := entitlements.Find(user, base.ID)
	if sub == nil {
		return status, nil
	}
	status.Status = string(sub.Status)
	status.PlanName = base.Name
	status.ValidUntil = sub.ValidUntil
	status.ManageURL = sub.PortalURL
	if status.ManageURL == "" && sub.ExternalCustomerID != "" {
		status.ManageURL = billing.PortalURL(sub.ExternalCustomerID)
	}
	return status, nil
}

// Checkout returns a hosted checkout link for productSlug, pre-filled so the
// resulting webhooks correlate back to the user
func (d *Directory) Checkout(ctx context.Context, userID, productSlug string) (string, error) {
	user, err := d.user(ctx, userID)
	if err != nil {
		return "", err
	}

	email := entitlements.PrimaryEmail(user)
	if email == nil || email.Address == "" {
		return "", ErrNoEmail
	}
	if !email.Verified {
		return "", ErrEmailNotVerified
	}

	product, err := d.cfg.Catalog.GetProductBySlug(ctx, productSlug)
	if errors.Is(err, entitlements.ErrNotFound) {
		return "", ErrUnknownProduct
	}
	if err != nil {
		return "", fmt.Errorf("failed to load product: %w", err)
	}
	if !product.IsActive || product.ExternalProductID == "" {
		return "", ErrUnknownProduct
	}

	return billing.CheckoutURL(d.cfg.StoreSubdomain, product.ExternalProductID, user.ID, email.Address)
}

func (d *Directory) user(ctx context.Context, userID string) (*entitlements.User, error) {
	if userID == "" {
		return nil, ErrUserNotFound
	}
	user, err := d.cfg.Users.GetUser(ctx, userID)
	if errors.Is(err, entitlements.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

func (d *Directory) baseProduct(ctx context.Context) (*entitlements.Product, error) {
	if d.cfg.BaseProductID != "" {
		return d.cfg.Catalog.GetProduct(ctx, d.cfg.BaseProductID)
	}
	return d.cfg.Catalog.GetBaseProduct(ctx)
}
