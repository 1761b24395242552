package sso

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/spokehub/pkg/entitlements"
)

// UnknownProductName labels subscriptions whose product left the catalog
const UnknownProductName = "Unknown Product"

// SubscriptionView is a live subscription as reported to spokes
type SubscriptionView struct {
	ProductID   string              `json:"productId"`
	ProductSlug string              `json:"productSlug,omitempty"`
	ProductName string              `json:"productName"`
	Status      entitlements.Status `json:"status"`
	ValidUntil  *time.Time          `json:"validUntil"`
}

// VerifiedUser is the live identity returned for a redeemed token
type VerifiedUser struct {
	UserID        string             `json:"userId"`
	Username      string             `json:"username"`
	Email         string             `json:"email"`
	EmailVerified bool               `json:"emailVerified"`
	Subscriptions []SubscriptionView `json:"subscriptions"`
}

// UserInfo is VerifiedUser plus account metadata
type UserInfo struct {
	VerifiedUser
	CreatedAt time.Time `json:"createdAt"`
}

// describeUser builds the live view of u: identity plus the subscriptions
// that grant access at now
func describeUser(ctx context.Context, catalog entitlements.CatalogStore, u *entitlements.User, now time.Time) (*VerifiedUser, error) {
	views, err := subscriptionViews(ctx, catalog, entitlements.ActiveSubscriptions(u, now))
	if err != nil {
		return nil, err
	}
	out := &VerifiedUser{
		UserID:        u.ID,
		Username:      entitlements.DisplayName(u),
		Subscriptions: views,
	}
	if email := entitlements.PrimaryEmail(u); email != nil {
		out.Email = email.Address
		out.EmailVerified = email.Verified
	}
	return out, nil
}

func subscriptionViews(ctx context.Context, catalog entitlements.CatalogStore, subs []entitlements.Subscription) ([]SubscriptionView, error) {
	views := make([]SubscriptionView, 0, len(subs))
	for _, s := range subs {
		view := SubscriptionView{
			ProductID:   s.ProductID,
			ProductName: UnknownProductName,
			Status:      s.Status,
			ValidUntil:  s.ValidUntil,
		}
		p, err := catalog.GetProduct(ctx, s.ProductID)
		switch {
		case err == nil:
			view.ProductSlug = p.Slug
			if p.Name != "" {
				view.ProductName = p.Name
			}
		case !errors.Is(err, entitlements.ErrNotFound):
			return nil, fmt.Errorf("failed to load product %s: %w", s.ProductID, err)
		}
		views = append(views, view)
	}
	return views, nil
}
