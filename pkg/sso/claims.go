package sso

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/platinummonkey/spokehub/pkg/entitlements"
)

// SnapshotEntry is one active subscription at issuance time
type SnapshotEntry struct {
	ProductID  string              `json:"productId"`
	Status     entitlements.Status `json:"status"`
	ValidUntil *time.Time          `json:"validUntil"`
}

// Claims is the launch token payload. AppID is the spoke the token was
// issued for; only that spoke may redeem it.
type Claims struct {
	UserID        string          `json:"userId"`
	Username      string          `json:"username"`
	Email         string          `json:"email,omitempty"`
	AppID         string          `json:"appId"`
	AppURL        string          `json:"appUrl"`
	Subscriptions []SnapshotEntry `json:"subscriptions"`
	Nonce         string          `json:"nonce"`
	jwt.RegisteredClaims
}

func snapshot(subs []entitlements.Subscription) []SnapshotEntry {
	entries := make([]SnapshotEntry, 0, len(subs))
	for _, s := range subs {
		entries = append(entries, SnapshotEntry{
			ProductID:  s.ProductID,
			Status:     s.Status,
			ValidUntil: s.ValidUntil,
		})
	}
	return entries
}
