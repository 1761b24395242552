package sso

import (
	"context"
	"time"
)

// NonceRecord is the server-side half of a launch token. A token verifies
// successfully only while its record exists with UsedAt unset.
type NonceRecord struct {
	Nonce     string
	AppID     string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// Used reports whether the nonce has been consumed
func (n *NonceRecord) Used() bool {
	return n.UsedAt != nil
}

// NonceStore persists nonce records. Records are unique per (nonce, app).
type NonceStore interface {
	CreateNonce(ctx context.Context, rec NonceRecord) error
	// GetNonce returns entitlements.ErrNotFound when no record exists
	GetNonce(ctx context.Context, nonce, appID string) (*NonceRecord, error)
	// MarkNonceUsed sets UsedAt if it is still unset and reports whether
	// this call was the one that set it
	MarkNonceUsed(ctx context.Context, nonce, appID string, at time.Time) (bool, error)
}
