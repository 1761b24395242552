package sso

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/spokehub/pkg/auth"
	"github.com/platinummonkey/spokehub/pkg/entitlements"
	"github.com/platinummonkey/spokehub/pkg/keys"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var (
	keyOnce    sync.Once
	keyPEM     []byte
	keyOnceErr error
)

// testKeys loads a keypair generated once per test binary
func testKeys(t *testing.T, keyID string) *keys.KeyStore {
	t.Helper()
	keyOnce.Do(func() {
		keyPEM, _, keyOnceErr = keys.Generate(2048)
	})
	require.NoError(t, keyOnceErr)

	ks, err := keys.Load(keys.Source{PrivateKeyPEM: string(keyPEM), KeyID: keyID})
	require.NoError(t, err)
	return ks
}

func until(d time.Duration) *time.Time {
	t := testNow.Add(d)
	return &t
}

// hubStore is an in-memory hub: users, catalog, nonces and spokes
type hubStore struct {
	mu       sync.Mutex
	users    map[string]*entitlements.User
	products map[string]*entitlements.Product
	apps     map[string]*entitlements.App
	nonces   map[string]*NonceRecord
	spokes   map[string]*auth.SpokeIdentity

	getUserErr error
	createErr  error
	creates    int
}

func newHubStore() *hubStore {
	return &hubStore{
		users: map[string]*entitlements.User{
			"u1": {
				ID:        "u1",
				Emails:    []entitlements.Email{{Address: "alice@example.com", Verified: true}},
				CreatedAt: testNow.Add(-90 * 24 * time.Hour),
			},
		},
		products: map[string]*entitlements.Product{
			"base":  {ID: "base", Name: "Hub Membership", Slug: "membership", Required: true, ExternalProductID: "100", IsActive: true, IsApproved: true},
			"chess": {ID: "chess", Name: "Chess Club", Slug: "chess", ExternalProductID: "200", IsActive: true, IsApproved: true},
		},
		apps: map[string]*entitlements.App{
			"app-chess": {ID: "app-chess", Name: "Chess", ProductID: "chess", SpokeID: "chess", SpokeURL: "https://chess.example.com/", IsApproved: true, IsActive: true},
			"app-news":  {ID: "app-news", Name: "News", ProductID: "base", IsApproved: true, IsActive: true},
			"app-draft": {ID: "app-draft", Name: "Draft", ProductID: "base", SpokeID: "draft", SpokeURL: "https://draft.example.com", IsApproved: false, IsActive: true},
			"app-lost":  {ID: "app-lost", Name: "Lost", ProductID: "base", IsApproved: true, IsActive: true},
		},
		nonces: make(map[string]*NonceRecord),
		spokes: map[string]*auth.SpokeIdentity{
			"chess": {SpokeID: "chess", URL: "https://chess.example.com"},
			"news":  {SpokeID: "news", AppID: "app-news", URL: "https://news.example.com"},
		},
	}
}

func (h *hubStore) subscribe(userID, productID string, validUntil *time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	u := h.users[userID]
	u.Subscriptions = append(u.Subscriptions, entitlements.Subscription{
		ProductID:              productID,
		ExternalSubscriptionID: "sub-" + productID,
		ExternalCustomerID:     "cus-1",
		Status:                 entitlements.StatusActive,
		ValidUntil:             validUntil,
		RenewsAt:               validUntil,
	})
}

func (h *hubStore) GetUser(_ context.Context, id string) (*entitlements.User, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.getUserErr != nil {
		return nil, h.getUserErr
	}
	if u, ok := h.users[id]; ok {
		cp := *u
		cp.Subscriptions = append([]entitlements.Subscription(nil), u.Subscriptions...)
		return &cp, nil
	}
	return nil, entitlements.ErrNotFound
}

func (h *hubStore) FindUserByEmail(context.Context, string) (*entitlements.User, error) {
	return nil, entitlements.ErrNotFound
}

func (h *hubStore) GetProduct(_ context.Context, id string) (*entitlements.Product, error) {
	if p, ok := h.products[id]; ok {
		return p, nil
	}
	return nil, entitlements.ErrNotFound
}

func (h *hubStore) GetProductBySlug(_ context.Context, slug string) (*entitlements.Product, error) {
	for _, p := range h.products {
		if p.Slug == slug {
			return p, nil
		}
	}
	return nil, entitlements.ErrNotFound
}

func (h *hubStore) GetProductByExternalID(_ context.Context, ext string) (*entitlements.Product, error) {
	for _, p := range h.products {
		if p.ExternalProductID == ext {
			return p, nil
		}
	}
	return nil, entitlements.ErrNotFound
}

func (h *hubStore) GetBaseProduct(ctx context.Context) (*entitlements.Product, error) {
	for _, p := range h.products {
		if p.Required {
			return p, nil
		}
	}
	return nil, entitlements.ErrNotFound
}

func (h *hubStore) GetApp(_ context.Context, id string) (*entitlements.App, error) {
	if a, ok := h.apps[id]; ok {
		return a, nil
	}
	return nil, entitlements.ErrNotFound
}

func (h *hubStore) CreateNonce(_ context.Context, rec NonceRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.createErr != nil {
		return h.createErr
	}
	h.creates++
	h.nonces[rec.Nonce+"/"+rec.AppID] = &rec
	return nil
}

func (h *hubStore) GetNonce(_ context.Context, nonce, appID string) (*NonceRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.nonces[nonce+"/"+appID]
	if !ok {
		return nil, entitlements.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (h *hubStore) MarkNonceUsed(_ context.Context, nonce, appID string, at time.Time) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.nonces[nonce+"/"+appID]
	if !ok || rec.UsedAt != nil {
		return false, nil
	}
	rec.UsedAt = &at
	return true, nil
}

func (h *hubStore) ByID(id string) (*auth.SpokeIdentity, bool) {
	s, ok := h.spokes[id]
	return s, ok
}

func (h *hubStore) ByAppID(appID string) (*auth.SpokeIdentity, bool) {
	for _, s := range h.spokes {
		if s.AppID == appID {
			return s, true
		}
	}
	return nil, false
}

func newTestIssuer(t *testing.T, h *hubStore, now func() time.Time) *Issuer {
	return NewIssuer(IssuerConfig{
		Keys:    testKeys(t, "hub-test"),
		Users:   h,
		Catalog: h,
		Nonces:  h,
		Spokes:  h,
		Now:     now,
	})
}

func newTestVerifier(t *testing.T, h *hubStore, now func() time.Time) *Verifier {
	return NewVerifier(VerifierConfig{
		Keys:    testKeys(t, "hub-test"),
		Users:   h,
		Catalog: h,
		Nonces:  h,
		Spokes:  h,
		Now:     now,
	})
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
