package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/spokehub/pkg/auth"
	"github.com/platinummonkey/spokehub/pkg/billing"
	"github.com/platinummonkey/spokehub/pkg/middleware"
	"github.com/platinummonkey/spokehub/pkg/sso"
)

const testSessionSecret = "0123456789abcdef0123456789abcdef"

var errNotImplemented = errors.New("not implemented")

type mockIssuer struct {
	issueFunc func(ctx context.Context, userID, appID string) (*sso.IssueResult, error)
}

func (m *mockIssuer) Issue(ctx context.Context, userID, appID string) (*sso.IssueResult, error) {
	if m.issueFunc != nil {
		return m.issueFunc(ctx, userID, appID)
	}
	return nil, errNotImplemented
}

type mockVerifier struct {
	verifyFunc func(ctx context.Context, token, spokeID string) (*sso.VerifiedUser, error)
}

func (m *mockVerifier) Verify(ctx context.Context, token, spokeID string) (*sso.VerifiedUser, error) {
	if m.verifyFunc != nil {
		return m.verifyFunc(ctx, token, spokeID)
	}
	return nil, errNotImplemented
}

type mockDirectory struct {
	checkSubscriptionFunc  func(ctx context.Context, userID string, slugs []string) (bool, []sso.SubscriptionView, error)
	userInfoFunc           func(ctx context.Context, userID string) (*sso.UserInfo, error)
	subscriptionStatusFunc func(ctx context.Context, userID string) (*sso.AccountStatus, error)
	checkoutFunc           func(ctx context.Context, userID, slug string) (string, error)
}

func (m *mockDirectory) CheckSubscription(ctx context.Context, userID string, slugs []string) (bool, []sso.SubscriptionView, error) {
	if m.checkSubscriptionFunc != nil {
		return m.checkSubscriptionFunc(ctx, userID, slugs)
	}
	return false, nil, errNotImplemented
}

func (m *mockDirectory) UserInfo(ctx context.Context, userID string) (*sso.UserInfo, error) {
	if m.userInfoFunc != nil {
		return m.userInfoFunc(ctx, userID)
	}
	return nil, errNotImplemented
}

func (m *mockDirectory) SubscriptionStatus(ctx context.Context, userID string) (*sso.AccountStatus, error) {
	if m.subscriptionStatusFunc != nil {
		return m.subscriptionStatusFunc(ctx, userID)
	}
	return nil, errNotImplemented
}

func (m *mockDirectory) Checkout(ctx context.Context, userID, slug string) (string, error) {
	if m.checkoutFunc != nil {
		return m.checkoutFunc(ctx, userID, slug)
	}
	return "", errNotImplemented
}

type mockWebhooks struct {
	processFunc func(ctx context.Context, eventName, signature string, body []byte) (billing.Result, error)
}

func (m *mockWebhooks) Process(ctx context.Context, eventName, signature string, body []byte) (billing.Result, error) {
	if m.processFunc != nil {
		return m.processFunc(ctx, eventName, signature, body)
	}
	return billing.Result{}, errNotImplemented
}

type staticKeys map[string]*auth.SpokeIdentity

func (s staticKeys) ByAPIKey(key string) (*auth.SpokeIdentity, bool) {
	spoke, ok := s[key]
	return spoke, ok
}

type testDeps struct {
	issuer    *mockIssuer
	verifier  *mockVerifier
	directory *mockDirectory
	webhooks  *mockWebhooks
}

func newTestServer(t *testing.T, configure func(*Config)) (*Server, *testDeps) {
	t.Helper()
	deps := &testDeps{
		issuer:    &mockIssuer{},
		verifier:  &mockVerifier{},
		directory: &mockDirectory{},
		webhooks:  &mockWebhooks{},
	}
	cfg := Config{
		Issuer:    deps.issuer,
		Verifier:  deps.verifier,
		Directory: deps.directory,
		Webhooks:  deps.webhooks,
		APIKeys: staticKeys{
			"sk_chess": {SpokeID: "chess", URL: "https://chess.example.com"},
		},
		Sessions:     middleware.NewSessionStore(testSessionSecret, false),
		MaxBodyBytes: 1 << 20,
	}
	if configure != nil {
		configure(&cfg)
	}
	return NewServer(cfg), deps
}

// loginCookie returns a session cookie for userID
func loginCookie(t *testing.T, userID string) *http.Cookie {
	t.Helper()
	store := middleware.NewSessionStore(testSessionSecret, false)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	session, err := store.Get(req, middleware.DefaultSessionCookie)
	require.NoError(t, err)
	session.Values[middleware.SessionUserKey] = userID
	require.NoError(t, session.Save(req, rec))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}
