package sso

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireIssueError(t *testing.T, err error, code IssueCode) *IssueError {
	t.Helper()
	var ierr *IssueError
	require.True(t, errors.As(err, &ierr), "expected IssueError, got %v", err)
	assert.Equal(t, code, ierr.Code)
	return ierr
}

func TestIssue_Success(t *testing.T) {
	h := newHubStore()
	h.subscribe("u1", "base", until(30*24*time.Hour))
	h.subscribe("u1", "chess", until(7*24*time.Hour))
	issuer := newTestIssuer(t, h, fixedClock(testNow))

	res, err := issuer.Issue(context.Background(), "u1", "app-chess")
	require.NoError(t, err)

	assert.Equal(t, testNow.Add(DefaultTokenTTL), res.ExpiresAt)
	assert.True(t, strings.HasPrefix(res.RedirectURL, "https://chess.example.com/sso?token="))

	u, err := url.Parse(res.RedirectURL)
	require.NoError(t, err)
	assert.Equal(t, res.Token, u.Query().Get("token"))

	claims := &Claims{}
	parsed, _, err := jwt.NewParser().ParseUnverified(res.Token, claims)
	require.NoError(t, err)
	assert.Equal(t, "hub-test", parsed.Header["kid"])
	assert.Equal(t, "RS256", parsed.Header["alg"])

	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, "chess", claims.AppID)
	assert.Equal(t, "https://chess.example.com", claims.AppURL)
	assert.Equal(t, DefaultIssuer, claims.Issuer)
	assert.Equal(t, jwt.ClaimStrings{"chess"}, claims.Audience)
	assert.Len(t, claims.Subscriptions, 2)
	require.NotEmpty(t, claims.Nonce)

	rec, err := h.GetNonce(context.Background(), claims.Nonce, "chess")
	require.NoError(t, err)
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, testNow.Add(DefaultNonceTTL), rec.ExpiresAt)
	assert.False(t, rec.Used())
}

func TestIssue_SnapshotExcludesExpiredSubscriptions(t *testing.T) {
	h := newHubStore()
	h.subscribe("u1", "base", until(time.Hour))
	h.subscribe("u1", "chess", until(-time.Hour))
	h.apps["app-chess"].ProductID = "base"
	issuer := newTestIssuer(t, h, fixedClock(testNow))

	res, err := issuer.Issue(context.Background(), "u1", "app-chess")
	require.NoError(t, err)

	claims := &Claims{}
	_, _, err = jwt.NewParser().ParseUnverified(res.Token, claims)
	require.NoError(t, err)
	require.Len(t, claims.Subscriptions, 1)
	assert.Equal(t, "base", claims.Subscriptions[0].ProductID)
}

func TestIssue_SpokeResolution(t *testing.T) {
	h := newHubStore()
	h.subscribe("u1", "base", until(time.Hour))
	issuer := newTestIssuer(t, h, fixedClock(testNow))

	// registry entry keyed by app id
	res, err := issuer.Issue(context.Background(), "u1", "app-news")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.RedirectURL, "https://news.example.com/sso?token="))

	// app names a spoke id but no URL
	h.apps["app-lost"].SpokeID = "chess"
	res, err = issuer.Issue(context.Background(), "u1", "app-lost")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.RedirectURL, "https://chess.example.com/sso?token="))
}

func TestIssue_Preconditions(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		appID  string
		setup  func(*hubStore, *IssuerConfig)
		code   IssueCode
	}{
		{name: "no session", userID: "", appID: "app-chess", code: CodeNotAuthorized},
		{name: "unknown user", userID: "ghost", appID: "app-chess", code: CodeNotAuthorized},
		{name: "unknown app", userID: "u1", appID: "nope", code: CodeNotFound},
		{name: "unapproved app", userID: "u1", appID: "app-draft", code: CodeNotFound},
		{name: "no spoke endpoint", userID: "u1", appID: "app-lost", code: CodeNotConfigured},
		{
			name: "no signing keys", userID: "u1", appID: "app-chess", code: CodeNotConfigured,
			setup: func(_ *hubStore, cfg *IssuerConfig) { cfg.Keys = nil },
		},
		{
			name: "no base product", userID: "u1", appID: "app-chess", code: CodeNotConfigured,
			setup: func(h *hubStore, _ *IssuerConfig) { h.products["base"].Required = false },
		},
		{
			name: "unauthenticated wins over unknown app", userID: "", appID: "nope", code: CodeNotAuthorized,
		},
		{
			name: "unknown app wins over missing keys", userID: "u1", appID: "nope", code: CodeNotFound,
			setup: func(_ *hubStore, cfg *IssuerConfig) { cfg.Keys = nil },
		},
		{
			name: "missing config wins over subscription", userID: "u1", appID: "app-lost", code: CodeNotConfigured,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHubStore()
			cfg := IssuerConfig{
				Keys: testKeys(t, "hub-test"), Users: h, Catalog: h, Nonces: h, Spokes: h,
				Now: fixedClock(testNow),
			}
			if tt.setup != nil {
				tt.setup(h, &cfg)
			}

			res, err := NewIssuer(cfg).Issue(context.Background(), tt.userID, tt.appID)
			assert.Nil(t, res)
			requireIssueError(t, err, tt.code)
			assert.Zero(t, h.creates, "no nonce may be stored for a refused launch")
		})
	}
}

func TestIssue_SubscriptionRequired(t *testing.T) {
	t.Run("no subscriptions names the base product", func(t *testing.T) {
		h := newHubStore()
		issuer := newTestIssuer(t, h, fixedClock(testNow))

		_, err := issuer.Issue(context.Background(), "u1", "app-news")
		ierr := requireIssueError(t, err, CodeSubscriptionRequired)
		assert.Equal(t, []string{"Hub Membership"}, ierr.Missing)
		assert.Equal(t, "Missing required subscription: Hub Membership", ierr.Reason)
		assert.Zero(t, h.creates)
	})

	t.Run("base only names the app product", func(t *testing.T) {
		h := newHubStore()
		h.subscribe("u1", "base", until(time.Hour))
		issuer := newTestIssuer(t, h, fixedClock(testNow))

		_, err := issuer.Issue(context.Background(), "u1", "app-chess")
		ierr := requireIssueError(t, err, CodeSubscriptionRequired)
		assert.Equal(t, []string{"Chess Club"}, ierr.Missing)
	})

	t.Run("nothing lists both, base first", func(t *testing.T) {
		h := newHubStore()
		issuer := newTestIssuer(t, h, fixedClock(testNow))

		_, err := issuer.Issue(context.Background(), "u1", "app-chess")
		ierr := requireIssueError(t, err, CodeSubscriptionRequired)
		assert.Equal(t, []string{"Hub Membership", "Chess Club"}, ierr.Missing)
	})

	t.Run("status is not consulted", func(t *testing.T) {
		h := newHubStore()
		h.subscribe("u1", "base", until(-time.Minute))
		issuer := newTestIssuer(t, h, fixedClock(testNow))

		_, err := issuer.Issue(context.Background(), "u1", "app-news")
		requireIssueError(t, err, CodeSubscriptionRequired)
	})
}

func TestIssue_ConfiguredBaseProduct(t *testing.T) {
	h := newHubStore()
	h.products["base"].Required = false
	h.subscribe("u1", "base", until(time.Hour))

	issuer := NewIssuer(IssuerConfig{
		Keys: testKeys(t, "hub-test"), Users: h, Catalog: h, Nonces: h, Spokes: h,
		BaseProductID: "base",
		Now:           fixedClock(testNow),
	})

	_, err := issuer.Issue(context.Background(), "u1", "app-news")
	assert.NoError(t, err)
}

func TestIssue_StoreFailures(t *testing.T) {
	boom := errors.New("connection refused")

	t.Run("user lookup", func(t *testing.T) {
		h := newHubStore()
		h.getUserErr = boom
		_, err := newTestIssuer(t, h, fixedClock(testNow)).Issue(context.Background(), "u1", "app-news")
		assert.ErrorIs(t, err, boom)
		var ierr *IssueError
		assert.False(t, errors.As(err, &ierr))
	})

	t.Run("nonce insert", func(t *testing.T) {
		h := newHubStore()
		h.subscribe("u1", "base", until(time.Hour))
		h.createErr = boom
		res, err := newTestIssuer(t, h, fixedClock(testNow)).Issue(context.Background(), "u1", "app-news")
		assert.Nil(t, res)
		assert.ErrorIs(t, err, boom)
	})
}

func TestIssue_NoncesAreUnique(t *testing.T) {
	h := newHubStore()
	h.subscribe("u1", "base", until(time.Hour))
	issuer := newTestIssuer(t, h, fixedClock(testNow))

	for i := 0; i < 5; i++ {
		_, err := issuer.Issue(context.Background(), "u1", "app-news")
		require.NoError(t, err)
	}
	assert.Len(t, h.nonces, 5)
}
