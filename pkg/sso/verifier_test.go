package sso

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/spokehub/pkg/keys"
)

func issueFor(t *testing.T, h *hubStore, appID string) string {
	t.Helper()
	res, err := newTestIssuer(t, h, fixedClock(testNow)).Issue(context.Background(), "u1", appID)
	require.NoError(t, err)
	return res.Token
}

func entitledHub() *hubStore {
	h := newHubStore()
	h.subscribe("u1", "base", until(30*24*time.Hour))
	h.subscribe("u1", "chess", until(7*24*time.Hour))
	return h
}

func TestVerify_ExactlyOnce(t *testing.T) {
	h := entitledHub()
	token := issueFor(t, h, "app-chess")
	verifier := newTestVerifier(t, h, fixedClock(testNow.Add(time.Minute)))

	user, err := verifier.Verify(context.Background(), token, "chess")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.UserID)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.True(t, user.EmailVerified)
	require.Len(t, user.Subscriptions, 2)
	assert.Equal(t, "membership", user.Subscriptions[0].ProductSlug)
	assert.Equal(t, "Hub Membership", user.Subscriptions[0].ProductName)

	_, err = verifier.Verify(context.Background(), token, "chess")
	assert.Equal(t, CodeNonceReused, VerifyErrorCode(err))
}

func TestVerify_ConcurrentRedemption(t *testing.T) {
	h := entitledHub()
	token := issueFor(t, h, "app-chess")
	verifier := newTestVerifier(t, h, fixedClock(testNow.Add(time.Minute)))

	var wins, reused atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := verifier.Verify(context.Background(), token, "chess")
			switch {
			case err == nil:
				wins.Add(1)
			case VerifyErrorCode(err) == CodeNonceReused:
				reused.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(9), reused.Load())
}

func TestVerify_ReturnsLiveEntitlements(t *testing.T) {
	h := entitledHub()
	token := issueFor(t, h, "app-chess")

	// the chess subscription lapses between launch and redemption
	h.users["u1"].Subscriptions[1].ValidUntil = until(2 * time.Minute)
	verifier := newTestVerifier(t, h, fixedClock(testNow.Add(3*time.Minute)))

	user, err := verifier.Verify(context.Background(), token, "chess")
	require.NoError(t, err)
	require.Len(t, user.Subscriptions, 1)
	assert.Equal(t, "base", user.Subscriptions[0].ProductID)
}

func TestVerify_UnknownProductName(t *testing.T) {
	h := entitledHub()
	token := issueFor(t, h, "app-chess")
	delete(h.products, "chess")

	user, err := newTestVerifier(t, h, fixedClock(testNow)).Verify(context.Background(), token, "chess")
	require.NoError(t, err)
	require.Len(t, user.Subscriptions, 2)
	assert.Equal(t, UnknownProductName, user.Subscriptions[1].ProductName)
	assert.Empty(t, user.Subscriptions[1].ProductSlug)
}

func TestVerify_WrongAppBeforeNonce(t *testing.T) {
	h := entitledHub()
	token := issueFor(t, h, "app-chess")
	verifier := newTestVerifier(t, h, fixedClock(testNow))

	_, err := verifier.Verify(context.Background(), token, "news")
	assert.Equal(t, CodeWrongApp, VerifyErrorCode(err))

	// the nonce was not consumed by the rejected attempt
	_, err = verifier.Verify(context.Background(), token, "chess")
	assert.NoError(t, err)
}

func TestVerify_Expired(t *testing.T) {
	h := entitledHub()
	token := issueFor(t, h, "app-chess")
	verifier := newTestVerifier(t, h, fixedClock(testNow.Add(DefaultTokenTTL+time.Second)))

	_, err := verifier.Verify(context.Background(), token, "chess")
	assert.Equal(t, CodeTokenExpired, VerifyErrorCode(err))
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestVerify_Rejections(t *testing.T) {
	otherPriv, _, err := keys.Generate(2048)
	require.NoError(t, err)
	otherKeys, err := keys.Load(keys.Source{PrivateKeyPEM: string(otherPriv), KeyID: "hub-test"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  func(t *testing.T, h *hubStore) string
		spoke  string
		config func(*VerifierConfig)
		code   VerifyCode
	}{
		{
			name:  "missing token",
			token: func(*testing.T, *hubStore) string { return "" },
			spoke: "chess",
			code:  CodeMissingToken,
		},
		{
			name:  "unknown spoke",
			token: func(t *testing.T, h *hubStore) string { return issueFor(t, h, "app-chess") },
			spoke: "mystery",
			code:  CodeUnknownSpoke,
		},
		{
			name:  "garbage",
			token: func(*testing.T, *hubStore) string { return "not.a.jwt" },
			spoke: "chess",
			code:  CodeVerificationFailed,
		},
		{
			name:   "foreign signing key",
			token:  func(t *testing.T, h *hubStore) string { return issueFor(t, h, "app-chess") },
			spoke:  "chess",
			config: func(c *VerifierConfig) { c.Keys = otherKeys },
			code:   CodeInvalidSignature,
		},
		{
			name:  "key id mismatch",
			token: func(t *testing.T, h *hubStore) string { return issueFor(t, h, "app-chess") },
			spoke: "chess",
			config: func(c *VerifierConfig) {
				c.Keys = testKeys(t, "hub-rotated")
			},
			code: CodeInvalidSignature,
		},
		{
			name:   "issuer mismatch",
			token:  func(t *testing.T, h *hubStore) string { return issueFor(t, h, "app-chess") },
			spoke:  "chess",
			config: func(c *VerifierConfig) { c.Issuer = "someone-else" },
			code:   CodeInvalidSignature,
		},
		{
			name: "nonce never stored",
			token: func(t *testing.T, h *hubStore) string {
				token := issueFor(t, h, "app-chess")
				h.nonces = map[string]*NonceRecord{}
				return token
			},
			spoke: "chess",
			code:  CodeInvalidNonce,
		},
		{
			name: "nonce for another user",
			token: func(t *testing.T, h *hubStore) string {
				token := issueFor(t, h, "app-chess")
				for _, rec := range h.nonces {
					rec.UserID = "u2"
				}
				return token
			},
			spoke: "chess",
			code:  CodeInvalidNonce,
		},
		{
			name: "nonce expired",
			token: func(t *testing.T, h *hubStore) string {
				token := issueFor(t, h, "app-chess")
				for _, rec := range h.nonces {
					rec.ExpiresAt = testNow
				}
				return token
			},
			spoke: "chess",
			code:  CodeInvalidNonce,
		},
		{
			name: "user deleted",
			token: func(t *testing.T, h *hubStore) string {
				token := issueFor(t, h, "app-chess")
				delete(h.users, "u1")
				return token
			},
			spoke: "chess",
			code:  CodeUserNotFound,
		},
		{
			name:   "no keys loaded",
			token:  func(t *testing.T, h *hubStore) string { return issueFor(t, h, "app-chess") },
			spoke:  "chess",
			config: func(c *VerifierConfig) { c.Keys = nil },
			code:   CodeVerificationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := entitledHub()
			token := tt.token(t, h)
			cfg := VerifierConfig{
				Keys: testKeys(t, "hub-test"), Users: h, Catalog: h, Nonces: h, Spokes: h,
				Now: fixedClock(testNow.Add(time.Minute)),
			}
			if tt.config != nil {
				tt.config(&cfg)
			}

			user, err := NewVerifier(cfg).Verify(context.Background(), token, tt.spoke)
			assert.Nil(t, user)
			assert.Equal(t, tt.code, VerifyErrorCode(err), "got %v", err)
		})
	}
}

func TestVerify_StoreFailureIsInternal(t *testing.T) {
	h := entitledHub()
	token := issueFor(t, h, "app-chess")
	boom := errors.New("connection reset")
	h.getUserErr = boom

	_, err := newTestVerifier(t, h, fixedClock(testNow)).Verify(context.Background(), token, "chess")
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, VerifyErrorCode(err))
}

func TestVerifyError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	err := verifyError(CodeInvalidNonce, inner)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "invalid_nonce: inner", err.Error())
	assert.Equal(t, "nonce_reused", verifyError(CodeNonceReused, nil).Error())
}
