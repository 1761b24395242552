package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/spokehub/pkg/entitlements"
	"github.com/platinummonkey/spokehub/pkg/sso"
)

func spokeRequest(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer sk_chess")
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestValidateToken(t *testing.T) {
	validUntil := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	t.Run("valid", func(t *testing.T) {
		server, deps := newTestServer(t, nil)
		var gotToken, gotSpoke string
		deps.verifier.verifyFunc = func(_ context.Context, token, spokeID string) (*sso.VerifiedUser, error) {
			gotToken, gotSpoke = token, spokeID
			return &sso.VerifiedUser{
				UserID:        "u1",
				Username:      "alice",
				Email:         "alice@example.com",
				EmailVerified: true,
				Subscriptions: []sso.SubscriptionView{{
					ProductID: "base", ProductSlug: "membership", ProductName: "Hub Membership",
					Status: entitlements.StatusActive, ValidUntil: &validUntil,
				}},
			}, nil
		}

		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, spokeRequest("/api/spoke/validate-token", `{"token":"abc"}`))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "abc", gotToken)
		assert.Equal(t, "chess", gotSpoke)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, true, body["valid"])
		assert.Equal(t, "u1", body["userId"])
		assert.Equal(t, "alice", body["username"])
		assert.Equal(t, true, body["emailVerified"])
		subs := body["subscriptions"].([]interface{})
		require.Len(t, subs, 1)
		assert.Equal(t, "Hub Membership", subs[0].(map[string]interface{})["productName"])
	})

	for _, code := range []sso.VerifyCode{sso.CodeNonceReused, sso.CodeWrongApp, sso.CodeTokenExpired} {
		t.Run(string(code), func(t *testing.T) {
			server, deps := newTestServer(t, nil)
			deps.verifier.verifyFunc = func(context.Context, string, string) (*sso.VerifiedUser, error) {
				return nil, &sso.VerifyError{Code: code}
			}

			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, spokeRequest("/api/spoke/validate-token", `{"token":"abc"}`))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.JSONEq(t, `{"valid":false,"error":"`+string(code)+`"}`, rec.Body.String())
		})
	}

	t.Run("store failure", func(t *testing.T) {
		server, deps := newTestServer(t, nil)
		deps.verifier.verifyFunc = func(context.Context, string, string) (*sso.VerifiedUser, error) {
			return nil, errors.New("connection refused")
		}

		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, spokeRequest("/api/spoke/validate-token", `{"token":"abc"}`))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "internal_error", decodeError(t, rec).Error)
	})

	for name, body := range map[string]string{"empty body": "", "empty object": `{}`} {
		t.Run(name, func(t *testing.T) {
			server, deps := newTestServer(t, nil)
			gotToken := "unset"
			deps.verifier.verifyFunc = func(_ context.Context, token, _ string) (*sso.VerifiedUser, error) {
				gotToken = token
				return nil, &sso.VerifyError{Code: sso.CodeMissingToken}
			}

			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, spokeRequest("/api/spoke/validate-token", body))

			assert.Empty(t, gotToken)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.JSONEq(t, `{"valid":false,"error":"missing_token"}`, rec.Body.String())
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		server, _ := newTestServer(t, nil)
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, spokeRequest("/api/spoke/validate-token", `{"token":`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "bad_request", decodeError(t, rec).Error)
	})
}

func TestCheckSubscription(t *testing.T) {
	t.Run("access", func(t *testing.T) {
		server, deps := newTestServer(t, nil)
		var gotSlugs []string
		deps.directory.checkSubscriptionFunc = func(_ context.Context, userID string, slugs []string) (bool, []sso.SubscriptionView, error) {
			assert.Equal(t, "u1", userID)
			gotSlugs = slugs
			return true, []sso.SubscriptionView{{ProductID: "base", ProductSlug: "membership"}}, nil
		}

		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, spokeRequest("/api/spoke/check-subscription", `{"userId":"u1","requiredProductSlugs":["membership"]}`))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"membership"}, gotSlugs)
		var body CheckSubscriptionResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.True(t, body.HasAccess)
		assert.Len(t, body.Subscriptions, 1)
	})

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{name: "missing user", body: `{"requiredProductSlugs":[]}`, status: http.StatusBadRequest, code: "missing_user_id"},
		{name: "missing slugs", body: `{"userId":"u1"}`, status: http.StatusBadRequest, code: "missing_required_product_slugs"},
		{name: "slugs not an array", body: `{"userId":"u1","requiredProductSlugs":"membership"}`, status: http.StatusBadRequest, code: "missing_required_product_slugs"},
		{name: "null slugs", body: `{"userId":"u1","requiredProductSlugs":null}`, status: http.StatusBadRequest, code: "missing_required_product_slugs"},
		{name: "unknown user", body: `{"userId":"ghost","requiredProductSlugs":[]}`, status: http.StatusNotFound, code: "user_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, deps := newTestServer(t, nil)
			deps.directory.checkSubscriptionFunc = func(context.Context, string, []string) (bool, []sso.SubscriptionView, error) {
				return false, nil, sso.ErrUserNotFound
			}

			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, spokeRequest("/api/spoke/check-subscription", tt.body))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Error)
		})
	}
}

func TestUserInfo(t *testing.T) {
	created := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	server, deps := newTestServer(t, nil)
	deps.directory.userInfoFunc = func(_ context.Context, userID string) (*sso.UserInfo, error) {
		if userID != "u1" {
			return nil, sso.ErrUserNotFound
		}
		return &sso.UserInfo{
			VerifiedUser: sso.VerifiedUser{UserID: "u1", Username: "alice", Subscriptions: []sso.SubscriptionView{}},
			CreatedAt:    created,
		}, nil
	}

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, spokeRequest("/api/spoke/user-info", `{"userId":"u1"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "u1", body["userId"])
	assert.Equal(t, "2025-12-01T00:00:00Z", body["createdAt"])

	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, spokeRequest("/api/spoke/user-info", `{"userId":"ghost"}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "user_not_found", decodeError(t, rec).Error)

	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, spokeRequest("/api/spoke/user-info", `{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_user_id", decodeError(t, rec).Error)
}
