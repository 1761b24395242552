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

	"github.com/platinummonkey/spokehub/pkg/sso"
)

func sessionRequest(t *testing.T, method, path, body, userID string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req.AddCookie(loginCookie(t, userID))
	}
	return req
}

func TestLaunch(t *testing.T) {
	t.Run("issued", func(t *testing.T) {
		server, deps := newTestServer(t, nil)
		var gotUser, gotApp string
		deps.issuer.issueFunc = func(_ context.Context, userID, appID string) (*sso.IssueResult, error) {
			gotUser, gotApp = userID, appID
			return &sso.IssueResult{
				Token:       "tok",
				RedirectURL: "https://chess.example.com/sso?token=tok",
				ExpiresAt:   time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC),
			}, nil
		}

		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, sessionRequest(t, http.MethodPost, "/api/sso/launch", `{"appId":"app-chess"}`, "u1"))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "u1", gotUser)
		assert.Equal(t, "app-chess", gotApp)
		var body sso.IssueResult
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "tok", body.Token)
		assert.Equal(t, "https://chess.example.com/sso?token=tok", body.RedirectURL)
	})

	t.Run("anonymous caller reaches the issuer", func(t *testing.T) {
		server, deps := newTestServer(t, nil)
		deps.issuer.issueFunc = func(_ context.Context, userID, _ string) (*sso.IssueResult, error) {
			assert.Empty(t, userID)
			return nil, &sso.IssueError{Code: sso.CodeNotAuthorized, Reason: "You must be logged in"}
		}

		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, sessionRequest(t, http.MethodPost, "/api/sso/launch", `{"appId":"app-chess"}`, ""))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "not-authorized", decodeError(t, rec).Error)
	})

	tests := []struct {
		code   sso.IssueCode
		status int
	}{
		{sso.CodeNotFound, http.StatusNotFound},
		{sso.CodeNotConfigured, http.StatusConflict},
		{sso.CodeSubscriptionRequired, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			server, deps := newTestServer(t, nil)
			deps.issuer.issueFunc = func(context.Context, string, string) (*sso.IssueResult, error) {
				return nil, &sso.IssueError{Code: tt.code, Reason: "nope", Missing: []string{"Chess Club"}}
			}

			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, sessionRequest(t, http.MethodPost, "/api/sso/launch", `{"appId":"app-chess"}`, "u1"))
			assert.Equal(t, tt.status, rec.Code)

			var body LaunchErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, string(tt.code), body.Error)
			assert.Equal(t, "nope", body.Reason)
			assert.Equal(t, []string{"Chess Club"}, body.Missing)
		})
	}

	t.Run("internal failure", func(t *testing.T) {
		server, deps := newTestServer(t, nil)
		deps.issuer.issueFunc = func(context.Context, string, string) (*sso.IssueResult, error) {
			return nil, errors.New("connection refused")
		}

		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, sessionRequest(t, http.MethodPost, "/api/sso/launch", `{"appId":"app-chess"}`, "u1"))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestSubscriptionStatusHandler(t *testing.T) {
	server, deps := newTestServer(t, nil)
	deps.directory.subscriptionStatusFunc = func(_ context.Context, userID string) (*sso.AccountStatus, error) {
		assert.Equal(t, "u1", userID)
		return &sso.AccountStatus{Status: sso.StatusInactive, PlanName: sso.NoSubscriptionPlan, EmailVerified: true}, nil
	}

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, sessionRequest(t, http.MethodGet, "/api/me/subscription", "", "u1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"inactive","planName":"No subscription","validUntil":null,"emailVerified":true}`, rec.Body.String())

	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, sessionRequest(t, http.MethodGet, "/api/me/subscription", "", ""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCheckoutHandler(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "no email", err: sso.ErrNoEmail, status: http.StatusBadRequest, code: "no-email"},
		{name: "unverified", err: sso.ErrEmailNotVerified, status: http.StatusForbidden, code: "email-not-verified"},
		{name: "unknown product", err: sso.ErrUnknownProduct, status: http.StatusNotFound, code: "unknown-product"},
		{name: "failure", err: errors.New("store is not configured"), status: http.StatusInternalServerError, code: "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, deps := newTestServer(t, nil)
			deps.directory.checkoutFunc = func(context.Context, string, string) (string, error) {
				return "", tt.err
			}

			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, sessionRequest(t, http.MethodPost, "/api/me/checkout", `{"productSlug":"chess"}`, "u1"))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Error)
		})
	}

	t.Run("link", func(t *testing.T) {
		server, deps := newTestServer(t, nil)
		deps.directory.checkoutFunc = func(_ context.Context, userID, slug string) (string, error) {
			assert.Equal(t, "u1", userID)
			assert.Equal(t, "chess", slug)
			return "https://spokehub.lemonsqueezy.com/checkout/buy/200", nil
		}

		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, sessionRequest(t, http.MethodPost, "/api/me/checkout", `{"productSlug":"chess"}`, "u1"))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"url":"https://spokehub.lemonsqueezy.com/checkout/buy/200"}`, rec.Body.String())
	})

	t.Run("anonymous", func(t *testing.T) {
		server, _ := newTestServer(t, nil)
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, sessionRequest(t, http.MethodPost, "/api/me/checkout", `{"productSlug":"chess"}`, ""))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
