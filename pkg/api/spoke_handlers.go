package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/platinummonkey/spokehub/pkg/httputil"
	"github.com/platinummonkey/spokehub/pkg/middleware"
	"github.com/platinummonkey/spokehub/pkg/observability"
	"github.com/platinummonkey/spokehub/pkg/sso"
)

// Error codes for the spoke API request validation
const (
	codeMissingUserID = "missing_user_id"
	codeMissingSlugs  = "missing_required_product_slugs"
)

// ValidateTokenRequest is the body of POST /api/spoke/validate-token
type ValidateTokenRequest struct {
	Token string `json:"token"`
}

// ValidateTokenResponse is a successful redemption
type ValidateTokenResponse struct {
	Valid bool `json:"valid"`
	*sso.VerifiedUser
}

// InvalidTokenResponse is a rejected redemption
type InvalidTokenResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error"`
}

// CheckSubscriptionRequest is the body of POST /api/spoke/check-subscription
type CheckSubscriptionRequest struct {
	UserID               string          `json:"userId"`
	RequiredProductSlugs json.RawMessage `json:"requiredProductSlugs"`
}

// CheckSubscriptionResponse reports whether every slug is held
type CheckSubscriptionResponse struct {
	HasAccess     bool                   `json:"hasAccess"`
	Subscriptions []sso.SubscriptionView `json:"subscriptions"`
}

// UserInfoRequest is the body of POST /api/spoke/user-info
type UserInfoRequest struct {
	UserID string `json:"userId"`
}

// validateToken handles POST /api/spoke/validate-token
func (s *Server) validateToken(w http.ResponseWriter, r *http.Request) {
	var req ValidateTokenRequest
	// no body is a missing token
	if !httputil.ParseOptionalJSONOrError(w, r, &req) {
		return
	}

	spokeID := ""
	if spoke := middleware.SpokeFromContext(r); spoke != nil {
		spokeID = spoke.SpokeID
	}

	user, err := s.cfg.Verifier.Verify(r.Context(), req.Token, spokeID)
	if err != nil {
		if code := sso.VerifyErrorCode(err); code != "" {
			httputil.WriteJSON(w, http.StatusBadRequest, InvalidTokenResponse{Error: string(code)})
			return
		}
		observability.FromContext(r.Context()).WithError(err).Error("Token verification failed")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, ValidateTokenResponse{Valid: true, VerifiedUser: user})
}

// checkSubscription handles POST /api/spoke/check-subscription
func (s *Server) checkSubscription(w http.ResponseWriter, r *http.Request) {
	var req CheckSubscriptionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == "" {
		httputil.WriteBadRequest(w, codeMissingUserID, "userId is required")
		return
	}
	var slugs []string
	if err := json.Unmarshal(req.RequiredProductSlugs, &slugs); err != nil || slugs == nil {
		httputil.WriteBadRequest(w, codeMissingSlugs, "requiredProductSlugs must be an array")
		return
	}

	ok, subs, err := s.cfg.Directory.CheckSubscription(r.Context(), req.UserID, slugs)
	if errors.Is(err, sso.ErrUserNotFound) {
		httputil.WriteError(w, http.StatusNotFound, string(sso.CodeUserNotFound), "")
		return
	}
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Subscription check failed")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, CheckSubscriptionResponse{HasAccess: ok, Subscriptions: subs})
}

// userInfo handles POST /api/spoke/user-info
func (s *Server) userInfo(w http.ResponseWriter, r *http.Request) {
	var req UserInfoRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == "" {
		httputil.WriteBadRequest(w, codeMissingUserID, "userId is required")
		return
	}

	info, err := s.cfg.Directory.UserInfo(r.Context(), req.UserID)
	if errors.Is(err, sso.ErrUserNotFound) {
		httputil.WriteError(w, http.StatusNotFound, string(sso.CodeUserNotFound), "")
		return
	}
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("User lookup failed")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, info)
}
