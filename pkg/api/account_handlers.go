package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/spokehub/pkg/httputil"
	"github.com/platinummonkey/spokehub/pkg/middleware"
	"github.com/platinummonkey/spokehub/pkg/observability"
	"github.com/platinummonkey/spokehub/pkg/sso"
)

const (
	codeNoEmail          = "no-email"
	codeEmailNotVerified = "email-not-verified"
	codeUnknownProduct   = "unknown-product"
)

// LaunchRequest is the body of POST /api/sso/launch
type LaunchRequest struct {
	AppID string `json:"appId"`
}

// LaunchErrorResponse is a refused launch
type LaunchErrorResponse struct {
	Error   string   `json:"error"`
	Reason  string   `json:"reason"`
	Missing []string `json:"missing,omitempty"`
}

// CheckoutRequest is the body of POST /api/me/checkout
type CheckoutRequest struct {
	ProductSlug string `json:"productSlug"`
}

// CheckoutResponse carries the hosted checkout link
type CheckoutResponse struct {
	URL string `json:"url"`
}

// issueStatus maps refusal codes to HTTP statuses
var issueStatus = map[sso.IssueCode]int{
	sso.CodeNotAuthorized:        http.StatusUnauthorized,
	sso.CodeNotFound:             http.StatusNotFound,
	sso.CodeNotConfigured:        http.StatusConflict,
	sso.CodeSubscriptionRequired: http.StatusForbidden,
}

// launch handles POST /api/sso/launch
func (s *Server) launch(w http.ResponseWriter, r *http.Request) {
	var req LaunchRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	res, err := s.cfg.Issuer.Issue(r.Context(), middleware.SessionUser(r), req.AppID)
	if err != nil {
		var ierr *sso.IssueError
		if errors.As(err, &ierr) {
			status, ok := issueStatus[ierr.Code]
			if !ok {
				status = http.StatusBadRequest
			}
			httputil.WriteJSON(w, status, LaunchErrorResponse{
				Error:   string(ierr.Code),
				Reason:  ierr.Reason,
				Missing: ierr.Missing,
			})
			return
		}
		observability.FromContext(r.Context()).WithError(err).Error("SSO token issuance failed")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, res)
}

// subscriptionStatus handles GET /api/me/subscription
func (s *Server) subscriptionStatus(w http.ResponseWriter, r *http.Request) {
	userID := middleware.SessionUser(r)
	if userID == "" {
		httputil.WriteUnauthorized(w, "You must be logged in")
		return
	}

	status, err := s.cfg.Directory.SubscriptionStatus(r.Context(), userID)
	if errors.Is(err, sso.ErrUserNotFound) {
		httputil.WriteUnauthorized(w, "You must be logged in")
		return
	}
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Subscription status lookup failed")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, status)
}

// checkout handles POST /api/me/checkout
func (s *Server) checkout(w http.ResponseWriter, r *http.Request) {
	userID := middleware.SessionUser(r)
	if userID == "" {
		httputil.WriteUnauthorized(w, "You must be logged in")
		return
	}

	var req CheckoutRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	link, err := s.cfg.Directory.Checkout(r.Context(), userID, req.ProductSlug)
	switch {
	case err == nil:
		httputil.WriteSuccess(w, CheckoutResponse{URL: link})
	case errors.Is(err, sso.ErrUserNotFound):
		httputil.WriteUnauthorized(w, "You must be logged in")
	case errors.Is(err, sso.ErrNoEmail):
		httputil.WriteError(w, http.StatusBadRequest, codeNoEmail, "Add an email address before subscribing")
	case errors.Is(err, sso.ErrEmailNotVerified):
		httputil.WriteError(w, http.StatusForbidden, codeEmailNotVerified, "Verify your email address before subscribing")
	case errors.Is(err, sso.ErrUnknownProduct):
		httputil.WriteError(w, http.StatusNotFound, codeUnknownProduct, "Product is not available")
	default:
		observability.FromContext(r.Context()).WithError(err).Error("Checkout link failed")
		httputil.WriteInternalError(w)
	}
}
