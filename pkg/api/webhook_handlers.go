package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/spokehub/pkg/billing"
	"github.com/platinummonkey/spokehub/pkg/httputil"
	"github.com/platinummonkey/spokehub/pkg/observability"
)

// Lemon Squeezy delivery headers
const (
	headerSignature = "X-Signature"
	headerEventName = "X-Event-Name"
)

const (
	codeInvalidSignature = "invalid_signature"
	codeInvalidPayload   = "invalid_payload"
)

// WebhookResponse acknowledges a delivery
type WebhookResponse struct {
	Received bool           `json:"received"`
	Action   billing.Action `json:"action,omitempty"`
}

// lemonSqueezyWebhook handles POST /webhooks/lemon-squeezy
func (s *Server) lemonSqueezyWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteMethodNotAllowed(w, http.MethodPost)
		return
	}

	body, err := httputil.ReadBody(r)
	if errors.Is(err, httputil.ErrBodyTooLarge) {
		httputil.WriteError(w, http.StatusRequestEntityTooLarge, httputil.CodeBodyTooLarge, err.Error())
		return
	}
	if err != nil {
		httputil.WriteBadRequest(w, codeInvalidPayload, err.Error())
		return
	}

	logger := observability.FromContext(r.Context()).WithField("event", r.Header.Get(headerEventName))

	result, err := s.cfg.Webhooks.Process(r.Context(), r.Header.Get(headerEventName), r.Header.Get(headerSignature), body)
	switch {
	case err == nil:
		httputil.WriteSuccess(w, WebhookResponse{Received: true, Action: result.Action})
	case errors.Is(err, billing.ErrInvalidSignature):
		logger.Warn("Rejected webhook with invalid signature")
		httputil.WriteUnauthorized(w, "Invalid signature")
	case errors.Is(err, billing.ErrMalformedPayload):
		logger.WithError(err).Warn("Rejected malformed webhook")
		httputil.WriteBadRequest(w, codeInvalidPayload, err.Error())
	default:
		logger.WithError(err).Error("Webhook processing failed")
		httputil.WriteInternalError(w)
	}
}
