// Package httputil provides the JSON response and request helpers shared by
// every hub handler. Error bodies always carry a machine-readable code in
// "error" so callers can branch without matching on prose.
package httputil

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Error codes shared across handlers
const (
	CodeUnauthorized     = "unauthorized"
	CodeNotFound         = "not_found"
	CodeMethodNotAllowed = "method_not_allowed"
	CodeInternal         = "internal_error"
	CodeRateLimited      = "rate_limited"
	CodeBadRequest       = "bad_request"
	CodeBodyTooLarge     = "body_too_large"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RateLimitResponse is the body of a 429 answer
type RateLimitResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a 200 JSON response
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteError writes {error: code, message} with the given status
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// WriteBadRequest writes a 400 with a specific error code
func WriteBadRequest(w http.ResponseWriter, code, message string) {
	WriteError(w, http.StatusBadRequest, code, message)
}

// WriteUnauthorized writes a 401 unauthorized error
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// WriteNotFound writes a 404 not_found error
func WriteNotFound(w http.ResponseWriter) {
	WriteError(w, http.StatusNotFound, CodeNotFound, "")
}

// WriteMethodNotAllowed writes a 405 and advertises the allowed methods
func WriteMethodNotAllowed(w http.ResponseWriter, allowed ...string) {
	for _, m := range allowed {
		w.Header().Add("Allow", m)
	}
	WriteError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "")
}

// WriteInternalError writes a 500 without leaking the underlying error
func WriteInternalError(w http.ResponseWriter) {
	WriteError(w, http.StatusInternalServerError, CodeInternal, "")
}

// WriteTooManyRequests writes a 429 with a Retry-After header in seconds
func WriteTooManyRequests(w http.ResponseWriter, retryAfter int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	WriteJSON(w, http.StatusTooManyRequests, RateLimitResponse{
		Error:      CodeRateLimited,
		RetryAfter: retryAfter,
	})
}
