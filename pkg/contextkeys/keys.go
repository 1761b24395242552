// Package contextkeys provides centralized context key definitions
//
// All context keys used across the hub are defined here so that the
// middleware that sets a value and the handler that reads it agree on
// both the key and the stored type.
//
// USAGE PATTERN:
//
//	ctx = contextkeys.WithSpoke(ctx, identity)
//	identity, ok := contextkeys.GetSpoke(ctx).(*auth.SpokeIdentity)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// SpokeKey contains *auth.SpokeIdentity
	// Set by: middleware.APIKeyAuth (pkg/middleware/apikey.go)
	// Required by: /api/spoke/* handlers, rate limiter
	// Type: *auth.SpokeIdentity
	SpokeKey Key = "spoke_identity"

	// SessionUserKey contains the session user id string
	// Set by: middleware.SessionAuth (pkg/middleware/session.go)
	// Used by: launch, subscription status and checkout handlers
	// Type: string
	SessionUserKey Key = "session_user_id"

	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestID
	// Used by: Logger, error responses
	// Type: string
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: middleware.Logging
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// WithSpoke adds the authenticated spoke identity to the context
func WithSpoke(ctx context.Context, identity interface{}) context.Context {
	return context.WithValue(ctx, SpokeKey, identity)
}

// GetSpoke retrieves the authenticated spoke identity from context
func GetSpoke(ctx context.Context) interface{} {
	return ctx.Value(SpokeKey)
}

// WithSessionUser adds the session user id to the context
func WithSessionUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, SessionUserKey, userID)
}

// GetSessionUser retrieves the session user id from context
func GetSessionUser(ctx context.Context) string {
	if userID, ok := ctx.Value(SessionUserKey).(string); ok {
		return userID
	}
	return ""
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}
