// Package middleware provides the HTTP middleware in front of the hub's
// handlers: API key authentication and rate limiting for spokes, session
// resolution for users, and request plumbing (CORS, request ids, logging,
// panic recovery, body limits).
//
// # Spoke API
//
//	chain := middleware.Chain(
//		middleware.CORS(),
//		middleware.APIKeyAuth(registry, metrics),
//		middleware.RateLimit(limiter, logger, metrics),
//	)
//	router.Handle("/api/spoke/validate-token", chain(handler))
//
// APIKeyAuth stores the *auth.SpokeIdentity in the request context; read it
// with SpokeFromContext.
//
// # Rate Limiting
//
// Limits are sliding windows per spoke: 100 requests per minute and 1000
// per hour by default. RedisLimiter shares the windows across instances;
// MemoryLimiter is used when no Redis is configured. A limiter error lets
// the request through.
package middleware
