// Package api wires the hub's HTTP surface onto a gorilla/mux router.
//
// Routes:
//
//	GET  /api/public-key                   signing key for spokes
//	POST /api/spoke/validate-token         redeem a launch token (API key)
//	POST /api/spoke/check-subscription     entitlement check (API key)
//	POST /api/spoke/user-info              live user snapshot (API key)
//	POST /webhooks/lemon-squeezy           billing provider deliveries
//	POST /api/sso/launch                   issue a launch token (session)
//	GET  /api/me/subscription              account summary (session)
//	POST /api/me/checkout                  hosted checkout link (session)
//	GET  /healthz, /readyz, /metrics       operations
//
// Every error body is {"error": code, "message": text}.
package api
