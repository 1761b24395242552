// Package config loads hub configuration from SPOKEHUB_* environment
// variables and the YAML spoke registry.
//
// Server and storage:
//
//	SPOKEHUB_PORT="8080"
//	SPOKEHUB_DATABASE_URL="postgres://hub@localhost/spokehub?sslmode=disable"
//	SPOKEHUB_REDIS_URL="redis://localhost:6379/0"
//	SPOKEHUB_LOCK_BACKEND="postgres"   # or redis
//
// Signing keys (PEM text or files) and token lifetimes:
//
//	SPOKEHUB_JWT_PRIVATE_KEY_FILE="/etc/spokehub/jwt.key"
//	SPOKEHUB_JWT_KEY_ID="hub-2025-01"
//	SPOKEHUB_TOKEN_TTL="5m"
//	SPOKEHUB_NONCE_TTL="10m"
//
// Billing:
//
//	SPOKEHUB_LEMONSQUEEZY_WEBHOOK_SECRET="..."
//	SPOKEHUB_BASE_PRODUCT_ID="prod_base"
//
// Spoke registry (SPOKEHUB_SPOKES_FILE):
//
//	spokes:
//	  - id: backlog_beacon
//	    app_id: app-beacon
//	    url: https://beacon.example.com
//	    api_key_sha256: 5e88...
//
// The registry is compiled into hash-keyed lookup tables once per load.
// With SPOKEHUB_SPOKES_WATCH=true the file is reloaded on change.
package config
