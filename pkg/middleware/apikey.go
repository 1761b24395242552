package middleware

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/spokehub/pkg/auth"
	"github.com/platinummonkey/spokehub/pkg/contextkeys"
	"github.com/platinummonkey/spokehub/pkg/httputil"
	"github.com/platinummonkey/spokehub/pkg/observability"
)

// KeyResolver maps a presented API key to a spoke
type KeyResolver interface {
	ByAPIKey(key string) (*auth.SpokeIdentity, bool)
}

// APIKeyAuth authenticates server-to-server calls by bearer API key.
// OPTIONS preflights pass through unauthenticated.
func APIKeyAuth(keys KeyResolver, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			key, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				metrics.AuthFailed()
				httputil.WriteUnauthorized(w, "Missing or malformed Authorization header")
				return
			}

			spoke, ok := keys.ByAPIKey(key)
			if !ok {
				metrics.AuthFailed()
				httputil.WriteUnauthorized(w, "Invalid API key")
				return
			}

			ctx := contextkeys.WithSpoke(r.Context(), spoke)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SpokeFromContext returns the spoke authenticated by APIKeyAuth
func SpokeFromContext(r *http.Request) *auth.SpokeIdentity {
	spoke, _ := contextkeys.GetSpoke(r.Context()).(*auth.SpokeIdentity)
	return spoke
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
