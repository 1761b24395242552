package middleware

import (
	"net/http"

	"github.com/gorilla/sessions"

	"github.com/platinummonkey/spokehub/pkg/contextkeys"
	"github.com/platinummonkey/spokehub/pkg/observability"
)

// SessionUserKey is the session value holding the signed-in user id
const SessionUserKey = "user_id"

// DefaultSessionCookie is the session cookie name when none is configured
const DefaultSessionCookie = "spokehub_session"

// NewSessionStore creates the signed cookie store for user sessions
func NewSessionStore(secret string, secure bool) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 30,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

// SessionAuth resolves the signed-in user from the session cookie into the
// request context. A missing or invalid session is not an error here;
// handlers decide what an anonymous caller may do.
func SessionAuth(store sessions.Store, cookieName string) func(http.Handler) http.Handler {
	if cookieName == "" {
		cookieName = DefaultSessionCookie
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := store.Get(r, cookieName)
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).Debug("Ignoring unreadable session cookie")
				next.ServeHTTP(w, r)
				return
			}

			userID, _ := session.Values[SessionUserKey].(string)
			if userID == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := contextkeys.WithSessionUser(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionUser returns the user id resolved by SessionAuth, or ""
func SessionUser(r *http.Request) string {
	return contextkeys.GetSessionUser(r.Context())
}
