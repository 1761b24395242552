package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/spokehub/pkg/billing"
	"github.com/platinummonkey/spokehub/pkg/httputil"
	"github.com/platinummonkey/spokehub/pkg/keys"
	"github.com/platinummonkey/spokehub/pkg/middleware"
	"github.com/platinummonkey/spokehub/pkg/observability"
	"github.com/platinummonkey/spokehub/pkg/sso"
)

// TokenIssuer mints launch tokens
type TokenIssuer interface {
	Issue(ctx context.Context, userID, appID string) (*sso.IssueResult, error)
}

// TokenVerifier redeems launch tokens
type TokenVerifier interface {
	Verify(ctx context.Context, token, callerSpokeID string) (*sso.VerifiedUser, error)
}

// UserDirectory answers entitlement and account questions
type UserDirectory interface {
	CheckSubscription(ctx context.Context, userID string, slugs []string) (bool, []sso.SubscriptionView, error)
	UserInfo(ctx context.Context, userID string) (*sso.UserInfo, error)
	SubscriptionStatus(ctx context.Context, userID string) (*sso.AccountStatus, error)
	Checkout(ctx context.Context, userID, productSlug string) (string, error)
}

// WebhookProcessor applies billing provider deliveries
type WebhookProcessor interface {
	Process(ctx context.Context, eventName, signature string, body []byte) (billing.Result, error)
}

// Config wires a Server. Keys may be nil; Limiter nil disables rate
// limiting; Health and MetricsRegistry nil leave those routes unregistered.
type Config struct {
	Issuer    TokenIssuer
	Verifier  TokenVerifier
	Directory UserDirectory
	Webhooks  WebhookProcessor
	Keys      *keys.KeyStore

	APIKeys       middleware.KeyResolver
	Limiter       middleware.Limiter
	Sessions      sessions.Store
	SessionCookie string

	Health          *observability.HealthChecker
	Metrics         *observability.Metrics
	MetricsRegistry *prometheus.Registry
	Logger          *observability.Logger
	MaxBodyBytes    int64
}

// Server is the hub's HTTP handler
type Server struct {
	cfg    Config
	router *mux.Router
	logger *observability.Logger
}

// NewServer builds the router
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Sessions == nil {
		// unsigned store: every session is treated as anonymous
		cfg.Sessions = middleware.NewSessionStore("", false)
	}
	s := &Server{
		cfg:    cfg,
		router: mux.NewRouter(),
		logger: cfg.Logger.WithComponent("api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(
		middleware.RequestID,
		middleware.Logging(s.cfg.Logger),
		middleware.Recovery(s.cfg.Logger),
		observability.HTTPMetricsMiddleware(s.cfg.Metrics),
		middleware.MaxBytes(s.cfg.MaxBodyBytes),
	)
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteNotFound(w)
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteMethodNotAllowed(w)
	})

	s.router.HandleFunc("/api/public-key", s.publicKey).Methods(http.MethodGet)

	spoke := s.router.PathPrefix("/api/spoke").Subrouter()
	spokeChain := []mux.MiddlewareFunc{middleware.CORS(), middleware.APIKeyAuth(s.cfg.APIKeys, s.cfg.Metrics)}
	if s.cfg.Limiter != nil {
		spokeChain = append(spokeChain, middleware.RateLimit(s.cfg.Limiter, s.logger, s.cfg.Metrics))
	}
	spoke.Use(spokeChain...)
	spoke.HandleFunc("/validate-token", s.validateToken).Methods(http.MethodPost, http.MethodOptions)
	spoke.HandleFunc("/check-subscription", s.checkSubscription).Methods(http.MethodPost, http.MethodOptions)
	spoke.HandleFunc("/user-info", s.userInfo).Methods(http.MethodPost, http.MethodOptions)

	s.router.HandleFunc("/webhooks/lemon-squeezy", s.lemonSqueezyWebhook)

	account := s.router.PathPrefix("/api").Subrouter()
	account.Use(middleware.SessionAuth(s.cfg.Sessions, s.cfg.SessionCookie))
	account.HandleFunc("/sso/launch", s.launch).Methods(http.MethodPost)
	account.HandleFunc("/me/subscription", s.subscriptionStatus).Methods(http.MethodGet)
	account.HandleFunc("/me/checkout", s.checkout).Methods(http.MethodPost)

	if s.cfg.Health != nil {
		s.router.HandleFunc("/healthz", s.cfg.Health.Liveness).Methods(http.MethodGet)
		s.router.HandleFunc("/readyz", s.cfg.Health.Readiness).Methods(http.MethodGet)
	}
	if s.cfg.MetricsRegistry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(s.cfg.MetricsRegistry)).Methods(http.MethodGet)
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the underlying router for instrumentation
func (s *Server) Router() *mux.Router {
	return s.router
}

// publicKey handles GET /api/public-key
func (s *Server) publicKey(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Keys == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, string(sso.CodeNotConfigured), "SSO signing keys are not configured")
		return
	}
	httputil.WriteSuccess(w, map[string]string{
		"publicKey": s.cfg.Keys.PublicKeyPEM(),
		"algorithm": s.cfg.Keys.Algorithm(),
		"keyId":     s.cfg.Keys.KeyID(),
	})
}
