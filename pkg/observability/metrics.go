package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the hub's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// SSO metrics
	TokensIssuedTotal   *prometheus.CounterVec
	TokenVerifications  *prometheus.CounterVec
	NonceCleanupDeleted prometheus.Counter

	// Billing metrics
	WebhooksTotal *prometheus.CounterVec

	// Gatekeeper metrics
	RateLimitedTotal *prometheus.CounterVec
	AuthFailures     prometheus.Counter

	// Maintenance metrics
	CronRunsTotal    *prometheus.CounterVec
	LockContention   *prometheus.CounterVec
	CatalogCacheHits *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on registry
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spokehub_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "spokehub_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		TokensIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spokehub_sso_tokens_issued_total",
				Help: "SSO launch attempts by outcome",
			},
			[]string{"result"},
		),
		TokenVerifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spokehub_sso_token_verifications_total",
				Help: "SSO token verifications by outcome",
			},
			[]string{"spoke", "result"},
		),
		NonceCleanupDeleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "spokehub_sso_nonces_deleted_total",
				Help: "Expired nonces removed by maintenance",
			},
		),
		WebhooksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spokehub_billing_webhooks_total",
				Help: "Billing webhook deliveries by event and outcome",
			},
			[]string{"event", "result"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spokehub_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"spoke", "window"},
		),
		AuthFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "spokehub_api_auth_failures_total",
				Help: "Requests rejected for a missing or unknown API key",
			},
		),
		CronRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spokehub_cron_runs_total",
				Help: "Maintenance job runs by outcome",
			},
			[]string{"job", "result"},
		),
		LockContention: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spokehub_lock_contention_total",
				Help: "Lock acquisitions that found the lock held by another instance",
			},
			[]string{"job"},
		),
		CatalogCacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spokehub_catalog_cache_lookups_total",
				Help: "Catalog cache lookups by kind and outcome",
			},
			[]string{"kind", "result"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.TokensIssuedTotal,
		m.TokenVerifications,
		m.NonceCleanupDeleted,
		m.WebhooksTotal,
		m.RateLimitedTotal,
		m.AuthFailures,
		m.CronRunsTotal,
		m.LockContention,
		m.CatalogCacheHits,
	)

	return m
}

// IssuedToken records a launch attempt outcome
func (m *Metrics) IssuedToken(result string) {
	if m == nil {
		return
	}
	m.TokensIssuedTotal.WithLabelValues(result).Inc()
}

// VerifiedToken records a verification outcome for a spoke
func (m *Metrics) VerifiedToken(spoke, result string) {
	if m == nil {
		return
	}
	m.TokenVerifications.WithLabelValues(spoke, result).Inc()
}

// NoncesDeleted adds to the cleaned-up nonce counter
func (m *Metrics) NoncesDeleted(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.NonceCleanupDeleted.Add(float64(n))
}

// Webhook records a webhook delivery outcome
func (m *Metrics) Webhook(event, result string) {
	if m == nil {
		return
	}
	m.WebhooksTotal.WithLabelValues(event, result).Inc()
}

// RateLimited records a rejected request
func (m *Metrics) RateLimited(spoke, window string) {
	if m == nil {
		return
	}
	m.RateLimitedTotal.WithLabelValues(spoke, window).Inc()
}

// AuthFailed records an API-key rejection
func (m *Metrics) AuthFailed() {
	if m == nil {
		return
	}
	m.AuthFailures.Inc()
}

// CronRun records a maintenance job run
func (m *Metrics) CronRun(job, result string) {
	if m == nil {
		return
	}
	m.CronRunsTotal.WithLabelValues(job, result).Inc()
}

// LockHeld records a lost lock race
func (m *Metrics) LockHeld(job string) {
	if m == nil {
		return
	}
	m.LockContention.WithLabelValues(job).Inc()
}

// CatalogLookup records a catalog cache hit or miss
func (m *Metrics) CatalogLookup(kind string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CatalogCacheHits.WithLabelValues(kind, result).Inc()
}

// statusRecorder wraps http.ResponseWriter to capture the status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments requests, labelled by route template
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeTemplate(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
