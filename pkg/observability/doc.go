// Package observability provides structured logging, Prometheus metrics,
// health checks, OpenTelemetry wiring and shutdown sequencing for the hub.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("spoke_id", id).Info("token verified")
//
// Request-scoped loggers travel in the context:
//
//	observability.FromContext(r.Context()).WithError(err).Error("lookup failed")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.VerifiedToken("beacon", "ok")
//
// All recording helpers accept a nil *Metrics.
//
// # Health Checks
//
// /healthz always answers 200 while the process runs. /readyz answers 503
// when Postgres is unreachable and reports degraded for Redis or missing
// signing keys.
package observability
