package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/spokehub/pkg/api"
	"github.com/platinummonkey/spokehub/pkg/billing"
	"github.com/platinummonkey/spokehub/pkg/config"
	"github.com/platinummonkey/spokehub/pkg/entitlements"
	"github.com/platinummonkey/spokehub/pkg/keys"
	"github.com/platinummonkey/spokehub/pkg/locks"
	"github.com/platinummonkey/spokehub/pkg/maintenance"
	"github.com/platinummonkey/spokehub/pkg/middleware"
	"github.com/platinummonkey/spokehub/pkg/observability"
	"github.com/platinummonkey/spokehub/pkg/sso"
	"github.com/platinummonkey/spokehub/pkg/storage/postgres"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "spokehub: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("version", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	if otelProviders != nil {
		shutdown.Register("otel", otelProviders.Shutdown)
	}

	db, err := postgres.Open(ctx, postgres.ConnectionConfigFrom(cfg.Storage))
	if err != nil {
		return err
	}
	shutdown.Register("postgres", func(context.Context) error { return db.Close() })
	logger.Info("Connected to Postgres")

	if cfg.Storage.RunMigrations {
		if err := postgres.Migrate(ctx, db, logger); err != nil {
			return err
		}
	}

	var redisClient *redis.Client
	if cfg.Storage.RedisURL != "" {
		redisClient, err = postgres.NewRedisClient(ctx, cfg.Storage.RedisURL)
		if err != nil {
			return err
		}
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
		logger.Info("Connected to Redis")
	}

	keyStore, err := keys.Load(keys.Source{
		PrivateKeyPEM:  cfg.SSO.PrivateKeyPEM,
		PublicKeyPEM:   cfg.SSO.PublicKeyPEM,
		PrivateKeyFile: cfg.SSO.PrivateKeyFile,
		PublicKeyFile:  cfg.SSO.PublicKeyFile,
		KeyID:          cfg.SSO.KeyID,
	})
	switch {
	case errors.Is(err, keys.ErrNotConfigured):
		logger.Warn("Signing keys not configured, SSO launch and verification are disabled")
	case err != nil:
		return fmt.Errorf("failed to load signing keys: %w", err)
	default:
		logger.WithField("key_id", keyStore.KeyID()).Info("Signing keys loaded")
	}

	var spokeConfigs []config.SpokeConfig
	if cfg.Spokes.File != "" {
		if spokeConfigs, err = config.LoadSpokesFile(cfg.Spokes.File); err != nil {
			return err
		}
	}
	registry, err := config.NewSpokeRegistry(spokeConfigs)
	if err != nil {
		return fmt.Errorf("invalid spoke registry: %w", err)
	}
	logger.WithField("spokes", registry.Len()).Info("Spoke registry loaded")

	registerer := prometheus.NewRegistry()
	registerer.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registerer)

	users := postgres.NewUserRepository(db)
	catalog := entitlements.NewCachedCatalog(postgres.NewCatalogRepository(db), cfg.SSO.CatalogTTL, metrics)
	nonces := postgres.NewNonceLedger(db)
	markers := postgres.NewWebhookMarkerStore(db)

	issuer := sso.NewIssuer(sso.IssuerConfig{
		Keys:          keyStore,
		Issuer:        cfg.SSO.Issuer,
		TokenTTL:      cfg.SSO.TokenTTL,
		NonceTTL:      cfg.SSO.NonceTTL,
		Users:         users,
		Catalog:       catalog,
		Nonces:        nonces,
		Spokes:        registry,
		BaseProductID: cfg.Billing.BaseProductID,
		Logger:        logger,
		Metrics:       metrics,
	})
	verifier := sso.NewVerifier(sso.VerifierConfig{
		Keys:    keyStore,
		Issuer:  cfg.SSO.Issuer,
		Users:   users,
		Catalog: catalog,
		Nonces:  nonces,
		Spokes:  registry,
		Logger:  logger,
		Metrics: metrics,
	})
	directory := sso.NewDirectory(sso.DirectoryConfig{
		Users:          users,
		Catalog:        catalog,
		BaseProductID:  cfg.Billing.BaseProductID,
		StoreSubdomain: cfg.Billing.StoreSubdomain,
	})
	processor := billing.NewProcessor(billing.ProcessorConfig{
		Secret:        cfg.Billing.WebhookSecret,
		Users:         users,
		Catalog:       catalog,
		Subscriptions: postgres.NewSubscriptionRepository(db),
		Markers:       markers,
		MarkerTTL:     cfg.Billing.MarkerTTL,
		Logger:        logger,
		Metrics:       metrics,
	})

	var limiter middleware.Limiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewRedisLimiter(redisClient, middleware.RateLimitConfig{
			PerMinute: cfg.RateLimit.PerMinute,
			PerHour:   cfg.RateLimit.PerHour,
		}, "")
	}

	if cfg.Session.Secret == "" {
		logger.Warn("Session secret not configured, account routes will treat every caller as anonymous")
	}

	health := observability.NewHealthChecker(db, redisClient, version).
		WithSigningCheck(func() bool { return keyStore != nil })

	var metricsRegistry *prometheus.Registry
	if cfg.Observability.MetricsEnabled {
		metricsRegistry = registerer
	}

	server := api.NewServer(api.Config{
		Issuer:          issuer,
		Verifier:        verifier,
		Directory:       directory,
		Webhooks:        processor,
		Keys:            keyStore,
		APIKeys:         registry,
		Limiter:         limiter,
		Sessions:        middleware.NewSessionStore(cfg.Session.Secret, cfg.Session.Secure),
		SessionCookie:   cfg.Session.CookieName,
		Health:          health,
		Metrics:         metrics,
		MetricsRegistry: metricsRegistry,
		Logger:          logger,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
	})

	scheduler := maintenance.NewScheduler(
		locks.NewManager(lockStore(cfg, db, redisClient),
			locks.WithTTL(cfg.SSO.LockTTL),
			locks.WithLogger(logger),
			locks.WithMetrics(metrics),
		),
		logger, metrics,
	)
	jobs := []maintenance.Job{
		maintenance.NonceCleanup(nonces, metrics),
		maintenance.WebhookMarkerCleanup(markers),
	}
	if cfg.Storage.LockBackend == config.LockBackendPostgres {
		jobs = append(jobs, maintenance.LockCleanup(postgres.NewLockStore(db)))
	}
	for _, job := range jobs {
		if err := scheduler.Add(job); err != nil {
			return err
		}
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      observability.InstrumentHandler(server, "spokehub"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	// registered last so it drains first
	shutdown.Register("scheduler", scheduler.Stop)
	shutdown.Register("http", httpServer.Shutdown)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("addr", httpServer.Addr).Info("Starting spokehub")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	scheduler.Start()

	if cfg.Spokes.File != "" && cfg.Spokes.Watch {
		g.Go(func() error {
			return config.WatchSpokesFile(gctx, cfg.Spokes.File, registry, logger)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		return shutdown.Shutdown(context.Background())
	})

	return g.Wait()
}

func lockStore(cfg *config.Config, db *sql.DB, redisClient *redis.Client) locks.Store {
	if cfg.Storage.LockBackend == config.LockBackendRedis {
		return locks.NewRedisStore(redisClient, "")
	}
	return postgres.NewLockStore(db)
}
