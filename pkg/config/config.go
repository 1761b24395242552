package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/spokehub/pkg/observability"
)

// Lock backends
const (
	LockBackendPostgres = "postgres"
	LockBackendRedis    = "redis"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	SSO           SSOConfig
	Billing       BillingConfig
	Spokes        SpokesConfig
	RateLimit     RateLimitConfig
	Session       SessionConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

// Addr returns host:port for net/http
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// StorageConfig holds Postgres and Redis settings
type StorageConfig struct {
	DatabaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	RunMigrations   bool

	RedisURL    string
	LockBackend string
}

// SSOConfig holds signing key material and token lifetimes
type SSOConfig struct {
	PrivateKeyPEM  string
	PublicKeyPEM   string
	PrivateKeyFile string
	PublicKeyFile  string
	KeyID          string
	Issuer         string
	TokenTTL       time.Duration
	NonceTTL       time.Duration
	LockTTL        time.Duration
	CatalogTTL     time.Duration
}

// BillingConfig holds Lemon Squeezy settings
type BillingConfig struct {
	WebhookSecret  string
	StoreSubdomain string
	BaseProductID  string
	MarkerTTL      time.Duration
}

// SpokesConfig locates the spoke registry file
type SpokesConfig struct {
	File  string
	Watch bool
}

// RateLimitConfig holds the sliding-window ceilings for spoke API callers
type RateLimitConfig struct {
	Enabled   bool
	PerMinute int
	PerHour   int
}

// SessionConfig holds the user session cookie settings
type SessionConfig struct {
	Secret     string
	CookieName string
	Secure     bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		SSO:           loadSSOConfig(),
		Billing:       loadBillingConfig(),
		Spokes:        loadSpokesConfig(),
		RateLimit:     loadRateLimitConfig(),
		Session:       loadSessionConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("SPOKEHUB_HOST", "0.0.0.0"),
		Port:            getEnv("SPOKEHUB_PORT", "8080"),
		ReadTimeout:     getEnvDuration("SPOKEHUB_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("SPOKEHUB_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("SPOKEHUB_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SPOKEHUB_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("SPOKEHUB_MAX_BODY_BYTES", 1<<20),
	}
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		DatabaseURL:     getEnv("SPOKEHUB_DATABASE_URL", ""),
		MaxOpenConns:    getEnvInt("SPOKEHUB_DATABASE_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    getEnvInt("SPOKEHUB_DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("SPOKEHUB_DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		RunMigrations:   getEnvBool("SPOKEHUB_RUN_MIGRATIONS", true),
		RedisURL:        getEnv("SPOKEHUB_REDIS_URL", ""),
		LockBackend:     strings.ToLower(getEnv("SPOKEHUB_LOCK_BACKEND", LockBackendPostgres)),
	}
}

func loadSSOConfig() SSOConfig {
	return SSOConfig{
		PrivateKeyPEM:  getEnv("SPOKEHUB_JWT_PRIVATE_KEY", ""),
		PublicKeyPEM:   getEnv("SPOKEHUB_JWT_PUBLIC_KEY", ""),
		PrivateKeyFile: getEnv("SPOKEHUB_JWT_PRIVATE_KEY_FILE", ""),
		PublicKeyFile:  getEnv("SPOKEHUB_JWT_PUBLIC_KEY_FILE", ""),
		KeyID:          getEnv("SPOKEHUB_JWT_KEY_ID", "hub-2025-01"),
		Issuer:         getEnv("SPOKEHUB_JWT_ISSUER", "spokehub"),
		TokenTTL:       getEnvDuration("SPOKEHUB_TOKEN_TTL", 5*time.Minute),
		NonceTTL:       getEnvDuration("SPOKEHUB_NONCE_TTL", 10*time.Minute),
		LockTTL:        getEnvDuration("SPOKEHUB_LOCK_TTL", 10*time.Minute),
		CatalogTTL:     getEnvDuration("SPOKEHUB_CATALOG_CACHE_TTL", time.Minute),
	}
}

func loadBillingConfig() BillingConfig {
	return BillingConfig{
		WebhookSecret:  getEnv("SPOKEHUB_LEMONSQUEEZY_WEBHOOK_SECRET", ""),
		StoreSubdomain: getEnv("SPOKEHUB_LEMONSQUEEZY_STORE", ""),
		BaseProductID:  getEnv("SPOKEHUB_BASE_PRODUCT_ID", ""),
		MarkerTTL:      getEnvDuration("SPOKEHUB_WEBHOOK_MARKER_TTL", 24*time.Hour),
	}
}

func loadSpokesConfig() SpokesConfig {
	return SpokesConfig{
		File:  getEnv("SPOKEHUB_SPOKES_FILE", ""),
		Watch: getEnvBool("SPOKEHUB_SPOKES_WATCH", false),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:   getEnvBool("SPOKEHUB_RATE_LIMIT_ENABLED", true),
		PerMinute: getEnvInt("SPOKEHUB_RATE_LIMIT_PER_MINUTE", 100),
		PerHour:   getEnvInt("SPOKEHUB_RATE_LIMIT_PER_HOUR", 1000),
	}
}

func loadSessionConfig() SessionConfig {
	return SessionConfig{
		Secret:     getEnv("SPOKEHUB_SESSION_SECRET", ""),
		CookieName: getEnv("SPOKEHUB_SESSION_COOKIE", "spokehub_session"),
		Secure:     getEnvBool("SPOKEHUB_SESSION_SECURE", true),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("SPOKEHUB_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("SPOKEHUB_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("SPOKEHUB_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("SPOKEHUB_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("SPOKEHUB_OTEL_SERVICE_NAME", "spokehub"),
		OTelServiceVersion: getEnv("SPOKEHUB_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("SPOKEHUB_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive")
	}

	if c.Storage.DatabaseURL == "" {
		return fmt.Errorf("database URL is required")
	}
	switch c.Storage.LockBackend {
	case LockBackendPostgres:
	case LockBackendRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis lock backend")
		}
	default:
		return fmt.Errorf("invalid lock backend: %s (must be postgres or redis)", c.Storage.LockBackend)
	}

	if c.SSO.PrivateKeyPEM != "" && c.SSO.PrivateKeyFile != "" {
		return fmt.Errorf("set either the private key or the private key file, not both")
	}
	if c.SSO.PublicKeyPEM != "" && c.SSO.PublicKeyFile != "" {
		return fmt.Errorf("set either the public key or the public key file, not both")
	}
	if c.SSO.Issuer == "" || c.SSO.KeyID == "" {
		return fmt.Errorf("token issuer and key id are required")
	}
	if c.SSO.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive")
	}
	if c.SSO.NonceTTL < c.SSO.TokenTTL {
		return fmt.Errorf("nonce TTL (%s) must not be shorter than token TTL (%s)", c.SSO.NonceTTL, c.SSO.TokenTTL)
	}
	if c.SSO.LockTTL <= 0 {
		return fmt.Errorf("lock TTL must be positive")
	}

	if c.RateLimit.Enabled {
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis URL is required when rate limiting is enabled")
		}
		if c.RateLimit.PerMinute <= 0 || c.RateLimit.PerHour <= 0 {
			return fmt.Errorf("rate limits must be positive")
		}
		if c.RateLimit.PerHour < c.RateLimit.PerMinute {
			return fmt.Errorf("hourly rate limit must be at least the per-minute limit")
		}
	}

	if c.Session.Secret != "" && len(c.Session.Secret) < 32 {
		return fmt.Errorf("session secret must be at least 32 bytes")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
