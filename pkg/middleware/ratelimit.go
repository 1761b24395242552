package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/platinummonkey/spokehub/pkg/httputil"
	"github.com/platinummonkey/spokehub/pkg/observability"
)

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour
)

// RateLimitConfig holds the per-caller ceilings
type RateLimitConfig struct {
	PerMinute int
	PerHour   int
}

// DefaultRateLimitConfig returns 100 requests per minute and 1000 per hour
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{PerMinute: 100, PerHour: 1000}
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	d := DefaultRateLimitConfig()
	if c.PerMinute <= 0 {
		c.PerMinute = d.PerMinute
	}
	if c.PerHour <= 0 {
		c.PerHour = d.PerHour
	}
	return c
}

// Decision is the outcome of one rate limit check
type Decision struct {
	Allowed bool
	// RetryAfter is in seconds: 60 for the minute window, 3600 for the hour
	RetryAfter int
	// Window names the exhausted window, "minute" or "hour"
	Window string
}

func rejected(window time.Duration) Decision {
	if window == hourWindow {
		return Decision{RetryAfter: int(hourWindow.Seconds()), Window: "hour"}
	}
	return Decision{RetryAfter: int(minuteWindow.Seconds()), Window: "minute"}
}

// Limiter decides whether a caller may make another request. Allowed
// requests are recorded; rejected ones are not.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// slidingWindowScript trims entries older than an hour, counts both windows,
// and records the request only when both are under their ceilings.
// Returns {allowed, retryAfterSeconds}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local perMinute = tonumber(ARGV[2])
local perHour = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - 3600000)

local minute = redis.call('ZCOUNT', key, '(' .. (now - 60000), '+inf')
if minute >= perMinute then
	return {0, 60}
end

local hour = redis.call('ZCARD', key)
if hour >= perHour then
	return {0, 3600}
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, 3600000)
return {1, 0}
`)

// RedisLimiter keeps sliding windows in a Redis sorted set per caller, so
// every hub instance sees the same counts
type RedisLimiter struct {
	client *redis.Client
	config RateLimitConfig
	prefix string
	now    func() time.Time
}

// NewRedisLimiter creates a Redis-backed sliding window limiter
func NewRedisLimiter(client *redis.Client, config RateLimitConfig, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "spokehub:ratelimit"
	}
	return &RedisLimiter{
		client: client,
		config: config.withDefaults(),
		prefix: prefix,
		now:    time.Now,
	}
}

// Allow runs the window check atomically on the server
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.now().UnixMilli()
	member := fmt.Sprintf("%d-%s", now, uuid.NewString())

	res, err := slidingWindowScript.Run(ctx, l.client,
		[]string{l.prefix + ":" + key},
		now, l.config.PerMinute, l.config.PerHour, member,
	).Int64Slice()
	if err != nil {
		return Decision{Allowed: true}, fmt.Errorf("rate limit script failed: %w", err)
	}
	if len(res) != 2 {
		return Decision{Allowed: true}, fmt.Errorf("rate limit script returned %d values", len(res))
	}

	switch {
	case res[0] == 1:
		return Decision{Allowed: true}, nil
	case res[1] == int64(hourWindow.Seconds()):
		return rejected(hourWindow), nil
	default:
		return rejected(minuteWindow), nil
	}
}

// MemoryLimiter is a single-instance sliding window limiter
type MemoryLimiter struct {
	config RateLimitConfig
	now    func() time.Time

	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewMemoryLimiter creates an in-process limiter
func NewMemoryLimiter(config RateLimitConfig) *MemoryLimiter {
	return &MemoryLimiter{
		config:  config.withDefaults(),
		now:     time.Now,
		windows: make(map[string][]time.Time),
	}
}

// Allow checks and records a request for key
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	hits := l.windows[key]
	hourStart := now.Add(-hourWindow)
	i := 0
	for i < len(hits) && !hits[i].After(hourStart) {
		i++
	}
	hits = hits[i:]

	minuteStart := now.Add(-minuteWindow)
	inMinute := 0
	for j := len(hits) - 1; j >= 0 && hits[j].After(minuteStart); j-- {
		inMinute++
	}

	if inMinute >= l.config.PerMinute {
		l.windows[key] = hits
		return rejected(minuteWindow), nil
	}
	if len(hits) >= l.config.PerHour {
		l.windows[key] = hits
		return rejected(hourWindow), nil
	}

	l.windows[key] = append(hits, now)
	return Decision{Allowed: true}, nil
}

// Cleanup drops callers with no requests in the last hour
func (l *MemoryLimiter) Cleanup() {
	cutoff := l.now().Add(-hourWindow)

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, hits := range l.windows {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(l.windows, key)
		}
	}
}

// RateLimit limits authenticated spokes by spoke id. It must run after
// APIKeyAuth. When the limiter fails the request is let through.
func RateLimit(limiter Limiter, logger *observability.Logger, metrics *observability.Metrics) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			spoke := SpokeFromContext(r)
			if spoke == nil || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			decision, err := limiter.Allow(r.Context(), spoke.SpokeID)
			if err != nil {
				logger.WithField("spoke_id", spoke.SpokeID).WithError(err).Error("Rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}
			if !decision.Allowed {
				metrics.RateLimited(spoke.SpokeID, decision.Window)
				httputil.WriteTooManyRequests(w, decision.RetryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
