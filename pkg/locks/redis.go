package locks

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// releaseScript deletes the key only when it still holds the caller's id
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore keeps locks as expiring Redis keys
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis lock store
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "spokehub:lock"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(job string) string {
	return fmt.Sprintf("%s:%s", s.prefix, job)
}

// PurgeExpired is a no-op; Redis expires keys itself
func (s *RedisStore) PurgeExpired(context.Context, string, time.Time) error {
	return nil
}

// TryInsert sets the key with NX and the lock TTL
func (s *RedisStore) TryInsert(ctx context.Context, job, owner string, _ time.Time, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(job), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis error: %w", err)
	}
	return ok, nil
}

// Delete runs the compare-and-delete script
func (s *RedisStore) Delete(ctx context.Context, job, owner string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client, []string{s.key(job)}, owner).Int64()
	if err != nil {
		return false, fmt.Errorf("redis error: %w", err)
	}
	return n == 1, nil
}
