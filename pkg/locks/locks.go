// Package locks serializes periodic jobs across hub instances with
// short-lived named locks held in shared storage.
package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/spokehub/pkg/observability"
)

// DefaultTTL bounds how long a crashed holder can block a job
const DefaultTTL = 10 * time.Minute

// Store is the shared lock table
type Store interface {
	// PurgeExpired removes job's lock if it expired before now
	PurgeExpired(ctx context.Context, job string, now time.Time) error
	// TryInsert creates job's lock for owner. false means another holder
	// already has it.
	TryInsert(ctx context.Context, job, owner string, now time.Time, ttl time.Duration) (bool, error)
	// Delete removes job's lock only if owner holds it
	Delete(ctx context.Context, job, owner string) (bool, error)
}

// Manager acquires and releases locks on behalf of one hub instance
type Manager struct {
	store      Store
	instanceID string
	ttl        time.Duration
	now        func() time.Time
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// Option configures a Manager
type Option func(*Manager)

// WithInstanceID overrides the generated owner id
func WithInstanceID(id string) Option {
	return func(m *Manager) { m.instanceID = id }
}

// WithTTL overrides DefaultTTL
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics records lock contention
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// NewManager creates a lock manager. Each manager gets a random instance id
// unless one is supplied.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		instanceID: uuid.NewString(),
		ttl:        DefaultTTL,
		now:        time.Now,
		logger:     observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// InstanceID returns the owner id written into lock rows
func (m *Manager) InstanceID() string {
	return m.instanceID
}

// Acquire purges an expired lock for job and then tries to take it.
// Contention is reported as false, not as an error.
func (m *Manager) Acquire(ctx context.Context, job string) (bool, error) {
	if job == "" {
		return false, errors.New("lock job name is required")
	}

	now := m.now()
	if err := m.store.PurgeExpired(ctx, job, now); err != nil {
		return false, fmt.Errorf("failed to purge lock %s: %w", job, err)
	}

	ok, err := m.store.TryInsert(ctx, job, m.instanceID, now, m.ttl)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", job, err)
	}
	if !ok {
		m.metrics.LockHeld(job)
	}
	return ok, nil
}

// Release drops job's lock if this instance still owns it. Releasing a
// lock that expired and was taken by another instance is a no-op.
func (m *Manager) Release(ctx context.Context, job string) error {
	released, err := m.store.Delete(ctx, job, m.instanceID)
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", job, err)
	}
	if !released {
		m.logger.WithField("job", job).Debug("Lock was no longer held at release")
	}
	return nil
}

// WithLock runs fn while holding job's lock. ran is false when another
// instance holds the lock; fn is then skipped.
func (m *Manager) WithLock(ctx context.Context, job string, fn func(context.Context) error) (ran bool, err error) {
	ok, err := m.Acquire(ctx, job)
	if err != nil || !ok {
		return false, err
	}

	defer func() {
		// release on a fresh context so a cancelled job still frees its lock
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if relErr := m.Release(releaseCtx, job); relErr != nil {
			m.logger.WithError(relErr).WithField("job", job).Warn("Failed to release lock")
		}
	}()

	return true, fn(ctx)
}
