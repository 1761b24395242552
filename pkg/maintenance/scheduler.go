// Package maintenance runs the hub's periodic cleanup jobs. Every run is
// guarded by a distributed lock so that only one instance of a horizontally
// scaled deployment does the work.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/spokehub/pkg/locks"
	"github.com/platinummonkey/spokehub/pkg/observability"
)

// Job names double as lock names
const (
	JobCleanupNonces   = "cleanup-expired-nonces"
	JobCleanupWebhooks = "cleanup-processed-webhooks"
	JobCleanupLocks    = "cleanup-expired-locks"
)

// Run outcomes recorded in spokehub_cron_runs_total
const (
	resultOK      = "ok"
	resultSkipped = "skipped"
	resultError   = "error"
	resultPanic   = "panic"
)

// Cleaner deletes rows that expired before now
type Cleaner interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Job is one scheduled task. Run returns the number of rows it removed.
type Job struct {
	Name       string
	Schedule   string
	RunAtStart bool
	Run        func(ctx context.Context, now time.Time) (int64, error)
	// OnDeleted observes the removed-row count of a successful run
	OnDeleted func(n int64)
}

// Scheduler runs jobs on their cron schedules
type Scheduler struct {
	cron    *cron.Cron
	locks   *locks.Manager
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
	timeout time.Duration

	mu      sync.Mutex
	jobs    map[string]Job
	ctx     context.Context
	cancel  context.CancelFunc
	started sync.WaitGroup
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithRunTimeout bounds a single job run
func WithRunTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// NewScheduler creates a stopped scheduler
func NewScheduler(lockManager *locks.Manager, logger *observability.Logger, metrics *observability.Metrics, opts ...Option) *Scheduler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	s := &Scheduler{
		cron:    cron.New(),
		locks:   lockManager,
		logger:  logger.WithComponent("maintenance"),
		metrics: metrics,
		now:     time.Now,
		timeout: 5 * time.Minute,
		jobs:    make(map[string]Job),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Add registers job on its schedule
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("job needs a name and a run function")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.jobs[job.Name]; dup {
		return fmt.Errorf("job %q already registered", job.Name)
	}
	if _, err := s.cron.AddFunc(job.Schedule, func() { s.run(s.ctx, job) }); err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", job.Schedule, job.Name, err)
	}
	s.jobs[job.Name] = job
	return nil
}

// Start begins scheduling and kicks off RunAtStart jobs in the background
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.jobs {
		if !job.RunAtStart {
			continue
		}
		job := job
		s.started.Add(1)
		go func() {
			defer s.started.Done()
			s.run(s.ctx, job)
		}()
	}
	s.cron.Start()
	s.logger.WithField("jobs", len(s.jobs)).Info("Maintenance scheduler started")
}

// Stop halts scheduling and waits for running jobs until ctx is done
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		s.started.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("Maintenance scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

// RunNow runs a registered job once, outside its schedule
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	if result := s.run(ctx, job); result == resultError || result == resultPanic {
		return fmt.Errorf("job %s failed", name)
	}
	return nil
}

func (s *Scheduler) run(ctx context.Context, job Job) (result string) {
	logger := s.logger.WithField("job", job.Name)
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			logger.WithField("panic", fmt.Sprintf("%v", rec)).Error("PANIC recovered in maintenance job")
			result = resultPanic
		}
		s.metrics.CronRun(job.Name, result)
	}()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var deleted int64
	ran, err := s.locks.WithLock(ctx, job.Name, func(ctx context.Context) error {
		n, err := job.Run(ctx, s.now())
		deleted = n
		return err
	})
	switch {
	case err != nil:
		logger.WithError(err).Error("Maintenance job failed")
		return resultError
	case !ran:
		logger.Debug("Maintenance job skipped, lock held by another instance")
		return resultSkipped
	}

	if job.OnDeleted != nil {
		job.OnDeleted(deleted)
	}
	logger.WithFields(map[string]interface{}{
		"deleted":     deleted,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Maintenance job completed")
	return resultOK
}
