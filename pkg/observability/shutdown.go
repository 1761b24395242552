package observability

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// ShutdownFunc releases one resource during shutdown
type ShutdownFunc func(context.Context) error

// ShutdownManager runs registered cleanup functions in reverse registration
// order, so resources opened last are closed first
type ShutdownManager struct {
	logger  *Logger
	timeout time.Duration

	mu    sync.Mutex
	steps []shutdownStep
}

type shutdownStep struct {
	name string
	fn   ShutdownFunc
}

// NewShutdownManager creates a manager with the given overall deadline
func NewShutdownManager(logger *Logger, timeout time.Duration) *ShutdownManager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	return &ShutdownManager{logger: logger, timeout: timeout}
}

// Register adds a named cleanup step. Nil functions are ignored.
func (sm *ShutdownManager) Register(name string, fn ShutdownFunc) {
	if fn == nil {
		return
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.steps = append(sm.steps, shutdownStep{name: name, fn: fn})
}

// Shutdown runs every step under one deadline and joins their errors
func (sm *ShutdownManager) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, sm.timeout)
	defer cancel()

	sm.mu.Lock()
	steps := make([]shutdownStep, len(sm.steps))
	copy(steps, sm.steps)
	sm.mu.Unlock()

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		if err := step.fn(ctx); err != nil {
			sm.logger.WithError(err).WithField("step", step.name).Error("Shutdown step failed")
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
			continue
		}
		sm.logger.WithField("step", step.name).Debug("Shutdown step complete")
	}
	return errors.Join(errs...)
}

// RecoverPanic logs a recovered panic with its stack. Call it deferred.
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		logger.WithField("panic", fmt.Sprint(r)).
			WithField("stack", string(debug.Stack())).
			WithField("context", where).
			Error("PANIC recovered")
	}
}
