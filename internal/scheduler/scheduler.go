// Package scheduler turns an execution block into running virtual users:
// a linear ramp-up to full concurrency, a hold at steady state, and an
// orderly stop on cancellation, iteration cap, or hold expiry.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vk/perfgate/internal/config"
	"github.com/vk/perfgate/internal/ctxlog"
	"github.com/vk/perfgate/internal/registry"
	"github.com/vk/perfgate/internal/stats"
)

// Scheduler drives the virtual users of one execution block.
type Scheduler struct {
	execution *config.Execution
	newRunner func(ctx context.Context) (registry.Runner, error)
	recorder  stats.Recorder

	// now is swappable for tests.
	now func() time.Time
}

// New creates a scheduler for one execution block.
func New(execution *config.Execution, newRunner func(ctx context.Context) (registry.Runner, error), recorder stats.Recorder) *Scheduler {
	return &Scheduler{
		execution: execution,
		newRunner: newRunner,
		recorder:  recorder,
		now:       time.Now,
	}
}

// Run starts the virtual users and blocks until all of them finished. The
// returned error is the first fatal virtual-user error, if any; criteria
// breaches travel through the recorder, not through this error.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx).With("scenario", s.execution.Scenario)
	concurrency := s.execution.Concurrency
	rampUp := s.execution.RampUp.D()

	// hold-for counts from the moment the ramp completes, so the run spends
	// the full hold window at target concurrency.
	start := s.now()
	var deadline time.Time
	if s.execution.HoldFor > 0 {
		deadline = start.Add(rampUp + s.execution.HoldFor.D())
	}

	logger.Info("Starting execution.",
		"concurrency", concurrency,
		"ramp_up", rampUp,
		"hold_for", s.execution.HoldFor.D(),
		"iterations", s.execution.Iterations,
	)

	var wg sync.WaitGroup
	errCh := make(chan error, concurrency)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		// Linear ramp: user i starts at i/concurrency of the ramp window.
		delay := time.Duration(int64(rampUp) * int64(i) / int64(concurrency))
		go func(userID int, delay time.Duration) {
			defer wg.Done()
			if err := s.runUser(ctx, userID, delay, deadline); err != nil {
				errCh <- err
			}
		}(i, delay)
	}
	wg.Wait()
	close(errCh)

	logger.Info("Execution finished.")
	return <-errCh
}

// runUser is the lifecycle of a single virtual user.
func (s *Scheduler) runUser(ctx context.Context, userID int, delay time.Duration, deadline time.Time) error {
	logger := ctxlog.FromContext(ctx).With("scenario", s.execution.Scenario, "vu", userID)

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
	if ctx.Err() != nil {
		return nil
	}

	runner, err := s.newRunner(ctx)
	if err != nil {
		return fmt.Errorf("virtual user %d failed to start: %w", userID, err)
	}
	defer func() {
		if err := runner.Close(); err != nil {
			logger.Warn("Runner close failed.", "error", err)
		}
	}()
	logger.Debug("Virtual user started.")

	iterations := 0
	for {
		if ctx.Err() != nil {
			logger.Debug("Virtual user stopped.", "reason", "cancelled", "iterations", iterations)
			return nil
		}
		if !deadline.IsZero() && !s.now().Before(deadline) {
			logger.Debug("Virtual user stopped.", "reason", "hold-for elapsed", "iterations", iterations)
			return nil
		}

		samples, err := runner.Iterate(ctx)
		for _, sample := range samples {
			s.recorder.Record(sample)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// An iteration that could not run still counts against the
			// success ratio the criteria watch.
			logger.Warn("Iteration failed.", "error", err)
			s.recorder.Record(stats.Sample{
				Scenario: s.execution.Scenario,
				Start:    s.now(),
				Error:    err.Error(),
			})
		}

		iterations++
		if s.execution.Iterations > 0 && iterations >= s.execution.Iterations {
			logger.Debug("Virtual user stopped.", "reason", "iteration cap", "iterations", iterations)
			return nil
		}
	}
}
