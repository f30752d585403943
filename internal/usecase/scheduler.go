package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"ArticleClusterer/internal/ports"
)

// Scheduler wires the interval driver with the pipeline use case and reports
// articles that ran out of attempts.
type Scheduler struct {
	driver   ports.Scheduler
	pipeline *Pipeline
	notifier ports.Notifier
	logger   *slog.Logger

	mu       sync.Mutex
	notified map[int64]bool
}

// NewScheduler returns a helper to start/stop recurring cycles. notifier may be nil.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, notifier ports.Notifier, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		driver:   driver,
		pipeline: pipeline,
		notifier: notifier,
		logger:   logger,
		notified: map[int64]bool{},
	}
}

// Start registers the pipeline with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}

	job := func(trigger time.Time) {
		s.RunOnce(ctx, trigger)
	}

	return s.driver.Start(ctx, job)
}

// RunOnce executes one cycle and forwards newly exhausted articles to the notifier.
func (s *Scheduler) RunOnce(ctx context.Context, trigger time.Time) CycleReport {
	report, err := s.pipeline.RunCycle(ctx)
	switch {
	case errors.Is(err, ErrCycleInProgress):
		s.logger.Info("cycle skipped, previous one still running", "trigger", trigger)
		return report
	case err != nil && ctx.Err() == nil:
		s.logger.Error("cycle failed", "trigger", trigger, "error", err)
	}

	s.notifyFailed(ctx, report.PermanentlyFailed)
	return report
}

func (s *Scheduler) notifyFailed(ctx context.Context, ids []int64) {
	s.mu.Lock()
	var fresh []int64
	for _, id := range ids {
		if !s.notified[id] {
			fresh = append(fresh, id)
		}
	}
	s.mu.Unlock()

	if len(fresh) == 0 || s.notifier == nil {
		return
	}

	if err := s.notifier.Notify(ctx, buildFailureMessage(fresh)); err != nil {
		s.logger.Warn("notify failed articles", "error", err)
		return
	}

	s.mu.Lock()
	for _, id := range fresh {
		s.notified[id] = true
	}
	s.mu.Unlock()
}

func buildFailureMessage(ids []int64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d article(s) exhausted their processing attempts:\n", len(ids))
	for _, id := range ids {
		fmt.Fprintf(&b, "- article %d\n", id)
	}
	return b.String()
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
