package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"k8s.io/utils/clock"

	"curator/internal/logging"
)

// SweepRunner evaluates due triggers. Orchestrator implements it.
type SweepRunner interface {
	RunDueSchedules(ctx context.Context, now time.Time) SweepResult
}

// Sweeper runs SweepRunner on a cron schedule measured by an injected clock.
type Sweeper struct {
	runner   SweepRunner
	schedule cron.Schedule
	spec     string
	clock    clock.Clock
	logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastRun time.Time
}

// NewSweeper parses spec with the standard cron parser, which also accepts
// descriptors such as "@every 1m" and "@hourly".
func NewSweeper(runner SweepRunner, spec string, clk clock.Clock, logger *slog.Logger) (*Sweeper, error) {
	if runner == nil {
		return nil, errors.New("sweeper: runner is required")
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("sweeper: parse schedule %q: %w", spec, err)
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Sweeper{
		runner:   runner,
		schedule: schedule,
		spec:     spec,
		clock:    clk,
		logger:   logging.NewComponentLogger(logger, "sweeper"),
	}, nil
}

// Start begins sweeping in the background.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("sweeper already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(runCtx, s.done)
	s.logger.Info("trigger sweeper started", logging.String("schedule", s.spec))
	return nil
}

// Stop ends the loop and waits for an in-progress sweep.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// LastRun returns when the most recent sweep started.
func (s *Sweeper) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		next := s.schedule.Next(s.clock.Now())
		if err := waitUntil(ctx, s.clock, next); err != nil {
			return
		}
		now := s.clock.Now()
		s.mu.Lock()
		s.lastRun = now
		s.mu.Unlock()

		result := s.runner.RunDueSchedules(ctx, now)
		if result.Due > 0 {
			s.logger.Info("trigger sweep complete",
				logging.Int("due", result.Due),
				logging.Int("fired", result.Fired),
				logging.Int("failed", result.Failed),
				logging.Int("skipped", result.Skipped),
				logging.String(logging.FieldEventType, "sweep_complete"),
			)
		}
	}
}

func waitUntil(ctx context.Context, clk clock.Clock, until time.Time) error {
	wait := until.Sub(clk.Now())
	if wait <= 0 {
		return ctx.Err()
	}
	t := clk.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}
