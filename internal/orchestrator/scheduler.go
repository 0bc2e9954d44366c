package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// ErrRunInProgress is returned by Scheduler.RunNow while a batch is running.
var ErrRunInProgress = errors.New("batch run already in progress")

// BatchRunner runs one batch over all active channels. *Orchestrator
// implements it.
type BatchRunner interface {
	RunAll(ctx context.Context) (*BatchReport, error)
}

// Scheduler triggers batch runs on a cron expression. A tick that fires while
// the previous run is still going is skipped.
type Scheduler struct {
	runner BatchRunner
	expr   string
	logger *slog.Logger
	now    func() time.Time
	after  func(time.Duration) <-chan time.Time

	mu      sync.Mutex
	running bool
	skipped int
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler for a standard five-field cron expression.
func NewScheduler(runner BatchRunner, expr string, logger *slog.Logger) (*Scheduler, error) {
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("invalid cron expression %q", expr)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner: runner,
		expr:   expr,
		logger: logger.With("component", "scheduler"),
		now:    time.Now,
		after:  time.After,
	}, nil
}

// Next returns the first tick strictly after t.
func (s *Scheduler) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.expr, t, false)
}

// Run blocks until ctx is cancelled, starting a batch at every tick. It waits
// for an in-flight batch to return before it returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "schedule", s.expr)
	defer s.wg.Wait()

	for {
		now := s.now()
		next, err := s.Next(now)
		if err != nil {
			s.logger.Error("failed to compute next tick", "schedule", s.expr, "error", err)
			select {
			case <-s.after(30 * time.Second):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		s.logger.Debug("next batch run", "at", next)
		select {
		case <-s.after(next.Sub(now)):
			s.launch(ctx)
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return nil
		}
	}
}

// RunNow runs a batch synchronously unless one is already running.
func (s *Scheduler) RunNow(ctx context.Context) (*BatchReport, error) {
	if !s.begin() {
		return nil, ErrRunInProgress
	}
	defer s.end()
	return s.runner.RunAll(ctx)
}

// Skipped returns how many ticks were skipped because a run was in flight.
func (s *Scheduler) Skipped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipped
}

func (s *Scheduler) launch(ctx context.Context) {
	if !s.begin() {
		s.mu.Lock()
		s.skipped++
		s.mu.Unlock()
		s.logger.Warn("previous batch still running, skipping tick")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.end()

		report, err := s.runner.RunAll(ctx)
		if err != nil {
			s.logger.Error("batch run failed", "error", err)
			return
		}
		s.logger.Info("batch run complete",
			"run_id", report.RunID,
			"channels", len(report.Channels),
			"failed", report.Failed(),
		)
	}()
}

func (s *Scheduler) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Scheduler) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}
