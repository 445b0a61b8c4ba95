// Package cron fires a callback on a cron schedule. Watch mode uses it to
// request periodic auto-block sweeps.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom,
// month, dow) and descriptors such as @hourly.
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Config holds the dependencies for the scheduler.
type Config struct {
	Expr   string
	Fire   func(ctx context.Context, at time.Time)
	Logger *slog.Logger
	// Interval is how often the schedule is checked; defaults to 1 second.
	Interval time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Scheduler checks the schedule on every tick and calls Fire once for each
// due slot. Missed slots collapse into a single call.
type Scheduler struct {
	sched    cronlib.Schedule
	expr     string
	fire     func(ctx context.Context, at time.Time)
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	nextRun time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler validates the expression and builds a Scheduler.
func NewScheduler(cfg Config) (*Scheduler, error) {
	sched, err := cronParser.Parse(cfg.Expr)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", cfg.Expr, err)
	}
	if cfg.Fire == nil {
		return nil, fmt.Errorf("schedule %q has no callback", cfg.Expr)
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		sched:    sched,
		expr:     cfg.Expr,
		fire:     cfg.Fire,
		logger:   logger,
		interval: interval,
		now:      now,
	}, nil
}

// Start begins the scheduler loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.nextRun = s.sched.Next(s.now())
	next := s.nextRun
	s.mu.Unlock()

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("sweep scheduler started", "schedule", s.expr, "next_run_at", next)
}

// Stop cancels the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("sweep scheduler stopped")
}

// NextRun is the next slot the scheduler will fire for.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	due := !now.Before(s.nextRun)
	if due {
		s.nextRun = s.sched.Next(now)
	}
	next := s.nextRun
	s.mu.Unlock()

	if !due {
		return
	}
	s.logger.Debug("sweep schedule fired", "at", now, "next_run_at", next)
	s.fire(ctx, now)
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
