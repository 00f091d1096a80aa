package training

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
)

// Starter begins a training run. Satisfied by *Orchestrator.
type Starter interface {
	Start(ctx context.Context) (feedback.TrainingJob, bool)
}

// ParseSchedule parses a standard 5-field cron expression (minute hour
// day-of-month month day-of-week) or a descriptor such as "@daily" or
// "@every 6h".
func ParseSchedule(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(strings.TrimSpace(expr))
	if err != nil {
		return nil, fmt.Errorf("invalid training schedule %q: %w", expr, err)
	}
	return sched, nil
}

// Scheduler starts training runs on a cron schedule. A tick that lands while
// a run is in progress is skipped by the orchestrator.
type Scheduler struct {
	expr     string
	schedule cron.Schedule
	starter  Starter
	clock    clockwork.Clock
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerClock sets the clock the scheduler waits on.
func WithSchedulerClock(c clockwork.Clock) SchedulerOption {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// NewScheduler creates a stopped scheduler for expr.
func NewScheduler(expr string, starter Starter, logger *zap.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	if starter == nil {
		return nil, errors.New("starter cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		expr:     expr,
		schedule: sched,
		starter:  starter,
		clock:    clockwork.NewRealClock(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start begins the schedule. It returns an error if already running.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("scheduler is already running")
	}
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true

	s.logger.Info("training scheduler started",
		zap.String("schedule", s.expr),
		zap.Time("next", s.schedule.Next(s.clock.Now())))

	go s.run(s.stopCh, s.done)
	return nil
}

// Stop ends the schedule and waits for the loop to exit. A run already
// started keeps going. Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	done := s.done
	s.mu.Unlock()

	<-done
	s.logger.Info("training scheduler stopped")
	return nil
}

// Next returns the next fire time after now.
func (s *Scheduler) Next() time.Time {
	return s.schedule.Next(s.clock.Now())
}

func (s *Scheduler) run(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler goroutine panicked",
				zap.Any("panic", r),
				zap.Stack("stack"))
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}()

	for {
		now := s.clock.Now()
		next := s.schedule.Next(now)
		select {
		case <-s.clock.After(next.Sub(now)):
			s.trigger()
		case <-stopCh:
			return
		}
	}
}

// trigger starts a run, isolating the loop from a panicking starter.
func (s *Scheduler) trigger() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled training start panicked",
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	job, started := s.starter.Start(context.Background())
	if !started {
		s.logger.Info("scheduled training skipped, run in progress", zap.String("run_id", job.RunID))
		return
	}
	s.logger.Info("scheduled training started", zap.String("run_id", job.RunID))
}
