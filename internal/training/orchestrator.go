// Package training runs the background training job that produces the
// correlation and feature-importance result sets.
//
// There is one Orchestrator per process. It owns the pollable TrainingJob
// status record and the current ResultSet, and both are swapped atomically
// so readers never see a partial update:
//
//	idle --Start--> running --success--> completed
//	                running --failure--> error
//	completed|error --Start--> running
//
// Start while running is a no-op that reports the running job.
package training

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
	"github.com/fyrsmithlabs/feedbackd/internal/importance"
	"github.com/fyrsmithlabs/feedbackd/internal/logging"
	"github.com/fyrsmithlabs/feedbackd/internal/metrics"
)

const tracerName = "github.com/fyrsmithlabs/feedbackd/internal/training"

// DefaultPhaseTimeout bounds each phase of a run.
const DefaultPhaseTimeout = 2 * time.Minute

// Phase messages, in run order.
const (
	PhaseLoading     = "loading records"
	PhaseCorrelation = "computing correlations"
	PhaseImportance  = "computing feature importance"
	PhasePersist     = "persisting results"
	PhaseDone        = "done"
)

// CorrelationTrainer produces section/topic correlation rows.
type CorrelationTrainer interface {
	Train(ctx context.Context, records []feedback.Record) ([]feedback.SectionTopicCorrelation, error)
}

// ImportanceTrainer produces normalized feature importances.
type ImportanceTrainer interface {
	Train(ctx context.Context, records []feedback.Record) ([]feedback.FeatureImportance, error)
}

// Notifier is told about every job transition. It must not block for long.
type Notifier interface {
	JobChanged(ctx context.Context, job feedback.TrainingJob)
}

// Deps are the collaborators of an Orchestrator. Notifier is optional.
type Deps struct {
	Records      feedback.RecordReader
	Results      feedback.ResultStore
	Correlations CorrelationTrainer
	Importances  ImportanceTrainer
	Notifier     Notifier
}

// Failure is the error a run ends with. Phase is the message of the phase
// that failed.
type Failure struct {
	Phase string
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s failed: %v", f.Phase, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Orchestrator runs at most one training job at a time.
type Orchestrator struct {
	deps         Deps
	clock        clockwork.Clock
	phaseTimeout time.Duration
	tracer       trace.Tracer
	metrics      *metrics.Metrics
	logger       *zap.Logger

	// mu serializes job transitions; readers use the atomic pointers.
	mu      sync.Mutex
	job     atomic.Pointer[feedback.TrainingJob]
	results atomic.Pointer[feedback.ResultSet]
	wg      sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the clock used for job timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithPhaseTimeout bounds each phase. Non-positive values keep the default.
func WithPhaseTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.phaseTimeout = d
		}
	}
}

// WithTracer sets the tracer for run and phase spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// NewOrchestrator creates an idle orchestrator with an empty result set.
func NewOrchestrator(deps Deps, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if deps.Records == nil {
		return nil, errors.New("record reader cannot be nil")
	}
	if deps.Results == nil {
		return nil, errors.New("result store cannot be nil")
	}
	if deps.Correlations == nil {
		return nil, errors.New("correlation trainer cannot be nil")
	}
	if deps.Importances == nil {
		return nil, errors.New("importance trainer cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	o := &Orchestrator{
		deps:         deps,
		clock:        clockwork.NewRealClock(),
		phaseTimeout: DefaultPhaseTimeout,
		tracer:       otel.Tracer(tracerName),
		metrics:      metrics.New(),
		logger:       logger,
	}
	for _, opt := range opts {
		opt(o)
	}

	o.job.Store(&feedback.TrainingJob{Status: feedback.JobIdle, Message: "idle"})
	o.results.Store(&feedback.ResultSet{
		Correlations: []feedback.SectionTopicCorrelation{},
		Importances:  []feedback.FeatureImportance{},
	})
	return o, nil
}

// Restore loads the last persisted result set so a restarted process serves
// the previous run's results until the next run completes.
func (o *Orchestrator) Restore(ctx context.Context) error {
	rs, err := o.deps.Results.LoadResults(ctx)
	if err != nil {
		return fmt.Errorf("loading persisted results: %w", err)
	}
	if rs.Correlations == nil {
		rs.Correlations = []feedback.SectionTopicCorrelation{}
	}
	if rs.Importances == nil {
		rs.Importances = []feedback.FeatureImportance{}
	}
	o.results.Store(&rs)
	o.logger.Info("restored training results",
		zap.String("run_id", rs.RunID),
		zap.Int("correlations", len(rs.Correlations)),
		zap.Int("importances", len(rs.Importances)))
	return nil
}

// Start launches a run unless one is in progress. It returns the job as it
// stands after the call and whether this call started it. The run is not tied
// to ctx's cancellation; ctx only carries values such as the trace span.
func (o *Orchestrator) Start(ctx context.Context) (feedback.TrainingJob, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	current := o.job.Load()
	if current.Status == feedback.JobRunning {
		o.logger.Debug("training already running, start ignored", zap.String("run_id", current.RunID))
		return *current, false
	}

	now := o.clock.Now()
	job := &feedback.TrainingJob{
		RunID:     uuid.NewString(),
		Status:    feedback.JobRunning,
		Progress:  0,
		Message:   "queued",
		StartedAt: &now,
	}
	o.job.Store(job)
	o.metrics.SetTrainingRunning(true)

	o.wg.Add(1)
	go o.run(context.WithoutCancel(ctx), *job)

	o.logger.Info("training started", zap.String("run_id", job.RunID))
	return *job, true
}

// Poll returns the current job. It never blocks on a running job.
func (o *Orchestrator) Poll() feedback.TrainingJob {
	return *o.job.Load()
}

// Results returns the current result set. The slices are shared and must
// not be modified.
func (o *Orchestrator) Results() feedback.ResultSet {
	return *o.results.Load()
}

// Correlations returns the current correlation rows.
func (o *Orchestrator) Correlations() []feedback.SectionTopicCorrelation {
	return o.results.Load().Correlations
}

// Importances returns the current feature importances.
func (o *Orchestrator) Importances() []feedback.FeatureImportance {
	return o.results.Load().Importances
}

// Wait blocks until no run is in progress.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) run(ctx context.Context, job feedback.TrainingJob) {
	defer o.wg.Done()

	runID := job.RunID
	started := o.clock.Now()
	ctx, span := o.tracer.Start(ctx, "training.run", trace.WithAttributes(attribute.String("run_id", runID)))
	defer span.End()
	ctx = logging.WithRunID(ctx, runID)

	o.notify(ctx, job)

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("training run panicked",
				zap.String("run_id", runID),
				zap.Any("panic", r),
				zap.Stack("stack"))
			o.fail(ctx, span, started, &Failure{Phase: "training", Err: fmt.Errorf("panic: %v", r)})
		}
	}()

	rs, err := o.train(ctx, runID)
	if err != nil {
		o.fail(ctx, span, started, err)
		return
	}

	o.results.Store(&rs)
	o.metrics.SetTrainingRows(len(rs.Correlations), len(rs.Importances))

	done := o.transition(func(j *feedback.TrainingJob) {
		finished := o.clock.Now()
		j.Status = feedback.JobCompleted
		j.Progress = 100
		j.Message = PhaseDone
		j.FinishedAt = &finished
	})
	o.notify(ctx, done)

	elapsed := o.clock.Since(started)
	o.metrics.RecordTrainingRun(string(feedback.JobCompleted), elapsed.Seconds())
	span.SetStatus(codes.Ok, "")
	o.logger.Info("training completed",
		zap.String("run_id", runID),
		zap.Int("correlations", len(rs.Correlations)),
		zap.Int("importances", len(rs.Importances)),
		zap.Duration("duration", elapsed))
}

func (o *Orchestrator) train(ctx context.Context, runID string) (feedback.ResultSet, error) {
	var records []feedback.Record
	err := o.phase(ctx, 10, PhaseLoading, func(ctx context.Context) error {
		var err error
		records, err = o.deps.Records.Records(ctx)
		return err
	})
	if err != nil {
		return feedback.ResultSet{}, err
	}

	var correlations []feedback.SectionTopicCorrelation
	err = o.phase(ctx, 40, PhaseCorrelation, func(ctx context.Context) error {
		var err error
		correlations, err = o.deps.Correlations.Train(ctx, records)
		return err
	})
	if err != nil {
		return feedback.ResultSet{}, err
	}

	var importances []feedback.FeatureImportance
	err = o.phase(ctx, 75, PhaseImportance, func(ctx context.Context) error {
		var err error
		importances, err = o.deps.Importances.Train(ctx, records)
		return err
	})
	if err != nil {
		return feedback.ResultSet{}, err
	}

	rows := make([]feedback.SectionTopicCorrelation, 0, len(correlations)+len(importances))
	rows = append(rows, correlations...)
	rows = append(rows, importance.MirrorRows(importances, correlations)...)
	if importances == nil {
		importances = []feedback.FeatureImportance{}
	}

	rs := feedback.ResultSet{
		RunID:        runID,
		TrainedAt:    o.clock.Now(),
		Correlations: rows,
		Importances:  importances,
	}
	err = o.commit(ctx, func(ctx context.Context) error {
		return o.deps.Results.ReplaceResults(ctx, rs)
	})
	if err != nil {
		return feedback.ResultSet{}, err
	}
	return rs, nil
}

// phase publishes progress, then runs fn under the phase timeout. A panic in
// fn becomes the phase's error. On timeout fn is abandoned.
func (o *Orchestrator) phase(ctx context.Context, progress int, message string, fn func(context.Context) error) error {
	return o.runPhase(ctx, progress, message, true, fn)
}

// commit runs the persist phase. It always waits for fn: a store that ignores
// ctx may still commit after the deadline, so fn's result decides the outcome.
func (o *Orchestrator) commit(ctx context.Context, fn func(context.Context) error) error {
	return o.runPhase(ctx, 95, PhasePersist, false, fn)
}

func (o *Orchestrator) runPhase(ctx context.Context, progress int, message string, abandon bool, fn func(context.Context) error) error {
	o.notify(ctx, o.transition(func(j *feedback.TrainingJob) {
		j.Progress = progress
		j.Message = message
	}))

	ctx, span := o.tracer.Start(ctx, "training.phase", trace.WithAttributes(attribute.String("phase", message)))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, o.phaseTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("training phase panicked", append(logging.ContextFields(ctx),
					zap.String("phase", message),
					zap.Any("panic", r),
					zap.Stack("stack"))...)
				errCh <- fmt.Errorf("panic: %v", r)
			}
		}()
		errCh <- fn(ctx)
	}()

	var err error
	if abandon {
		select {
		case err = <-errCh:
		case <-ctx.Done():
			err = fmt.Errorf("timed out after %s: %w", o.phaseTimeout, ctx.Err())
		}
	} else {
		err = <-errCh
		if err != nil && ctx.Err() != nil {
			err = fmt.Errorf("timed out after %s: %w", o.phaseTimeout, err)
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &Failure{Phase: message, Err: err}
	}
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, span trace.Span, started time.Time, err error) {
	failed := o.transition(func(j *feedback.TrainingJob) {
		finished := o.clock.Now()
		j.Status = feedback.JobError
		j.Message = err.Error()
		j.FinishedAt = &finished
	})
	o.notify(ctx, failed)

	o.metrics.RecordTrainingRun(string(feedback.JobError), o.clock.Since(started).Seconds())
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	o.logger.Error("training failed, previous results kept",
		append(logging.ContextFields(ctx), zap.Error(err))...)
}

// transition applies update to a copy of the job, publishes the copy and
// returns it.
func (o *Orchestrator) transition(update func(*feedback.TrainingJob)) feedback.TrainingJob {
	o.mu.Lock()
	defer o.mu.Unlock()

	next := *o.job.Load()
	update(&next)
	o.job.Store(&next)
	if next.Terminal() {
		o.metrics.SetTrainingRunning(false)
	}
	return next
}

func (o *Orchestrator) notify(ctx context.Context, job feedback.TrainingJob) {
	if o.deps.Notifier == nil {
		return
	}
	o.deps.Notifier.JobChanged(ctx, job)
}
