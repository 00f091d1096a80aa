// Package events publishes training job transitions to NATS.
//
// Every status change of the training job is published to
//
//	{prefix}.{run_id}.{status}
//
// e.g. feedback.training.3f2c....running. Payload is the JSON TrainingJob.
// Publishing is best effort: failures are logged and counted, never returned
// to the training run.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
	"github.com/fyrsmithlabs/feedbackd/internal/logging"
	"github.com/fyrsmithlabs/feedbackd/internal/metrics"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "feedback.training"

// Publisher sends job transitions to NATS through a circuit breaker.
type Publisher struct {
	nc      *nats.Conn
	breaker *gobreaker.CircuitBreaker
	prefix  string
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithSubjectPrefix overrides DefaultSubjectPrefix.
func WithSubjectPrefix(prefix string) Option {
	return func(p *Publisher) {
		if prefix != "" {
			p.prefix = prefix
		}
	}
}

// WithBreakerSettings replaces the default circuit breaker.
func WithBreakerSettings(st gobreaker.Settings) Option {
	return func(p *Publisher) {
		p.breaker = gobreaker.NewCircuitBreaker(st)
	}
}

// NewPublisher creates a publisher on an open connection.
func NewPublisher(nc *nats.Conn, logger *zap.Logger, opts ...Option) (*Publisher, error) {
	if nc == nil {
		return nil, errors.New("nats connection cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	p := &Publisher{
		nc:      nc,
		prefix:  DefaultSubjectPrefix,
		metrics: metrics.New(),
		logger:  logger,
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "nats-publisher",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Subject returns the subject a job transition is published on.
func (p *Publisher) Subject(job feedback.TrainingJob) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, job.RunID, job.Status)
}

// JobChanged publishes job. Errors are logged, not returned.
func (p *Publisher) JobChanged(ctx context.Context, job feedback.TrainingJob) {
	if job.RunID == "" {
		return
	}
	if err := p.Publish(ctx, job); err != nil {
		p.logger.Warn("failed to publish training event", append(logging.ContextFields(ctx),
			zap.String("run_id", job.RunID),
			zap.String("status", string(job.Status)),
			zap.Error(err))...)
	}
}

// Publish sends job and returns the publish error, including
// gobreaker.ErrOpenState while the breaker is open.
func (p *Publisher) Publish(ctx context.Context, job feedback.TrainingJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	subject := p.Subject(job)

	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.nc.Publish(subject, data)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		p.metrics.RecordEventPublish("dropped")
		return err
	case err != nil:
		p.metrics.RecordEventPublish("error")
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.metrics.RecordEventPublish("ok")
	return nil
}

// State reports the breaker state.
func (p *Publisher) State() gobreaker.State {
	return p.breaker.State()
}
