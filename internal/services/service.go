package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feedbackd/internal/dashboard"
	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
	"github.com/fyrsmithlabs/feedbackd/internal/logging"
	"github.com/fyrsmithlabs/feedbackd/internal/trend"
)

// DefaultCorrelationLimit is the listing size when the caller gives none.
const DefaultCorrelationLimit = 20

// Trainer runs and reports training. Satisfied by *training.Orchestrator.
type Trainer interface {
	Start(ctx context.Context) (feedback.TrainingJob, bool)
	Poll() feedback.TrainingJob
	Correlations() []feedback.SectionTopicCorrelation
	Importances() []feedback.FeatureImportance
}

// SnapshotBuilder builds dashboard snapshots. Satisfied by *dashboard.Builder.
type SnapshotBuilder interface {
	Build(ctx context.Context, in dashboard.Input) dashboard.Snapshot
}

// RecordStore reads and appends feedback records.
type RecordStore interface {
	feedback.RecordReader
	feedback.RecordWriter
}

// Options wires the service to its collaborators.
type Options struct {
	Records   RecordStore
	Trainer   Trainer
	Dashboard SnapshotBuilder
	Clock     clockwork.Clock
}

// TrendView is the quarter trend with an optional user highlight.
type TrendView struct {
	Buckets []trend.Bucket   `json:"sentiment_trend"`
	User    *trend.UserPoint `json:"user_latest_submission,omitempty"`
}

// ImportResult reports a record import.
type ImportResult struct {
	Imported int      `json:"imported"`
	IDs      []string `json:"record_ids"`
}

// Service implements the feedback analytics operations.
type Service struct {
	records   RecordStore
	trainer   Trainer
	dashboard SnapshotBuilder
	clock     clockwork.Clock
	logger    *zap.Logger
}

// New creates a Service.
func New(opts Options, logger *zap.Logger) (*Service, error) {
	if opts.Records == nil {
		return nil, errors.New("record store cannot be nil")
	}
	if opts.Trainer == nil {
		return nil, errors.New("trainer cannot be nil")
	}
	if opts.Dashboard == nil {
		return nil, errors.New("dashboard builder cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		records:   opts.Records,
		trainer:   opts.Trainer,
		dashboard: opts.Dashboard,
		clock:     clock,
		logger:    logger,
	}, nil
}

// StartTraining starts a run unless one is in progress. started is false when
// the returned job is the run already in progress.
func (s *Service) StartTraining(ctx context.Context) (job feedback.TrainingJob, started bool) {
	return s.trainer.Start(ctx)
}

// PollTraining returns the current job state.
func (s *Service) PollTraining() feedback.TrainingJob {
	return s.trainer.Poll()
}

// Correlations returns up to limit rows of the current result set, strongest
// first. A non-positive limit means DefaultCorrelationLimit.
func (s *Service) Correlations(limit int) []feedback.SectionTopicCorrelation {
	if limit <= 0 {
		limit = DefaultCorrelationLimit
	}
	rows := append([]feedback.SectionTopicCorrelation(nil), s.trainer.Correlations()...)
	sort.SliceStable(rows, func(i, j int) bool {
		return math.Abs(rows[i].Score) > math.Abs(rows[j].Score)
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	if rows == nil {
		rows = []feedback.SectionTopicCorrelation{}
	}
	return rows
}

// FeatureImportance returns the current importances, largest first.
func (s *Service) FeatureImportance() []feedback.FeatureImportance {
	imps := append([]feedback.FeatureImportance{}, s.trainer.Importances()...)
	sort.SliceStable(imps, func(i, j int) bool { return imps[i].Importance > imps[j].Importance })
	return imps
}

// Trend returns the quarter trend of completed records and, when userID has a
// completed submission, where it falls.
func (s *Service) Trend(ctx context.Context, userID string) TrendView {
	records := s.loadRecords(ctx)
	view := TrendView{Buckets: trend.Quarterly(records)}
	if pt, ok := trend.LocateUserPoint(records, userID); ok {
		view.User = &pt
	}
	return view
}

// DashboardSnapshot builds the dashboard for an optional user.
func (s *Service) DashboardSnapshot(ctx context.Context, userID string) dashboard.Snapshot {
	return s.dashboard.Build(ctx, dashboard.Input{
		Records:      s.loadRecords(ctx),
		Correlations: s.trainer.Correlations(),
		Importances:  s.trainer.Importances(),
		Job:          s.trainer.Poll(),
		UserID:       userID,
	})
}

// ImportRecords validates and stores records. Missing IDs are generated and a
// missing submission time defaults to now. Nothing is stored if any record is
// invalid.
func (s *Service) ImportRecords(ctx context.Context, records []feedback.Record) (ImportResult, error) {
	if len(records) == 0 {
		return ImportResult{}, fmt.Errorf("%w: no records", feedback.ErrInvalidRecord)
	}

	now := s.clock.Now()
	prepared := make([]feedback.Record, len(records))
	ids := make([]string, len(records))
	for i, r := range records {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.SubmittedAt.IsZero() {
			r.SubmittedAt = now
		}
		if err := r.Validate(); err != nil {
			return ImportResult{}, fmt.Errorf("record %d: %w", i, err)
		}
		prepared[i] = r
		ids[i] = r.ID
	}

	if err := s.records.AddRecords(ctx, prepared); err != nil {
		return ImportResult{}, fmt.Errorf("storing records: %w", err)
	}
	s.logger.Info("records imported", append(logging.ContextFields(ctx), zap.Int("count", len(prepared)))...)
	return ImportResult{Imported: len(prepared), IDs: ids}, nil
}

// loadRecords reads the corpus. Read paths degrade to an empty corpus when
// the store is unavailable.
func (s *Service) loadRecords(ctx context.Context) []feedback.Record {
	records, err := s.records.Records(ctx)
	if err != nil {
		s.logger.Warn("failed to load records, serving empty corpus", append(logging.ContextFields(ctx), zap.Error(err))...)
		return nil
	}
	return records
}
