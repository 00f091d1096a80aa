package dashboard

import (
	"context"
	"errors"
	"math"
	"sort"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
	"github.com/fyrsmithlabs/feedbackd/internal/importance"
	"github.com/fyrsmithlabs/feedbackd/internal/metrics"
	"github.com/fyrsmithlabs/feedbackd/internal/trend"
)

// RecordClassifier labels a record. Satisfied by *sentiment.CachingClassifier.
type RecordClassifier interface {
	ClassifyRecord(ctx context.Context, rec feedback.Record) (feedback.Sentiment, error)
}

// Options tunes the builder thresholds.
type Options struct {
	HighBar              float64
	LowBar               float64
	CorrelationThreshold float64
	MaxInsights          int
	Keywords             int
	Forecast             trend.ForecastOptions
}

// DefaultOptions returns a 4.0 high bar, a 3.0 low bar and a 0.1 correlation
// threshold.
func DefaultOptions() Options {
	return Options{
		HighBar:              4.0,
		LowBar:               3.0,
		CorrelationThreshold: 0.1,
		MaxInsights:          10,
		Keywords:             5,
		Forecast:             trend.DefaultForecastOptions(),
	}
}

// Input is one snapshot request.
type Input struct {
	Records      []feedback.Record
	Correlations []feedback.SectionTopicCorrelation
	Importances  []feedback.FeatureImportance
	Job          feedback.TrainingJob
	UserID       string
}

// Builder builds dashboard snapshots. It holds no per-build state and is safe
// for concurrent use.
type Builder struct {
	classifier RecordClassifier
	providers  []InsightProvider
	opts       Options
	clock      clockwork.Clock
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithOptions replaces the thresholds.
func WithOptions(o Options) Option {
	return func(b *Builder) { b.opts = o }
}

// WithProviders replaces the insight provider chain. Providers are consulted
// in order and the first with something to say wins.
func WithProviders(p ...InsightProvider) Option {
	return func(b *Builder) { b.providers = p }
}

// WithClock sets the clock used for GeneratedAt and the forecast window.
func WithClock(c clockwork.Clock) Option {
	return func(b *Builder) {
		if c != nil {
			b.clock = c
		}
	}
}

// NewBuilder creates a Builder. Unless WithProviders is given, feature
// importance insights are preferred with correlation insights as fallback.
func NewBuilder(classifier RecordClassifier, logger *zap.Logger, opts ...Option) (*Builder, error) {
	if classifier == nil {
		return nil, errors.New("classifier cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	b := &Builder{
		classifier: classifier,
		opts:       DefaultOptions(),
		clock:      clockwork.NewRealClock(),
		metrics:    metrics.New(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.providers == nil {
		b.providers = []InsightProvider{
			ImportanceProvider{HighBar: b.opts.HighBar, LowBar: b.opts.LowBar, Keywords: b.opts.Keywords},
			CorrelationProvider{Threshold: b.opts.CorrelationThreshold, Max: b.opts.MaxInsights, Keywords: b.opts.Keywords},
		}
	}
	return b, nil
}

// Build composes a snapshot. Drafts are ignored throughout. A record the
// classifier cannot label counts as neutral.
func (b *Builder) Build(ctx context.Context, in Input) Snapshot {
	now := b.clock.Now()
	defer func() { b.metrics.ObserveDashboardBuild(b.clock.Since(now).Seconds()) }()

	completed := feedback.Completed(in.Records)
	labels := b.classify(ctx, completed)

	snap := Snapshot{
		TotalResponses:    len(completed),
		GeneratedInsights: emptyInsights(),
		InsightSource:     SourceNone,
		SentimentTrend:    trend.Quarterly(completed),
		FeatureImportance: shares(in.Importances),
		SectionSentiment:  splitSentiment(completed, labels, b.opts.HighBar, b.opts.LowBar),
		TrainingStatus:    in.Job,
		GeneratedAt:       now,
	}
	for _, l := range labels {
		snap.SentimentBreakdown.add(l)
	}

	snap.CompanyPerformance = performance(completed)
	snap.PerformanceSummary = summarize(snap.CompanyPerformance, b.opts.LowBar)

	averages := make(map[feedback.Section]float64, len(snap.CompanyPerformance))
	for _, p := range snap.CompanyPerformance {
		averages[p.Section] = p.AvgScore
	}
	insightIn := InsightInput{Averages: averages, Correlations: in.Correlations, Importances: in.Importances}
	for _, p := range b.providers {
		if ins, ok := p.Insights(insightIn); ok {
			snap.GeneratedInsights = ins
			snap.InsightSource = p.Name()
			break
		}
	}

	snap.CommonTopics = commonTopics(in.Correlations, b.opts.Keywords)

	if latest, ok := trend.LatestUserRecord(completed, in.UserID); ok {
		snap.UserLatestSubmission = &trend.UserPoint{
			Quarter: trend.QuarterLabel(latest.SubmittedAt),
			Date:    latest.SubmittedAt,
		}
		snap.UserSectionInsights = sectionInsights(latest, in.Correlations, b.opts.LowBar, b.opts.Keywords)
	}

	obs := make([]trend.Observation, len(completed))
	for i, r := range completed {
		obs[i] = trend.Observation{At: r.SubmittedAt, Value: labels[i].Value()}
	}
	if fc, ok := trend.SentimentForecast(obs, now, b.opts.Forecast); ok {
		snap.SentimentForecast = &fc
	}
	return snap
}

func (b *Builder) classify(ctx context.Context, records []feedback.Record) []feedback.Sentiment {
	labels := make([]feedback.Sentiment, len(records))
	for i, r := range records {
		label, err := b.classifier.ClassifyRecord(ctx, r)
		if err != nil || !label.Valid() {
			b.logger.Debug("classification unavailable, counting as neutral",
				zap.String("record_id", r.ID),
				zap.Error(err))
			label = feedback.SentimentNeutral
		}
		labels[i] = label
	}
	return labels
}

// performance averages each section over the records that scored it, in
// canonical section order. Sections nobody scored are omitted.
func performance(records []feedback.Record) []SectionScore {
	out := []SectionScore{}
	for _, s := range feedback.Sections() {
		var sum, n int
		for _, r := range records {
			if v, ok := r.Score(s); ok {
				sum += v
				n++
			}
		}
		if n == 0 {
			continue
		}
		out = append(out, SectionScore{Section: s, AvgScore: round2(float64(sum) / float64(n)), Responses: n})
	}
	return out
}

func shares(imps []feedback.FeatureImportance) []ImportanceShare {
	pct := importance.Percentages(imps, 1)
	out := make([]ImportanceShare, 0, len(imps))
	for _, fi := range imps {
		out = append(out, ImportanceShare{
			Section:     fi.Section,
			Importance:  fi.Importance,
			Percent:     pct[fi.Section],
			Correlation: fi.Correlation,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Importance > out[j].Importance })
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
