package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
	"github.com/fyrsmithlabs/feedbackd/internal/sentiment"
)

type labelClassifier struct {
	labels map[string]feedback.Sentiment
	err    error
}

func (c labelClassifier) ClassifyRecord(_ context.Context, rec feedback.Record) (feedback.Sentiment, error) {
	if c.err != nil {
		return "", c.err
	}
	if l, ok := c.labels[rec.ID]; ok {
		return l, nil
	}
	return feedback.SentimentNeutral, nil
}

type countingTextClassifier struct {
	calls atomic.Int32
	inner sentiment.Classifier
}

func (c *countingTextClassifier) Classify(ctx context.Context, text string) (sentiment.Result, error) {
	c.calls.Add(1)
	return c.inner.Classify(ctx, text)
}

var day0 = time.Date(2024, 6, 20, 10, 0, 0, 0, time.UTC)

func newTestBuilder(t *testing.T, c RecordClassifier, opts ...Option) *Builder {
	t.Helper()
	opts = append([]Option{WithClock(clockwork.NewFakeClockAt(time.Date(2024, 7, 10, 0, 0, 0, 0, time.UTC)))}, opts...)
	b, err := NewBuilder(c, zap.NewNop(), opts...)
	require.NoError(t, err)
	return b
}

func TestNewBuilder(t *testing.T) {
	_, err := NewBuilder(nil, zap.NewNop())
	assert.ErrorContains(t, err, "classifier cannot be nil")

	_, err = NewBuilder(labelClassifier{}, nil)
	assert.ErrorContains(t, err, "logger cannot be nil")

	b, err := NewBuilder(labelClassifier{}, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, b.providers, 2)
	assert.Equal(t, SourceFeatureImportance, b.providers[0].Name())
	assert.Equal(t, SourceCorrelation, b.providers[1].Name())
}

func TestBuild_TwoRecordsYieldEmptyInsights(t *testing.T) {
	b := newTestBuilder(t, labelClassifier{})
	records := []feedback.Record{
		feedback.NewTestRecord("a", day0, [5]int{4, 4, 4, 4, 4}, "fine"),
		feedback.NewTestRecord("b", day0.AddDate(0, 0, 1), [5]int{2, 2, 2, 2, 2}, "meh"),
	}

	snap := b.Build(context.Background(), Input{Records: records})

	assert.Equal(t, 2, snap.TotalResponses)
	assert.Equal(t, SourceNone, snap.InsightSource)
	assert.NotNil(t, snap.GeneratedInsights.Strengths)
	assert.NotNil(t, snap.GeneratedInsights.Weaknesses)
	assert.True(t, snap.GeneratedInsights.Empty())
	assert.Empty(t, snap.FeatureImportance)
	assert.Nil(t, snap.SentimentForecast)
	assert.Len(t, snap.CompanyPerformance, 5)
	assert.Equal(t, 3.0, snap.CompanyPerformance[0].AvgScore)
	assert.Equal(t, SentimentBreakdown{Neutral: 2}, snap.SentimentBreakdown)
}

func TestBuild_EmptyCorpus(t *testing.T) {
	b := newTestBuilder(t, labelClassifier{})
	snap := b.Build(context.Background(), Input{})

	assert.Zero(t, snap.TotalResponses)
	assert.Empty(t, snap.CompanyPerformance)
	assert.Empty(t, snap.SentimentTrend)
	assert.Empty(t, snap.SectionSentiment)
	assert.Nil(t, snap.PerformanceSummary)
	assert.Nil(t, snap.UserLatestSubmission)
	assert.Equal(t, time.Date(2024, 7, 10, 0, 0, 0, 0, time.UTC), snap.GeneratedAt)
}

func TestBuild_ExcludesDrafts(t *testing.T) {
	b := newTestBuilder(t, labelClassifier{labels: map[string]feedback.Sentiment{"draft": feedback.SentimentNegative}})
	draft := feedback.NewTestRecord("draft", day0, [5]int{1, 1, 1, 1, 1}, "awful")
	draft.Draft = true
	records := []feedback.Record{
		feedback.NewTestRecord("a", day0, [5]int{5, 5, 5, 5, 5}, "great"),
		draft,
	}

	snap := b.Build(context.Background(), Input{Records: records})

	assert.Equal(t, 1, snap.TotalResponses)
	assert.Zero(t, snap.SentimentBreakdown.Negative)
	assert.Equal(t, 5.0, snap.CompanyPerformance[0].AvgScore)
	require.Len(t, snap.SentimentTrend, 1)
	assert.Equal(t, 1, snap.SentimentTrend[0].Count)
}

func TestBuild_UserHighlight(t *testing.T) {
	b := newTestBuilder(t, labelClassifier{})
	mine := feedback.NewTestRecord("mine", time.Date(2024, 8, 14, 9, 0, 0, 0, time.UTC), [5]int{4, 4, 4, 4, 4}, "")
	mine.UserID = "u1"
	older := feedback.NewTestRecord("older", time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC), [5]int{3, 3, 3, 3, 3}, "")
	older.UserID = "u1"
	other := feedback.NewTestRecord("other", time.Date(2024, 11, 1, 9, 0, 0, 0, time.UTC), [5]int{3, 3, 3, 3, 3}, "")
	other.UserID = "u2"
	records := []feedback.Record{older, mine, other}

	snap := b.Build(context.Background(), Input{Records: records, UserID: "u1"})
	require.NotNil(t, snap.UserLatestSubmission)
	assert.Equal(t, "2024-Q3", snap.UserLatestSubmission.Quarter)
	assert.Equal(t, mine.SubmittedAt, snap.UserLatestSubmission.Date)

	snap = b.Build(context.Background(), Input{Records: records, UserID: "nobody"})
	assert.Nil(t, snap.UserLatestSubmission)

	var labels []string
	for _, bk := range snap.SentimentTrend {
		labels = append(labels, bk.Label)
	}
	assert.Equal(t, []string{"2024-Q1", "2024-Q3", "2024-Q4"}, labels)
}

func TestBuild_UserSectionInsights(t *testing.T) {
	b := newTestBuilder(t, labelClassifier{})
	mine := feedback.NewTestRecord("mine", day0, [5]int{2, 4, 3, 1, 5}, "")
	mine.UserID = "u1"
	delete(mine.Scores, feedback.SectionCulture)
	other := feedback.NewTestRecord("other", day0, [5]int{5, 5, 5, 5, 5}, "")
	correlations := []feedback.SectionTopicCorrelation{
		feedback.NewCorrelation(feedback.SectionCompensation, feedback.TopicOverallRating, -0.2,
			map[string]float64{"salary": 1}, 40),
		feedback.NewCorrelation(feedback.SectionCompensation, feedback.DriversTopic(feedback.SectionCompensation, true), -0.6,
			map[string]float64{"workload": 1, "pay": 0.5}, 40),
		feedback.NewCorrelation(feedback.SectionCompensation, feedback.DriversTopic(feedback.SectionCompensation, false), 0.4,
			map[string]float64{"bonus": 1}, 40),
		feedback.NewCorrelation(feedback.SectionManagement, feedback.DriversTopic(feedback.SectionManagement, true), -0.3,
			map[string]float64{"communication": 1}, 40),
		feedback.NewCorrelation(feedback.SectionCareer, feedback.FeatureImportanceTopic(feedback.SectionCareer, true), -0.9,
			map[string]float64{"growth": 1}, 40),
		feedback.NewCorrelation(feedback.SectionOverall, feedback.TopicCommon, -0.7,
			map[string]float64{"pay": 1}, 40),
	}

	snap := b.Build(context.Background(), Input{
		Records:      []feedback.Record{mine, other},
		Correlations: correlations,
		UserID:       "u1",
	})
	require.Len(t, snap.UserSectionInsights, len(feedback.Sections()))
	assert.NotContains(t, snap.UserSectionInsights, feedback.SectionOverall)

	t.Run("low section with negative topics", func(t *testing.T) {
		comp := snap.UserSectionInsights[feedback.SectionCompensation]
		require.NotNil(t, comp.Score)
		assert.Equal(t, 2.0, *comp.Score)
		assert.True(t, comp.IsLow)
		require.Len(t, comp.NegativeTopics, 2)
		assert.Equal(t, feedback.DriversTopic(feedback.SectionCompensation, true), comp.NegativeTopics[0].Topic)
		assert.Equal(t, []string{"workload", "pay"}, comp.NegativeTopics[0].Keywords)
		assert.Equal(t, feedback.TopicOverallRating, comp.NegativeTopics[1].Topic)
		assert.Equal(t, []string{
			"Address workload concerns and resource allocation",
			"Consider reviewing salary structures and benefits packages",
			"Conduct market research on competitive compensation",
		}, comp.Recommendations)
	})

	t.Run("keyword advice is not repeated", func(t *testing.T) {
		mgmt := snap.UserSectionInsights[feedback.SectionManagement]
		require.NotNil(t, mgmt.Score)
		assert.False(t, mgmt.IsLow)
		assert.Equal(t, []string{
			"Improve communication processes and transparency",
			"Improve communication channels and frequency",
			"Provide management training and support",
		}, mgmt.Recommendations)
	})

	t.Run("no negative topics means no advice", func(t *testing.T) {
		career := snap.UserSectionInsights[feedback.SectionCareer]
		require.NotNil(t, career.Score)
		assert.True(t, career.IsLow)
		assert.Empty(t, career.NegativeTopics)
		assert.Equal(t, []string{}, career.Recommendations)
	})

	t.Run("unscored section", func(t *testing.T) {
		culture := snap.UserSectionInsights[feedback.SectionCulture]
		assert.Nil(t, culture.Score)
		assert.True(t, culture.NoData)
		assert.False(t, culture.IsLow)
		assert.Equal(t, []TopicSummary{}, culture.NegativeTopics)
		assert.Equal(t, []string{}, culture.Recommendations)
	})

	t.Run("absent without a user record", func(t *testing.T) {
		snap := b.Build(context.Background(), Input{Records: []feedback.Record{other}, Correlations: correlations, UserID: "u1"})
		assert.Nil(t, snap.UserSectionInsights)
		snap = b.Build(context.Background(), Input{Records: []feedback.Record{mine, other}, Correlations: correlations})
		assert.Nil(t, snap.UserSectionInsights)
	})
}

func TestBuild_ImportanceInsightsPreferred(t *testing.T) {
	b := newTestBuilder(t, labelClassifier{})
	records := []feedback.Record{
		feedback.NewTestRecord("a", day0, [5]int{5, 4, 2, 4, 4}, ""),
		feedback.NewTestRecord("b", day0, [5]int{5, 4, 2, 4, 4}, ""),
	}
	correlations := []feedback.SectionTopicCorrelation{
		feedback.NewCorrelation(feedback.SectionCompensation, feedback.TopicOverallRating, 0.6,
			map[string]float64{"salary": 0.9, "bonus": 0.5}, 40),
		feedback.NewCorrelation(feedback.SectionCulture, feedback.TopicOverallRating, -0.3,
			map[string]float64{"toxic": 0.7}, 40),
	}
	importances := []feedback.FeatureImportance{
		{Section: feedback.SectionWorkLife, Importance: 0.25, Correlation: -0.2},
		{Section: feedback.SectionCompensation, Importance: 0.4, Correlation: 0.6},
		{Section: feedback.SectionCulture, Importance: 0.35, Correlation: 0.5},
	}

	snap := b.Build(context.Background(), Input{Records: records, Correlations: correlations, Importances: importances})

	assert.Equal(t, SourceFeatureImportance, snap.InsightSource)
	require.Len(t, snap.GeneratedInsights.Strengths, 1)
	assert.Equal(t, feedback.SectionCompensation, snap.GeneratedInsights.Strengths[0].Section)
	assert.Equal(t, []string{"salary", "bonus"}, snap.GeneratedInsights.Strengths[0].Keywords)

	require.Len(t, snap.GeneratedInsights.Weaknesses, 2)
	assert.Equal(t, feedback.SectionCulture, snap.GeneratedInsights.Weaknesses[0].Section)
	assert.Equal(t, []string{"toxic"}, snap.GeneratedInsights.Weaknesses[0].Keywords)
	assert.Equal(t, feedback.SectionWorkLife, snap.GeneratedInsights.Weaknesses[1].Section)
	assert.Equal(t, []string{}, snap.GeneratedInsights.Weaknesses[1].Keywords)

	require.Len(t, snap.FeatureImportance, 3)
	assert.Equal(t, feedback.SectionCompensation, snap.FeatureImportance[0].Section)
	assert.InDelta(t, 40.0, snap.FeatureImportance[0].Percent, 1e-9)
	var total float64
	for _, s := range snap.FeatureImportance {
		total += s.Percent
	}
	assert.InDelta(t, 100.0, total, 1e-9)
}

func TestBuild_FallsBackToCorrelationInsights(t *testing.T) {
	b := newTestBuilder(t, labelClassifier{})
	records := []feedback.Record{feedback.NewTestRecord("a", day0, [5]int{3, 3, 3, 3, 3}, "")}
	correlations := []feedback.SectionTopicCorrelation{
		feedback.NewCorrelation(feedback.SectionCompensation, feedback.DriversTopic(feedback.SectionCompensation, false), 0.3,
			map[string]float64{"bonus": 1}, 40),
		feedback.NewCorrelation(feedback.SectionCompensation, feedback.TopicOverallRating, 0.5,
			map[string]float64{"salary": 1}, 40),
		feedback.NewCorrelation(feedback.SectionCulture, feedback.TopicOverallRating, -0.4,
			map[string]float64{"toxic": 1}, 40),
		feedback.NewCorrelation(feedback.SectionWorkLife, feedback.TopicOverallRating, 0.05,
			map[string]float64{"hours": 1}, 40),
		feedback.NewCorrelation(feedback.SectionCareer, feedback.FeatureImportanceTopic(feedback.SectionCareer, false), 0.9,
			map[string]float64{"growth": 1}, 40),
		feedback.NewCorrelation(feedback.SectionManagement, feedback.TopicOverallRating, -0.5, nil, 40),
		feedback.NewCorrelation(feedback.SectionOverall, feedback.TopicCommon, -0.9,
			map[string]float64{"pay": 1}, 40),
	}

	snap := b.Build(context.Background(), Input{Records: records, Correlations: correlations})

	assert.Equal(t, SourceCorrelation, snap.InsightSource)
	require.Len(t, snap.GeneratedInsights.Strengths, 1)
	assert.Equal(t, Insight{Section: feedback.SectionCompensation, Keywords: []string{"salary"}, Score: 0.5},
		snap.GeneratedInsights.Strengths[0])

	// A strong row without keywords is still a weakness; the corpus-wide row is not.
	require.Len(t, snap.GeneratedInsights.Weaknesses, 2)
	assert.Equal(t, Insight{Section: feedback.SectionManagement, Keywords: []string{}, Score: -0.5},
		snap.GeneratedInsights.Weaknesses[0])
	assert.Equal(t, Insight{Section: feedback.SectionCulture, Keywords: []string{"toxic"}, Score: -0.4},
		snap.GeneratedInsights.Weaknesses[1])

	data, err := json.Marshal(snap.GeneratedInsights.Weaknesses[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"keywords":[]`)

	require.NotNil(t, snap.CommonTopics)
	assert.Equal(t, feedback.TopicCommon, snap.CommonTopics.Topic)
	assert.Equal(t, []string{"pay"}, snap.CommonTopics.Keywords)
}

func TestBuild_WeakCorrelationsYieldNoInsights(t *testing.T) {
	b := newTestBuilder(t, labelClassifier{})
	correlations := []feedback.SectionTopicCorrelation{
		feedback.NewCorrelation(feedback.SectionCompensation, feedback.TopicOverallRating, 0.1,
			map[string]float64{"salary": 1}, 40),
		feedback.NewCorrelation(feedback.SectionCulture, feedback.TopicOverallRating, -0.08,
			map[string]float64{"toxic": 1}, 40),
	}

	snap := b.Build(context.Background(), Input{Correlations: correlations})
	assert.Equal(t, SourceNone, snap.InsightSource)
	assert.True(t, snap.GeneratedInsights.Empty())
}

func TestBuild_PerformanceSummary(t *testing.T) {
	b := newTestBuilder(t, labelClassifier{})

	mixed := b.Build(context.Background(), Input{Records: []feedback.Record{
		feedback.NewTestRecord("a", day0, [5]int{2, 4, 3, 4, 4}, ""),
	}})
	require.NotNil(t, mixed.PerformanceSummary)
	assert.False(t, mixed.PerformanceSummary.AllBelowAverage)
	require.Len(t, mixed.PerformanceSummary.Weak, 1)
	assert.Equal(t, feedback.SectionCompensation, mixed.PerformanceSummary.Weak[0].Section)
	assert.Len(t, mixed.PerformanceSummary.Strong, 4, "the low bar itself counts as strong")
	assert.Contains(t, mixed.PerformanceSummary.Message, "Weak on: Compensation & Benefits")
	assert.Equal(t, 2.0, mixed.PerformanceSummary.Averages[feedback.SectionCompensation])

	low := b.Build(context.Background(), Input{Records: []feedback.Record{
		feedback.NewTestRecord("a", day0, [5]int{1, 2, 2, 2, 2}, ""),
	}})
	require.NotNil(t, low.PerformanceSummary)
	assert.True(t, low.PerformanceSummary.AllBelowAverage)
	assert.Empty(t, low.PerformanceSummary.Strong)
	assert.Equal(t, allBelowAverageMessage, low.PerformanceSummary.Message)
}

func TestBuild_SectionSentimentSplit(t *testing.T) {
	b := newTestBuilder(t, labelClassifier{labels: map[string]feedback.Sentiment{
		"happy": feedback.SentimentPositive,
		"sad":   feedback.SentimentNegative,
	}})
	records := []feedback.Record{
		feedback.NewTestRecord("happy", day0, [5]int{5, 3, 3, 3, 3}, ""),
		feedback.NewTestRecord("sad", day0, [5]int{1, 3, 3, 3, 3}, ""),
		feedback.NewTestRecord("meh", day0, [5]int{4, 3, 3, 3, 3}, ""),
	}

	snap := b.Build(context.Background(), Input{Records: records})

	require.Len(t, snap.SectionSentiment, 1, "sections scored only at 3 have no extreme subsets")
	row := snap.SectionSentiment[0]
	assert.Equal(t, feedback.SectionCompensation, row.Section)
	assert.Equal(t, SentimentBreakdown{Positive: 1, Neutral: 1}, row.High)
	assert.Equal(t, SentimentBreakdown{Negative: 1}, row.Low)
}

func TestBuild_ClassifierErrorCountsNeutral(t *testing.T) {
	b := newTestBuilder(t, labelClassifier{err: errors.New("model offline")})
	records := feedback.NewTestCorpus(3, day0, func(int) ([5]int, string) { return [5]int{3, 3, 3, 3, 3}, "text" })

	snap := b.Build(context.Background(), Input{Records: records})
	assert.Equal(t, SentimentBreakdown{Neutral: 3}, snap.SentimentBreakdown)
}

func TestBuild_Forecast(t *testing.T) {
	labels := make(map[string]feedback.Sentiment)
	records := feedback.NewTestCorpus(10, day0, func(i int) ([5]int, string) { return [5]int{3, 3, 3, 3, 3}, "" })
	for i, r := range records {
		if i >= 5 {
			labels[r.ID] = feedback.SentimentPositive
		} else {
			labels[r.ID] = feedback.SentimentNegative
		}
	}
	b := newTestBuilder(t, labelClassifier{labels: labels})

	snap := b.Build(context.Background(), Input{Records: records})
	require.NotNil(t, snap.SentimentForecast)
	assert.Equal(t, "increasing", snap.SentimentForecast.Direction)
	assert.Len(t, snap.SentimentForecast.History, 10)
}

func TestBuild_TrainingStatusPassedThrough(t *testing.T) {
	b := newTestBuilder(t, labelClassifier{})
	job := feedback.TrainingJob{RunID: "run-1", Status: feedback.JobRunning, Progress: 40, Message: "importance"}

	snap := b.Build(context.Background(), Input{Job: job})
	assert.Equal(t, job, snap.TrainingStatus)
}

func TestBuild_ReusesCachedClassifications(t *testing.T) {
	inner := &countingTextClassifier{inner: sentiment.NewLexiconClassifier(nil)}
	cached, err := sentiment.NewCachingClassifier(inner, 64, zap.NewNop())
	require.NoError(t, err)
	b := newTestBuilder(t, cached)

	records := []feedback.Record{
		feedback.NewTestRecord("a", day0, [5]int{5, 5, 5, 5, 5}, "My manager is supportive and communication is clear"),
		feedback.NewTestRecord("b", day0, [5]int{2, 2, 2, 2, 2}, "The pay could be better and the hours are long"),
		feedback.NewTestRecord("c", day0, [5]int{3, 3, 3, 3, 3}, "the office is on the third floor"),
	}

	first := b.Build(context.Background(), Input{Records: records})
	second := b.Build(context.Background(), Input{Records: records})

	assert.Equal(t, int32(3), inner.calls.Load())
	assert.Equal(t, SentimentBreakdown{Positive: 1, Neutral: 1, Negative: 1}, first.SentimentBreakdown)
	assert.Equal(t, first.SentimentBreakdown, second.SentimentBreakdown)
}

func TestBuild_ConcurrentReaders(t *testing.T) {
	b := newTestBuilder(t, labelClassifier{})
	records := feedback.NewTestCorpus(50, day0, func(i int) ([5]int, string) {
		v := i%5 + 1
		return [5]int{v, v, v, v, v}, "steady"
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap := b.Build(context.Background(), Input{Records: records})
			assert.Equal(t, 50, snap.TotalResponses)
		}()
	}
	wg.Wait()
}
