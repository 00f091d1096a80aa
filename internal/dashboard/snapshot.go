// Package dashboard assembles the read-optimized dashboard snapshot from the
// record corpus, the current training results and the training job status.
// Building never mutates its inputs and never fails: statistical edge cases
// produce empty sections of the snapshot.
package dashboard

import (
	"time"

	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
	"github.com/fyrsmithlabs/feedbackd/internal/trend"
)

// Insight sources reported in Snapshot.InsightSource.
const (
	SourceFeatureImportance = "feature_importance"
	SourceCorrelation       = "correlation"
	SourceNone              = "none"
)

// SentimentBreakdown counts classifier labels.
type SentimentBreakdown struct {
	Positive int `json:"positive"`
	Neutral  int `json:"neutral"`
	Negative int `json:"negative"`
}

func (b *SentimentBreakdown) add(s feedback.Sentiment) {
	switch s {
	case feedback.SentimentPositive:
		b.Positive++
	case feedback.SentimentNegative:
		b.Negative++
	default:
		b.Neutral++
	}
}

// SectionScore is a section's mean score over completed records.
type SectionScore struct {
	Section   feedback.Section `json:"section"`
	AvgScore  float64          `json:"avg_score"`
	Responses int              `json:"responses"`
}

// Insight is one strength or weakness.
type Insight struct {
	Section  feedback.Section `json:"section"`
	Keywords []string         `json:"keywords"`
	Score    float64          `json:"score"`
}

// Insights holds the generated strengths and weaknesses. Both lists are
// always non-nil.
type Insights struct {
	Strengths  []Insight `json:"strengths"`
	Weaknesses []Insight `json:"weaknesses"`
}

func emptyInsights() Insights {
	return Insights{Strengths: []Insight{}, Weaknesses: []Insight{}}
}

// Empty reports whether there are no insights at all.
func (i Insights) Empty() bool {
	return len(i.Strengths) == 0 && len(i.Weaknesses) == 0
}

// ImportanceShare is a feature importance with its display percentage.
type ImportanceShare struct {
	Section     feedback.Section `json:"section"`
	Importance  float64          `json:"importance"`
	Percent     float64          `json:"percent"`
	Correlation float64          `json:"correlation"`
}

// PerformanceSummary classifies sections as strong or weak by average score.
type PerformanceSummary struct {
	Message         string                       `json:"message"`
	Strong          []SectionScore               `json:"strong_sections"`
	Weak            []SectionScore               `json:"weak_sections"`
	AllBelowAverage bool                         `json:"all_below_average"`
	Averages        map[feedback.Section]float64 `json:"section_averages"`
}

// SectionSentiment splits classifier labels by how records scored a section.
type SectionSentiment struct {
	Section feedback.Section   `json:"section"`
	High    SentimentBreakdown `json:"high_scores"`
	Low     SentimentBreakdown `json:"low_scores"`
}

// Snapshot is the dashboard payload.
type Snapshot struct {
	TotalResponses       int                  `json:"total_responses"`
	SentimentBreakdown   SentimentBreakdown   `json:"sentiment_breakdown"`
	CompanyPerformance   []SectionScore       `json:"company_performance"`
	GeneratedInsights    Insights             `json:"generated_insights"`
	InsightSource        string               `json:"insight_source"`
	SentimentTrend       []trend.Bucket       `json:"sentiment_trend"`
	UserLatestSubmission *trend.UserPoint     `json:"user_latest_submission,omitempty"`
	FeatureImportance    []ImportanceShare    `json:"feature_importance"`
	PerformanceSummary   *PerformanceSummary  `json:"performance_summary,omitempty"`
	SectionSentiment     []SectionSentiment   `json:"section_sentiment"`
	SentimentForecast    *trend.Forecast      `json:"sentiment_forecast,omitempty"`
	CommonTopics         *TopicSummary        `json:"common_topics,omitempty"`
	TrainingStatus       feedback.TrainingJob `json:"training_status"`
	GeneratedAt          time.Time            `json:"generated_at"`

	// UserSectionInsights is keyed by section and set only when the requesting
	// user has a completed record.
	UserSectionInsights map[feedback.Section]SectionInsight `json:"user_section_insights,omitempty"`
}
