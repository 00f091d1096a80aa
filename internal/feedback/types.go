package feedback

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Section is one of the fixed feedback categories.
type Section string

const (
	// SectionCompensation covers pay, bonuses and benefits.
	SectionCompensation Section = "Compensation & Benefits"
	// SectionWorkLife covers workload, schedules and leave.
	SectionWorkLife Section = "Work-Life Balance"
	// SectionCulture covers culture, values and inclusion.
	SectionCulture Section = "Culture & Values"
	// SectionCareer covers growth, training and progression.
	SectionCareer Section = "Career Development"
	// SectionManagement covers managers and leadership.
	SectionManagement Section = "Management & Leadership"
)

// SectionOverall labels corpus-wide rows that belong to no single section.
// It is not a scored section and Valid reports false for it.
const SectionOverall Section = "Overall Rating"

var sections = []Section{
	SectionCompensation,
	SectionWorkLife,
	SectionCulture,
	SectionCareer,
	SectionManagement,
}

// Sections returns the sections in canonical order.
func Sections() []Section {
	out := make([]Section, len(sections))
	copy(out, sections)
	return out
}

// Valid reports whether s is a known section.
func (s Section) Valid() bool {
	for _, known := range sections {
		if s == known {
			return true
		}
	}
	return false
}

const (
	// MinScore is the lowest Likert score.
	MinScore = 1
	// MaxScore is the highest Likert score.
	MaxScore = 5
)

// Sentiment is a classifier label.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Valid reports whether s is one of the three labels.
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	}
	return false
}

// Value maps the label onto -1, 0 or +1.
func (s Sentiment) Value() float64 {
	switch s {
	case SentimentPositive:
		return 1
	case SentimentNegative:
		return -1
	}
	return 0
}

// Record is one respondent submission. Records are immutable once stored.
type Record struct {
	ID          string          `json:"record_id"`
	UserID      string          `json:"user_id,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
	Scores      map[Section]int `json:"section_scores"`
	Text        string          `json:"free_text"`
	// Sentiment is empty until a classifier labels the record.
	Sentiment Sentiment `json:"sentiment,omitempty"`
	// Draft marks a submission the respondent has not finished.
	Draft bool `json:"draft,omitempty"`
}

// Completed reports whether the respondent finished the submission.
func (r Record) Completed() bool {
	return !r.Draft
}

// Score returns the score for a section and whether it is present and in range.
func (r Record) Score(s Section) (int, bool) {
	v, ok := r.Scores[s]
	if !ok || v < MinScore || v > MaxScore {
		return 0, false
	}
	return v, true
}

// Composite returns the mean of all valid section scores, or 0 when none are present.
func (r Record) Composite() float64 {
	return r.composite("")
}

// CompositeExcluding returns the mean of all valid section scores other than s.
func (r Record) CompositeExcluding(s Section) float64 {
	return r.composite(s)
}

func (r Record) composite(skip Section) float64 {
	var sum, n int
	for _, s := range sections {
		if s == skip {
			continue
		}
		if v, ok := r.Score(s); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

// Validate checks that a completed record carries every section in range.
// Draft records only need in-range values for the sections they carry.
func (r Record) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: record_id is required", ErrInvalidRecord)
	}
	if r.SubmittedAt.IsZero() {
		return fmt.Errorf("%w: record %s: submitted_at is required", ErrInvalidRecord, r.ID)
	}
	for s, v := range r.Scores {
		if !s.Valid() {
			return fmt.Errorf("%w: record %s: unknown section %q", ErrInvalidRecord, r.ID, s)
		}
		if v < MinScore || v > MaxScore {
			return fmt.Errorf("%w: record %s: %s score %d out of range", ErrInvalidRecord, r.ID, s, v)
		}
	}
	if !r.Draft {
		for _, s := range sections {
			if _, ok := r.Scores[s]; !ok {
				return fmt.Errorf("%w: record %s: missing %s score", ErrInvalidRecord, r.ID, s)
			}
		}
	}
	if r.Sentiment != "" && !r.Sentiment.Valid() {
		return fmt.Errorf("%w: record %s: unknown sentiment %q", ErrInvalidRecord, r.ID, r.Sentiment)
	}
	return nil
}

// Completed filters records down to finished submissions.
func Completed(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.Completed() {
			out = append(out, r)
		}
	}
	return out
}

// Topic names reserved for synthetic rows.
const (
	TopicOverallRating = "Overall Rating"
	// TopicCommon is the SectionOverall row of terms shared by the low-score
	// tails of several sections.
	TopicCommon = "Overall Rating Topics"

	featureImportanceTopic = "Feature Importance"
	driversTopic           = "Drivers"
)

// FeatureImportanceTopic names the mirrored feature-importance row for a section.
func FeatureImportanceTopic(s Section, negative bool) string {
	return fmt.Sprintf("%s %s (%s)", s, featureImportanceTopic, polarity(negative))
}

// DriversTopic names a keyword topic row for a section's high or low extreme.
func DriversTopic(s Section, negative bool) string {
	return fmt.Sprintf("%s %s (%s)", s, driversTopic, polarity(negative))
}

// IsFeatureImportanceTopic reports whether topic belongs to the reserved
// feature-importance family.
func IsFeatureImportanceTopic(topic string) bool {
	return strings.Contains(topic, " "+featureImportanceTopic+" (")
}

func polarity(negative bool) string {
	if negative {
		return "Negative"
	}
	return "Positive"
}

// SectionTopicCorrelation is one row of a trained correlation set.
type SectionTopicCorrelation struct {
	Section    Section            `json:"section_name"`
	Topic      string             `json:"topic_name"`
	Score      float64            `json:"correlation_score"`
	IsNegative bool               `json:"is_negative"`
	Keywords   map[string]float64 `json:"keywords"`
	SampleSize int                `json:"sample_size"`
}

// NewCorrelation builds a row and derives IsNegative from the score.
func NewCorrelation(s Section, topic string, score float64, keywords map[string]float64, sampleSize int) SectionTopicCorrelation {
	if keywords == nil {
		keywords = map[string]float64{}
	}
	return SectionTopicCorrelation{
		Section:    s,
		Topic:      topic,
		Score:      score,
		IsNegative: score < 0,
		Keywords:   keywords,
		SampleSize: sampleSize,
	}
}

// TopKeywords returns up to n keywords ordered by weight, heaviest first.
// n <= 0 returns all keywords.
func (c SectionTopicCorrelation) TopKeywords(n int) []string {
	return RankKeywords(c.Keywords, n)
}

// RankKeywords orders weighted words by weight descending, then alphabetically.
func RankKeywords(weights map[string]float64, n int) []string {
	words := make([]string, 0, len(weights))
	for w := range weights {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		wi, wj := weights[words[i]], weights[words[j]]
		if wi != wj {
			return wi > wj
		}
		return words[i] < words[j]
	})
	if n > 0 && len(words) > n {
		words = words[:n]
	}
	return words
}

// FeatureImportance is one section's normalized share of influence on overall
// satisfaction. Correlation keeps the signed coefficient the share came from.
type FeatureImportance struct {
	Section     Section `json:"section_name"`
	Importance  float64 `json:"importance"`
	Correlation float64 `json:"correlation"`
}

// ResultSet is everything one successful training run produces.
type ResultSet struct {
	RunID        string                    `json:"run_id,omitempty"`
	TrainedAt    time.Time                 `json:"trained_at"`
	Correlations []SectionTopicCorrelation `json:"correlations"`
	Importances  []FeatureImportance       `json:"importances"`
}

// Empty reports whether the set holds no rows.
func (rs ResultSet) Empty() bool {
	return len(rs.Correlations) == 0 && len(rs.Importances) == 0
}

// JobStatus is the training job state.
type JobStatus string

const (
	JobIdle      JobStatus = "idle"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobError     JobStatus = "error"
)

// TrainingJob is the pollable status record of the process-wide training job.
type TrainingJob struct {
	RunID      string     `json:"run_id,omitempty"`
	Status     JobStatus  `json:"status"`
	Progress   int        `json:"progress"`
	Message    string     `json:"message"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Terminal reports whether the job has finished, successfully or not.
func (j TrainingJob) Terminal() bool {
	return j.Status == JobCompleted || j.Status == JobError
}
