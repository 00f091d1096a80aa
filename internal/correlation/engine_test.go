package correlation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
)

var q1 = time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC)

// supportiveCorpus is 20 records over Q1-Q2 2024. The first four rate
// management 5/5 and praise a supportive manager; the rest are lukewarm.
func supportiveCorpus() []feedback.Record {
	records := make([]feedback.Record, 0, 20)
	for i := 0; i < 20; i++ {
		var scores [5]int
		var text string
		switch {
		case i < 4:
			scores = [5]int{4, 4, 4, 4, 5}
			text = "My manager is supportive and communication is clear"
		case i%2 == 1:
			scores = [5]int{3, 3, 3, 3, 3}
			text = "The pay could be better and the hours are long"
		default:
			scores = [5]int{2, 3, 3, 2, 2}
			text = "The pay could be better and the hours are long"
		}
		at := q1.AddDate(0, 0, i*8)
		records = append(records, feedback.NewTestRecord(recordID(i), at, scores, text))
	}
	return records
}

func recordID(i int) string {
	return "r" + string(rune('a'+i/10)) + string(rune('0'+i%10))
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(zap.NewNop(), opts...)
	require.NoError(t, err)
	return e
}

func findRow(rows []feedback.SectionTopicCorrelation, s feedback.Section, topic string) (feedback.SectionTopicCorrelation, bool) {
	for _, r := range rows {
		if r.Section == s && r.Topic == topic {
			return r, true
		}
	}
	return feedback.SectionTopicCorrelation{}, false
}

func TestNewEngine(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		e := newTestEngine(t)
		assert.Equal(t, DefaultMinSamples, e.minSamples)
		assert.Equal(t, DefaultMaxKeywords, e.maxKeywords)
		assert.InDelta(t, DefaultTertile, e.tertile, 1e-9)
	})

	t.Run("nil logger", func(t *testing.T) {
		_, err := NewEngine(nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger cannot be nil")
	})

	t.Run("invalid options", func(t *testing.T) {
		_, err := NewEngine(zap.NewNop(), WithTertile(0.7))
		assert.Error(t, err)
		_, err = NewEngine(zap.NewNop(), WithMinSamples(1))
		assert.Error(t, err)
		_, err = NewEngine(zap.NewNop(), WithMaxKeywords(0))
		assert.Error(t, err)
	})
}

func TestEngine_Train_SupportiveManagement(t *testing.T) {
	e := newTestEngine(t)

	rows, err := e.Train(context.Background(), supportiveCorpus())
	require.NoError(t, err)

	overall, ok := findRow(rows, feedback.SectionManagement, feedback.TopicOverallRating)
	require.True(t, ok, "expected an overall row for management")
	assert.Greater(t, overall.Score, 0.0)
	assert.False(t, overall.IsNegative)
	assert.Equal(t, 20, overall.SampleSize)
	assert.Contains(t, overall.TopKeywords(3), "supportive")

	positive, ok := findRow(rows, feedback.SectionManagement, feedback.DriversTopic(feedback.SectionManagement, false))
	require.True(t, ok, "expected a positive drivers topic")
	assert.Greater(t, positive.Score, 0.0)
	assert.Contains(t, positive.Keywords, "supportive")
	assert.LessOrEqual(t, len(positive.Keywords), DefaultMaxKeywords)

	// The low tails of compensation, career and management all complain about
	// pay and hours, so those words move to the corpus-wide row.
	_, ok = findRow(rows, feedback.SectionManagement, feedback.DriversTopic(feedback.SectionManagement, true))
	assert.False(t, ok, "shared low-tail words must not form a section topic")

	common, ok := findRow(rows, feedback.SectionOverall, feedback.TopicCommon)
	require.True(t, ok, "expected a common topics row")
	assert.Contains(t, common.Keywords, "pay")
	assert.Contains(t, common.Keywords, "hours")
	assert.NotContains(t, common.Keywords, "supportive")
	assert.True(t, common.IsNegative, "records mentioning the common words score lower")
	assert.Equal(t, 20, common.SampleSize)
}

func TestEngine_Train_CommonTerms(t *testing.T) {
	t.Run("excluded from section drivers", func(t *testing.T) {
		e := newTestEngine(t)
		rows, err := e.Train(context.Background(), supportiveCorpus())
		require.NoError(t, err)

		common, ok := findRow(rows, feedback.SectionOverall, feedback.TopicCommon)
		require.True(t, ok)
		for _, row := range rows {
			if row.Section == feedback.SectionOverall || !row.IsNegative {
				continue
			}
			for word := range row.Keywords {
				assert.NotContains(t, common.Keywords, word, "%s/%s", row.Section, row.Topic)
			}
		}
	})

	t.Run("needs enough sections", func(t *testing.T) {
		e := newTestEngine(t, WithCommonSections(4))
		rows, err := e.Train(context.Background(), supportiveCorpus())
		require.NoError(t, err)

		_, ok := findRow(rows, feedback.SectionOverall, feedback.TopicCommon)
		assert.False(t, ok, "only three sections share the low-tail words")

		negative, ok := findRow(rows, feedback.SectionManagement, feedback.DriversTopic(feedback.SectionManagement, true))
		require.True(t, ok, "unshared words stay with their section")
		assert.True(t, negative.IsNegative)
		assert.Contains(t, negative.Keywords, "pay")
		assert.NotContains(t, negative.Keywords, "supportive")
	})

	t.Run("invalid threshold", func(t *testing.T) {
		_, err := NewEngine(zap.NewNop(), WithCommonSections(1))
		assert.Error(t, err)
	})
}

func TestEngine_Train_TopicNeedsCoOccurrence(t *testing.T) {
	pairs := []string{"alpha bravo", "bravo charlie", "alpha charlie", "alpha bravo"}
	corpus := func() []feedback.Record {
		return feedback.NewTestCorpus(12, q1, func(i int) ([5]int, string) {
			if i < len(pairs) {
				return [5]int{3, 3, 3, 3, 5}, pairs[i]
			}
			return [5]int{3, 3, 3, 3, 1}, "no comment"
		})
	}
	topic := feedback.DriversTopic(feedback.SectionManagement, false)

	e := newTestEngine(t)
	rows, err := e.Train(context.Background(), corpus())
	require.NoError(t, err)
	overall, ok := findRow(rows, feedback.SectionManagement, feedback.TopicOverallRating)
	require.True(t, ok)
	assert.Len(t, overall.Keywords, 3)
	_, ok = findRow(rows, feedback.SectionManagement, topic)
	assert.False(t, ok, "no record mentions three topic words together")

	e = newTestEngine(t, WithMinTopicTerms(2))
	rows, err = e.Train(context.Background(), corpus())
	require.NoError(t, err)
	_, ok = findRow(rows, feedback.SectionManagement, topic)
	assert.True(t, ok, "pairs are enough when two terms make a topic")
}

func TestEngine_Train_KeywordWeights(t *testing.T) {
	e := newTestEngine(t)

	rows, err := e.Train(context.Background(), supportiveCorpus())
	require.NoError(t, err)

	for _, row := range rows {
		var top float64
		for word, w := range row.Keywords {
			assert.GreaterOrEqual(t, w, 0.0, "%s/%s keyword %s", row.Section, row.Topic, word)
			assert.LessOrEqual(t, w, 1.0, "%s/%s keyword %s", row.Section, row.Topic, word)
			if w > top {
				top = w
			}
		}
		if len(row.Keywords) > 0 {
			assert.InDelta(t, 1.0, top, 1e-9, "heaviest keyword is normalized to 1")
		}
		assert.GreaterOrEqual(t, row.Score, -1.0)
		assert.LessOrEqual(t, row.Score, 1.0)
		assert.Equal(t, row.Score < 0, row.IsNegative)
	}
}

func TestEngine_Train_BelowThreshold(t *testing.T) {
	e := newTestEngine(t)
	records := supportiveCorpus()[:2]

	rows, err := e.Train(context.Background(), records)
	require.NoError(t, err)
	assert.Empty(t, rows)

	t.Run("threshold is configurable", func(t *testing.T) {
		e := newTestEngine(t, WithMinSamples(4))
		rows, err := e.Train(context.Background(), supportiveCorpus()[:3])
		require.NoError(t, err)
		assert.Empty(t, rows)

		rows, err = e.Train(context.Background(), supportiveCorpus()[:6])
		require.NoError(t, err)
		for _, s := range feedback.Sections() {
			_, ok := findRow(rows, s, feedback.TopicOverallRating)
			assert.True(t, ok, "section %s should have a row", s)
		}
	})

	t.Run("drafts do not count", func(t *testing.T) {
		records := supportiveCorpus()[:6]
		for i := range records {
			records[i].Draft = true
		}
		rows, err := e.Train(context.Background(), records)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}

func TestEngine_Train_ZeroVariance(t *testing.T) {
	e := newTestEngine(t)
	records := feedback.NewTestCorpus(8, q1, func(i int) ([5]int, string) {
		return [5]int{3, 3, 3, 3, 3}, "steady hours steady pay"
	})

	rows, err := e.Train(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, rows, len(feedback.Sections()))
	for _, row := range rows {
		assert.Equal(t, feedback.TopicOverallRating, row.Topic)
		assert.Equal(t, 0.0, row.Score)
		assert.Empty(t, row.Keywords)
	}
}

func TestEngine_Train_Deterministic(t *testing.T) {
	e := newTestEngine(t)

	first, err := e.Train(context.Background(), supportiveCorpus())
	require.NoError(t, err)
	second, err := e.Train(context.Background(), supportiveCorpus())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEngine_Train_Cancelled(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Train(ctx, supportiveCorpus())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_Coefficients(t *testing.T) {
	e := newTestEngine(t)

	coeffs, err := e.Coefficients(context.Background(), supportiveCorpus())
	require.NoError(t, err)
	require.Len(t, coeffs, 5)
	assert.Equal(t, feedback.SectionCompensation, coeffs[0].Section)

	rows, err := e.Train(context.Background(), supportiveCorpus())
	require.NoError(t, err)
	for _, c := range coeffs {
		row, ok := findRow(rows, c.Section, feedback.TopicOverallRating)
		require.True(t, ok)
		assert.InDelta(t, row.Score, c.R, 1e-12, "coefficients must agree with overall rows")
		assert.Equal(t, 20, c.SampleSize)
	}

	empty, err := e.Coefficients(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
