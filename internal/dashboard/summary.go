package dashboard

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
)

const allBelowAverageMessage = "Every section is scoring below average, indicating widespread " +
	"dissatisfaction across all areas of the organization."

// summarize splits section averages at lowBar. It returns nil when no section
// has been scored.
func summarize(perf []SectionScore, lowBar float64) *PerformanceSummary {
	if len(perf) == 0 {
		return nil
	}

	sum := &PerformanceSummary{
		Strong:   []SectionScore{},
		Weak:     []SectionScore{},
		Averages: make(map[feedback.Section]float64, len(perf)),
	}
	for _, p := range perf {
		sum.Averages[p.Section] = p.AvgScore
		if p.AvgScore >= lowBar {
			sum.Strong = append(sum.Strong, p)
		} else {
			sum.Weak = append(sum.Weak, p)
		}
	}

	switch {
	case len(sum.Strong) == 0:
		sum.AllBelowAverage = true
		sum.Message = allBelowAverageMessage
	case len(sum.Weak) == 0:
		sum.Message = fmt.Sprintf("Strong on: %s. Satisfaction is holding up across these areas.", names(sum.Strong))
	default:
		sum.Message = fmt.Sprintf("Strong on: %s. Weak on: %s.", names(sum.Strong), names(sum.Weak))
	}
	return sum
}

func names(scores []SectionScore) string {
	parts := make([]string, len(scores))
	for i, s := range scores {
		parts[i] = string(s.Section)
	}
	return strings.Join(parts, ", ")
}

// splitSentiment counts labels per section among records scoring at or above
// highBar and, separately, below lowBar. labels is parallel to completed.
func splitSentiment(completed []feedback.Record, labels []feedback.Sentiment, highBar, lowBar float64) []SectionSentiment {
	out := []SectionSentiment{}
	for _, s := range feedback.Sections() {
		row := SectionSentiment{Section: s}
		var seen bool
		for i, r := range completed {
			v, ok := r.Score(s)
			if !ok {
				continue
			}
			switch {
			case float64(v) >= highBar:
				row.High.add(labels[i])
				seen = true
			case float64(v) < lowBar:
				row.Low.add(labels[i])
				seen = true
			}
		}
		if seen {
			out = append(out, row)
		}
	}
	return out
}
