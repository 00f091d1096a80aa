package dashboard

import (
	"math"
	"sort"

	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
)

// InsightInput is what insight providers see.
type InsightInput struct {
	Averages     map[feedback.Section]float64
	Correlations []feedback.SectionTopicCorrelation
	Importances  []feedback.FeatureImportance
}

// InsightProvider derives strengths and weaknesses from one kind of training
// output. ok is false when the provider has nothing to say, in which case the
// builder moves on to the next provider.
type InsightProvider interface {
	Name() string
	Insights(in InsightInput) (insights Insights, ok bool)
}

// ImportanceProvider derives insights from feature importances.
//
// A section is a weakness when its average is below LowBar or its
// correlation with overall satisfaction is negative. Otherwise it is a
// strength when its average reaches HighBar or it correlates positively.
// Keywords come from the section's Overall Rating row.
type ImportanceProvider struct {
	HighBar  float64
	LowBar   float64
	Keywords int
}

// Name implements InsightProvider.
func (p ImportanceProvider) Name() string { return SourceFeatureImportance }

// Insights implements InsightProvider.
func (p ImportanceProvider) Insights(in InsightInput) (Insights, bool) {
	if len(in.Importances) == 0 {
		return Insights{}, false
	}

	keywords := make(map[feedback.Section][]string)
	for _, c := range in.Correlations {
		if c.Topic == feedback.TopicOverallRating {
			keywords[c.Section] = c.TopKeywords(p.Keywords)
		}
	}

	imps := append([]feedback.FeatureImportance(nil), in.Importances...)
	sort.SliceStable(imps, func(i, j int) bool { return imps[i].Importance > imps[j].Importance })

	out := emptyInsights()
	for _, fi := range imps {
		avg, scored := in.Averages[fi.Section]
		if !scored {
			continue
		}
		kw := keywords[fi.Section]
		if kw == nil {
			kw = []string{}
		}
		insight := Insight{Section: fi.Section, Keywords: kw, Score: fi.Importance}
		switch {
		case avg < p.LowBar || fi.Correlation < 0:
			out.Weaknesses = append(out.Weaknesses, insight)
		case avg >= p.HighBar || fi.Correlation > 0:
			out.Strengths = append(out.Strengths, insight)
		}
	}
	return out, !out.Empty()
}

// CorrelationProvider derives insights from the sign of correlation rows.
// Feature-importance rows and corpus-wide rows are ignored, as are rows whose
// magnitude does not exceed Threshold. A row without keywords still counts
// and reports an empty keyword list. Each section appears at most once per
// list, represented by its strongest row.
type CorrelationProvider struct {
	Threshold float64
	Max       int
	Keywords  int
}

// Name implements InsightProvider.
func (p CorrelationProvider) Name() string { return SourceCorrelation }

// Insights implements InsightProvider.
func (p CorrelationProvider) Insights(in InsightInput) (Insights, bool) {
	var pos, neg []feedback.SectionTopicCorrelation
	for _, c := range in.Correlations {
		if feedback.IsFeatureImportanceTopic(c.Topic) || !c.Section.Valid() {
			continue
		}
		if math.Abs(c.Score) <= p.Threshold {
			continue
		}
		if c.Score > 0 {
			pos = append(pos, c)
		} else {
			neg = append(neg, c)
		}
	}
	sort.SliceStable(pos, func(i, j int) bool { return pos[i].Score > pos[j].Score })
	sort.SliceStable(neg, func(i, j int) bool { return neg[i].Score < neg[j].Score })

	out := Insights{
		Strengths:  p.collect(pos),
		Weaknesses: p.collect(neg),
	}
	return out, !out.Empty()
}

func (p CorrelationProvider) collect(rows []feedback.SectionTopicCorrelation) []Insight {
	out := []Insight{}
	seen := make(map[feedback.Section]bool)
	for _, c := range rows {
		if seen[c.Section] {
			continue
		}
		if p.Max > 0 && len(out) == p.Max {
			break
		}
		seen[c.Section] = true
		out = append(out, Insight{Section: c.Section, Keywords: c.TopKeywords(p.Keywords), Score: c.Score})
	}
	return out
}
