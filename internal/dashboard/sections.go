package dashboard

import (
	"sort"
	"strings"

	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
)

// TopicSummary is one trained topic row as the dashboard shows it.
type TopicSummary struct {
	Topic       string   `json:"topic_name"`
	Correlation float64  `json:"correlation"`
	Keywords    []string `json:"keywords"`
}

// SectionInsight reads one section of a user's latest submission against the
// section's negative topics. Score is nil and NoData set when the user left
// the section unscored.
type SectionInsight struct {
	Score           *float64       `json:"score"`
	IsLow           bool           `json:"is_low"`
	NegativeTopics  []TopicSummary `json:"negative_topics"`
	Recommendations []string       `json:"recommendations"`
	NoData          bool           `json:"no_data,omitempty"`
}

var sectionRecommendations = map[feedback.Section][]string{
	feedback.SectionCompensation: {
		"Consider reviewing salary structures and benefits packages",
		"Conduct market research on competitive compensation",
		"Implement transparent pay scales and promotion criteria",
	},
	feedback.SectionWorkLife: {
		"Review workload distribution and deadlines",
		"Implement flexible working arrangements",
		"Encourage proper use of vacation and sick leave",
	},
	feedback.SectionCulture: {
		"Assess workplace safety and comfort",
		"Ensure adequate resources and tools are available",
		"Promote inclusive and positive culture initiatives",
	},
	feedback.SectionCareer: {
		"Create clear career progression paths",
		"Provide regular training and skill development opportunities",
		"Implement mentorship programs",
	},
	feedback.SectionManagement: {
		"Improve communication channels and frequency",
		"Provide management training and support",
		"Create open feedback mechanisms",
	},
}

// keywordRecommendations are checked in order; a topic triggers at most one.
var keywordRecommendations = []struct {
	keyword string
	advice  string
}{
	{"workload", "Address workload concerns and resource allocation"},
	{"communication", "Improve communication processes and transparency"},
	{"recognition", "Implement better recognition and reward systems"},
}

const sectionRecommendationCount = 2

// sectionInsights builds a SectionInsight for every section of rec.
func sectionInsights(rec feedback.Record, rows []feedback.SectionTopicCorrelation, lowBar float64, keywords int) map[feedback.Section]SectionInsight {
	negative := make(map[feedback.Section][]feedback.SectionTopicCorrelation)
	for _, c := range rows {
		if c.IsNegative && c.Section.Valid() && !feedback.IsFeatureImportanceTopic(c.Topic) {
			negative[c.Section] = append(negative[c.Section], c)
		}
	}

	out := make(map[feedback.Section]SectionInsight, len(feedback.Sections()))
	for _, s := range feedback.Sections() {
		v, ok := rec.Score(s)
		if !ok {
			out[s] = SectionInsight{NegativeTopics: []TopicSummary{}, Recommendations: []string{}, NoData: true}
			continue
		}

		cs := negative[s]
		sort.SliceStable(cs, func(i, j int) bool { return cs[i].Score < cs[j].Score })
		topics := make([]TopicSummary, 0, len(cs))
		for _, c := range cs {
			topics = append(topics, summarizeTopic(c, keywords))
		}

		score := float64(v)
		out[s] = SectionInsight{
			Score:           &score,
			IsLow:           score < lowBar,
			NegativeTopics:  topics,
			Recommendations: recommendations(s, topics),
		}
	}
	return out
}

func summarizeTopic(c feedback.SectionTopicCorrelation, keywords int) TopicSummary {
	return TopicSummary{Topic: c.Topic, Correlation: c.Score, Keywords: c.TopKeywords(keywords)}
}

// recommendations turns a section's negative topics into advice: one
// keyword-triggered line per topic, then the section's leading suggestions.
// No topics means no advice.
func recommendations(s feedback.Section, topics []TopicSummary) []string {
	out := []string{}
	if len(topics) == 0 {
		return out
	}

	seen := make(map[string]bool)
	add := func(r string) {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	for _, t := range topics {
		joined := strings.ToLower(strings.Join(t.Keywords, " "))
		for _, kr := range keywordRecommendations {
			if strings.Contains(joined, kr.keyword) {
				add(kr.advice)
				break
			}
		}
	}
	recs := sectionRecommendations[s]
	if len(recs) > sectionRecommendationCount {
		recs = recs[:sectionRecommendationCount]
	}
	for _, r := range recs {
		add(r)
	}
	return out
}

// commonTopics returns the corpus-wide common topics row, if training produced one.
func commonTopics(rows []feedback.SectionTopicCorrelation, keywords int) *TopicSummary {
	for _, c := range rows {
		if c.Section == feedback.SectionOverall && c.Topic == feedback.TopicCommon {
			t := summarizeTopic(c, keywords)
			return &t
		}
	}
	return nil
}
