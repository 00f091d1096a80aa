package textproc

import "github.com/fyrsmithlabs/feedbackd/internal/feedback"

// DefaultSeedTerms maps each section to words that are known to describe it.
var DefaultSeedTerms = map[feedback.Section][]string{
	feedback.SectionCompensation: {"salary", "pay", "compensation", "benefits", "insurance", "retirement", "bonus"},
	feedback.SectionWorkLife:     {"workload", "schedule", "flexible", "vacation", "leave", "balance", "hours", "overtime"},
	feedback.SectionCulture:      {"culture", "values", "inclusive", "respect", "mission", "ethics", "diversity"},
	feedback.SectionCareer:       {"growth", "training", "development", "skills", "career", "progression", "learning", "promotion"},
	feedback.SectionManagement:   {"manager", "management", "leadership", "communication", "support", "supportive", "guidance"},
}

// SeedTerms returns the seed set for a section. Unknown sections get an empty set.
func SeedTerms(s feedback.Section) map[string]struct{} {
	return toSet(DefaultSeedTerms[s]...)
}
