package http

import (
	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// TrainingResponse is the response body for the training endpoints.
type TrainingResponse struct {
	Started bool                 `json:"started"`
	Job     feedback.TrainingJob `json:"job"`
}

// CorrelationsResponse is the response body for GET /api/v1/correlations.
type CorrelationsResponse struct {
	Count        int                                `json:"count"`
	Correlations []feedback.SectionTopicCorrelation `json:"correlations"`
}

// ImportanceEntry is one feature importance with its display percentage.
type ImportanceEntry struct {
	Section     feedback.Section `json:"section"`
	Importance  float64          `json:"importance"`
	Percent     float64          `json:"percent"`
	Correlation float64          `json:"correlation"`
}

// ImportanceResponse is the response body for GET /api/v1/importance.
type ImportanceResponse struct {
	FeatureImportance []ImportanceEntry `json:"feature_importance"`
}
