// Package importance turns per-section correlation coefficients into a
// normalized feature-importance distribution that sums to exactly 1.
package importance

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feedbackd/internal/correlation"
	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
)

// Tolerance is the allowed deviation of a normalized set's sum from 1.
const Tolerance = 1e-4

// CoefficientSource provides per-section correlation coefficients.
type CoefficientSource interface {
	Coefficients(ctx context.Context, records []feedback.Record) ([]correlation.Coefficient, error)
}

// Engine computes feature importance from a CoefficientSource.
type Engine struct {
	source CoefficientSource
	logger *zap.Logger
}

// NewEngine creates a feature importance engine.
func NewEngine(source CoefficientSource, logger *zap.Logger) (*Engine, error) {
	if source == nil {
		return nil, fmt.Errorf("coefficient source cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Engine{source: source, logger: logger}, nil
}

// Train returns one FeatureImportance per qualifying section, normalized to
// sum to 1. When every coefficient is zero the result is empty.
func (e *Engine) Train(ctx context.Context, records []feedback.Record) ([]feedback.FeatureImportance, error) {
	coeffs, err := e.source.Coefficients(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("computing coefficients: %w", err)
	}

	raw := make([]feedback.FeatureImportance, 0, len(coeffs))
	for _, c := range coeffs {
		raw = append(raw, feedback.FeatureImportance{
			Section:     c.Section,
			Importance:  math.Abs(c.R),
			Correlation: c.R,
		})
	}

	out := Normalize(raw)
	if len(out) == 0 {
		e.logger.Debug("feature importance degenerate, emitting empty set",
			zap.Int("sections", len(coeffs)),
		)
	}
	return out, nil
}

// Normalize divides each magnitude by the total so the set sums to 1, then
// moves any floating-point residual onto the largest element. A zero or
// non-finite total yields an empty, non-nil slice.
func Normalize(raw []feedback.FeatureImportance) []feedback.FeatureImportance {
	var sum float64
	for _, fi := range raw {
		sum += math.Abs(fi.Importance)
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return []feedback.FeatureImportance{}
	}

	out := make([]feedback.FeatureImportance, len(raw))
	largest := 0
	var total float64
	for i, fi := range raw {
		fi.Importance = math.Abs(fi.Importance) / sum
		out[i] = fi
		total += fi.Importance
		if fi.Importance > out[largest].Importance {
			largest = i
		}
	}
	out[largest].Importance += 1 - total
	return out
}

// Percentages converts importances to percentages rounded to the given
// number of decimal places. The rounding residual is applied to the largest
// share so the displayed values add up to exactly 100.
func Percentages(imps []feedback.FeatureImportance, places int) map[feedback.Section]float64 {
	out := make(map[feedback.Section]float64, len(imps))
	if len(imps) == 0 {
		return out
	}

	scale := math.Pow(10, float64(places))
	var units, target int64 = 0, int64(math.Round(100 * scale))
	largest := imps[0].Section
	largestValue := imps[0].Importance
	rounded := make(map[feedback.Section]int64, len(imps))
	for _, fi := range imps {
		u := int64(math.Round(fi.Importance * 100 * scale))
		rounded[fi.Section] = u
		units += u
		if fi.Importance > largestValue {
			largest, largestValue = fi.Section, fi.Importance
		}
	}
	rounded[largest] += target - units

	for s, u := range rounded {
		out[s] = float64(u) / scale
	}
	return out
}

// Sum returns the total importance of a set.
func Sum(imps []feedback.FeatureImportance) float64 {
	var total float64
	for _, fi := range imps {
		total += fi.Importance
	}
	return total
}

// MirrorRows expresses an importance set as reserved "Feature Importance"
// correlation rows so one correlation listing covers both families. Keywords
// and sample size come from the section's overall rating row.
func MirrorRows(imps []feedback.FeatureImportance, rows []feedback.SectionTopicCorrelation) []feedback.SectionTopicCorrelation {
	overall := make(map[feedback.Section]feedback.SectionTopicCorrelation)
	for _, r := range rows {
		if r.Topic == feedback.TopicOverallRating {
			overall[r.Section] = r
		}
	}

	out := make([]feedback.SectionTopicCorrelation, 0, len(imps))
	for _, fi := range imps {
		base, ok := overall[fi.Section]
		if !ok {
			continue
		}
		kw := make(map[string]float64, len(base.Keywords))
		for k, v := range base.Keywords {
			kw[k] = v
		}
		out = append(out, feedback.NewCorrelation(
			fi.Section,
			feedback.FeatureImportanceTopic(fi.Section, fi.Correlation < 0),
			fi.Correlation,
			kw,
			base.SampleSize,
		))
	}
	return out
}
