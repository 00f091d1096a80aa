package trend

import (
	"sort"
	"time"
)

// Forecast trend directions.
const (
	DirectionIncreasing = "increasing"
	DirectionDecreasing = "decreasing"
	DirectionStable     = "stable"
)

const dateLayout = "2006-01-02"

// Observation is one dated sentiment value in [-1, 1].
type Observation struct {
	At    time.Time
	Value float64
}

// DailyPoint is a dated value on the forecast chart.
type DailyPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// Forecast is a linear projection of daily mean sentiment.
type Forecast struct {
	Direction string       `json:"trend"`
	Slope     float64      `json:"slope"`
	History   []DailyPoint `json:"history"`
	Projected []DailyPoint `json:"projected"`
}

// ForecastOptions tunes SentimentForecast.
type ForecastOptions struct {
	Window     time.Duration
	MinPoints  int
	MinDays    int
	Horizon    int
	StableBand float64
}

// DefaultForecastOptions returns a 90 day window projected 7 days ahead.
func DefaultForecastOptions() ForecastOptions {
	return ForecastOptions{
		Window:     90 * 24 * time.Hour,
		MinPoints:  5,
		MinDays:    7,
		Horizon:    7,
		StableBand: 0.01,
	}
}

// SentimentForecast averages observations per day over the window ending at
// now, fits an ordinary least squares line through the daily means and
// projects it Horizon days past now. The second result is false when there
// are too few observations or distinct days to fit.
func SentimentForecast(obs []Observation, now time.Time, opts ForecastOptions) (Forecast, bool) {
	if opts.Horizon <= 0 {
		opts.Horizon = DefaultForecastOptions().Horizon
	}
	since := now.Add(-opts.Window)

	sums := make(map[string]float64)
	counts := make(map[string]int)
	points := 0
	for _, o := range obs {
		if o.At.Before(since) || o.At.After(now) {
			continue
		}
		d := o.At.UTC().Format(dateLayout)
		sums[d] += o.Value
		counts[d]++
		points++
	}
	if points < opts.MinPoints || len(counts) < opts.MinDays {
		return Forecast{}, false
	}

	days := make([]string, 0, len(counts))
	for d := range counts {
		days = append(days, d)
	}
	sort.Strings(days)

	origin, _ := time.Parse(dateLayout, days[0])
	xs := make([]float64, len(days))
	ys := make([]float64, len(days))
	history := make([]DailyPoint, len(days))
	for i, d := range days {
		t, _ := time.Parse(dateLayout, d)
		xs[i] = t.Sub(origin).Hours() / 24
		ys[i] = sums[d] / float64(counts[d])
		history[i] = DailyPoint{Date: d, Value: ys[i]}
	}

	slope, intercept := leastSquares(xs, ys)

	today, _ := time.Parse(dateLayout, now.UTC().Format(dateLayout))
	projected := make([]DailyPoint, 0, opts.Horizon)
	for i := 1; i <= opts.Horizon; i++ {
		t := today.AddDate(0, 0, i)
		x := t.Sub(origin).Hours() / 24
		projected = append(projected, DailyPoint{
			Date:  t.Format(dateLayout),
			Value: clamp(intercept+slope*x, -1, 1),
		})
	}

	direction := DirectionStable
	switch {
	case slope > opts.StableBand:
		direction = DirectionIncreasing
	case slope < -opts.StableBand:
		direction = DirectionDecreasing
	}

	return Forecast{
		Direction: direction,
		Slope:     slope,
		History:   history,
		Projected: projected,
	}, true
}

func leastSquares(xs, ys []float64) (slope, intercept float64) {
	n := float64(len(xs))
	var sx, sy, sxx, sxy float64
	for i := range xs {
		sx += xs[i]
		sy += ys[i]
		sxx += xs[i] * xs[i]
		sxy += xs[i] * ys[i]
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return 0, sy / n
	}
	slope = (n*sxy - sx*sy) / den
	intercept = (sy - slope*sx) / n
	return slope, intercept
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
