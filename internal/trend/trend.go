// Package trend buckets feedback by calendar quarter and projects short-term
// sentiment. Everything here is a pure function of its inputs and is cheap
// enough to recompute on every read.
package trend

import (
	"fmt"
	"sort"
	"time"

	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
)

// Bucket is the mean composite score of one calendar quarter.
type Bucket struct {
	Year     int     `json:"-"`
	Quarter  int     `json:"-"`
	Label    string  `json:"quarter"`
	AvgScore float64 `json:"avg_score"`
	Count    int     `json:"count"`
}

// UserPoint locates a user's latest completed submission on the trend.
type UserPoint struct {
	Quarter string    `json:"quarter"`
	Date    time.Time `json:"date"`
}

// QuarterOf returns the calendar year and quarter (1..4) of t in t's own location.
func QuarterOf(t time.Time) (year, quarter int) {
	return t.Year(), (int(t.Month())-1)/3 + 1
}

// QuarterLabel formats t's quarter as "YYYY-Qn".
func QuarterLabel(t time.Time) string {
	y, q := QuarterOf(t)
	return formatLabel(y, q)
}

func formatLabel(year, quarter int) string {
	return fmt.Sprintf("%04d-Q%d", year, quarter)
}

// Quarterly buckets completed records by quarter and returns the buckets in
// ascending (year, quarter) order. Records without any valid score are ignored.
func Quarterly(records []feedback.Record) []Bucket {
	type key struct{ year, quarter int }
	sums := make(map[key]float64)
	counts := make(map[key]int)

	for _, r := range records {
		if !r.Completed() {
			continue
		}
		composite := r.Composite()
		if composite == 0 {
			continue
		}
		y, q := QuarterOf(r.SubmittedAt)
		k := key{y, q}
		sums[k] += composite
		counts[k]++
	}

	out := make([]Bucket, 0, len(counts))
	for k, n := range counts {
		out = append(out, Bucket{
			Year:     k.year,
			Quarter:  k.quarter,
			Label:    formatLabel(k.year, k.quarter),
			AvgScore: sums[k] / float64(n),
			Count:    n,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Quarter < out[j].Quarter
	})
	return out
}

// LocateUserPoint finds the user's most recent completed record and returns
// its quarter label and submission time. The second result is false when
// the user has no completed record.
func LocateUserPoint(records []feedback.Record, userID string) (UserPoint, bool) {
	latest, ok := LatestUserRecord(records, userID)
	if !ok {
		return UserPoint{}, false
	}
	return UserPoint{Quarter: QuarterLabel(latest.SubmittedAt), Date: latest.SubmittedAt}, true
}

// LatestUserRecord returns the user's most recent completed record.
func LatestUserRecord(records []feedback.Record, userID string) (feedback.Record, bool) {
	if userID == "" {
		return feedback.Record{}, false
	}

	var latest *feedback.Record
	for i := range records {
		r := &records[i]
		if r.UserID != userID || !r.Completed() {
			continue
		}
		if latest == nil || r.SubmittedAt.After(latest.SubmittedAt) {
			latest = r
		}
	}
	if latest == nil {
		return feedback.Record{}, false
	}
	return *latest, true
}
