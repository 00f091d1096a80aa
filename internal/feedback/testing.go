package feedback

import (
	"fmt"
	"time"
)

// NewTestRecord builds a completed record with scores in Sections() order.
func NewTestRecord(id string, at time.Time, scores [5]int, text string) Record {
	m := make(map[Section]int, len(sections))
	for i, s := range sections {
		m[s] = scores[i]
	}
	return Record{
		ID:          id,
		SubmittedAt: at,
		Scores:      m,
		Text:        text,
	}
}

// NewTestCorpus builds n completed records spread one day apart from start,
// each scored by the supplied function.
func NewTestCorpus(n int, start time.Time, score func(i int) ([5]int, string)) []Record {
	out := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		scores, text := score(i)
		out = append(out, NewTestRecord(fmt.Sprintf("r%03d", i), start.AddDate(0, 0, i), scores, text))
	}
	return out
}
