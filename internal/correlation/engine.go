// Package correlation trains per-section correlation rows: how strongly each
// section's score tracks the rest of the survey, and which words respondents
// use at the high and low ends of that section.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
	"github.com/fyrsmithlabs/feedbackd/internal/textproc"
)

// Default tuning values.
const (
	DefaultMinSamples    = 5
	DefaultTertile       = 1.0 / 3.0
	DefaultMaxKeywords   = 10
	DefaultMinTopicTerms = 3
	DefaultTermFloor     = 2
	DefaultSeedBoost     = 0.25

	// DefaultCommonSections is how many sections' low tails must share a term
	// before it counts as a corpus-wide complaint.
	DefaultCommonSections = 2
)

// Engine computes SectionTopicCorrelation rows. It holds no mutable state and
// is safe for concurrent use.
type Engine struct {
	minSamples     int
	tertile        float64
	maxKeywords    int
	minTopicTerms  int
	termFloor      int
	seedBoost      float64
	commonSections int
	logger         *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithMinSamples sets the per-section sample threshold below which no row is emitted.
func WithMinSamples(n int) Option {
	return func(e *Engine) { e.minSamples = n }
}

// WithTertile sets the fraction of ranked records treated as each extreme.
func WithTertile(f float64) Option {
	return func(e *Engine) { e.tertile = f }
}

// WithMaxKeywords caps the keywords kept per row.
func WithMaxKeywords(n int) Option {
	return func(e *Engine) { e.maxKeywords = n }
}

// WithMinTopicTerms sets how many co-occurring terms make a topic row.
func WithMinTopicTerms(n int) Option {
	return func(e *Engine) { e.minTopicTerms = n }
}

// WithTermFloor sets the minimum number of extreme records a term must appear in.
func WithTermFloor(n int) Option {
	return func(e *Engine) { e.termFloor = n }
}

// WithSeedBoost sets the relative weight bonus for a section's seed terms.
func WithSeedBoost(f float64) Option {
	return func(e *Engine) { e.seedBoost = f }
}

// WithCommonSections sets how many sections must share a low-tail term for it
// to join the corpus-wide common topics.
func WithCommonSections(n int) Option {
	return func(e *Engine) { e.commonSections = n }
}

// NewEngine creates a correlation engine.
func NewEngine(logger *zap.Logger, opts ...Option) (*Engine, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	e := &Engine{
		minSamples:     DefaultMinSamples,
		tertile:        DefaultTertile,
		maxKeywords:    DefaultMaxKeywords,
		minTopicTerms:  DefaultMinTopicTerms,
		termFloor:      DefaultTermFloor,
		seedBoost:      DefaultSeedBoost,
		commonSections: DefaultCommonSections,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.minSamples < 2 {
		return nil, fmt.Errorf("min samples must be >= 2, got %d", e.minSamples)
	}
	if e.tertile <= 0 || e.tertile > 0.5 {
		return nil, fmt.Errorf("tertile must be in (0, 0.5], got %f", e.tertile)
	}
	if e.maxKeywords < 1 {
		return nil, fmt.Errorf("max keywords must be >= 1, got %d", e.maxKeywords)
	}
	if e.minTopicTerms < 1 {
		return nil, fmt.Errorf("min topic terms must be >= 1, got %d", e.minTopicTerms)
	}
	if e.termFloor < 1 {
		e.termFloor = 1
	}
	if e.commonSections < 2 {
		return nil, fmt.Errorf("common sections must be >= 2, got %d", e.commonSections)
	}

	return e, nil
}

// Coefficient is a section's correlation with the composite of the other sections.
type Coefficient struct {
	Section    feedback.Section
	R          float64
	SampleSize int
}

// sample is one record's contribution to a section series.
type sample struct {
	doc       int
	id        string
	score     float64
	composite float64
}

// Coefficients returns the per-section coefficient for every section that
// meets the sample threshold, in canonical section order.
func (e *Engine) Coefficients(ctx context.Context, records []feedback.Record) ([]Coefficient, error) {
	records = feedback.Completed(records)

	out := make([]Coefficient, 0, len(feedback.Sections()))
	for _, s := range feedback.Sections() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		samples, err := e.samples(s, records)
		if err != nil {
			continue
		}
		xs, ys := series(samples)
		out = append(out, Coefficient{Section: s, R: Pearson(xs, ys), SampleSize: len(samples)})
	}
	return out, nil
}

// sectionSeries is one qualifying section's score series and its extremes.
type sectionSeries struct {
	section    feedback.Section
	samples    []sample
	xs, ys     []float64
	r          float64
	high, low  []int
	degenerate bool
}

// Train computes correlation rows for every section with enough samples.
//
// Each qualifying section yields an "Overall Rating" row and, when the
// extreme-score records share a vocabulary, a positive and/or negative
// drivers topic row. Terms found in the low tails of several sections are
// reported once, in a SectionOverall "Overall Rating Topics" row, and left
// out of the individual sections' low-side keywords. Sections below the
// threshold are skipped.
func (e *Engine) Train(ctx context.Context, records []feedback.Record) ([]feedback.SectionTopicCorrelation, error) {
	records = feedback.Completed(records)

	docs := make([]map[string]struct{}, len(records))
	for i, r := range records {
		docs[i] = textproc.TermSet(r.Text)
	}

	prepared := make([]*sectionSeries, 0, len(feedback.Sections()))
	for _, s := range feedback.Sections() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ss, err := e.prepare(s, records)
		if errors.Is(err, feedback.ErrInsufficientData) {
			e.logger.Debug("section skipped",
				zap.String("section", string(s)),
				zap.Error(err),
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("section %s: %w", s, err)
		}
		prepared = append(prepared, ss)
	}

	common := e.commonTerms(prepared, docs)

	rows := make([]feedback.SectionTopicCorrelation, 0)
	for _, ss := range prepared {
		rows = append(rows, e.sectionRows(ss, docs, common)...)
	}
	if row, ok := e.commonRow(common, records, docs); ok {
		rows = append(rows, row)
	}

	e.logger.Debug("correlation training finished",
		zap.Int("records", len(records)),
		zap.Int("rows", len(rows)),
		zap.Int("common_terms", len(common)),
	)
	return rows, nil
}

func (e *Engine) prepare(s feedback.Section, records []feedback.Record) (*sectionSeries, error) {
	samples, err := e.samples(s, records)
	if err != nil {
		return nil, err
	}
	xs, ys := series(samples)
	ss := &sectionSeries{section: s, samples: samples, xs: xs, ys: ys, r: Pearson(xs, ys)}

	ss.high, ss.low, err = e.extremes(samples)
	if errors.Is(err, feedback.ErrDegenerateInput) {
		ss.degenerate = true
	} else if err != nil {
		return nil, err
	}
	return ss, nil
}

func (e *Engine) sectionRows(ss *sectionSeries, docs []map[string]struct{}, common map[string]float64) []feedback.SectionTopicCorrelation {
	s, n := ss.section, len(ss.samples)
	if ss.degenerate {
		// Constant section score: nothing separates high from low.
		return []feedback.SectionTopicCorrelation{
			feedback.NewCorrelation(s, feedback.TopicOverallRating, ss.r, nil, n),
		}
	}

	highKW := e.keywords(s, ss.samples, docs, ss.high, nil)
	lowKW := e.keywords(s, ss.samples, docs, ss.low, common)

	overallKW := highKW
	if ss.r < 0 {
		overallKW = lowKW
	}
	rows := []feedback.SectionTopicCorrelation{
		feedback.NewCorrelation(s, feedback.TopicOverallRating, ss.r, copyWeights(overallKW), n),
	}

	for _, side := range []struct {
		subset   []int
		kw       map[string]float64
		negative bool
	}{
		{ss.high, highKW, false},
		{ss.low, lowKW, true},
	} {
		if !e.clusters(side.kw, side.subset, ss.samples, docs) {
			continue
		}
		signal := topicSignal(side.kw, ss.samples, docs)
		rows = append(rows, feedback.NewCorrelation(
			s,
			feedback.DriversTopic(s, side.negative),
			Pearson(ss.xs, signal),
			side.kw,
			n,
		))
	}
	return rows
}

// commonTerms returns every term that clears the term floor in the low tails
// of at least commonSections sections, weighted by its summed in-tail
// document share.
func (e *Engine) commonTerms(prepared []*sectionSeries, docs []map[string]struct{}) map[string]float64 {
	sectionsWith := make(map[string]int)
	share := make(map[string]float64)
	for _, ss := range prepared {
		if ss.degenerate || len(ss.low) == 0 {
			continue
		}
		counts := make(map[string]int)
		for _, idx := range ss.low {
			for term := range docs[ss.samples[idx].doc] {
				counts[term]++
			}
		}
		for term, c := range counts {
			if c < e.termFloor {
				continue
			}
			sectionsWith[term]++
			share[term] += float64(c) / float64(len(ss.low))
		}
	}

	out := make(map[string]float64)
	for term, n := range sectionsWith {
		if n >= e.commonSections {
			out[term] = share[term]
		}
	}
	return out
}

// commonRow reports the heaviest common terms against the composite score of
// every completed record. Its score is the correlation between the composite
// and the fraction of reported terms a record mentions.
func (e *Engine) commonRow(common map[string]float64, records []feedback.Record, docs []map[string]struct{}) (feedback.SectionTopicCorrelation, bool) {
	if len(common) == 0 {
		return feedback.SectionTopicCorrelation{}, false
	}

	top := feedback.RankKeywords(common, e.maxKeywords)
	maxWeight := common[top[0]]
	kw := make(map[string]float64, len(top))
	for _, term := range top {
		kw[term] = common[term] / maxWeight
	}

	composite := make([]float64, len(records))
	signal := make([]float64, len(records))
	for i, r := range records {
		composite[i] = r.Composite()
		hits := 0
		for term := range kw {
			if _, ok := docs[i][term]; ok {
				hits++
			}
		}
		signal[i] = float64(hits) / float64(len(kw))
	}

	return feedback.NewCorrelation(feedback.SectionOverall, feedback.TopicCommon,
		Pearson(composite, signal), kw, len(records)), true
}

// samples collects the section series from records carrying a valid score.
func (e *Engine) samples(s feedback.Section, records []feedback.Record) ([]sample, error) {
	out := make([]sample, 0, len(records))
	for i, r := range records {
		v, ok := r.Score(s)
		if !ok {
			continue
		}
		out = append(out, sample{
			doc:       i,
			id:        r.ID,
			score:     float64(v),
			composite: r.CompositeExcluding(s),
		})
	}
	if len(out) < e.minSamples {
		return nil, fmt.Errorf("%w: %d samples, need %d", feedback.ErrInsufficientData, len(out), e.minSamples)
	}
	return out, nil
}

func series(samples []sample) (xs, ys []float64) {
	xs = make([]float64, len(samples))
	ys = make([]float64, len(samples))
	for i, smp := range samples {
		xs[i] = smp.score
		ys[i] = smp.composite
	}
	return xs, ys
}

// extremes ranks samples by score and returns the indexes of the top and
// bottom tertiles. When the cut points fall inside a run of equal scores the
// tied samples are dropped from both sides so the two sets never share a score.
func (e *Engine) extremes(samples []sample) (high, low []int, err error) {
	n := len(samples)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := samples[order[i]], samples[order[j]]
		if a.score != b.score {
			return a.score > b.score
		}
		return a.id < b.id
	})

	if samples[order[0]].score == samples[order[n-1]].score {
		return nil, nil, feedback.ErrDegenerateInput
	}

	k := int(math.Ceil(float64(n) * e.tertile))
	if k > n/2 {
		k = n / 2
	}
	if k < 1 {
		k = 1
	}

	hiMin := samples[order[k-1]].score
	loMax := samples[order[n-k]].score
	tied := hiMin == loMax

	for _, idx := range order[:k] {
		if tied && samples[idx].score <= hiMin {
			continue
		}
		high = append(high, idx)
	}
	for _, idx := range order[n-k:] {
		if tied && samples[idx].score >= loMax {
			continue
		}
		low = append(low, idx)
	}
	return high, low, nil
}

// keywords weighs each term by how much more often it appears in the subset
// than in the rest of the section's records. Terms in exclude are dropped.
// Weights are floored at zero, scaled so the heaviest term is 1 and capped at
// maxKeywords terms.
func (e *Engine) keywords(s feedback.Section, samples []sample, docs []map[string]struct{}, subset []int, exclude map[string]float64) map[string]float64 {
	if len(subset) == 0 {
		return map[string]float64{}
	}

	in := make(map[int]struct{}, len(subset))
	for _, idx := range subset {
		in[idx] = struct{}{}
	}

	countIn := make(map[string]int)
	countOut := make(map[string]int)
	for i, smp := range samples {
		_, inside := in[i]
		for term := range docs[smp.doc] {
			if inside {
				countIn[term]++
			} else {
				countOut[term]++
			}
		}
	}

	nIn := float64(len(subset))
	nOut := float64(len(samples) - len(subset))
	seeds := textproc.SeedTerms(s)

	raw := make(map[string]float64)
	var maxWeight float64
	for term, c := range countIn {
		if c < e.termFloor {
			continue
		}
		if _, common := exclude[term]; common {
			continue
		}
		w := float64(c) / nIn
		if nOut > 0 {
			w -= float64(countOut[term]) / nOut
		}
		if w <= 0 {
			continue
		}
		if _, ok := seeds[term]; ok {
			w *= 1 + e.seedBoost
		}
		raw[term] = w
		if w > maxWeight {
			maxWeight = w
		}
	}

	out := make(map[string]float64)
	if maxWeight == 0 {
		return out
	}
	for _, term := range feedback.RankKeywords(raw, e.maxKeywords) {
		out[term] = raw[term] / maxWeight
	}
	return out
}

// clusters reports whether kw forms a topic: at least minTopicTerms of its
// terms co-occur in a single extreme record.
func (e *Engine) clusters(kw map[string]float64, subset []int, samples []sample, docs []map[string]struct{}) bool {
	if len(kw) < e.minTopicTerms {
		return false
	}
	need := e.minTopicTerms
	for _, idx := range subset {
		hits := 0
		for term := range kw {
			if _, ok := docs[samples[idx].doc][term]; ok {
				hits++
			}
		}
		if hits >= need {
			return true
		}
	}
	return false
}

// topicSignal is, per sample, the fraction of topic keywords its text mentions.
func topicSignal(kw map[string]float64, samples []sample, docs []map[string]struct{}) []float64 {
	out := make([]float64, len(samples))
	if len(kw) == 0 {
		return out
	}
	for i, smp := range samples {
		hits := 0
		for term := range kw {
			if _, ok := docs[smp.doc][term]; ok {
				hits++
			}
		}
		out[i] = float64(hits) / float64(len(kw))
	}
	return out
}

func copyWeights(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
