package sentiment

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
	"github.com/fyrsmithlabs/feedbackd/internal/textproc"
)

const (
	// normalization constant for the compound score s/sqrt(s^2+alpha).
	normAlpha = 15.0
	// weight multiplier applied to a word preceded by a negation.
	negationScalar = -0.74
	// how many preceding words are checked for a negation.
	negationWindow = 3
)

var negations = map[string]struct{}{
	"not": {}, "no": {}, "never": {}, "nothing": {}, "nobody": {}, "none": {},
	"cannot": {}, "without": {}, "hardly": {}, "rarely": {},
	// contraction stems left behind by Words, e.g. "don't" -> "don", "t"
	"don": {}, "doesn": {}, "didn": {}, "isn": {}, "wasn": {}, "aren": {},
	"weren": {}, "won": {}, "wouldn": {}, "couldn": {}, "shouldn": {},
}

// Result is a classifier verdict.
type Result struct {
	Label      feedback.Sentiment `json:"label"`
	Confidence float64            `json:"confidence"`
}

// Classifier maps free text to a sentiment label.
type Classifier interface {
	Classify(ctx context.Context, text string) (Result, error)
}

// LexiconClassifier scores text by summing lexicon weights. The lexicon can
// be swapped while classifications are in flight.
type LexiconClassifier struct {
	lexicon atomic.Pointer[Lexicon]
}

// NewLexiconClassifier creates a classifier. A nil lexicon uses DefaultLexicon.
func NewLexiconClassifier(lex *Lexicon) *LexiconClassifier {
	if lex == nil {
		lex = DefaultLexicon()
	}
	c := &LexiconClassifier{}
	c.lexicon.Store(lex)
	return c
}

// SetLexicon replaces the active lexicon.
func (c *LexiconClassifier) SetLexicon(lex *Lexicon) {
	if lex != nil {
		c.lexicon.Store(lex)
	}
}

// Lexicon returns the active lexicon.
func (c *LexiconClassifier) Lexicon() *Lexicon {
	return c.lexicon.Load()
}

// Classify labels text. Empty or lexicon-free text is neutral with full confidence.
func (c *LexiconClassifier) Classify(ctx context.Context, text string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	lex := c.lexicon.Load()
	score := Score(lex, text)

	band := lex.NeutralBand
	switch {
	case score >= band:
		return Result{Label: feedback.SentimentPositive, Confidence: score}, nil
	case score <= -band:
		return Result{Label: feedback.SentimentNegative, Confidence: -score}, nil
	default:
		return Result{Label: feedback.SentimentNeutral, Confidence: 1 - math.Abs(score)/band}, nil
	}
}

// Score returns the normalized compound score of text in [-1, 1].
func Score(lex *Lexicon, text string) float64 {
	words := textproc.Words(text)
	var sum float64
	for i, w := range words {
		weight := lex.Weight(w)
		if weight == 0 {
			continue
		}
		if negated(words, i) {
			weight *= negationScalar
		}
		sum += weight
	}
	if sum == 0 {
		return 0
	}
	return sum / math.Sqrt(sum*sum+normAlpha)
}

func negated(words []string, i int) bool {
	start := i - negationWindow
	if start < 0 {
		start = 0
	}
	for _, w := range words[start:i] {
		if _, ok := negations[w]; ok {
			return true
		}
	}
	return false
}
