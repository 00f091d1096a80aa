// Package sentiment labels free-text feedback as positive, neutral or
// negative. The default classifier scores text against a weighted word
// lexicon that can be loaded from TOML and reloaded while running.
package sentiment

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// DefaultNeutralBand is the normalized score magnitude below which text is neutral.
const DefaultNeutralBand = 0.05

var (
	// ErrInvalidLexicon indicates a lexicon file that cannot be used.
	ErrInvalidLexicon = errors.New("invalid sentiment lexicon")
)

// Lexicon maps words to sentiment weights. Weights are magnitudes; the map a
// word sits in decides its sign.
type Lexicon struct {
	NeutralBand float64            `toml:"neutral_band"`
	Positive    map[string]float64 `toml:"positive"`
	Negative    map[string]float64 `toml:"negative"`
}

// Weight returns the signed weight of word, or 0 when it is not in the lexicon.
func (l *Lexicon) Weight(word string) float64 {
	if w, ok := l.Positive[word]; ok {
		return w
	}
	if w, ok := l.Negative[word]; ok {
		return -w
	}
	return 0
}

// Validate checks the band and that weights are positive.
func (l *Lexicon) Validate() error {
	if l.NeutralBand <= 0 || l.NeutralBand >= 1 {
		return fmt.Errorf("%w: neutral_band must be in (0, 1), got %v", ErrInvalidLexicon, l.NeutralBand)
	}
	if len(l.Positive) == 0 && len(l.Negative) == 0 {
		return fmt.Errorf("%w: no words", ErrInvalidLexicon)
	}
	for _, m := range []map[string]float64{l.Positive, l.Negative} {
		for word, w := range m {
			if w <= 0 {
				return fmt.Errorf("%w: weight for %q must be positive", ErrInvalidLexicon, word)
			}
		}
	}
	return nil
}

// LoadLexicon reads a TOML lexicon:
//
//	neutral_band = 0.05
//
//	[positive]
//	supportive = 2.0
//
//	[negative]
//	toxic = 2.8
//
// A missing neutral_band falls back to DefaultNeutralBand.
func LoadLexicon(path string) (*Lexicon, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	var lex Lexicon
	if _, err := toml.DecodeFile(path, &lex); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidLexicon, path, err)
	}
	if lex.NeutralBand == 0 {
		lex.NeutralBand = DefaultNeutralBand
	}
	if err := lex.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &lex, nil
}

// DefaultLexicon returns the built-in workplace lexicon.
func DefaultLexicon() *Lexicon {
	return &Lexicon{
		NeutralBand: DefaultNeutralBand,
		Positive: map[string]float64{
			"amazing":       2.8,
			"appreciate":    2.0,
			"appreciated":   2.2,
			"awesome":       3.1,
			"balanced":      1.5,
			"best":          3.2,
			"clear":         1.2,
			"collaborative": 1.6,
			"competitive":   1.2,
			"enjoy":         2.2,
			"excellent":     3.2,
			"fair":          1.3,
			"flexible":      1.6,
			"friendly":      2.2,
			"fun":           2.3,
			"generous":      2.3,
			"glad":          2.0,
			"good":          1.9,
			"great":         3.1,
			"happy":         2.7,
			"helpful":       1.8,
			"inclusive":     1.6,
			"love":          3.2,
			"motivated":     1.6,
			"nice":          1.8,
			"positive":      2.3,
			"recognized":    1.6,
			"respect":       2.1,
			"respected":     2.1,
			"rewarding":     2.4,
			"satisfied":     1.8,
			"supportive":    2.0,
			"thank":         1.5,
			"thanks":        1.9,
			"transparent":   1.4,
			"valued":        1.9,
			"wonderful":     2.7,
		},
		Negative: map[string]float64{
			"awful":         2.5,
			"bad":           2.5,
			"burnout":       2.4,
			"chaotic":       2.0,
			"complain":      1.9,
			"confusing":     1.4,
			"disappointed":  2.2,
			"disappointing": 2.2,
			"exhausted":     2.0,
			"frustrated":    2.0,
			"frustrating":   2.0,
			"hate":          2.7,
			"horrible":      2.5,
			"ignored":       1.8,
			"lacking":       1.6,
			"long":          0.6,
			"low":           1.1,
			"micromanage":   1.9,
			"micromanaged":  1.9,
			"overworked":    2.2,
			"poor":          2.1,
			"stress":        1.8,
			"stressed":      2.0,
			"stressful":     2.1,
			"terrible":      2.5,
			"toxic":         2.8,
			"underpaid":     2.2,
			"unfair":        2.1,
			"unhappy":       2.3,
			"unclear":       1.4,
			"worse":         2.1,
			"worst":         3.1,
		},
	}
}
