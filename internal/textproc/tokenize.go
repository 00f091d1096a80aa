// Package textproc turns free-text feedback into normalized terms.
package textproc

import (
	"strings"
	"unicode"
)

// MinTermLength is the shortest term kept by Terms.
const MinTermLength = 3

// Words lowercases text and splits it on anything that is not a letter.
// Nothing is filtered.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}

// Terms returns the content-bearing words of text: stopwords, domain common
// words and words shorter than MinTermLength are dropped. Order is preserved
// and duplicates are kept.
func Terms(text string) []string {
	words := Words(text)
	out := words[:0]
	for _, w := range words {
		if len([]rune(w)) < MinTermLength || IsStopword(w) || IsCommonWord(w) {
			continue
		}
		out = append(out, w)
	}
	return out
}

// TermSet returns the distinct terms of text.
func TermSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range Terms(text) {
		set[t] = struct{}{}
	}
	return set
}
