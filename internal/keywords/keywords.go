// Package keywords extracts topic phrases from short texts such as quiz
// questions and passages. Extraction is purely lexical: stopwords and short
// words are dropped, adjacent surviving words form two-word phrases, and
// phrases are ranked ahead of single words.
package keywords

import (
	"strings"
	"unicode"
)

// minWordLen is the shortest word considered meaningful; shorter words are
// dropped along with stopwords.
const minWordLen = 4

// stopwords are question words, auxiliaries, and connectives that never make
// a useful topic.
var stopwords = map[string]struct{}{
	"what": {}, "how": {}, "why": {}, "when": {}, "where": {}, "which": {}, "who": {},
	"is": {}, "are": {}, "the": {}, "a": {}, "an": {}, "does": {}, "do": {}, "can": {},
	"will": {}, "would": {}, "should": {}, "could": {}, "might": {}, "may": {}, "must": {},
	"this": {}, "that": {}, "these": {}, "those": {}, "and": {}, "or": {}, "but": {},
	"for": {}, "with": {}, "from": {}, "to": {}, "true": {}, "false": {}, "following": {},
	"statement": {}, "there": {}, "their": {}, "they": {}, "them": {}, "have": {},
	"been": {}, "into": {}, "about": {}, "than": {}, "then": {}, "also": {}, "such": {},
	"most": {}, "least": {}, "best": {}, "describe": {}, "describes": {}, "explain": {},
	"according": {}, "text": {}, "passage": {}, "document": {},
}

// Words splits text into lowercase words of letters and digits.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// meaningful reports whether w can be part of a topic.
func meaningful(w string) bool {
	if len([]rune(w)) < minWordLen {
		return false
	}
	_, stop := stopwords[w]
	return !stop
}

// Extract returns up to max distinct topic phrases from text: two-word
// phrases of adjacent meaningful words first, then single meaningful words,
// each group in order of appearance. max <= 0 means no limit.
func Extract(text string, max int) []string {
	words := Words(text)

	var pairs, singles []string
	for i, w := range words {
		if !meaningful(w) {
			continue
		}
		singles = append(singles, w)
		if i+1 < len(words) && meaningful(words[i+1]) {
			pairs = append(pairs, w+" "+words[i+1])
		}
	}

	seen := make(map[string]struct{}, len(pairs)+len(singles))
	out := make([]string, 0, len(pairs)+len(singles))
	for _, k := range append(pairs, singles...) {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}

// Top returns up to max single words from text ranked by frequency, ties
// broken by first appearance. It is used for passage topic tags where
// two-word phrases are too specific.
func Top(text string, max int) []string {
	counts := make(map[string]int)
	var order []string
	for _, w := range Words(text) {
		if !meaningful(w) {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}

	// Stable insertion sort by descending count keeps first-appearance order
	// for ties.
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && counts[order[j]] > counts[order[j-1]]; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}
	if max > 0 && len(order) > max {
		order = order[:max]
	}
	return order
}
