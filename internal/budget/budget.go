// Package budget estimates prompt sizes for the generative model. Backends
// use different tokenizers, so a conservative character heuristic is used:
// 1 token ≈ 4 characters of English prose.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default prompt budget in tokens.
	DefaultMaxContextTokens = 3000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		// Per-message overhead is ~4 tokens in most APIs.
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// Fit returns the longest prefix of items whose estimated size, added to
// fixed tokens, stays within maxTokens. items must be ordered most important
// first so the least important are dropped. If fixed alone exceeds the
// budget, the empty prefix is returned; callers decide whether to proceed.
func Fit[T any](fixed int, items []T, text func(T) string, maxTokens int) []T {
	return FitCost(fixed, items, func(it T) int { return Estimate(text(it)) }, maxTokens)
}

// FitCost is Fit with a caller-supplied token cost per item.
func FitCost[T any](fixed int, items []T, cost func(T) int, maxTokens int) []T {
	used := fixed
	for i, it := range items {
		used += cost(it)
		if used > maxTokens {
			return items[:i]
		}
	}
	return items
}
