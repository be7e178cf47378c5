// Package budget estimates token usage for prompts assembled from stored
// documents. Backends use different tokenizers, so the estimate is a
// conservative character heuristic: 1 token ≈ 4 characters.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	charsPerToken = 4

	// DefaultRouterTokens is the prompt budget for the document router's
	// candidate list.
	DefaultRouterTokens = 6000
)

// Estimate returns a rough token count for s.
func Estimate(s string) int {
	n := len([]rune(s)) / charsPerToken
	if n == 0 && s != "" {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for msgs,
// including a small per-message overhead.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// Truncate shortens s to at most maxTokens estimated tokens, cutting on a
// rune boundary. A non-positive budget returns "".
func Truncate(s string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	r := []rune(s)
	limit := maxTokens * charsPerToken
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

// Share splits a total budget evenly across n items, never returning less
// than floor per item. Used to give each router candidate a fair slice.
func Share(total, n, floor int) int {
	if n <= 0 {
		return total
	}
	per := total / n
	if per < floor {
		return floor
	}
	return per
}
