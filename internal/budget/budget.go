// Package budget meters prompt size. Context budgets are counted in
// characters (runes) so they hold regardless of which tokenizer the
// downstream generation model uses; Estimate converts a finished prompt into
// a rough token count for reporting.
package budget

import "unicode/utf8"

// charsPerToken is the conservative character-to-token ratio used for
// estimation.
const charsPerToken = 4

// Chars returns the length of s in runes.
func Chars(s string) int {
	return utf8.RuneCountInString(s)
}

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	c := Chars(s)
	n := c / charsPerToken
	if n == 0 && c > 0 {
		return 1
	}
	return n
}

// Budget tracks characters spent against a fixed limit. The zero value has
// no room. A Budget is not safe for concurrent use.
type Budget struct {
	limit int
	used  int
}

// New returns a Budget with the given limit. Negative limits are treated
// as zero.
func New(limit int) *Budget {
	return &Budget{limit: max(limit, 0)}
}

// Limit returns the configured limit.
func (b *Budget) Limit() int { return b.limit }

// Used returns the characters spent so far.
func (b *Budget) Used() int { return b.used }

// Remaining returns the characters still available.
func (b *Budget) Remaining() int { return b.limit - b.used }

// Fits reports whether s can be spent without exceeding the limit.
func (b *Budget) Fits(s string) bool {
	return b.used+Chars(s) <= b.limit
}

// Spend charges s against the budget when it fits and reports whether it did.
// A piece that does not fit is never partially charged.
func (b *Budget) Spend(s string) bool {
	if !b.Fits(s) {
		return false
	}
	b.used += Chars(s)
	return true
}
