package safety

import (
	"fmt"
	"strings"
)

// PatternMatch is the outcome of resolving a bulk pattern against a candidate
// list. ConfirmationMessage enumerates every matched item so a human reviews
// the literal list, never a count or a sample.
type PatternMatch[T any] struct {
	Pattern             string
	Matched             []T
	Total               int
	ConfirmationMessage string
}

// MatchPattern resolves pattern against items using the caller-supplied
// matchFn, and renders each match with formatFn. The matcher is
// domain-agnostic: matchFn may be a compiled regex against a name field,
// exact id equality, or anything else.
//
// If more than maxItems match, MatchPattern fails closed with a
// TooManyMatchesError — a bulk operation is never partially applied by
// silently truncating the match list.
func MatchPattern[T any](pattern string, items []T, maxItems int, matchFn func(T) bool, formatFn func(T) string) (*PatternMatch[T], error) {
	var matched []T
	for _, item := range items {
		if matchFn(item) {
			matched = append(matched, item)
		}
	}

	if len(matched) > maxItems {
		return nil, &TooManyMatchesError{Pattern: pattern, Matched: len(matched), Max: maxItems}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Pattern %q matched %d item(s):\n", pattern, len(matched))
	for i, item := range matched {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, formatFn(item))
	}

	return &PatternMatch[T]{
		Pattern:             pattern,
		Matched:             matched,
		Total:               len(matched),
		ConfirmationMessage: sb.String(),
	}, nil
}
