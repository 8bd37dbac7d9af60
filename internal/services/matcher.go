package services

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Matcher decides whether an OCR token is one of the detected PII words.
// Matching is by text only: the same word anywhere on the page matches.
type Matcher interface {
	Name() string
	Match(token string, words []string) bool
}

// NewMatcher returns the matcher registered under name. An empty name
// selects exact matching.
func NewMatcher(name string) (Matcher, error) {
	switch name {
	case "", "exact":
		return ExactMatcher{}, nil
	case "casefold":
		return CaseFoldMatcher{}, nil
	case "fuzzy":
		return FuzzyMatcher{MinLength: 5, MaxDistance: 1}, nil
	default:
		return nil, fmt.Errorf("unknown matcher %q", name)
	}
}

// ExactMatcher is byte-for-byte equality: case-sensitive, no trimming.
type ExactMatcher struct{}

func (ExactMatcher) Name() string { return "exact" }

func (ExactMatcher) Match(token string, words []string) bool {
	for _, w := range words {
		if token == w {
			return true
		}
	}
	return false
}

// CaseFoldMatcher compares under Unicode simple case folding.
type CaseFoldMatcher struct{}

func (CaseFoldMatcher) Name() string { return "casefold" }

func (CaseFoldMatcher) Match(token string, words []string) bool {
	for _, w := range words {
		if strings.EqualFold(token, w) {
			return true
		}
	}
	return false
}

// FuzzyMatcher accepts case-folded words within MaxDistance edits, but only
// for tokens of at least MinLength runes; shorter tokens must match exactly
// under case folding.
type FuzzyMatcher struct {
	MinLength   int
	MaxDistance int
}

func (FuzzyMatcher) Name() string { return "fuzzy" }

func (m FuzzyMatcher) Match(token string, words []string) bool {
	lowered := strings.ToLower(token)
	tokenLen := utf8.RuneCountInString(lowered)
	for _, w := range words {
		candidate := strings.ToLower(w)
		if lowered == candidate {
			return true
		}
		if tokenLen < m.MinLength || utf8.RuneCountInString(candidate) < m.MinLength {
			continue
		}
		if levenshtein(lowered, candidate, m.MaxDistance) <= m.MaxDistance {
			return true
		}
	}
	return false
}

// levenshtein returns the edit distance between a and b, stopping early once
// every cell of a row exceeds limit.
func levenshtein(a, b string, limit int) int {
	ra, rb := []rune(a), []rune(b)
	if abs(len(ra)-len(rb)) > limit {
		return limit + 1
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		rowMin := curr[0]
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
			rowMin = min(rowMin, curr[j])
		}
		if rowMin > limit {
			return limit + 1
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
