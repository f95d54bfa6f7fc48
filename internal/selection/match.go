package selection

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// MatchOption configures the fuzzy part-name matcher of a [Catalogue].
type MatchOption func(*matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a name whose
// Double Metaphone codes overlap with the input. Default: 0.70.
func WithPhoneticThreshold(threshold float64) MatchOption {
	return func(m *matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a name that
// does not sound like the input. Default: 0.85.
func WithFuzzyThreshold(threshold float64) MatchOption {
	return func(m *matcher) {
		m.fuzzyThreshold = threshold
	}
}

// matcher ranks known names against spoken or typed input. Names that sound
// alike (overlapping Double Metaphone codes) win over names that are merely
// spelled alike. It is read-only after construction.
type matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

func newMatcher(opts ...MatchOption) *matcher {
	m := &matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// indexedName is a lowercased name with its tokens and phonetic codes
// computed once when the catalogue is built.
type indexedName struct {
	name   string // as configured
	lower  string
	tokens []string
	codes  map[string]struct{}
}

func indexName(name string) indexedName {
	lower := strings.ToLower(strings.TrimSpace(name))
	tokens := strings.Fields(lower)
	return indexedName{name: name, lower: lower, tokens: tokens, codes: codesForTokens(tokens)}
}

// best returns the index into names of the best match for input and its
// score, or -1 when nothing clears the thresholds.
func (m *matcher) best(input string, names []indexedName) (int, float64) {
	in := indexName(input)
	if in.lower == "" {
		return -1, 0
	}

	bestIdx, bestScore, bestPhonetic := -1, 0.0, false
	for i, n := range names {
		if n.lower == "" {
			continue
		}
		score := bestJWScore(in.tokens, n.tokens, in.lower, n.lower)
		if codesOverlap(in.codes, n.codes) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				bestIdx, bestScore, bestPhonetic = i, score, true
			}
			continue
		}
		if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			bestIdx, bestScore = i, score
		}
	}
	return bestIdx, bestScore
}

// codesForTokens returns the union of the Double Metaphone codes of tokens.
// Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the highest Jaro-Winkler similarity over the full strings,
// the space-stripped strings ("crank shaft" vs "crankshaft") and every
// token pair.
func bestJWScore(inputTokens, nameTokens []string, inputFull, nameFull string) float64 {
	score := matchr.JaroWinkler(inputFull, nameFull, false)

	if len(inputTokens) > 1 || len(nameTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(nameTokens, ""), false); s > score {
			score = s
		}
	}

	for _, it := range inputTokens {
		for _, nt := range nameTokens {
			if s := matchr.JaroWinkler(it, nt, false); s > score {
				score = s
			}
		}
	}
	return score
}
