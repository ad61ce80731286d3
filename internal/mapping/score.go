package mapping

import (
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"

	"smartetl/internal/normalize"
	"smartetl/internal/schema"
)

const (
	// MatchThreshold is the minimum score for a header to be accepted.
	MatchThreshold = 0.4

	// ExactScore is given when normalized header and alias are equal.
	ExactScore = 1.0

	// ContainmentScore is given when one normalized form contains the other.
	ContainmentScore = 0.8

	// minContainLen keeps one-rune forms from matching by containment.
	minContainLen = 2
)

// matcher holds the normalized alias forms of one field.
type matcher struct {
	field   schema.Field
	aliases []string
	display string
}

func newMatcher(f schema.Field) matcher {
	m := matcher{field: f, display: normalize.Header(f.DisplayName)}
	seen := map[string]struct{}{}
	for _, a := range f.Aliases {
		n := normalize.Header(a)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		m.aliases = append(m.aliases, n)
	}
	return m
}

// score returns the best match of the normalized header h against the
// field's aliases and display name.
//
// Aliases score by exact match, containment in either direction, or bigram
// similarity, whichever is highest. The display name scores the same way
// except that containment is only checked with the header as the outer
// string: long display names such as "agegroup05years" would otherwise
// swallow short unrelated headers like "year" (see DESIGN.md, Containment).
func (m matcher) score(h string) float64 {
	if h == "" {
		return 0
	}
	best := 0.0
	for _, a := range m.aliases {
		if h == a {
			return ExactScore
		}
		if contains(h, a) || contains(a, h) {
			best = max(best, ContainmentScore)
		}
		best = max(best, similarity(h, a))
	}
	if m.display != "" {
		if h == m.display {
			return ExactScore
		}
		if contains(h, m.display) {
			best = max(best, ContainmentScore)
		}
		best = max(best, similarity(h, m.display))
	}
	return best
}

func contains(outer, inner string) bool {
	return len(inner) >= minContainLen && strings.Contains(outer, inner)
}

// similarity is the Dice coefficient of the rune bigram multisets of a and
// b: twice the shared bigrams over the total. Strings shorter than two runes
// only match themselves.
func similarity(a, b string) float64 {
	if a == b && a != "" {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) < 2 || len(rb) < 2 {
		return 0
	}
	pairs := make(map[[2]rune]int, len(ra)-1)
	for i := 0; i+1 < len(ra); i++ {
		pairs[[2]rune{ra[i], ra[i+1]}]++
	}
	shared := 0
	for i := 0; i+1 < len(rb); i++ {
		k := [2]rune{rb[i], rb[i+1]}
		if pairs[k] > 0 {
			pairs[k]--
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(ra)+len(rb)-2)
}

// suggestMaxDistance bounds how far a mistyped field key may be from a
// catalog key to be offered as a suggestion.
const suggestMaxDistance = 2

// suggestKey returns the catalog key closest to key by edit distance, or ""
// when none is within suggestMaxDistance.
func suggestKey(cat *schema.Catalog, key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	best, bestDist := "", suggestMaxDistance+1
	for _, k := range cat.Keys() {
		if d := levenshtein.ComputeDistance(key, k); d < bestDist {
			best, bestDist = k, d
		}
	}
	return best
}

// unknownField reports a field key missing from cat, with a suggestion when
// one is close.
func unknownField(cat *schema.Catalog, key string) error {
	if s := suggestKey(cat, key); s != "" {
		return fmt.Errorf("mapping: unknown field %q (did you mean %q?)", key, s)
	}
	return fmt.Errorf("mapping: unknown field %q", key)
}
