// Package normalize turns free-text column headers and geographic identifiers
// into canonical forms that can be compared across files.
//
// Header is used only for matching, never for display. PrimaryID and Date
// produce the values that form the aggregation key.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// PrimaryIDWidth is the fixed width of an all-digit postal code. Spreadsheet
// tools drop leading zeros from numeric-looking codes, so shorter all-digit
// identifiers are left-padded back to this width.
const PrimaryIDWidth = 6

// Header lower-cases s, folds diacritics and drops every rune that is not a
// letter or a digit. It never fails and Header(Header(s)) == Header(s).
func Header(s string) string {
	s = strings.ToLower(s)

	// Decompose, remove nonspacing marks, recompose.
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PrimaryID strips everything except ASCII letters and digits from s. When the
// remainder is purely numeric and shorter than PrimaryIDWidth it is left-padded
// with zeros. The second result is false when nothing is left.
func PrimaryID(s string) (string, bool) {
	var b strings.Builder
	b.Grow(len(s))
	digitsOnly := true
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			b.WriteByte(c)
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
			b.WriteByte(c)
			digitsOnly = false
		}
	}
	id := b.String()
	if id == "" {
		return "", false
	}
	if digitsOnly && len(id) < PrimaryIDWidth {
		id = strings.Repeat("0", PrimaryIDWidth-len(id)) + id
	}
	return id, true
}
