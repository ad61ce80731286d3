package normalize

import (
	"fmt"
	"strings"
	"time"
)

// ISODate is the layout of every date produced by this package.
const ISODate = "2006-01-02"

// fallbackLayouts are tried, in order, when none of the explicit numeric
// patterns match. Timestamps are reduced to their UTC calendar date.
var fallbackLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02",
	"2006.01.02",
	"02.01.2006",
	"2 Jan 2006",
	"2 January 2006",
	"02-Jan-2006",
	"2-Jan-2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 2 2006",
	time.RFC1123,
	time.RFC1123Z,
}

// Date parses s into a YYYY-MM-DD string.
//
// Explicit patterns are checked first, in this order:
//
//	D-M-YYYY   dash with a trailing year is read day-first
//	YYYY-M-D
//	M/D/YYYY   slash with a trailing year is read month-first
//
// The separator decides between day-first and month-first; "03-04-2024" is
// 3 April while "03/04/2024" is 4 March. Anything else goes through
// fallbackLayouts. Impossible calendar dates (31-02-2024) are rejected.
func Date(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}

	if p, ok := splitNumeric(s, '-'); ok {
		switch {
		case len(p[2]) == 4 && len(p[0]) <= 2 && len(p[1]) <= 2:
			return calendar(atoi(p[2]), atoi(p[1]), atoi(p[0]))
		case len(p[0]) == 4 && len(p[1]) <= 2 && len(p[2]) <= 2:
			return calendar(atoi(p[0]), atoi(p[1]), atoi(p[2]))
		}
	}
	if p, ok := splitNumeric(s, '/'); ok {
		if len(p[2]) == 4 && len(p[0]) <= 2 && len(p[1]) <= 2 {
			return calendar(atoi(p[2]), atoi(p[0]), atoi(p[1]))
		}
	}

	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(ISODate), true
		}
	}
	return "", false
}

// splitNumeric splits s on sep into exactly three non-empty digit runs.
func splitNumeric(s string, sep byte) ([3]string, bool) {
	var out [3]string
	n, start := 0, 0
	for i := 0; i <= len(s); i++ {
		if i < len(s) && s[i] != sep {
			c := s[i]
			if c < '0' || c > '9' {
				return out, false
			}
			continue
		}
		if n == 3 || i == start {
			return out, false
		}
		out[n] = s[start:i]
		n++
		start = i + 1
	}
	return out, n == 3
}

// atoi converts a short run of ASCII digits; callers guarantee the input.
func atoi(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		n = n*10 + int(s[i]-'0')
	}
	return n
}

// calendar formats y-m-d after checking it names a real day.
func calendar(y, m, d int) (string, bool) {
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return "", false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d || int(t.Month()) != m {
		return "", false
	}
	return fmt.Sprintf("%04d-%02d-%02d", y, m, d), true
}
