// Package ddl contains SQLite-specific helpers for generating DDL.
package ddl

import gddl "smartetl/internal/ddl"

// MapType maps a column kind to a SQLite type affinity. Dates are stored as
// ISO-8601 text so they sort and compare as strings.
func MapType(k gddl.Kind) string {
	switch k {
	case gddl.KindNumeric:
		return "REAL"
	default:
		return "TEXT"
	}
}
