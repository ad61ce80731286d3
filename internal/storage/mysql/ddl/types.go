// Package ddl contains MySQL-specific helpers for generating DDL.
package ddl

import gddl "smartetl/internal/ddl"

// MapType maps a column kind to a MySQL type. Key and text columns are
// bounded VARCHARs: InnoDB cannot index TEXT without a prefix length and
// older servers reject DEFAULT on TEXT.
func MapType(k gddl.Kind) string {
	switch k {
	case gddl.KindKey:
		return "VARCHAR(32)"
	case gddl.KindDate:
		return "DATE"
	case gddl.KindNumeric:
		return "DOUBLE"
	default:
		return "VARCHAR(255)"
	}
}
