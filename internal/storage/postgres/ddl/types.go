// Package ddl contains Postgres-specific helpers for generating DDL.
package ddl

import gddl "smartetl/internal/ddl"

// MapType maps a column kind to a Postgres type.
//
//	key     -> TEXT
//	date    -> DATE
//	numeric -> DOUBLE PRECISION
//	text    -> TEXT
func MapType(k gddl.Kind) string {
	switch k {
	case gddl.KindDate:
		return "DATE"
	case gddl.KindNumeric:
		return "DOUBLE PRECISION"
	default:
		return "TEXT"
	}
}
