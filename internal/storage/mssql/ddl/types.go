// Package ddl contains SQL Server helpers for generating DDL.
package ddl

import gddl "smartetl/internal/ddl"

// MapType maps a column kind to a SQL Server type. Key columns need a
// bounded type because NVARCHAR(MAX) cannot be part of a primary key.
func MapType(k gddl.Kind) string {
	switch k {
	case gddl.KindKey:
		return "NVARCHAR(32)"
	case gddl.KindDate:
		return "DATE"
	case gddl.KindNumeric:
		return "FLOAT"
	default:
		return "NVARCHAR(MAX)"
	}
}
