package ddl

import (
	"strings"

	gddl "smartetl/internal/ddl"
)

// Dialect quotes with double quotes and renders CREATE TABLE IF NOT EXISTS.
var Dialect = gddl.Dialect{
	Name:       "sqlite",
	QuoteIdent: QuoteIdent,
}

// BuildCreateTableSQL renders t for SQLite.
func BuildCreateTableSQL(t gddl.TableDef) (string, error) {
	return gddl.BuildCreateTableSQL(Dialect, t)
}

// QuoteIdent quotes one identifier segment.
func QuoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
