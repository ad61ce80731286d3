package ddl

import (
	"strings"

	gddl "smartetl/internal/ddl"
)

// Dialect quotes with double quotes and renders CREATE TABLE IF NOT EXISTS.
var Dialect = gddl.Dialect{
	Name:       "postgres",
	QuoteIdent: quoteIdent,
}

// BuildCreateTableSQL renders t for Postgres.
func BuildCreateTableSQL(t gddl.TableDef) (string, error) {
	return gddl.BuildCreateTableSQL(Dialect, t)
}

func quoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
