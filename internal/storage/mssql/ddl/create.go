package ddl

import (
	"fmt"
	"strings"

	gddl "smartetl/internal/ddl"
)

// Dialect brackets identifiers and guards CREATE TABLE with OBJECT_ID, since
// SQL Server has no IF NOT EXISTS for tables.
var Dialect = gddl.Dialect{
	Name:       "mssql",
	QuoteIdent: QuoteIdent,
	Wrap: func(table, body string) string {
		return fmt.Sprintf(
			"IF OBJECT_ID(N'%s', N'U') IS NULL\nBEGIN\n  CREATE TABLE %s (\n  %s\n  );\nEND;",
			strings.ReplaceAll(table, "'", "''"), table, body,
		)
	},
}

// BuildCreateTableSQL renders t for SQL Server.
func BuildCreateTableSQL(t gddl.TableDef) (string, error) {
	return gddl.BuildCreateTableSQL(Dialect, t)
}

// QuoteIdent brackets one identifier segment, escaping "]".
func QuoteIdent(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}
