package ddl

import (
	"fmt"
	"strings"

	gddl "smartetl/internal/ddl"
)

// Dialect quotes with backticks and pins the table to InnoDB.
var Dialect = gddl.Dialect{
	Name:       "mysql",
	QuoteIdent: QuoteIdent,
	Wrap: func(table, body string) string {
		return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;", table, body)
	},
}

// BuildCreateTableSQL renders t for MySQL.
func BuildCreateTableSQL(t gddl.TableDef) (string, error) {
	return gddl.BuildCreateTableSQL(Dialect, t)
}

func QuoteIdent(id string) string {
	return "`" + strings.ReplaceAll(id, "`", "``") + "`"
}
