// Package ddl is a small, backend-agnostic model of the sink table plus a
// CREATE TABLE renderer. Backends under internal/storage/<kind>/ddl supply a
// Dialect and a type mapping; everything else is shared.
package ddl

import (
	"fmt"
	"strings"
)

// Dialect is what differs between backends when rendering CREATE TABLE.
type Dialect struct {
	Name string
	// QuoteIdent quotes one identifier segment.
	QuoteIdent func(string) string
	// Wrap turns the quoted table name and the rendered column list into the
	// final statement. Nil means CREATE TABLE IF NOT EXISTS.
	Wrap func(table, body string) string
}

// QuoteFQN quotes each dotted segment of fqn, dropping empty segments.
func (d Dialect) QuoteFQN(fqn string) string {
	parts := strings.Split(fqn, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, d.QuoteIdent(p))
	}
	return strings.Join(out, ".")
}

// BuildCreateTableSQL renders t for dialect d.
//
// Each column renders as
//
//	<name> <type> [NOT NULL] [DEFAULT <expr>]
//
// Primary key columns are always NOT NULL and are collected, in column
// order, into a trailing PRIMARY KEY clause.
func BuildCreateTableSQL(d Dialect, t TableDef) (string, error) {
	fqn := strings.TrimSpace(t.FQN)
	if fqn == "" {
		return "", fmt.Errorf("%s ddl: table FQN must not be empty", d.Name)
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("%s ddl: at least one column is required", d.Name)
	}

	cols := make([]string, 0, len(t.Columns)+1)
	pks := make([]string, 0, 2)
	for _, c := range t.Columns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return "", fmt.Errorf("%s ddl: column with empty name in table %s", d.Name, fqn)
		}
		typ := strings.TrimSpace(c.SQLType)
		if typ == "" {
			return "", fmt.Errorf("%s ddl: column %s missing SQLType", d.Name, name)
		}

		var sb strings.Builder
		sb.WriteString(d.QuoteIdent(name))
		sb.WriteByte(' ')
		sb.WriteString(typ)
		if !c.Nullable || c.PrimaryKey {
			sb.WriteString(" NOT NULL")
		}
		if def := strings.TrimSpace(c.Default); def != "" {
			sb.WriteString(" DEFAULT ")
			sb.WriteString(def)
		}
		cols = append(cols, sb.String())

		if c.PrimaryKey {
			pks = append(pks, d.QuoteIdent(name))
		}
	}
	if len(pks) > 0 {
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pks, ", ")))
	}

	table := d.QuoteFQN(fqn)
	body := strings.Join(cols, ",\n  ")
	if d.Wrap != nil {
		return d.Wrap(table, body), nil
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", table, body), nil
}
