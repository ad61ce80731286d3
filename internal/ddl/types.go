package ddl

import (
	"smartetl/internal/aggregate"
	"smartetl/internal/interchange"
)

// Kind is the logical type of a sink column. Backends map it to a concrete
// SQL type.
type Kind int

const (
	// KindKey is the primary id column. It is part of the primary key, so
	// backends that cannot index unbounded text need a bounded type here.
	KindKey Kind = iota
	KindDate
	KindText
	KindNumeric
)

// ColumnDef describes a single column.
//
//   - Name: column name, unquoted; quoting happens at render time
//   - SQLType: target SQL type (e.g. TEXT, DATE, DOUBLE PRECISION)
//   - Nullable: whether NULL is allowed
//   - PrimaryKey: whether the column is part of the primary key
//   - Default: raw default expression (e.g. 'Unknown', 0)
type ColumnDef struct {
	Name       string
	SQLType    string
	Nullable   bool
	PrimaryKey bool
	Default    string
}

// TableDef holds the table name in dotted form ("schema.table") and the
// ordered columns.
type TableDef struct {
	FQN     string
	Columns []ColumnDef
}

// ForLayout derives the sink table for an interchange layout. The primary id
// and record date form the composite primary key; text columns default to
// aggregate.DefaultText and numeric columns to 0.
func ForLayout(fqn string, l interchange.Layout, mapType func(Kind) string) TableDef {
	cols := make([]ColumnDef, 0, 2+len(l.Text)+len(l.Numeric))
	cols = append(cols,
		ColumnDef{Name: l.ID, SQLType: mapType(KindKey), PrimaryKey: true},
		ColumnDef{Name: interchange.DateColumn, SQLType: mapType(KindDate), PrimaryKey: true},
	)
	for _, c := range l.Text {
		cols = append(cols, ColumnDef{
			Name:     c,
			SQLType:  mapType(KindText),
			Nullable: true,
			Default:  "'" + aggregate.DefaultText + "'",
		})
	}
	for _, c := range l.Numeric {
		cols = append(cols, ColumnDef{Name: c, SQLType: mapType(KindNumeric), Default: "0"})
	}
	return TableDef{FQN: fqn, Columns: cols}
}
