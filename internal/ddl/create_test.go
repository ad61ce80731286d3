package ddl

import (
	"strings"
	"testing"

	"smartetl/internal/interchange"
	"smartetl/internal/schema"
)

var testDialect = Dialect{
	Name:       "test",
	QuoteIdent: func(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` },
}

func testTypes(k Kind) string {
	switch k {
	case KindKey:
		return "KEY"
	case KindDate:
		return "DATE"
	case KindNumeric:
		return "NUM"
	default:
		return "TEXT"
	}
}

func TestBuildCreateTableSQL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		def         TableDef
		wantSQL     string
		errContains string
	}{
		{
			name:        "empty FQN",
			def:         TableDef{FQN: "  ", Columns: []ColumnDef{{Name: "id", SQLType: "INT"}}},
			errContains: "table FQN must not be empty",
		},
		{
			name:        "no columns",
			def:         TableDef{FQN: "public.t"},
			errContains: "at least one column is required",
		},
		{
			name:        "column with empty name",
			def:         TableDef{FQN: "t", Columns: []ColumnDef{{Name: " ", SQLType: "INT"}}},
			errContains: "column with empty name",
		},
		{
			name:        "column with empty type",
			def:         TableDef{FQN: "t", Columns: []ColumnDef{{Name: "id"}}},
			errContains: "column id missing SQLType",
		},
		{
			name: "nullable, default and composite key",
			def: TableDef{
				FQN: "public.enrollments",
				Columns: []ColumnDef{
					{Name: "pincode", SQLType: "TEXT", Nullable: true, PrimaryKey: true},
					{Name: "record_date", SQLType: "DATE", PrimaryKey: true},
					{Name: "state", SQLType: "TEXT", Nullable: true, Default: "'Unknown'"},
				},
			},
			wantSQL: "CREATE TABLE IF NOT EXISTS \"public\".\"enrollments\" (\n" +
				"  \"pincode\" TEXT NOT NULL,\n" +
				"  \"record_date\" DATE NOT NULL,\n" +
				"  \"state\" TEXT DEFAULT 'Unknown',\n" +
				"  PRIMARY KEY (\"pincode\", \"record_date\")\n" +
				");",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := BuildCreateTableSQL(testDialect, tt.def)
			if tt.errContains != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errContains) {
					t.Fatalf("BuildCreateTableSQL() error = %v, want containing %q", err, tt.errContains)
				}
				if !strings.HasPrefix(err.Error(), "test ddl:") {
					t.Fatalf("error %q lacks dialect prefix", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("BuildCreateTableSQL() error = %v", err)
			}
			if got != tt.wantSQL {
				t.Fatalf("BuildCreateTableSQL() =\n%s\nwant:\n%s", got, tt.wantSQL)
			}
		})
	}
}

func TestBuildCreateTableSQL_Wrap(t *testing.T) {
	d := testDialect
	d.Wrap = func(table, body string) string { return "MAKE " + table + " {" + body + "}" }

	got, err := BuildCreateTableSQL(d, TableDef{FQN: "t", Columns: []ColumnDef{{Name: "a", SQLType: "X", Nullable: true}}})
	if err != nil {
		t.Fatalf("BuildCreateTableSQL() error = %v", err)
	}
	if want := `MAKE "t" {"a" X}`; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestQuoteFQN(t *testing.T) {
	cases := map[string]string{
		"users":          `"users"`,
		"public.users":   `"public"."users"`,
		".public..users": `"public"."users"`,
		`sch."t"`:        `"sch"."""t"""`,
		"":               "",
	}
	for in, want := range cases {
		if got := testDialect.QuoteFQN(in); got != want {
			t.Errorf("QuoteFQN(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestForLayout(t *testing.T) {
	def := ForLayout("enrollments", interchange.LayoutFor(schema.Default()), testTypes)

	if def.FQN != "enrollments" {
		t.Fatalf("FQN = %q", def.FQN)
	}
	var names []string
	for _, c := range def.Columns {
		names = append(names, c.Name)
	}
	if got, want := strings.Join(names, ","), "pincode,record_date,state,district,age_0_5,age_5_18,age_18_plus"; got != want {
		t.Fatalf("columns = %s, want %s", got, want)
	}

	pk := def.Columns[0]
	if !pk.PrimaryKey || pk.SQLType != "KEY" {
		t.Fatalf("id column = %+v", pk)
	}
	if !def.Columns[1].PrimaryKey || def.Columns[1].SQLType != "DATE" {
		t.Fatalf("date column = %+v", def.Columns[1])
	}
	if c := def.Columns[2]; c.PrimaryKey || c.Default != "'Unknown'" || !c.Nullable {
		t.Fatalf("text column = %+v", c)
	}
	if c := def.Columns[6]; c.SQLType != "NUM" || c.Default != "0" || c.Nullable {
		t.Fatalf("numeric column = %+v", c)
	}
}
