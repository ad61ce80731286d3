package postgres

import (
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"smartetl/internal/interchange"
	"smartetl/internal/schema"
	"smartetl/internal/storage"
)

func TestUpsertSQL(t *testing.T) {
	t.Parallel()

	got := upsertSQL("public.enrollments", "tmp_public_enrollments", interchange.LayoutFor(schema.Default()))
	want := `INSERT INTO "public"."enrollments" ("pincode", "record_date", "state", "district", "age_0_5", "age_5_18", "age_18_plus")
SELECT "pincode", "record_date", "state", "district", "age_0_5", "age_5_18", "age_18_plus" FROM "tmp_public_enrollments"
ON CONFLICT ("pincode", "record_date") DO UPDATE SET "state" = EXCLUDED."state", "district" = EXCLUDED."district", ` +
		`"age_0_5" = EXCLUDED."age_0_5", "age_5_18" = EXCLUDED."age_5_18", "age_18_plus" = EXCLUDED."age_18_plus"`
	if got != want {
		t.Fatalf("upsertSQL() =\n%s\nwant:\n%s", got, want)
	}
}

func TestIdentHelpers(t *testing.T) {
	t.Parallel()

	if got := pgFQN("public.enrollments"); got != `"public"."enrollments"` {
		t.Errorf("pgFQN = %s", got)
	}
	if got := pgFQN(`odd"name`); got != `"odd""name"` {
		t.Errorf("pgFQN = %s", got)
	}
	if got := splitFQN(".public..t"); len(got) != 2 || got[0] != "public" || got[1] != "t" {
		t.Errorf("splitFQN = %#v", got)
	}
	if got := splitFQN("t"); !equalIdent(got, pgx.Identifier{"t"}) {
		t.Errorf("splitFQN = %#v", got)
	}
	if got := tempName("public.enrollments"); got != "tmp_public_enrollments" {
		t.Errorf("tempName = %s", got)
	}
}

func equalIdent(a, b pgx.Identifier) bool {
	return strings.Join(a, ".") == strings.Join(b, ".")
}

func TestClassify(t *testing.T) {
	t.Parallel()

	pgErr := &pgconn.PgError{Code: "22P02", Message: "invalid input syntax for type date", Detail: `value "x"`}
	err := classify("copy into temp", 10, pgErr)
	var be *storage.BatchError
	if !errors.As(err, &be) {
		t.Fatalf("server error not classified as batch error: %v", err)
	}
	if be.Size != 10 || !strings.Contains(be.Error(), "22P02") || !strings.Contains(be.Error(), `value "x"`) {
		t.Fatalf("batch error = %v", be)
	}
	if !errors.Is(err, pgErr) {
		t.Fatalf("cause lost")
	}

	netErr := errors.New("connection reset by peer")
	err = classify("upsert", 10, netErr)
	if errors.As(err, &be) {
		t.Fatalf("transport error classified as batch error: %v", err)
	}
	if !errors.Is(err, netErr) {
		t.Fatalf("cause lost")
	}

	missing := &pgconn.PgError{Code: "42P01", Message: `relation "enrollments" does not exist`}
	err = classify("upsert", 10, missing)
	if errors.As(err, &be) {
		t.Fatalf("missing table classified as batch error: %v", err)
	}
	if !errors.Is(err, missing) {
		t.Fatalf("cause lost")
	}
}
