// Package postgres implements a Postgres sink using pgx v5. Each batch is
// COPYed into a transaction-scoped temporary table and then upserted into
// the target table with INSERT ... ON CONFLICT DO UPDATE.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"smartetl/internal/aggregate"
	"smartetl/internal/interchange"
	"smartetl/internal/storage"
)

// Config holds Postgres sink configuration.
type Config struct {
	DSN    string             // connection string for pgxpool
	Table  string             // target table, optionally schema-qualified ("public.enrollments")
	Layout interchange.Layout // column layout of the records
}

// Repository is a Postgres-backed storage.Sink.
type Repository struct {
	pool *pgxpool.Pool
	cfg  Config
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres ping: %w", err)
	}
	closeFn := func() { pool.Close() }
	return &Repository{pool: pool, cfg: cfg}, closeFn, nil
}

// UpsertBatch implements storage.Sink. Statement failures reported by the
// server are returned as *storage.BatchError; anything else (pool, network)
// is returned as is.
func (r *Repository) UpsertBatch(ctx context.Context, recs []aggregate.Record) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	rows, err := storage.Values(r.cfg.Layout, recs, storage.DateAsTime)
	if err != nil {
		return 0, &storage.BatchError{Size: len(recs), Err: err}
	}
	cols := r.cfg.Layout.Columns()
	tmp := tempName(r.cfg.Table)

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	create := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgIdent(tmp), pgFQN(r.cfg.Table),
	)
	if _, err := tx.Exec(ctx, create); err != nil {
		// the target table is missing or unreadable; no batch can succeed
		return 0, fmt.Errorf("create temp: %w", err)
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tmp}, cols, pgx.CopyFromRows(rows)); err != nil {
		return 0, classify("copy into temp", len(recs), err)
	}
	tag, err := tx.Exec(ctx, upsertSQL(r.cfg.Table, tmp, r.cfg.Layout))
	if err != nil {
		return 0, classify("upsert", len(recs), err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, classify("commit", len(recs), err)
	}
	return tag.RowsAffected(), nil
}

// Exec runs a statement on the pool.
func (r *Repository) Exec(ctx context.Context, sql string) error {
	_, err := r.pool.Exec(ctx, sql)
	return err
}

// undefinedTable is SQLSTATE 42P01. Every later batch would fail the same
// way, so it is not a batch error.
const undefinedTable = "42P01"

// classify turns server-side statement errors into batch errors, keeping
// the detail Postgres attaches to them.
func classify(step string, size int, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.SQLState() != undefinedTable {
		msg := pgErr.Message
		if pgErr.Detail != "" {
			msg += ": " + pgErr.Detail
		}
		return &storage.BatchError{
			Size: size,
			Err:  fmt.Errorf("%s: %s (%s): %w", step, msg, pgErr.SQLState(), err),
		}
	}
	return fmt.Errorf("%s: %w", step, err)
}

func tempName(table string) string {
	return "tmp_" + strings.ReplaceAll(table, ".", "_")
}

// upsertSQL moves the staged rows into table. Existing keys are overwritten
// with the incoming values.
func upsertSQL(table, tmp string, l interchange.Layout) string {
	cols := mapIdent(l.Columns())
	return fmt.Sprintf(
		"INSERT INTO %s (%s)\nSELECT %s FROM %s\nON CONFLICT (%s) DO UPDATE SET %s",
		pgFQN(table),
		strings.Join(cols, ", "),
		strings.Join(cols, ", "),
		pgIdent(tmp),
		strings.Join(mapIdent(storage.KeyColumns(l)), ", "),
		strings.Join(updateColumns(storage.UpdateColumns(l)), ", "),
	)
}

// updateColumns renders "col = EXCLUDED.col" for each column.
func updateColumns(cols []string) []string {
	updates := make([]string, 0, len(cols))
	for _, col := range cols {
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", pgIdent(col), pgIdent(col)))
	}
	return updates
}

// pgIdent safely quotes a single identifier segment for Postgres.
func pgIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// pgFQN quotes a possibly schema-qualified name like "public.enrollments" to
// "public"."enrollments".
func pgFQN(name string) string {
	parts := splitFQN(name)
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = pgIdent(p)
	}
	return strings.Join(out, ".")
}

// mapIdent maps a list of column names to their quoted forms.
func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgIdent(c)
	}
	return out
}

// splitFQN converts "schema.table" into a pgx.Identifier {"schema","table"}.
func splitFQN(fqn string) pgx.Identifier {
	parts := strings.Split(fqn, ".")
	id := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			id = append(id, p)
		}
	}
	return id
}
