// Package sqlite implements a SQLite sink on database/sql with the pure Go
// modernc.org/sqlite driver. A batch is one transaction running a prepared
// INSERT ... ON CONFLICT DO UPDATE per record.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"smartetl/internal/aggregate"
	"smartetl/internal/interchange"
	"smartetl/internal/storage"
	sqliteddl "smartetl/internal/storage/sqlite/ddl"
)

// Repository is a SQLite-backed storage.Sink.
type Repository struct {
	db  *sql.DB
	cfg Config
}

// NewRepository opens the database named by cfg.DSN and returns a
// Repository plus a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// one writer; also keeps ":memory:" databases on a single connection
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	closeFn := func() { _ = db.Close() }
	return &Repository{db: db, cfg: cfg}, closeFn, nil
}

// UpsertBatch implements storage.Sink. A record the database rejects rolls
// the batch back and is reported as a *storage.BatchError.
func (r *Repository) UpsertBatch(ctx context.Context, recs []aggregate.Record) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	rows, err := storage.Values(r.cfg.Layout, recs, storage.DateAsString)
	if err != nil {
		return 0, &storage.BatchError{Size: len(recs), Err: err}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, upsertSQL(r.cfg.Table, r.cfg.Layout))
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("sqlite: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			_ = tx.Rollback()
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			return 0, &storage.BatchError{
				Size: len(recs),
				Err:  fmt.Errorf("record %d (%s/%s): %w", i, recs[i].PrimaryID, recs[i].Date, err),
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit: %w", err)
	}
	return int64(len(rows)), nil
}

// Exec executes a statement, typically DDL.
func (r *Repository) Exec(ctx context.Context, sql string) error {
	if strings.TrimSpace(sql) == "" {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, sql); err != nil {
		return fmt.Errorf("sqlite: exec: %w", err)
	}
	return nil
}

func upsertSQL(table string, l interchange.Layout) string {
	cols := l.Columns()
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = sqliteddl.QuoteIdent(c)
		marks[i] = "?"
	}
	keys := storage.KeyColumns(l)
	for i, k := range keys {
		keys[i] = sqliteddl.QuoteIdent(k)
	}
	upd := storage.UpdateColumns(l)
	for i, c := range upd {
		q := sqliteddl.QuoteIdent(c)
		upd[i] = q + " = excluded." + q
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		sqliteddl.Dialect.QuoteFQN(table),
		strings.Join(quoted, ", "),
		strings.Join(marks, ", "),
		strings.Join(keys, ", "),
		strings.Join(upd, ", "),
	)
}
