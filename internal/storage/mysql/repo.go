// Package mysql implements a MySQL sink on database/sql with
// github.com/go-sql-driver/mysql. A batch is sent as multi-row
// INSERT ... ON DUPLICATE KEY UPDATE statements inside one transaction.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"smartetl/internal/aggregate"
	"smartetl/internal/interchange"
	"smartetl/internal/storage"
	myddl "smartetl/internal/storage/mysql/ddl"
)

// maxPlaceholders is the server's prepared statement parameter limit.
const maxPlaceholders = 65535

// Config holds MySQL sink configuration.
type Config struct {
	DSN    string
	Table  string
	Layout interchange.Layout
}

// Repository is a MySQL-backed storage.Sink.
type Repository struct {
	db  *sql.DB
	cfg Config
}

// NewRepository validates the DSN, opens a pool and pings it.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if _, err := mysql.ParseDSN(cfg.DSN); err != nil {
		return nil, nil, fmt.Errorf("mysql dsn: %w", err)
	}
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	closeFn := func() { _ = db.Close() }
	return &Repository{db: db, cfg: cfg}, closeFn, nil
}

// UpsertBatch implements storage.Sink. Server-side rejections are returned
// as *storage.BatchError; the reported count is the number of records sent
// since MySQL counts an updated row twice.
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
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	width := len(r.cfg.Layout.Columns())
	chunk := max(1, maxPlaceholders/width)
	for start := 0; start < len(rows); start += chunk {
		part := rows[start:min(start+chunk, len(rows))]
		args := make([]any, 0, len(part)*width)
		for _, row := range part {
			args = append(args, row...)
		}
		if _, err := tx.ExecContext(ctx, upsertSQL(r.cfg.Table, r.cfg.Layout, len(part)), args...); err != nil {
			_ = tx.Rollback()
			return 0, classify(len(recs), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return int64(len(recs)), nil
}

// Exec executes a statement, typically DDL.
func (r *Repository) Exec(ctx context.Context, sqlText string) error {
	_, err := r.db.ExecContext(ctx, sqlText)
	return err
}

// noSuchTable is ER_NO_SUCH_TABLE; it is an infrastructure failure rather
// than a problem with the batch.
const noSuchTable = 1146

func classify(size int, err error) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number != noSuchTable {
		return &storage.BatchError{
			Size: size,
			Err:  fmt.Errorf("upsert: mysql %d: %w", myErr.Number, err),
		}
	}
	return fmt.Errorf("upsert: %w", err)
}

// upsertSQL renders an n-row upsert against table.
func upsertSQL(table string, l interchange.Layout, n int) string {
	cols := l.Columns()
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = myddl.QuoteIdent(c)
		marks[i] = "?"
	}
	tuple := "(" + strings.Join(marks, ", ") + ")"
	tuples := make([]string, n)
	for i := range tuples {
		tuples[i] = tuple
	}
	upd := storage.UpdateColumns(l)
	for i, c := range upd {
		q := myddl.QuoteIdent(c)
		upd[i] = q + " = VALUES(" + q + ")"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s ON DUPLICATE KEY UPDATE %s",
		myddl.Dialect.QuoteFQN(table),
		strings.Join(quoted, ", "),
		strings.Join(tuples, ", "),
		strings.Join(upd, ", "),
	)
}
