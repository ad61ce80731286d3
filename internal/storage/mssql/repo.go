// Package mssql implements a SQL Server sink with the go-mssqldb bulk copy
// API. Each batch is bulk copied into a session temp table (#stage) and
// MERGEd into the target inside one transaction.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"smartetl/internal/aggregate"
	"smartetl/internal/interchange"
	"smartetl/internal/storage"
	msddl "smartetl/internal/storage/mssql/ddl"
)

// Config holds MSSQL sink configuration.
type Config struct {
	DSN    string
	Table  string
	Layout interchange.Layout
}

// Repository is an MSSQL-backed storage.Sink.
type Repository struct {
	db  *sql.DB
	cfg Config
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, nil, fmt.Errorf("mssql dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
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

// UpsertBatch implements storage.Sink. Errors raised by the server while
// copying or merging are returned as *storage.BatchError.
func (r *Repository) UpsertBatch(ctx context.Context, recs []aggregate.Record) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	rows, err := storage.Values(r.cfg.Layout, recs, storage.DateAsTime)
	if err != nil {
		return 0, &storage.BatchError{Size: len(recs), Err: err}
	}
	cols := r.cfg.Layout.Columns()
	stage := stageName(r.cfg.Table)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	create := fmt.Sprintf("SELECT TOP 0 %s INTO %s FROM %s",
		strings.Join(mapIdent(cols), ", "), msIdent(stage), msFQN(r.cfg.Table))
	if _, err := tx.ExecContext(ctx, create); err != nil {
		rollback()
		return 0, fmt.Errorf("create stage: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(stage, mssql.BulkOptions{}, cols...))
	if err != nil {
		rollback()
		return 0, classify("prepare bulk", len(recs), err)
	}
	for i := range rows {
		if _, err := stmt.ExecContext(ctx, rows[i]...); err != nil {
			_ = stmt.Close()
			rollback()
			return 0, classify(fmt.Sprintf("bulk row %d", i), len(recs), err)
		}
	}
	_, err = stmt.ExecContext(ctx)
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		rollback()
		return 0, classify("bulk finalize", len(recs), err)
	}

	res, err := tx.ExecContext(ctx, mergeSQL(r.cfg.Table, stage, r.cfg.Layout))
	if err != nil {
		rollback()
		return 0, classify("merge", len(recs), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		rollback()
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DROP TABLE "+msIdent(stage)); err != nil {
		rollback()
		return 0, fmt.Errorf("drop stage: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

// Exec executes a SQL statement against the pool.
func (r *Repository) Exec(ctx context.Context, sqlText string) error {
	_, err := r.db.ExecContext(ctx, sqlText)
	return err
}

// invalidObjectName is error 208, raised when the target table is missing.
const invalidObjectName = 208

// classify marks errors reported by the server as batch errors.
func classify(step string, size int, err error) error {
	var msErr mssql.Error
	if errors.As(err, &msErr) && msErr.Number != invalidObjectName {
		return &storage.BatchError{
			Size: size,
			Err:  fmt.Errorf("%s: mssql %d: %w", step, msErr.Number, err),
		}
	}
	return fmt.Errorf("%s: %w", step, err)
}

func stageName(table string) string {
	return "#stage_" + strings.ReplaceAll(table, ".", "_")
}

// mergeSQL upserts the stage into table on the key columns.
func mergeSQL(table, stage string, l interchange.Layout) string {
	keys := storage.KeyColumns(l)
	on := make([]string, len(keys))
	for i, k := range keys {
		on[i] = fmt.Sprintf("T.%s = S.%s", msIdent(k), msIdent(k))
	}
	upd := storage.UpdateColumns(l)
	set := make([]string, len(upd))
	for i, c := range upd {
		set[i] = fmt.Sprintf("T.%s = S.%s", msIdent(c), msIdent(c))
	}
	cols := mapIdent(l.Columns())
	vals := make([]string, len(cols))
	for i, c := range cols {
		vals[i] = "S." + c
	}
	return fmt.Sprintf(
		"MERGE %s WITH (HOLDLOCK) AS T\nUSING %s AS S\nON %s\n"+
			"WHEN MATCHED THEN UPDATE SET %s\n"+
			"WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s);",
		msFQN(table), msIdent(stage),
		strings.Join(on, " AND "),
		strings.Join(set, ", "),
		strings.Join(cols, ", "),
		strings.Join(vals, ", "),
	)
}

func msIdent(id string) string { return msddl.QuoteIdent(id) }

// msFQN quotes a dotted name like "dbo.enrollments" to [dbo].[enrollments].
func msFQN(name string) string { return msddl.Dialect.QuoteFQN(name) }

func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = msIdent(c)
	}
	return out
}
