package ddl

import (
	"context"
	"fmt"

	gddl "smartetl/internal/ddl"
	"smartetl/internal/storage"
)

// Bootstrap is the storage.DDLBootstrapper for Postgres. It issues CREATE
// TABLE IF NOT EXISTS for the run's layout through the sink's Exec.
func Bootstrap(ctx context.Context, s storage.Sink, cfg storage.Config) error {
	ex, err := storage.ExecerOf(s, "postgres")
	if err != nil {
		return err
	}
	return EnsureTable(ctx, ex, gddl.ForLayout(cfg.TargetTable(), cfg.Layout, MapType))
}

// EnsureTable creates def if it does not exist.
func EnsureTable(ctx context.Context, ex storage.Execer, def gddl.TableDef) error {
	sql, err := BuildCreateTableSQL(def)
	if err != nil {
		return err
	}
	if err := ex.Exec(ctx, sql); err != nil {
		return fmt.Errorf("postgres: create table %s: %w", def.FQN, err)
	}
	return nil
}
