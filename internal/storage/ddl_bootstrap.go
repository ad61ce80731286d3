package storage

import (
	"context"
	"fmt"
	"sync"
)

// DDLBootstrapper creates the target table for cfg if it does not exist.
// Backends register one per kind from init.
type DDLBootstrapper func(ctx context.Context, s Sink, cfg Config) error

var (
	ddlMu  sync.RWMutex
	ddlFns = map[string]DDLBootstrapper{}
)

// RegisterDDL adds or replaces the DDLBootstrapper for kind.
func RegisterDDL(kind string, fn DDLBootstrapper) {
	ddlMu.Lock()
	defer ddlMu.Unlock()
	ddlFns[kind] = fn
}

// EnsureTable runs the bootstrapper registered for cfg.Kind against an
// already open sink.
func EnsureTable(ctx context.Context, cfg Config, s Sink) error {
	ddlMu.RLock()
	fn, ok := ddlFns[cfg.Kind]
	ddlMu.RUnlock()
	if !ok {
		return fmt.Errorf("no DDL bootstrapper registered for storage.kind=%q", cfg.Kind)
	}
	return fn(ctx, s, cfg)
}

// ExecerOf returns s as an Execer or an error naming the kind.
func ExecerOf(s Sink, kind string) (Execer, error) {
	ex, ok := s.(Execer)
	if !ok {
		return nil, fmt.Errorf("%s: sink %T cannot execute DDL", kind, s)
	}
	return ex, nil
}
