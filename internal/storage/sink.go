// Package storage holds the backend-agnostic sink contract, a factory
// registry and the sequential batch loader used during handoff.
//
// Backends live in subpackages and register themselves from init; import
// smartetl/internal/storage/all to enable every built-in kind.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"smartetl/internal/aggregate"
	"smartetl/internal/interchange"
)

// Sink upserts aggregated records keyed by (primary id, record date).
// UpsertBatch returns the number of records it accepted. An error scoped to
// the batch (bad values, constraint violations) should be a *BatchError so
// the loader can tell it apart from a lost connection.
type Sink interface {
	UpsertBatch(ctx context.Context, recs []aggregate.Record) (int64, error)
	Close()
}

// Execer is implemented by SQL sinks so DDL bootstrappers can run
// statements.
type Execer interface {
	Exec(ctx context.Context, sql string) error
}

// Config selects and configures a backend.
type Config struct {
	Kind  string `koanf:"kind" json:"kind"`
	DSN   string `koanf:"dsn" json:"dsn,omitempty"`
	Table string `koanf:"table" json:"table,omitempty"`
	// Dir is where the file backend writes.
	Dir        string `koanf:"dir" json:"dir,omitempty"`
	AutoCreate bool   `koanf:"auto_create" json:"auto_create,omitempty"`

	// Set per run by the pipeline.
	DataType string             `koanf:"-" json:"-"`
	BatchID  string             `koanf:"-" json:"-"`
	Layout   interchange.Layout `koanf:"-" json:"-"`
}

// TargetTable is cfg.Table, or the table for cfg.DataType when unset.
func (cfg Config) TargetTable() string {
	if t := strings.TrimSpace(cfg.Table); t != "" {
		return t
	}
	return TableFor(cfg.DataType)
}

// Data types and their default tables.
const (
	DataEnrollment  = "enrollment"
	DataBiometric   = "biometric"
	DataDemographic = "demographic"
)

var tables = map[string]string{
	DataEnrollment:  "enrollments",
	DataBiometric:   "biometric_updates",
	DataDemographic: "demographic_updates",
}

// TableFor maps a data type to its table. Unknown types go to enrollments.
func TableFor(dataType string) string {
	if t, ok := tables[strings.ToLower(strings.TrimSpace(dataType))]; ok {
		return t
	}
	return tables[DataEnrollment]
}

// DataTypes lists the known data types in sorted order.
func DataTypes() []string {
	out := make([]string, 0, len(tables))
	for k := range tables {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// BatchError reports a batch the sink rejected as a whole.
type BatchError struct {
	Batch int // 1-based
	Size  int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d (%d records): %v", e.Batch, e.Size, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// ErrUnknownKind is returned by New for a kind nobody registered.
var ErrUnknownKind = errors.New("unsupported storage.kind")

// Factory opens a Sink for cfg.
type Factory func(ctx context.Context, cfg Config) (Sink, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register adds or replaces the factory for kind.
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = f
}

// New opens a Sink of cfg.Kind.
func New(ctx context.Context, cfg Config) (Sink, error) {
	regMu.RLock()
	f, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w=%s", ErrUnknownKind, cfg.Kind)
	}
	return f(ctx, cfg)
}

// ListKinds returns the registered kinds in sorted order.
func ListKinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
