// Package file is a sink that appends records to an interchange CSV under a
// directory. It stands in for an upload target: batches are written in
// arrival order and nothing is merged, so the file holds exactly what the
// pipeline handed off.
package file

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"smartetl/internal/aggregate"
	"smartetl/internal/interchange"
	"smartetl/internal/storage"
)

// Name returns the file name for a batch id and data type.
func Name(batchID, dataType string) string {
	if batchID == "" {
		return fmt.Sprintf("upload_%s.csv", dataType)
	}
	return fmt.Sprintf("upload_%s_%s.csv", batchID, dataType)
}

// Sink writes one interchange CSV. The file is created on the first batch.
type Sink struct {
	path   string
	layout interchange.Layout

	mu   sync.Mutex
	f    *os.File
	enc  *interchange.Encoder
	last interchange.Stats
}

var _ storage.Sink = (*Sink)(nil)

// New returns a Sink for cfg. cfg.Dir must be set; it is created by the DDL
// bootstrapper when auto_create is on.
func New(cfg storage.Config) (*Sink, error) {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		return nil, errors.New("file sink: storage.dir must be set")
	}
	dt := cfg.DataType
	if dt == "" {
		dt = storage.DataEnrollment
	}
	return &Sink{path: filepath.Join(dir, Name(cfg.BatchID, dt)), layout: cfg.Layout}, nil
}

// Path is the file being written.
func (s *Sink) Path() string { return s.path }

// Stats reports the totals as of the last successful batch.
func (s *Sink) Stats() interchange.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// UpsertBatch appends recs and flushes them to disk.
func (s *Sink) UpsertBatch(ctx context.Context, recs []aggregate.Record) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enc == nil {
		f, err := os.Create(s.path)
		if err != nil {
			return 0, fmt.Errorf("file sink: %w", err)
		}
		s.f = f
		s.enc = interchange.NewEncoder(f, s.layout)
	}
	if err := s.enc.Encode(recs); err != nil {
		return 0, fmt.Errorf("file sink: %w", err)
	}
	st, err := s.enc.Flush()
	if err != nil {
		return 0, fmt.Errorf("file sink: %w", err)
	}
	s.last = st
	return int64(len(recs)), nil
}

// Close closes the file, if one was opened.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return
	}
	if err := s.f.Close(); err != nil {
		log.Printf("file sink: close %s: %v", s.path, err)
	}
	log.Printf("file sink: wrote %s records=%d bytes=%d checksum=%s", s.path, s.last.Records, s.last.Bytes, s.last.Checksum)
	s.f = nil
}

// Bootstrap is the storage.DDLBootstrapper for the file sink: it creates the
// target directory.
func Bootstrap(_ context.Context, _ storage.Sink, cfg storage.Config) error {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("file sink: mkdir %s: %w", cfg.Dir, err)
	}
	return nil
}

func init() {
	storage.Register("file", func(_ context.Context, cfg storage.Config) (storage.Sink, error) {
		return New(cfg)
	})
	storage.RegisterDDL("file", Bootstrap)
}
