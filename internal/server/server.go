// Package server exposes mapping inference and imports over HTTP.
//
// Routes:
//
//	GET  /healthz                  → "ok"
//	POST /api/mappings/infer       → proposal + validation for a header list or an uploaded file
//	POST /api/imports              → starts an import from an uploaded file, returns its id
//	GET  /api/imports/{id}         → state, last progress and result of an import
//	POST /api/imports/{id}/abort   → asks an import to stop
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"smartetl/internal/mapping"
	"smartetl/internal/pipeline"
	"smartetl/internal/schema"
	"smartetl/internal/storage"
)

const defaultMaxUploadMB = 200

// Config controls server startup and the imports it runs.
type Config struct {
	Addr string
	// UploadDir holds uploaded files while their import runs.
	UploadDir   string
	MaxUploadMB int

	Catalog  *schema.Catalog
	Inferrer mapping.Inferencer
	// Storage is the sink template; DataType, BatchID and Layout are set per
	// import.
	Storage storage.Config

	Job           string
	DateColumn    string
	BatchSize     int
	ProgressEvery int
	EventBuffer   int
}

// Server serves the API. Imports live in memory for the life of the process.
type Server struct {
	cfg Config
	mux *chi.Mux

	// base is the parent context of every import. Serve replaces it.
	base context.Context

	mu      sync.Mutex
	imports map[string]*pipeline.Orchestrator
}

// NewServer constructs a Server with its routes.
func NewServer(cfg Config) *Server {
	if cfg.Catalog == nil {
		cfg.Catalog = schema.Default()
	}
	if cfg.Inferrer == nil {
		cfg.Inferrer = mapping.NewHeuristic(cfg.Catalog)
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = defaultMaxUploadMB
	}
	s := &Server{
		cfg:     cfg,
		mux:     chi.NewRouter(),
		base:    context.Background(),
		imports: map[string]*pipeline.Orchestrator{},
	}
	s.routes()
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) routes() {
	s.mux.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
	)
	s.mux.Get("/healthz", s.handleHealth)
	s.mux.Route("/api", func(r chi.Router) {
		r.Post("/mappings/infer", s.handleInfer)
		r.Post("/imports", s.handleCreateImport)
		r.Get("/imports/{id}", s.handleGetImport)
		r.Post("/imports/{id}/abort", s.handleAbortImport)
	})
}

// Serve listens on cfg.Addr until ctx is done, then shuts down gracefully and
// aborts running imports.
func (s *Server) Serve(ctx context.Context) error {
	eg, egctx := errgroup.WithContext(ctx)
	s.base = egctx

	srv := &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.mux,
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("server: listening addr=%s upload_dir=%s sink=%s", s.cfg.Addr, s.cfg.UploadDir, s.cfg.Storage.Kind)

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Printf("server: shutting down")
		s.abortAll()
		return srv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

func (s *Server) register(o *pipeline.Orchestrator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imports[o.ID()] = o
}

func (s *Server) lookup(id string) (*pipeline.Orchestrator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.imports[id]
	return o, ok
}

func (s *Server) abortAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.imports {
		o.Abort()
	}
}
