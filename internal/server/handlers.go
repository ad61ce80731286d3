package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"smartetl/internal/datasource"
	"smartetl/internal/interchange"
	"smartetl/internal/mapping"
	"smartetl/internal/pipeline"
	"smartetl/internal/storage"
)

const multipartMemory = 32 << 20

type inferRequest struct {
	Headers  []string `json:"headers"`
	DataType string   `json:"data_type"`
}

type inferResponse struct {
	Headers     []string `json:"headers"`
	Fingerprint string   `json:"fingerprint"`
	mapping.Proposal
	Validation mapping.Result `json:"validation"`
}

type importResponse struct {
	ID       string         `json:"id"`
	State    pipeline.State `json:"state"`
	DataType string         `json:"data_type"`
	Mapping  mapping.Config `json:"mapping"`
	Method   string         `json:"method"`
}

type errorResponse struct {
	Error           string   `json:"error"`
	MissingRequired []string `json:"missing_required_fields,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok")
}

// handleInfer accepts {"headers": [...], "data_type": "..."} or a multipart
// form with a "file" part whose header row is used.
func (s *Server) handleInfer(w http.ResponseWriter, r *http.Request) {
	var req inferRequest
	if isMultipart(r) {
		path, _, err := s.saveUpload(w, r, "infer-"+uuid.NewString())
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		defer os.Remove(path)
		req.DataType = r.FormValue("data_type")
		req.Headers, err = readHeaders(r.Context(), path, r.FormValue("format"))
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
	} else {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
			return
		}
	}

	p := s.cfg.Inferrer.Infer(r.Context(), req.Headers, dataType(req.DataType))
	writeJSON(w, http.StatusOK, inferResponse{
		Headers:     req.Headers,
		Fingerprint: mapping.Fingerprint(req.Headers),
		Proposal:    p,
		Validation:  mapping.Validate(p.Config, s.cfg.Catalog),
	})
}

// handleCreateImport takes a multipart form: file (required), data_type,
// format and mapping (a JSON mapping; inferred from the headers when absent).
func (s *Server) handleCreateImport(w http.ResponseWriter, r *http.Request) {
	if !isMultipart(r) {
		writeError(w, http.StatusUnsupportedMediaType, errors.New("expected multipart/form-data"))
		return
	}
	id := uuid.NewString()
	path, name, err := s.saveUpload(w, r, id)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	dt := dataType(r.FormValue("data_type"))
	format := r.FormValue("format")

	var (
		cfg    mapping.Config
		method = "manual"
	)
	if raw := strings.TrimSpace(r.FormValue("mapping")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			os.Remove(path)
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode mapping: %w", err))
			return
		}
	} else {
		headers, err := readHeaders(r.Context(), path, format)
		if err != nil {
			os.Remove(path)
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		p := s.cfg.Inferrer.Infer(r.Context(), headers, dt)
		cfg, method = p.Config, p.Method
	}

	scfg := s.cfg.Storage
	scfg.DataType = dt
	scfg.BatchID = id
	scfg.Layout = interchange.LayoutFor(s.cfg.Catalog)

	o := pipeline.New(s.cfg.Catalog, pipeline.Options{Job: s.cfg.Job, EventBuffer: s.cfg.EventBuffer})
	err = o.Start(s.base, pipeline.Job{
		ID:            id,
		Name:          name,
		DataType:      dt,
		Mapping:       cfg,
		OpenRows:      pipeline.Rows(datasource.New(path, nil), format, nil),
		OpenSink:      pipeline.Sink(scfg),
		DateColumn:    s.cfg.DateColumn,
		BatchSize:     s.cfg.BatchSize,
		ProgressEvery: s.cfg.ProgressEvery,
	})
	if err != nil {
		os.Remove(path)
		var ve *mapping.ValidationError
		if errors.As(err, &ve) {
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), MissingRequired: ve.MissingRequired})
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.register(o)
	log.Printf("server: import started id=%s name=%s data_type=%s method=%s", id, name, dt, method)

	go func() {
		for ev := range o.Events() {
			if ev.Result != nil {
				log.Printf("server: import finished id=%s status=%s", id, ev.Result.Status)
			}
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("server: remove upload %s: %v", path, err)
		}
	}()

	writeJSON(w, http.StatusAccepted, importResponse{
		ID:       id,
		State:    o.State(),
		DataType: dt,
		Mapping:  cfg,
		Method:   method,
	})
}

func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	o, ok := s.lookup(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("import not found"))
		return
	}
	writeJSON(w, http.StatusOK, o.Snapshot())
}

func (s *Server) handleAbortImport(w http.ResponseWriter, r *http.Request) {
	o, ok := s.lookup(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("import not found"))
		return
	}
	o.Abort()
	writeJSON(w, http.StatusAccepted, o.Snapshot())
}

// saveUpload stores the "file" part under UploadDir as <stem><ext> and
// returns the path and the client's file name.
func (s *Server) saveUpload(w http.ResponseWriter, r *http.Request, stem string) (string, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.cfg.MaxUploadMB)<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return "", "", fmt.Errorf("parse form: %w", err)
	}
	f, fh, err := r.FormFile("file")
	if err != nil {
		return "", "", fmt.Errorf("form file: %w", err)
	}
	defer f.Close()

	dir := s.cfg.UploadDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("upload dir: %w", err)
	}
	name := filepath.Base(fh.Filename)
	path := filepath.Join(dir, stem+strings.ToLower(filepath.Ext(name)))
	out, err := os.Create(path)
	if err != nil {
		return "", "", fmt.Errorf("create upload: %w", err)
	}
	if _, err := io.Copy(out, f); err != nil {
		out.Close()
		os.Remove(path)
		return "", "", fmt.Errorf("save upload: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", "", fmt.Errorf("save upload: %w", err)
	}
	return path, name, nil
}

// readHeaders opens a stored upload just far enough to read its header row.
func readHeaders(ctx context.Context, path, format string) ([]string, error) {
	rows, err := pipeline.OpenRows(ctx, datasource.New(path, nil), format, nil)
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	defer rows.Close()
	return rows.Header().Names(), nil
}

func dataType(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return storage.DataEnrollment
	}
	return s
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
