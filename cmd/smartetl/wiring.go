package main

import (
	"context"
	"log"
	"os"

	"smartetl/internal/config"
	"smartetl/internal/datasource"
	"smartetl/internal/datasource/httpds"
	"smartetl/internal/interchange"
	"smartetl/internal/mapping"
	"smartetl/internal/metrics"
	"smartetl/internal/metrics/datadog"
	"smartetl/internal/metrics/prompush"
	"smartetl/internal/oracle"
	"smartetl/internal/pipeline"
	"smartetl/internal/schema"
	"smartetl/internal/storage"
)

// Function variables used to introduce test seams.
// In production these point to real implementations; tests can override them.
var (
	newSinkFn = func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		return pipeline.OpenSink(ctx, cfg)
	}

	openSourceFn = func(location string, c config.Source) datasource.Source {
		return datasource.New(location, httpds.NewClient(httpds.Config{
			Timeout:    c.Timeout,
			MaxRetries: c.MaxRetries,
		}))
	}

	newOracleFn = func(cfg oracle.Config, cat *schema.Catalog) (mapping.Oracle, error) {
		return oracle.New(cfg, cat)
	}
)

// storageConfig converts the config section into the sink template. batchID
// may be empty when each import sets its own.
func storageConfig(p *config.Pipeline, cat *schema.Catalog, batchID string) storage.Config {
	return storage.Config{
		Kind:       p.Storage.Kind,
		DSN:        p.Storage.DSN,
		Table:      p.Storage.Table,
		Dir:        p.Storage.Dir,
		AutoCreate: p.Storage.AutoCreate,
		DataType:   p.DataType,
		BatchID:    batchID,
		Layout:     interchange.LayoutFor(cat),
	}
}

// buildInferencer stacks the mapping strategies: saved profile, then the
// oracle, then the heuristic. Missing pieces are skipped.
func buildInferencer(p *config.Pipeline, cat *schema.Catalog) mapping.Inferencer {
	h := mapping.NewHeuristic(cat)
	var inf mapping.Inferencer = h

	if p.Mapping.UseOracle {
		o, err := newOracleFn(oracle.Config{
			APIKey:     p.Oracle.APIKey,
			Model:      p.Oracle.Model,
			BaseURL:    p.Oracle.BaseURL,
			MaxTokens:  p.Oracle.MaxTokens,
			MaxRetries: p.Oracle.MaxRetries,
		}, cat)
		if err != nil {
			log.Printf("mapping: oracle disabled: %v", err)
		} else {
			inf = &mapping.Assisted{Oracle: o, Fallback: h, Catalog: cat, Timeout: p.Oracle.Timeout}
		}
	}
	if p.Mapping.ProfileDir != "" {
		inf = &mapping.Profiled{Store: mapping.ProfileStore{Dir: p.Mapping.ProfileDir}, Next: inf, Catalog: cat}
	}
	return inf
}

// setupMetrics installs the configured backend and returns the function that
// flushes it at exit.
func setupMetrics(m config.Metrics, job string, verbose bool) func() {
	flush := func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}

	switch m.Backend {
	case "pushgateway":
		// Decide Pushgateway URL: config → env → default.
		gwURL := m.PushgatewayURL
		if gwURL == "" {
			gwURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gwURL == "" {
			gwURL = "http://localhost:9091"
		}
		b, err := prompush.NewBackend(job, gwURL)
		if err != nil {
			log.Printf("metrics: failed to init prom push backend: %v; using nop", err)
			return func() {}
		}
		log.Printf("metrics: url=%v, backend=%v, job_name=%v", gwURL, m.Backend, job)
		metrics.SetBackend(b)
		return flush

	case "datadog":
		addr := m.DatadogAddr
		if addr == "" {
			addr = os.Getenv("DD_DOGSTATSD_URL")
		}
		if addr == "" {
			addr = "127.0.0.1:8125"
		}
		b, err := datadog.NewBackend(datadog.Config{Addr: addr, Namespace: m.Namespace, GlobalTags: m.Tags})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return func() {}
		}
		log.Printf("metrics: addr=%v, backend=%v, job_name=%v", addr, m.Backend, job)
		metrics.SetBackend(b)
		return flush

	case "", "none":
		if verbose {
			log.Printf("metrics: disabled (backend=%q)", m.Backend)
		}
	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", m.Backend)
	}
	return func() {}
}

// readHeaders opens src just far enough to read its header row.
func readHeaders(ctx context.Context, src datasource.Source, p *config.Pipeline) ([]string, error) {
	rows, err := pipeline.OpenRows(ctx, src, p.Parser.Kind, p.Parser.Options)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return rows.Header().Names(), nil
}
