package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"smartetl/internal/config"
	"smartetl/internal/datasource"
	"smartetl/internal/datasource/file"
	"smartetl/internal/mapping"
	"smartetl/internal/pipeline"
	"smartetl/internal/schema"
	"smartetl/internal/storage"
)

// ErrAborted is returned by run when the import was interrupted.
var ErrAborted = errors.New("import aborted")

type runOptions struct {
	archive string
	list    string
}

func newRunCmd(a *app) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Aggregate an upload and hand the records to the configured sink",
		Long: `Run one import: resolve the mapping (explicit file, saved profile, oracle
or heuristic), scan and aggregate the upload, serialize the records and
write them to the sink in batches. Ctrl-C aborts between rows or batches;
batches already written are kept.`,
		Example: `  smartetl run uploads/jan.csv --out-dir out
  smartetl run --source https://example.org/export.csv --storage postgres --dsn "$PG_DSN"
  smartetl run --config pipelines/daily.yaml --mapping jan.mapping.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				a.p.Source.Location = args[0]
			}
			if opts.list != "" {
				return runList(cmd.Context(), cmd.OutOrStdout(), a, opts)
			}
			return runImport(cmd.Context(), cmd.OutOrStdout(), a, opts)
		},
	}
	cmd.Flags().StringVar(&opts.archive, "archive", "", "also write the serialized records to this CSV file")
	cmd.Flags().StringVar(&opts.list, "list", "", "file listing one upload path or URL per line; each is imported in turn")
	return cmd
}

// runList imports every upload named in the manifest, one after another. A
// failed import does not stop the rest; an abort does.
func runList(ctx context.Context, w io.Writer, a *app, opts *runOptions) error {
	locations, err := file.ReadUploadList(opts.list)
	if err != nil {
		return err
	}
	if len(locations) == 0 {
		return fmt.Errorf("upload list %s is empty", opts.list)
	}
	if opts.archive != "" && len(locations) > 1 {
		return errors.New("--archive takes a single upload; drop it or use one line per run")
	}

	var errs []error
	for i, loc := range locations {
		log.Printf("run: upload %d/%d location=%s", i+1, len(locations), loc)
		a.p.Source.Location = loc
		err := runImport(ctx, w, a, opts)
		if errors.Is(err, ErrAborted) {
			return err
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", loc, err))
		}
	}
	if len(errs) > 0 {
		log.Printf("run: %d of %d uploads failed", len(errs), len(locations))
	}
	return errors.Join(errs...)
}

func runImport(ctx context.Context, w io.Writer, a *app, opts *runOptions) error {
	p := a.p
	issues := config.ValidatePipeline(*p, true)
	renderIssues(os.Stderr, issues)
	if config.HasErrors(issues) {
		return errors.New("configuration is invalid")
	}

	flush := setupMetrics(p.Metrics, p.Job, a.verbose)
	defer flush()

	cat := schema.Default()
	src := openSourceFn(p.Source.Location, p.Source)
	if a.verbose {
		log.Printf("pipeline: source=%s parser=%s storage=%s table=%s",
			p.Source.Location, p.Parser.Kind, p.Storage.Kind, p.Storage.Table)
	}

	cfg, method, err := resolveMapping(ctx, p, cat, src)
	if err != nil {
		return err
	}
	renderMapping(w, cat, cfg, method)

	rt := p.Runtime.Resolved()
	id := uuid.NewString()
	scfg := storageConfig(p, cat, id)

	var archive io.Writer
	if opts.archive != "" {
		f, err := os.Create(opts.archive)
		if err != nil {
			return fmt.Errorf("create archive: %w", err)
		}
		defer f.Close()
		archive = f
	}

	o := pipeline.New(cat, pipeline.Options{Job: p.Job, EventBuffer: rt.ChannelBuffer})
	err = o.Start(ctx, pipeline.Job{
		ID:       id,
		Name:     src.Name(),
		DataType: p.DataType,
		Mapping:  cfg,
		OpenRows: pipeline.Rows(src, p.Parser.Kind, p.Parser.Options),
		OpenSink: func(ctx context.Context) (storage.Sink, error) {
			return newSinkFn(ctx, scfg)
		},
		Archive:       archive,
		DateColumn:    p.Mapping.DateColumn,
		BatchSize:     rt.BatchSize,
		ProgressEvery: rt.ProgressEvery,
	})
	if err != nil {
		return err
	}

	var res pipeline.Result
	for ev := range o.Events() {
		switch {
		case ev.Progress != nil && a.verbose:
			pr := ev.Progress
			log.Printf("progress: phase=%s pct=%.1f rows=%d unique=%d sample=%s",
				pr.Phase, pr.Percent, pr.RowsConsumed, pr.UniqueRecords, pr.SampleID)
		case ev.Result != nil:
			res = *ev.Result
		}
	}
	renderSummary(w, res)

	switch res.Status {
	case pipeline.StateError:
		return res.Err
	case pipeline.StateAborted:
		return ErrAborted
	}
	return nil
}

// resolveMapping returns the explicit mapping file when one is configured
// and otherwise infers one from the upload's header row.
func resolveMapping(ctx context.Context, p *config.Pipeline, cat *schema.Catalog, src datasource.Source) (mapping.Config, string, error) {
	if p.Mapping.File != "" {
		cfg, err := mapping.LoadConfig(p.Mapping.File)
		if err != nil {
			return nil, "", err
		}
		return cfg, "file", nil
	}
	headers, err := readHeaders(ctx, src, p)
	if err != nil {
		return nil, "", fmt.Errorf("read header: %w", err)
	}
	prop := buildInferencer(p, cat).Infer(ctx, headers, p.DataType)
	if prop.Fallback != "" {
		log.Printf("mapping: oracle fallback: %s", prop.Fallback)
	}
	return prop.Config, prop.Method, nil
}
