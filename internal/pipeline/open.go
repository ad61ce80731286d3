package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"

	"smartetl/internal/config"
	"smartetl/internal/datasource"
	"smartetl/internal/parser"
	csvparser "smartetl/internal/parser/csv"
	"smartetl/internal/parser/xlsx"
	"smartetl/internal/storage"
)

const sniffBytes = 4

// Rows returns a RowOpener over src. kind is "csv", "xlsx", or "auto"/"" to
// detect the format from the name and the first bytes.
func Rows(src datasource.Source, kind string, opt config.Options) RowOpener {
	return func(ctx context.Context) (parser.Rows, error) {
		return OpenRows(ctx, src, kind, opt)
	}
}

// OpenRows opens src and reads its header.
func OpenRows(ctx context.Context, src datasource.Source, kind string, opt config.Options) (parser.Rows, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(rc)

	format := parser.Format(kind)
	if kind == "" || kind == "auto" {
		head, _ := br.Peek(sniffBytes)
		format = parser.DetectFormat(src.Name(), head)
	}
	log.Printf("source: name=%s size=%d format=%s", src.Name(), src.Size(), format)

	switch format {
	case parser.FormatCSV:
		rows, err := csvparser.NewRows(readCloser{br, rc}, src.Size(), opt)
		if err != nil {
			_ = rc.Close()
			return nil, err
		}
		return rows, nil
	case parser.FormatXLSX:
		// The workbook is read fully into memory by the parser.
		defer rc.Close()
		return xlsx.NewRows(br, opt)
	default:
		_ = rc.Close()
		return nil, fmt.Errorf("unsupported parser kind %q", kind)
	}
}

type readCloser struct {
	io.Reader
	io.Closer
}

// Sink returns a SinkOpener for cfg. With cfg.AutoCreate the target table is
// created when missing.
func Sink(cfg storage.Config) SinkOpener {
	return func(ctx context.Context) (storage.Sink, error) {
		return OpenSink(ctx, cfg)
	}
}

// OpenSink opens the backend for cfg.Kind.
func OpenSink(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
	s, err := storage.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.AutoCreate {
		if err := storage.EnsureTable(ctx, cfg, s); err != nil {
			s.Close()
			return nil, fmt.Errorf("apply DDL: %w", err)
		}
	}
	log.Printf("sink: kind=%s table=%s", cfg.Kind, cfg.TargetTable())
	return s, nil
}
