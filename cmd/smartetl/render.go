package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"smartetl/internal/config"
	"smartetl/internal/mapping"
	"smartetl/internal/pipeline"
	"smartetl/internal/schema"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// renderMapping prints one row per catalog field in catalog order.
func renderMapping(w io.Writer, cat *schema.Catalog, cfg mapping.Config, method string) {
	t := newTable(w)
	t.SetTitle("mapping (" + method + ")")
	t.AppendHeader(table.Row{"Field", "Name", "Kind", "Sources", "Confidence", "Auto"})
	for _, f := range cat.Fields() {
		fm := cfg[f.Key]
		kind := "text"
		switch {
		case f.Required:
			kind = "id"
		case f.Numeric:
			kind = "sum"
		}
		srcs := "-"
		if len(fm.Sources) > 0 {
			srcs = strings.Join(fm.Sources, ", ")
		}
		t.AppendRow(table.Row{f.Key, f.DisplayName, kind, srcs, fmt.Sprintf("%.2f", fm.Confidence), fm.AutoMatched})
	}
	t.Render()
}

// renderSummary prints the final report of a run.
func renderSummary(w io.Writer, r pipeline.Result) {
	t := newTable(w)
	t.SetTitle("import " + r.ID)
	t.AppendRows([]table.Row{
		{"status", r.Status},
		{"data type", r.DataType},
		{"rows scanned", r.RowsScanned},
		{"rows dropped", r.RowsDropped},
		{"row errors", r.RowErrors},
		{"records", r.UniqueRecords},
		{"unique pincodes", r.UniquePrimaryIDs},
		{"written", r.RecordsWritten},
		{"failed", r.RecordsFailed},
		{"batches", fmt.Sprintf("%d (%d failed)", r.Batches, r.FailedBatches)},
		{"bytes", r.Bytes},
		{"checksum", r.Checksum},
	})
	if r.Message != "" {
		t.AppendRow(table.Row{"error", r.Message})
	}
	t.Render()
}

func renderIssues(w io.Writer, issues []config.Issue) {
	if len(issues) == 0 {
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"Severity", "Path", "Message"})
	for _, iss := range issues {
		t.AppendRow(table.Row{iss.Severity, iss.Path, iss.Message})
	}
	t.Render()
}
