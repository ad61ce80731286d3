// Package parser defines the row stream shared by the upload readers in its
// subpackages (csv, xlsx).
//
// A stream knows its header set before the first data row. Rows are views
// over that header: a lookup by a name outside the set reports false instead
// of inventing a value.
package parser

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Header is the ordered, immutable set of column names of one upload.
type Header struct {
	names []string
	index map[string]int
}

// NewHeader trims names, strips a leading byte order mark from the first one
// and indexes them. When a name repeats, the first column wins.
func NewHeader(names []string) *Header {
	h := &Header{names: make([]string, len(names)), index: make(map[string]int, len(names))}
	for i, n := range names {
		if i == 0 {
			n = strings.TrimPrefix(n, utf8BOM)
		}
		n = strings.TrimSpace(n)
		h.names[i] = n
		if n == "" {
			continue
		}
		if _, dup := h.index[n]; !dup {
			h.index[n] = i
		}
	}
	return h
}

const utf8BOM = "\uFEFF"

// Names returns the non-empty column names in file order, first occurrences only.
func (h *Header) Names() []string {
	out := make([]string, 0, len(h.index))
	for i, n := range h.names {
		if n != "" && h.index[n] == i {
			out = append(out, n)
		}
	}
	return out
}

// Index returns the column position of name.
func (h *Header) Index(name string) (int, bool) {
	i, ok := h.index[name]
	return i, ok
}

// Len is the number of physical columns, including blank and repeated names.
func (h *Header) Len() int { return len(h.names) }

// Row is one data row. Cells are only valid until the next call to Next on
// the stream that produced it.
type Row struct {
	Line  int
	hdr   *Header
	cells []string
}

// NewRow binds cells to hdr. Readers call it; cells may be shorter or longer
// than the header.
func NewRow(hdr *Header, line int, cells []string) Row {
	return Row{Line: line, hdr: hdr, cells: cells}
}

// Get returns the cell under name. ok is false when name is not part of the
// header or the row is too short to have that cell.
func (r Row) Get(name string) (string, bool) {
	i, ok := r.hdr.index[name]
	if !ok || i >= len(r.cells) {
		return "", false
	}
	return r.cells[i], true
}

// Estimate is the expected number of data rows of a stream.
type Estimate struct {
	Rows  int64
	Exact bool
}

// Rows is a pull-based stream of data rows. Next returns io.EOF after the last
// row and a *RowError for a row that could not be decoded; the stream stays
// usable after a RowError.
type Rows interface {
	Header() *Header
	Next() (Row, error)
	// Estimate may be revised while reading.
	Estimate() Estimate
	Close() error
}

// RowError reports an undecodable row.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }
func (e *RowError) Unwrap() error { return e.Err }

// ErrNoHeader is returned when an upload has no header row.
var ErrNoHeader = errors.New("parser: no header row")

// Format is an upload file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// DetectFormat picks the format from the file name and, failing that, from
// the first bytes of the content. ZIP magic means a workbook.
func DetectFormat(name string, head []byte) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	case ".csv", ".txt", ".tsv":
		return FormatCSV
	}
	if len(head) >= 4 && string(head[:4]) == "PK\x03\x04" {
		return FormatXLSX
	}
	return FormatCSV
}
