// Package interchange serializes aggregated records to the CSV handed to
// sinks and reads it back.
//
// The column order is fixed: primary id, record_date, then the catalog's text
// fields and numeric fields in catalog order. For the default catalog that is
//
//	pincode,record_date,state,district,age_0_5,age_5_18,age_18_plus
package interchange

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"

	"smartetl/internal/aggregate"
	"smartetl/internal/schema"
)

// DateColumn is the interchange and table column holding the record date.
const DateColumn = "record_date"

// Layout is the column layout derived from a catalog.
type Layout struct {
	ID      string
	Text    []string
	Numeric []string
}

// LayoutFor derives the layout of cat.
func LayoutFor(cat *schema.Catalog) Layout {
	l := Layout{ID: cat.Required().Key}
	for _, f := range cat.TextFields() {
		l.Text = append(l.Text, f.Key)
	}
	for _, f := range cat.NumericFields() {
		l.Numeric = append(l.Numeric, f.Key)
	}
	return l
}

// Columns returns the header row.
func (l Layout) Columns() []string {
	cols := make([]string, 0, 2+len(l.Text)+len(l.Numeric))
	cols = append(cols, l.ID, DateColumn)
	cols = append(cols, l.Text...)
	return append(cols, l.Numeric...)
}

// Stats describe one serialization.
type Stats struct {
	Records  int
	Bytes    int64
	Checksum string
}

type countingWriter struct {
	w io.Writer
	n int64
	h *xxh3.Hasher
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	_, _ = c.h.Write(p[:n])
	return n, err
}

// Encoder streams records in interchange form. The header is written by
// NewEncoder; Flush reports totals for everything written so far.
type Encoder struct {
	l   Layout
	cw  *countingWriter
	bw  *bufio.Writer
	out *csv.Writer
	row []string
	n   int
	err error
}

// NewEncoder writes the header row for l and returns an Encoder.
func NewEncoder(w io.Writer, l Layout) *Encoder {
	e := &Encoder{l: l, cw: &countingWriter{w: w, h: xxh3.New()}}
	e.bw = bufio.NewWriterSize(e.cw, 64*1024)
	e.out = csv.NewWriter(e.bw)
	if err := e.out.Write(l.Columns()); err != nil {
		e.err = fmt.Errorf("write header: %w", err)
	}
	return e
}

// Encode appends recs. Missing text values are written as
// aggregate.DefaultText and missing numbers as 0.
func (e *Encoder) Encode(recs []aggregate.Record) error {
	if e.err != nil {
		return e.err
	}
	for _, r := range recs {
		e.row = e.row[:0]
		e.row = append(e.row, r.PrimaryID, r.Date)
		for _, k := range e.l.Text {
			v, ok := r.Text[k]
			if !ok {
				v = aggregate.DefaultText
			}
			e.row = append(e.row, v)
		}
		for _, k := range e.l.Numeric {
			e.row = append(e.row, FormatNumber(r.Numeric[k]))
		}
		if err := e.out.Write(e.row); err != nil {
			e.err = fmt.Errorf("write record %s/%s: %w", r.PrimaryID, r.Date, err)
			return e.err
		}
		e.n++
	}
	return nil
}

// Flush pushes buffered output to the underlying writer.
func (e *Encoder) Flush() (Stats, error) {
	if e.err != nil {
		return Stats{}, e.err
	}
	e.out.Flush()
	if err := e.out.Error(); err != nil {
		e.err = fmt.Errorf("flush: %w", err)
		return Stats{}, e.err
	}
	if err := e.bw.Flush(); err != nil {
		e.err = fmt.Errorf("flush: %w", err)
		return Stats{}, e.err
	}
	return Stats{Records: e.n, Bytes: e.cw.n, Checksum: fmt.Sprintf("%016x", e.cw.h.Sum64())}, nil
}

// Write serializes recs to w with standard CSV quoting.
func Write(w io.Writer, l Layout, recs []aggregate.Record) (Stats, error) {
	enc := NewEncoder(w, l)
	if err := enc.Encode(recs); err != nil {
		return Stats{}, err
	}
	return enc.Flush()
}

// FormatNumber renders sums without a trailing ".0" for whole numbers.
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Read parses interchange CSV written for layout l. The header must match
// l.Columns() exactly.
func Read(r io.Reader, l Layout) ([]aggregate.Record, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cols := l.Columns()
	cr.FieldsPerRecord = len(cols)

	hdr, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("interchange: empty input")
	}
	if err != nil {
		return nil, fmt.Errorf("interchange header: %w", err)
	}
	if got := strings.Join(hdr, ","); got != strings.Join(cols, ",") {
		return nil, fmt.Errorf("interchange: header %q, want %q", got, strings.Join(cols, ","))
	}

	var out []aggregate.Record
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("interchange: %w", err)
		}
		r := aggregate.Record{
			PrimaryID: rec[0],
			Date:      rec[1],
			Text:      make(map[string]string, len(l.Text)),
			Numeric:   make(map[string]float64, len(l.Numeric)),
		}
		i := 2
		for _, k := range l.Text {
			r.Text[k] = rec[i]
			i++
		}
		for _, k := range l.Numeric {
			f, err := strconv.ParseFloat(rec[i], 64)
			if err != nil {
				line, _ := cr.FieldPos(i)
				return nil, fmt.Errorf("interchange: line %d column %s: %w", line, k, err)
			}
			r.Numeric[k] = f
			i++
		}
		out = append(out, r)
	}
}

// Checksum is the xxh3 digest of the serialized form of recs.
func Checksum(l Layout, recs []aggregate.Record) (string, error) {
	st, err := Write(io.Discard, l, recs)
	return st.Checksum, err
}
