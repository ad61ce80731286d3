// Package csv streams delimited uploads as parser.Rows.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"smartetl/internal/config"
	"smartetl/internal/parser"
)

const (
	// logEveryN is the heartbeat interval of the reader log line.
	logEveryN = 50_000

	// sampleRows is how many rows are read before the byte-per-row estimate
	// is trusted over defaultBytesPerRow.
	sampleRows         = 1_000
	defaultBytesPerRow = 100
)

// Rows reads CSV records on demand. It is not safe for concurrent use.
type Rows struct {
	rc        io.Closer
	cr        *csv.Reader
	hdr       *parser.Header
	trim      bool
	size      int64
	headerEnd int64
	line      int
	emitted   int64
}

var _ parser.Rows = (*Rows)(nil)

// NewRows reads the header record of r and returns a stream over the data
// rows. size is the byte size of the upload, 0 if unknown. If r is an
// io.Closer, Close closes it.
//
// Options:
//   - comma (string; first rune; default ',')
//   - trim_space (bool; default true)
//   - lazy_quotes (bool; default false)
//   - scrub (object; literal from -> to byte replacements applied before decoding)
func NewRows(r io.Reader, size int64, opt config.Options) (*Rows, error) {
	s := &Rows{size: size, trim: opt.Bool("trim_space", true)}
	if c, ok := r.(io.Closer); ok {
		s.rc = c
	}

	var reps []Replacement
	for from, to := range opt.StringMap("scrub") {
		reps = append(reps, Replacement{From: []byte(from), To: []byte(to)})
	}

	cr := csv.NewReader(newScrubber(r, reps))
	cr.Comma = opt.Rune("comma", ',')
	cr.LazyQuotes = opt.Bool("lazy_quotes", false)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1
	s.cr = cr

	for {
		s.line++
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			s.Close()
			return nil, parser.ErrNoHeader
		}
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("read header: %w", err)
		}
		if blankRecord(rec) {
			continue
		}
		s.hdr = parser.NewHeader(append([]string(nil), rec...))
		break
	}
	s.headerEnd = cr.InputOffset()
	return s, nil
}

func (s *Rows) Header() *parser.Header { return s.hdr }

// Next returns the next non-blank record. A record whose cell count differs
// from the header is returned as a *parser.RowError.
func (s *Rows) Next() (parser.Row, error) {
	for {
		s.line++
		rec, err := s.cr.Read()
		if errors.Is(err, io.EOF) {
			return parser.Row{}, io.EOF
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return parser.Row{}, &parser.RowError{Line: pe.Line, Err: err}
			}
			return parser.Row{}, fmt.Errorf("csv read: %w", err)
		}
		if blankRecord(rec) {
			continue
		}
		if len(rec) != s.hdr.Len() {
			return parser.Row{}, &parser.RowError{
				Line: s.line,
				Err:  fmt.Errorf("%w: want %d, got %d", csv.ErrFieldCount, s.hdr.Len(), len(rec)),
			}
		}
		if s.trim {
			for i, v := range rec {
				if hasEdgeSpace(v) {
					rec[i] = strings.TrimSpace(v)
				}
			}
		}
		s.emitted++
		if s.emitted%logEveryN == 0 {
			log.Printf("reader: line=%d emitted=%d", s.line, s.emitted)
		}
		return parser.NewRow(s.hdr, s.line, rec), nil
	}
}

// Estimate extrapolates the row count from the upload size and the bytes
// consumed so far. It is never exact.
func (s *Rows) Estimate() parser.Estimate {
	if s.size <= 0 {
		return parser.Estimate{}
	}
	off := s.cr.InputOffset()
	bpr := int64(defaultBytesPerRow)
	if s.emitted >= sampleRows && off > s.headerEnd {
		bpr = max((off-s.headerEnd)/s.emitted, 1)
	}
	rest := max(s.size-off, 0)
	return parser.Estimate{Rows: s.emitted + rest/bpr}
}

func (s *Rows) Close() error {
	if s.rc == nil {
		return nil
	}
	err := s.rc.Close()
	s.rc = nil
	return err
}

func blankRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// hasEdgeSpace reports whether s starts or ends with ASCII whitespace; it
// avoids the TrimSpace allocation check on the common clean cell.
func hasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	switch s[0] {
	case ' ', '\t', '\r', '\n':
		return true
	}
	switch s[len(s)-1] {
	case ' ', '\t', '\r', '\n':
		return true
	}
	return false
}
