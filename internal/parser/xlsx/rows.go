// Package xlsx streams the first (or a named) worksheet of an Excel upload as
// parser.Rows.
package xlsx

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"smartetl/internal/config"
	"smartetl/internal/parser"
)

// Rows iterates one worksheet. The row count is taken in a separate pass
// before reading, so the estimate is exact.
type Rows struct {
	f     *excelize.File
	iter  *excelize.Rows
	hdr   *parser.Header
	total int64
	line  int
	trim  bool
}

var _ parser.Rows = (*Rows)(nil)

// NewRows opens the workbook in r. The first non-blank row of the sheet is
// the header.
//
// Options:
//   - sheet (string; default: first sheet)
//   - trim_space (bool; default true)
func NewRows(r io.Reader, opt config.Options) (*Rows, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	s := &Rows{f: f, trim: opt.Bool("trim_space", true)}

	sheet := opt.String("sheet", "")
	if sheet == "" {
		list := f.GetSheetList()
		if len(list) == 0 {
			s.Close()
			return nil, errors.New("xlsx: workbook has no sheets")
		}
		sheet = list[0]
	}

	n, err := countRows(f, sheet)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.iter, err = f.Rows(sheet)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("xlsx rows %q: %w", sheet, err)
	}
	for s.iter.Next() {
		s.line++
		cols, err := s.iter.Columns()
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("xlsx header: %w", err)
		}
		if blank(cols) {
			continue
		}
		s.hdr = parser.NewHeader(cols)
		break
	}
	if s.hdr == nil {
		s.Close()
		return nil, parser.ErrNoHeader
	}
	s.total = max(int64(n-s.line), 0)
	return s, nil
}

func countRows(f *excelize.File, sheet string) (int, error) {
	it, err := f.Rows(sheet)
	if err != nil {
		return 0, fmt.Errorf("xlsx rows %q: %w", sheet, err)
	}
	defer it.Close()
	n := 0
	for it.Next() {
		n++
	}
	return n, it.Error()
}

func (s *Rows) Header() *parser.Header { return s.hdr }

func (s *Rows) Next() (parser.Row, error) {
	for s.iter.Next() {
		s.line++
		cols, err := s.iter.Columns()
		if err != nil {
			return parser.Row{}, &parser.RowError{Line: s.line, Err: err}
		}
		if blank(cols) {
			continue
		}
		// Trailing empty cells are not stored, so only extra cells count.
		if n := s.hdr.Len(); len(cols) > n && !blank(cols[n:]) {
			return parser.Row{}, &parser.RowError{
				Line: s.line,
				Err:  fmt.Errorf("%d cells, header has %d", len(cols), n),
			}
		}
		if s.trim {
			for i, v := range cols {
				cols[i] = strings.TrimSpace(v)
			}
		}
		return parser.NewRow(s.hdr, s.line, cols), nil
	}
	if err := s.iter.Error(); err != nil {
		return parser.Row{}, fmt.Errorf("xlsx read: %w", err)
	}
	return parser.Row{}, io.EOF
}

func (s *Rows) Estimate() parser.Estimate {
	return parser.Estimate{Rows: s.total, Exact: true}
}

func (s *Rows) Close() error {
	var errs []error
	if s.iter != nil {
		errs = append(errs, s.iter.Close())
		s.iter = nil
	}
	if s.f != nil {
		errs = append(errs, s.f.Close())
		s.f = nil
	}
	return errors.Join(errs...)
}

func blank(cols []string) bool {
	for _, c := range cols {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
