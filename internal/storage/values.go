package storage

import (
	"fmt"
	"time"

	"smartetl/internal/aggregate"
	"smartetl/internal/interchange"
	"smartetl/internal/normalize"
)

// DateMode is how record dates are handed to a driver.
type DateMode int

const (
	// DateAsString passes "YYYY-MM-DD" through (SQLite, MySQL).
	DateAsString DateMode = iota
	// DateAsTime parses the date into a UTC time.Time (pgx COPY, bulk copy).
	DateAsTime
)

// Values flattens recs into rows ordered as l.Columns(). Missing text values
// become aggregate.DefaultText and missing numbers 0.
func Values(l interchange.Layout, recs []aggregate.Record, mode DateMode) ([][]any, error) {
	rows := make([][]any, 0, len(recs))
	width := 2 + len(l.Text) + len(l.Numeric)
	for _, r := range recs {
		row := make([]any, 0, width)
		row = append(row, r.PrimaryID)
		switch mode {
		case DateAsTime:
			d, err := time.Parse(normalize.ISODate, r.Date)
			if err != nil {
				return nil, fmt.Errorf("record %s: date %q: %w", r.PrimaryID, r.Date, err)
			}
			row = append(row, d)
		default:
			row = append(row, r.Date)
		}
		for _, k := range l.Text {
			v, ok := r.Text[k]
			if !ok {
				v = aggregate.DefaultText
			}
			row = append(row, v)
		}
		for _, k := range l.Numeric {
			row = append(row, r.Numeric[k])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// KeyColumns are the conflict target for every SQL backend.
func KeyColumns(l interchange.Layout) []string {
	return []string{l.ID, interchange.DateColumn}
}

// UpdateColumns are the columns overwritten when a key already exists.
func UpdateColumns(l interchange.Layout) []string {
	cols := make([]string, 0, len(l.Text)+len(l.Numeric))
	cols = append(cols, l.Text...)
	return append(cols, l.Numeric...)
}
