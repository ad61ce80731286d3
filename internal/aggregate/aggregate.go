// Package aggregate folds a row stream into one record per (primary id, date),
// summing numeric fields and keeping the first usable text value.
//
// Run is single pass and pull based. The record table is owned by one
// Aggregator for the duration of a run and handed out sorted when the stream
// ends; nothing is shared between runs.
package aggregate

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"slices"
	"strconv"
	"strings"
	"time"

	"smartetl/internal/mapping"
	"smartetl/internal/normalize"
	"smartetl/internal/parser"
)

// DefaultText replaces a text field that never received a value.
const DefaultText = "Unknown"

// DefaultProgressEvery is the row interval between scanning progress events.
const DefaultProgressEvery = 50_000

// ScanCeiling is the highest percent reported while scanning; the rest of
// the bar belongs to serializing and handoff.
const ScanCeiling = 90.0

// DateCandidates are the header names searched, in order, for a row's date.
var DateCandidates = []string{"date", "Date", "DATE", "record_date", "created_at", "timestamp"}

// ErrNoRecords is returned when a stream yields no aggregatable row.
var ErrNoRecords = errors.New("aggregate: no records produced")

// Phase of a progress event.
type Phase string

const (
	PhaseScanning    Phase = "scanning"
	PhaseSerializing Phase = "serializing"
	PhaseHandoff     Phase = "handoff"
	PhaseDone        Phase = "done"
)

// Progress is emitted repeatedly during a run and never persisted.
type Progress struct {
	Phase         Phase   `json:"phase"`
	RowsConsumed  int64   `json:"rows_consumed"`
	UniqueRecords int     `json:"unique_records"`
	Percent       float64 `json:"percent"`
	SampleID      string  `json:"sample_id,omitempty"`
}

// Status is how a run ended.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// Key identifies a record.
type Key struct {
	PrimaryID string
	Date      string
}

// Record is one aggregated output row. Text and Numeric hold every text and
// numeric field of the plan.
type Record struct {
	PrimaryID string
	Date      string
	Text      map[string]string
	Numeric   map[string]float64
}

// Key returns the record's composite key.
func (r Record) Key() Key { return Key{r.PrimaryID, r.Date} }

// Stats are the counters of a run.
type Stats struct {
	RowsScanned      int64 `json:"rows_scanned"`
	RowsDropped      int64 `json:"rows_dropped"`
	RowErrors        int64 `json:"row_errors"`
	DefaultedDates   int64 `json:"defaulted_dates"`
	UniqueRecords    int   `json:"unique_records"`
	UniquePrimaryIDs int   `json:"unique_primary_ids"`
}

// Result is the outcome of Run. Records is nil unless Status is
// StatusCompleted.
type Result struct {
	Status  Status
	Records []Record
	Stats   Stats
	// FirstRowErrors holds up to maxRowErrSamples undecodable rows.
	FirstRowErrors []string
}

// Options tune a run. Zero values are usable.
type Options struct {
	// DateColumn is tried before DateCandidates.
	DateColumn    string
	ProgressEvery int
	// Now supplies the date for rows without one. Defaults to time.Now.
	Now func() time.Time
}

const maxRowErrSamples = 5

// Aggregator accumulates rows of one header set against a frozen plan.
type Aggregator struct {
	plan      *mapping.Plan
	idSource  string
	dateCols  []string
	today     string
	table     map[Key]*Record
	ids       map[string]struct{}
	lastID    string
	defaulted int64
}

// New prepares an Aggregator. Date columns absent from hdr are skipped up
// front; the plan's sources are looked up per row.
func New(plan *mapping.Plan, hdr *parser.Header, opts Options) *Aggregator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	a := &Aggregator{
		plan:  plan,
		today: now().Format(normalize.ISODate),
		table: make(map[Key]*Record),
		ids:   make(map[string]struct{}),
	}
	if len(plan.ID.Sources) > 0 {
		a.idSource = plan.ID.Sources[0]
	}
	cands := DateCandidates
	if opts.DateColumn != "" {
		cands = append([]string{opts.DateColumn}, DateCandidates...)
	}
	seen := map[string]bool{}
	for _, c := range cands {
		if _, ok := hdr.Index(c); ok && !seen[c] {
			a.dateCols = append(a.dateCols, c)
			seen[c] = true
		}
	}
	return a
}

// Add folds row into the table. It reports false when the row has no usable
// primary id and was dropped.
func (a *Aggregator) Add(row parser.Row) bool {
	raw, _ := row.Get(a.idSource)
	raw = strings.TrimSpace(raw)
	id, ok := normalize.PrimaryID(raw)
	if !ok {
		return false
	}
	k := Key{PrimaryID: id, Date: a.rowDate(row)}

	rec := a.table[k]
	if rec == nil {
		rec = &Record{
			PrimaryID: id,
			Date:      k.Date,
			Text:      make(map[string]string, len(a.plan.Text)),
			Numeric:   make(map[string]float64, len(a.plan.Numeric)),
		}
		a.table[k] = rec
		a.ids[id] = struct{}{}
		a.lastID = id
	}

	for _, fs := range a.plan.Numeric {
		sum := rec.Numeric[fs.Field.Key]
		for _, src := range fs.Sources {
			v, _ := row.Get(src)
			sum += parseNumber(v)
		}
		rec.Numeric[fs.Field.Key] = sum
	}
	for _, fs := range a.plan.Text {
		if _, done := rec.Text[fs.Field.Key]; done {
			continue
		}
		for _, src := range fs.Sources {
			v, ok := row.Get(src)
			v = strings.TrimSpace(v)
			if !ok || v == "" || v == raw || v == id {
				continue
			}
			rec.Text[fs.Field.Key] = v
			break
		}
	}
	return true
}

// rowDate returns the first candidate that is present, non-empty and
// parseable, else today.
func (a *Aggregator) rowDate(row parser.Row) string {
	for _, c := range a.dateCols {
		v, ok := row.Get(c)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if d, ok := normalize.Date(v); ok {
			return d
		}
	}
	a.defaulted++
	return a.today
}

// parseNumber reads a numeric cell; blanks and garbage count as zero.
func parseNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// Len is the number of distinct records so far.
func (a *Aggregator) Len() int { return len(a.table) }

// UniqueIDs is the number of distinct primary ids so far, ignoring dates.
func (a *Aggregator) UniqueIDs() int { return len(a.ids) }

// SampleID is the primary id of the most recently created record.
func (a *Aggregator) SampleID() string { return a.lastID }

// Records returns the table sorted by primary id then date, with defaults
// filled in for fields that never received a value.
func (a *Aggregator) Records() []Record {
	out := make([]Record, 0, len(a.table))
	for _, p := range a.table {
		rec := *p
		for _, fs := range a.plan.Text {
			if _, ok := rec.Text[fs.Field.Key]; !ok {
				rec.Text[fs.Field.Key] = DefaultText
			}
		}
		for _, fs := range a.plan.Numeric {
			if _, ok := rec.Numeric[fs.Field.Key]; !ok {
				rec.Numeric[fs.Field.Key] = 0
			}
		}
		out = append(out, rec)
	}
	slices.SortFunc(out, func(x, y Record) int {
		return cmp.Or(cmp.Compare(x.PrimaryID, y.PrimaryID), cmp.Compare(x.Date, y.Date))
	})
	return out
}

// progressMeter turns row counts into a non-decreasing percent, even when the
// row estimate is revised downwards.
type progressMeter struct {
	last float64
}

func (m *progressMeter) percent(consumed int64, est parser.Estimate) float64 {
	if est.Rows > 0 {
		p := float64(consumed) / float64(est.Rows) * 100
		p = min(p, ScanCeiling)
		m.last = max(m.last, p)
	}
	return m.last
}

// Run consumes rows until EOF, an error, or ctx is done.
//
// A canceled run returns StatusAborted with the counters so far and a nil
// error. Undecodable rows are counted and skipped. Any other read error, or a
// stream that produces no record, is returned as an error.
func Run(ctx context.Context, rows parser.Rows, plan *mapping.Plan, opts Options, onProgress func(Progress)) (*Result, error) {
	every := opts.ProgressEvery
	if every <= 0 {
		every = DefaultProgressEvery
	}
	if onProgress == nil {
		onProgress = func(Progress) {}
	}

	agg := New(plan, rows.Header(), opts)
	res := &Result{}
	var meter progressMeter
	start := time.Now()

	emit := func(pct float64) {
		onProgress(Progress{
			Phase:         PhaseScanning,
			RowsConsumed:  res.Stats.RowsScanned,
			UniqueRecords: agg.Len(),
			Percent:       pct,
			SampleID:      agg.SampleID(),
		})
	}
	finish := func(st Status) *Result {
		res.Status = st
		res.Stats.UniqueRecords = agg.Len()
		res.Stats.UniquePrimaryIDs = agg.UniqueIDs()
		res.Stats.DefaultedDates = agg.defaulted
		return res
	}

	for {
		if err := ctx.Err(); err != nil {
			log.Printf("aggregate: aborted rows=%d unique=%d", res.Stats.RowsScanned, agg.Len())
			return finish(StatusAborted), nil
		}

		row, err := rows.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var re *parser.RowError
			if !errors.As(err, &re) {
				return nil, fmt.Errorf("read rows: %w", err)
			}
			res.Stats.RowErrors++
			if len(res.FirstRowErrors) < maxRowErrSamples {
				res.FirstRowErrors = append(res.FirstRowErrors, re.Error())
			}
			continue
		}

		res.Stats.RowsScanned++
		if !agg.Add(row) {
			res.Stats.RowsDropped++
		}
		if res.Stats.RowsScanned%int64(every) == 0 {
			emit(meter.percent(res.Stats.RowsScanned, rows.Estimate()))
		}
	}

	meter.last = max(meter.last, ScanCeiling)
	emit(meter.last)

	if agg.Len() == 0 {
		finish(StatusCompleted)
		return res, ErrNoRecords
	}
	res.Records = agg.Records()
	finish(StatusCompleted)
	log.Printf("aggregate: rows=%d dropped=%d row_errors=%d unique=%d unique_ids=%d defaulted_dates=%d elapsed=%s",
		res.Stats.RowsScanned, res.Stats.RowsDropped, res.Stats.RowErrors,
		res.Stats.UniqueRecords, res.Stats.UniquePrimaryIDs, res.Stats.DefaultedDates,
		time.Since(start).Truncate(time.Millisecond))
	return res, nil
}
