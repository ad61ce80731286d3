package aggregate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartetl/internal/mapping"
	"smartetl/internal/parser"
	"smartetl/internal/schema"
)

// sliceRows serves rows from memory. errAt injects a RowError before the
// given data row index; est is reported verbatim unless estFn is set.
type sliceRows struct {
	hdr   *parser.Header
	data  [][]string
	pos   int
	errAt map[int]bool
	est   parser.Estimate
	estFn func(pos int) parser.Estimate
	fatal error
}

func newRows(header []string, data ...[]string) *sliceRows {
	return &sliceRows{
		hdr:  parser.NewHeader(header),
		data: data,
		est:  parser.Estimate{Rows: int64(len(data)), Exact: true},
	}
}

func (s *sliceRows) Header() *parser.Header { return s.hdr }

func (s *sliceRows) Next() (parser.Row, error) {
	if s.errAt[s.pos] {
		delete(s.errAt, s.pos)
		return parser.Row{}, &parser.RowError{Line: s.pos + 2, Err: errors.New("bare quote")}
	}
	if s.pos >= len(s.data) {
		if s.fatal != nil {
			return parser.Row{}, s.fatal
		}
		return parser.Row{}, io.EOF
	}
	r := parser.NewRow(s.hdr, s.pos+2, s.data[s.pos])
	s.pos++
	return r, nil
}

func (s *sliceRows) Estimate() parser.Estimate {
	if s.estFn != nil {
		return s.estFn(s.pos)
	}
	return s.est
}

func (s *sliceRows) Close() error { return nil }

var fixedNow = func() time.Time { return time.Date(2024, 5, 17, 15, 0, 0, 0, time.UTC) }

func planFor(t *testing.T, headers []string) *mapping.Plan {
	t.Helper()
	cat := schema.Default()
	cfg := mapping.NewHeuristic(cat).InferHeaders(headers)
	plan, err := cfg.Freeze(cat)
	require.NoError(t, err)
	return plan
}

var e2eHeader = []string{"Pin", "State", "Male_0_5", "Female_0_5", "Age_5_18", "Age_18_Plus", "date"}

func TestRun_SumsManyToOneByKey(t *testing.T) {
	rows := newRows(e2eHeader,
		[]string{"110001", "Delhi", "3", "4", "10", "20", "2024-01-15"},
		[]string{"110001", "Delhi", "1", "1", "1", "1", "2024-01-15"},
		[]string{"110001", "Delhi", "5", "5", "5", "5", "2024-01-16"},
		[]string{"7102", "Bihar", "1", "", "x", "2.5", "15-01-2024"},
	)
	res, err := Run(context.Background(), rows, planFor(t, e2eHeader), Options{Now: fixedNow}, nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Status)
	require.Len(t, res.Records, 3)

	r := res.Records[0]
	assert.Equal(t, Key{"007102", "2024-01-15"}, r.Key())
	assert.InDelta(t, 1, r.Numeric[schema.FieldAge0to5], 1e-9)
	assert.InDelta(t, 0, r.Numeric[schema.FieldAge5to18], 1e-9, "non-numeric counts as zero")
	assert.InDelta(t, 2.5, r.Numeric[schema.FieldAge18Plus], 1e-9)

	r = res.Records[1]
	assert.Equal(t, Key{"110001", "2024-01-15"}, r.Key())
	assert.InDelta(t, 9, r.Numeric[schema.FieldAge0to5], 1e-9)
	assert.InDelta(t, 11, r.Numeric[schema.FieldAge5to18], 1e-9)
	assert.InDelta(t, 21, r.Numeric[schema.FieldAge18Plus], 1e-9)
	assert.Equal(t, "Delhi", r.Text[schema.FieldState])
	assert.Equal(t, DefaultText, r.Text[schema.FieldDistrict])

	assert.Equal(t, Key{"110001", "2024-01-16"}, res.Records[2].Key())

	assert.EqualValues(t, 4, res.Stats.RowsScanned)
	assert.Equal(t, 3, res.Stats.UniqueRecords)
	assert.Equal(t, 2, res.Stats.UniquePrimaryIDs)
}

func TestRun_SplitAgeBandsMergeIntoOneRecord(t *testing.T) {
	rows := newRows(e2eHeader,
		[]string{"560001", "Karnataka", "3", "2", "", "", "2024-02-01"},
		[]string{"560001", "", "", "", "7", "", "2024-02-01"},
	)
	res, err := Run(context.Background(), rows, planFor(t, e2eHeader), Options{Now: fixedNow}, nil)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	r := res.Records[0]
	assert.Equal(t, Key{"560001", "2024-02-01"}, r.Key())
	assert.InDelta(t, 5, r.Numeric[schema.FieldAge0to5], 1e-9)
	assert.InDelta(t, 7, r.Numeric[schema.FieldAge5to18], 1e-9)
	assert.InDelta(t, 0, r.Numeric[schema.FieldAge18Plus], 1e-9)
	assert.Equal(t, "Karnataka", r.Text[schema.FieldState])
}

func TestRun_PaddingMergesIdentifiers(t *testing.T) {
	h := []string{"Pin", "Male_0_5", "date"}
	rows := newRows(h,
		[]string{"7102", "1", "2024-02-01"},
		[]string{"007102", "2", "2024-02-01"},
		[]string{" 7-102 ", "4", "2024-02-01"},
	)
	res, err := Run(context.Background(), rows, planFor(t, h), Options{}, nil)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "007102", res.Records[0].PrimaryID)
	assert.InDelta(t, 7, res.Records[0].Numeric[schema.FieldAge0to5], 1e-9)
}

func TestRun_DropsRowsWithoutIdentifier(t *testing.T) {
	h := []string{"Pin", "Male_0_5"}
	rows := newRows(h,
		[]string{"", "5"},
		[]string{"--", "5"},
		[]string{"110001", "1"},
	)
	res, err := Run(context.Background(), rows, planFor(t, h), Options{Now: fixedNow}, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.Stats.RowsScanned)
	assert.EqualValues(t, 2, res.Stats.RowsDropped)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "2024-05-17", res.Records[0].Date, "no date column means today")
	assert.EqualValues(t, 1, res.Stats.DefaultedDates)
}

func TestRun_DateDiscovery(t *testing.T) {
	h := []string{"Pin", "Male_0_5", "created_at", "date", "Report Day"}
	rows := newRows(h,
		// "date" is garbage, created_at is used
		[]string{"110001", "1", "2024-03-09T10:00:00Z", "soon", ""},
		// override column wins over both
		[]string{"110002", "1", "2024-03-09", "2024-03-10", "11-03-2024"},
		// nothing parseable: today
		[]string{"110003", "1", "", "never", "?"},
	)
	res, err := Run(context.Background(), rows, planFor(t, h), Options{DateColumn: "Report Day", Now: fixedNow}, nil)
	require.NoError(t, err)
	require.Len(t, res.Records, 3)
	assert.Equal(t, "2024-03-09", res.Records[0].Date)
	assert.Equal(t, "2024-03-11", res.Records[1].Date)
	assert.Equal(t, "2024-05-17", res.Records[2].Date)
}

func TestRun_TextSkipsIdentifierEcho(t *testing.T) {
	cat := schema.Default()
	h := []string{"Pin", "Code", "State", "Male_0_5"}
	cfg := mapping.Empty(cat)
	require.NoError(t, cfg.AddSource(cat, schema.FieldPincode, "Pin"))
	require.NoError(t, cfg.AddSource(cat, schema.FieldDistrict, "Code"))
	require.NoError(t, cfg.AddSource(cat, schema.FieldState, "State"))
	require.NoError(t, cfg.AddSource(cat, schema.FieldAge0to5, "Male_0_5"))
	plan, err := cfg.Freeze(cat)
	require.NoError(t, err)

	rows := newRows(h,
		[]string{"7102", "7102", "", "1"},
		[]string{"7102", "007102", "Bihar", "1"},
		[]string{"7102", "Patna", "Jharkhand", "1"},
	)
	res, err := Run(context.Background(), rows, plan, Options{Now: fixedNow}, nil)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	rec := res.Records[0]
	assert.Equal(t, "Patna", rec.Text[schema.FieldDistrict], "values equal to the id are skipped")
	assert.Equal(t, "Bihar", rec.Text[schema.FieldState], "first value is kept")
	assert.InDelta(t, 3, rec.Numeric[schema.FieldAge0to5], 1e-9)
	assert.InDelta(t, 0, rec.Numeric[schema.FieldAge18Plus], 1e-9)
}

func TestRun_CountsRowErrors(t *testing.T) {
	h := []string{"Pin", "Male_0_5"}
	rows := newRows(h, []string{"110001", "1"}, []string{"110001", "2"})
	rows.errAt = map[int]bool{1: true}

	res, err := Run(context.Background(), rows, planFor(t, h), Options{Now: fixedNow}, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Stats.RowErrors)
	assert.Len(t, res.FirstRowErrors, 1)
	assert.InDelta(t, 3, res.Records[0].Numeric[schema.FieldAge0to5], 1e-9)
}

func TestRun_FatalReadError(t *testing.T) {
	h := []string{"Pin"}
	rows := newRows(h, []string{"110001"})
	rows.fatal = errors.New("connection reset")

	_, err := Run(context.Background(), rows, planFor(t, h), Options{}, nil)
	assert.ErrorContains(t, err, "connection reset")
}

func TestRun_NoRecords(t *testing.T) {
	h := []string{"Pin", "Male_0_5"}

	_, err := Run(context.Background(), newRows(h), planFor(t, h), Options{}, nil)
	assert.ErrorIs(t, err, ErrNoRecords)

	res, err := Run(context.Background(), newRows(h, []string{"", "1"}), planFor(t, h), Options{}, nil)
	assert.ErrorIs(t, err, ErrNoRecords)
	assert.EqualValues(t, 1, res.Stats.RowsDropped)
}

func manyRows(n int) [][]string {
	out := make([][]string, n)
	for i := range out {
		out[i] = []string{fmt.Sprintf("%06d", 100000+i%500), "1"}
	}
	return out
}

func TestRun_ProgressMonotonicWithRevisedEstimate(t *testing.T) {
	h := []string{"Pin", "Male_0_5"}
	rows := newRows(h, manyRows(1000)...)
	// the estimate starts high, drops below the consumed count, then recovers
	rows.estFn = func(pos int) parser.Estimate {
		switch {
		case pos < 300:
			return parser.Estimate{Rows: 5000}
		case pos < 600:
			return parser.Estimate{Rows: 400}
		default:
			return parser.Estimate{Rows: 2000}
		}
	}

	var events []Progress
	res, err := Run(context.Background(), rows, planFor(t, h), Options{ProgressEvery: 100, Now: fixedNow},
		func(p Progress) { events = append(events, p) })
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Status)

	require.Len(t, events, 11, "ten interval events plus one at stream end")
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].Percent, events[i-1].Percent, "event %d", i)
		assert.LessOrEqual(t, events[i].Percent, ScanCeiling)
		assert.Equal(t, PhaseScanning, events[i].Phase)
	}
	last := events[len(events)-1]
	assert.InDelta(t, ScanCeiling, last.Percent, 1e-9)
	assert.EqualValues(t, 1000, last.RowsConsumed)
	assert.Equal(t, 500, last.UniqueRecords)
	assert.NotEmpty(t, last.SampleID)
}

func TestRun_AbortStopsEarly(t *testing.T) {
	h := []string{"Pin", "Male_0_5"}
	rows := newRows(h, manyRows(1000)...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := Run(ctx, rows, planFor(t, h), Options{ProgressEvery: 100, Now: fixedNow}, func(p Progress) {
		if p.RowsConsumed == 300 {
			cancel()
		}
	})
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, res.Status)
	assert.Nil(t, res.Records)
	assert.EqualValues(t, 300, res.Stats.RowsScanned)
	assert.Equal(t, 300, rows.pos, "no row is read after the abort")
}

func TestParseNumber(t *testing.T) {
	cases := map[string]float64{
		"":       0,
		"  12 ":  12,
		"1e3":    1000,
		"-4.5":   -4.5,
		"1,200":  0,
		"twelve": 0,
	}
	for in, want := range cases {
		assert.InDelta(t, want, parseNumber(in), 1e-9, in)
	}
}
