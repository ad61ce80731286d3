// Package pipeline runs one import end to end: scan and aggregate the upload,
// serialize the records to the interchange format, then hand them to a sink
// in batches.
//
// An Orchestrator owns exactly one run. The stages execute on a background
// goroutine and talk to the caller only through the Events channel and the
// Snapshot accessor.
package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"smartetl/internal/aggregate"
	"smartetl/internal/interchange"
	"smartetl/internal/mapping"
	"smartetl/internal/metrics"
	"smartetl/internal/parser"
	"smartetl/internal/schema"
	"smartetl/internal/storage"
)

// State of a run.
type State string

const (
	StateIdle        State = "idle"
	StateScanning    State = "scanning"
	StateSerializing State = "serializing"
	StateHandoff     State = "handoff"
	StateComplete    State = "complete"
	StateAborted     State = "aborted"
	StateError       State = "error"
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateAborted || s == StateError
}

// Fixed points of the progress bar outside of scanning.
const (
	serializePercent = 95.0
	handoffPercent   = 97.0
	handoffSpan      = 3.0
)

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("pipeline: already started")

// RowOpener opens the row stream of an upload.
type RowOpener func(ctx context.Context) (parser.Rows, error)

// SinkOpener opens the handoff target.
type SinkOpener func(ctx context.Context) (storage.Sink, error)

// Job describes one import.
type Job struct {
	// ID identifies the run and names its output. Generated when empty.
	ID       string
	Name     string
	DataType string
	Mapping  mapping.Config

	OpenRows RowOpener
	OpenSink SinkOpener

	// Archive receives a copy of the interchange serialization. The sink is
	// fed from a spooled copy either way.
	Archive io.Writer

	DateColumn    string
	BatchSize     int
	ProgressEvery int
	Now           func() time.Time
}

// Result is the final report of a run. It is sent exactly once on Events.
type Result struct {
	ID               string        `json:"id"`
	DataType         string        `json:"data_type"`
	Status           State         `json:"status"`
	RecordsWritten   int64         `json:"records_written"`
	RecordsFailed    int64         `json:"records_failed"`
	Batches          int           `json:"batches"`
	FailedBatches    int           `json:"failed_batches"`
	RowsScanned      int64         `json:"rows_scanned"`
	RowsDropped      int64         `json:"rows_dropped"`
	RowErrors        int64         `json:"row_errors"`
	DefaultedDates   int64         `json:"defaulted_dates"`
	UniqueRecords    int           `json:"unique_records"`
	UniquePrimaryIDs int           `json:"unique_primary_ids"`
	Bytes            int64         `json:"bytes"`
	Checksum         string        `json:"checksum,omitempty"`
	Errors           []string      `json:"errors,omitempty"`
	Elapsed          time.Duration `json:"elapsed_ns"`
	Err              error         `json:"-"`
	Message          string        `json:"error,omitempty"`
}

// Event is either a progress update or the final result.
type Event struct {
	Progress *aggregate.Progress
	Result   *Result
}

// Snapshot is the externally visible state of a run.
type Snapshot struct {
	ID       string             `json:"id"`
	State    State              `json:"state"`
	Progress aggregate.Progress `json:"progress"`
	Result   *Result            `json:"result,omitempty"`
}

// Options tune an Orchestrator.
type Options struct {
	// Job labels metrics. Defaults to "smartetl".
	Job string
	// EventBuffer is the capacity of the Events channel. Progress events are
	// dropped rather than block the run when it is full; the Result never is.
	EventBuffer int
}

// Orchestrator runs one Job. The zero value is not usable; call New.
type Orchestrator struct {
	cat    *schema.Catalog
	layout interchange.Layout
	job    string

	events chan Event
	g      *errgroup.Group
	cancel context.CancelFunc

	mu      sync.Mutex
	id      string
	state   State
	last    aggregate.Progress
	result  *Result
	aborted bool
}

func New(cat *schema.Catalog, opt Options) *Orchestrator {
	if opt.Job == "" {
		opt.Job = "smartetl"
	}
	buf := max(opt.EventBuffer, 2)
	return &Orchestrator{
		cat:    cat,
		layout: interchange.LayoutFor(cat),
		job:    opt.Job,
		events: make(chan Event, buf),
		state:  StateIdle,
	}
}

// Events carries progress events followed by exactly one Result, then is
// closed.
func (o *Orchestrator) Events() <-chan Event { return o.events }

// ID is the run id, empty before Start.
func (o *Orchestrator) ID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.id
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := Snapshot{ID: o.id, State: o.state, Progress: o.last}
	if o.result != nil {
		r := *o.result
		s.Result = &r
	}
	return s
}

// Start validates the job's mapping and starts the run in the background.
//
// An invalid mapping returns a *mapping.ValidationError and leaves the
// orchestrator idle, so Start may be called again with a corrected job.
func (o *Orchestrator) Start(ctx context.Context, job Job) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateIdle {
		return ErrAlreadyStarted
	}
	if job.OpenRows == nil || job.OpenSink == nil {
		return fmt.Errorf("pipeline: job needs a row source and a sink")
	}
	plan, err := job.Mapping.Freeze(o.cat)
	if err != nil {
		return err
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.BatchSize <= 0 {
		job.BatchSize = storage.DefaultBatchSize
	}

	o.id = job.ID
	o.state = StateScanning
	o.last = aggregate.Progress{Phase: aggregate.PhaseScanning}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.g = &errgroup.Group{}
	o.g.Go(func() error {
		defer cancel()
		res := o.run(runCtx, job, plan)
		o.finish(res)
		return res.Err
	})
	return nil
}

// Abort asks the run to stop. Rows are no longer read and no further batch
// is written; batches already written stay. Safe to call more than once and
// before Start.
func (o *Orchestrator) Abort() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel == nil || o.aborted || o.state.Terminal() {
		return
	}
	o.aborted = true
	log.Printf("pipeline: abort requested id=%s state=%s", o.id, o.state)
	o.cancel()
}

// Wait blocks until a started run ends and returns its result.
func (o *Orchestrator) Wait() Result {
	o.mu.Lock()
	g := o.g
	o.mu.Unlock()
	if g == nil {
		return Result{Status: StateIdle}
	}
	_ = g.Wait()
	o.mu.Lock()
	defer o.mu.Unlock()
	return *o.result
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// progress records p, clamped so the percent never goes down, and offers it
// to the Events channel. One slot is always left for the Result.
func (o *Orchestrator) progress(p aggregate.Progress) {
	o.mu.Lock()
	p.Percent = max(p.Percent, o.last.Percent)
	if p.SampleID == "" {
		p.SampleID = o.last.SampleID
	}
	o.last = p
	o.mu.Unlock()

	if len(o.events) < cap(o.events)-1 {
		o.events <- Event{Progress: &p}
	}
}

func (o *Orchestrator) finish(res *Result) {
	if res.Err != nil {
		res.Message = res.Err.Error()
	}
	o.mu.Lock()
	o.state = res.Status
	o.result = res
	o.mu.Unlock()

	metrics.RecordRun(o.job, string(res.Status))
	logSummary(res)
	r := *res
	o.events <- Event{Result: &r}
	close(o.events)
}

func (o *Orchestrator) run(ctx context.Context, job Job, plan *mapping.Plan) *Result {
	start := time.Now()
	res := &Result{ID: job.ID, DataType: job.DataType}
	stopped := func() *Result {
		res.Status = StateAborted
		res.Elapsed = time.Since(start)
		return res
	}
	// A failure caused by an abort is reported as the abort.
	fail := func(err error) *Result {
		if ctx.Err() != nil {
			return stopped()
		}
		res.Status, res.Err = StateError, err
		res.Elapsed = time.Since(start)
		return res
	}
	log.Printf("pipeline: start id=%s name=%s data_type=%s batch=%d", job.ID, job.Name, job.DataType, job.BatchSize)

	// scanning
	t0 := time.Now()
	sink, err := job.OpenSink(ctx)
	if err != nil {
		metrics.RecordStep(o.job, "open_sink", err, time.Since(t0))
		return fail(fmt.Errorf("open sink: %w", err))
	}
	defer sink.Close()

	rows, err := job.OpenRows(ctx)
	if err != nil {
		metrics.RecordStep(o.job, "open_source", err, time.Since(t0))
		return fail(fmt.Errorf("open source: %w", err))
	}
	defer rows.Close()

	scan, err := aggregate.Run(ctx, rows, plan, aggregate.Options{
		DateColumn:    job.DateColumn,
		ProgressEvery: job.ProgressEvery,
		Now:           job.Now,
	}, o.progress)
	metrics.RecordStep(o.job, "scan", err, time.Since(t0))
	if scan != nil {
		res.RowsScanned = scan.Stats.RowsScanned
		res.RowsDropped = scan.Stats.RowsDropped
		res.RowErrors = scan.Stats.RowErrors
		res.DefaultedDates = scan.Stats.DefaultedDates
		res.UniqueRecords = scan.Stats.UniqueRecords
		res.UniquePrimaryIDs = scan.Stats.UniquePrimaryIDs
		res.Errors = append(res.Errors, scan.FirstRowErrors...)
		metrics.RecordRow(o.job, metrics.KindScanned, scan.Stats.RowsScanned)
		metrics.RecordRow(o.job, metrics.KindDropped, scan.Stats.RowsDropped)
		metrics.RecordRow(o.job, metrics.KindRowErrors, scan.Stats.RowErrors)
	}
	if err != nil {
		return fail(fmt.Errorf("scan: %w", err))
	}
	if scan.Status == aggregate.StatusAborted {
		return stopped()
	}

	// serializing
	o.setState(StateSerializing)
	o.progress(aggregate.Progress{
		Phase:         aggregate.PhaseSerializing,
		RowsConsumed:  res.RowsScanned,
		UniqueRecords: res.UniqueRecords,
		Percent:       serializePercent,
	})
	t0 = time.Now()
	payload, err := os.CreateTemp("", "smartetl-payload-*.csv")
	if err != nil {
		metrics.RecordStep(o.job, "serialize", err, time.Since(t0))
		return fail(fmt.Errorf("serialize: %w", err))
	}
	defer func() {
		payload.Close()
		os.Remove(payload.Name())
	}()
	var w io.Writer = payload
	if job.Archive != nil {
		w = io.MultiWriter(payload, job.Archive)
	}
	ist, err := interchange.Write(w, o.layout, scan.Records)
	metrics.RecordStep(o.job, "serialize", err, time.Since(t0))
	if err != nil {
		return fail(fmt.Errorf("serialize: %w", err))
	}
	res.Bytes, res.Checksum = ist.Bytes, ist.Checksum
	log.Printf("pipeline: serialized records=%d bytes=%d checksum=%s path=%s", ist.Records, ist.Bytes, ist.Checksum, payload.Name())
	scan.Records = nil
	if ctx.Err() != nil {
		return stopped()
	}

	// handoff
	o.setState(StateHandoff)
	o.progress(aggregate.Progress{
		Phase:         aggregate.PhaseHandoff,
		RowsConsumed:  res.RowsScanned,
		UniqueRecords: res.UniqueRecords,
		Percent:       handoffPercent,
	})
	t0 = time.Now()
	recs, err := readPayload(payload, o.layout, ist.Records)
	if err != nil {
		metrics.RecordStep(o.job, "handoff", err, time.Since(t0))
		return fail(fmt.Errorf("handoff: %w", err))
	}
	ls, err := storage.LoadBatches(ctx, sink, recs, job.BatchSize, func(i, n int) {
		o.progress(aggregate.Progress{
			Phase:         aggregate.PhaseHandoff,
			RowsConsumed:  res.RowsScanned,
			UniqueRecords: res.UniqueRecords,
			Percent:       handoffPercent + handoffSpan*float64(i)/float64(n),
		})
	})
	metrics.RecordStep(o.job, "handoff", err, time.Since(t0))
	metrics.RecordRow(o.job, metrics.KindWritten, ls.Written)
	metrics.RecordRow(o.job, metrics.KindFailed, ls.Failed)
	metrics.RecordBatches(o.job, int64(ls.Batches-ls.FailedBatches))

	res.RecordsWritten = ls.Written
	res.RecordsFailed = ls.Failed
	res.Batches = ls.Batches
	res.FailedBatches = ls.FailedBatches
	res.Errors = append(res.Errors, ls.Errors...)
	if err != nil {
		return fail(fmt.Errorf("handoff: %w", err))
	}

	o.progress(aggregate.Progress{
		Phase:         aggregate.PhaseDone,
		RowsConsumed:  res.RowsScanned,
		UniqueRecords: res.UniqueRecords,
		Percent:       100,
	})
	res.Status = StateComplete
	res.Elapsed = time.Since(start)
	return res
}

// readPayload decodes the serialized records back from f for the handoff.
func readPayload(f *os.File, l interchange.Layout, want int) ([]aggregate.Record, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind payload: %w", err)
	}
	recs, err := interchange.Read(bufio.NewReader(f), l)
	if err != nil {
		return nil, err
	}
	if len(recs) != want {
		return nil, fmt.Errorf("payload holds %d records, serialized %d", len(recs), want)
	}
	return recs, nil
}
