package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"smartetl/internal/aggregate"
)

// DefaultBatchSize is the number of records per UpsertBatch call.
const DefaultBatchSize = 2000

const maxBatchErrSamples = 5

// LoadStats summarize a handoff.
type LoadStats struct {
	Batches       int
	Written       int64
	Failed        int64
	FailedBatches int
	// Errors holds the first few batch failures.
	Errors []string
}

// LoadBatches writes recs to s in batches of batchSize, one at a time, and
// calls onBatch(i, n) after batch i of n has been attempted.
//
// A failed batch adds its size to Failed and the load goes on. The load
// itself fails only when ctx is done (the error is ctx.Err(), checked before
// every batch) or when every batch failed with an error that is not a
// *BatchError, which means the sink is unusable. Batches already written are
// kept either way.
//
// Cancelling ctx stops the load between batches. The batch in flight is
// written with a context that keeps ctx's values but not its cancellation.
func LoadBatches(
	ctx context.Context,
	s Sink,
	recs []aggregate.Record,
	batchSize int,
	onBatch func(i, n int),
) (LoadStats, error) {
	if batchSize <= 0 {
		return LoadStats{}, fmt.Errorf("batchSize must be > 0")
	}
	if s == nil {
		return LoadStats{}, fmt.Errorf("sink must not be nil")
	}
	if onBatch == nil {
		onBatch = func(int, int) {}
	}

	var (
		st          LoadStats
		n           = (len(recs) + batchSize - 1) / batchSize
		start       = time.Now()
		lastFlushTS = start
		lastTotal   int64
		hardFails   int
		firstHard   error
	)
	st.Batches = n
	// A batch that has started runs to completion even if ctx is cancelled.
	write := context.WithoutCancel(ctx)

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			log.Printf("loader: aborted before batch #%d of %d written=%d", i+1, n, st.Written)
			return st, err
		}
		lo, hi := i*batchSize, min((i+1)*batchSize, len(recs))

		got, err := s.UpsertBatch(write, recs[lo:hi])
		if err != nil {
			st.Failed += int64(hi - lo)
			st.FailedBatches++
			var be *BatchError
			if errors.As(err, &be) {
				if be.Batch == 0 {
					be.Batch, be.Size = i+1, hi-lo
				}
			} else {
				err = &BatchError{Batch: i + 1, Size: hi - lo, Err: err}
				hardFails++
				if firstHard == nil {
					firstHard = err
				}
			}
			if len(st.Errors) < maxBatchErrSamples {
				st.Errors = append(st.Errors, err.Error())
			}
			log.Printf("loader: batch #%d failed size=%d err=%v", i+1, hi-lo, err)
			onBatch(i+1, n)
			continue
		}

		st.Written += got
		now := time.Now()
		sinceLast := now.Sub(lastFlushTS)
		rps := float64(0)
		if sinceLast > 0 {
			rps = float64(st.Written-lastTotal) / sinceLast.Seconds()
		}
		log.Printf(
			"batch #%d: rps=%.0f inserted=%d total_inserted=%d elapsed=%s since_last=%s",
			i+1,
			rps,
			got,
			st.Written,
			now.Sub(start).Truncate(time.Millisecond),
			sinceLast.Truncate(time.Millisecond),
		)
		lastFlushTS = now
		lastTotal = st.Written
		onBatch(i+1, n)
	}

	if n > 0 && hardFails == n {
		return st, fmt.Errorf("all %d batches failed: %w", n, firstHard)
	}
	return st, nil
}
