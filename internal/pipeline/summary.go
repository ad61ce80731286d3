package pipeline

import (
	"log"
	"time"
)

// logSummary prints the end-of-run line and the first few row and batch
// errors.
func logSummary(r *Result) {
	if len(r.Errors) > 0 {
		log.Printf("errors: rows=%d batches=%d (showing first %d)", r.RowErrors, r.FailedBatches, len(r.Errors))
		for i, s := range r.Errors {
			log.Printf("  #%03d: %s", i+1, s)
		}
	}
	log.Printf(
		"summary: id=%s status=%s scanned=%d dropped=%d row_errors=%d unique=%d unique_ids=%d written=%d failed=%d batches=%d bytes=%d checksum=%s elapsed=%s",
		r.ID,
		r.Status,
		r.RowsScanned,
		r.RowsDropped,
		r.RowErrors,
		r.UniqueRecords,
		r.UniquePrimaryIDs,
		r.RecordsWritten,
		r.RecordsFailed,
		r.Batches,
		r.Bytes,
		r.Checksum,
		r.Elapsed.Truncate(time.Millisecond),
	)
	if r.Err != nil {
		log.Printf("pipeline: id=%s failed: %v", r.ID, r.Err)
	}
}
