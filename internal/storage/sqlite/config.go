package sqlite

import "smartetl/internal/interchange"

// Config holds SQLite sink configuration derived from storage.Config.
type Config struct {
	// DSN is a file path or SQLite URI, e.g.
	//   "smartetl.db"
	//   "file:smartetl.db?_pragma=busy_timeout(5000)"
	DSN string

	// Table is the target table. "main.enrollments" is accepted and quoted
	// per segment.
	Table string

	Layout interchange.Layout
}
