// Package all wires every built-in sink into the storage factory.
//
// Importing it for side effects registers these kinds and their
// bootstrappers:
//
//   - "file"     (smartetl/internal/storage/file)
//   - "mssql"    (smartetl/internal/storage/mssql)
//   - "mysql"    (smartetl/internal/storage/mysql)
//   - "postgres" (smartetl/internal/storage/postgres)
//   - "sqlite"   (smartetl/internal/storage/sqlite)
//
// A binary that needs only some backends can import those packages
// directly instead.
package all

import (
	_ "smartetl/internal/storage/file"
	_ "smartetl/internal/storage/mssql"
	_ "smartetl/internal/storage/mysql"
	_ "smartetl/internal/storage/postgres"
	_ "smartetl/internal/storage/sqlite"
)
