// Package record is the relational backend for artifact metadata, spans
// and incidents.
//
// SQLite is the default; PostgreSQL is selected with the "postgres"
// driver. Both dialects share one set of queries written with ?
// placeholders, rebound for PostgreSQL.
//
// # Guarantees
//
//   - Artifact rows are write-once: a second insert of a digest is a no-op.
//   - Spans are append-only and reference existing artifact rows.
//   - Span reads are ordered by start_ts, end_ts, then insertion.
//   - Incidents move from open to resolved with one conditional update.
//
// # SQLite configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
package record
