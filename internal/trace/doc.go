// Package trace records every pipeline operation as an immutable span.
//
// A span carries digests of its arguments and result rather than the
// payloads themselves; the payloads are artifacts. Each run owns a
// Recorder with its own logical Clock, so two runs over byte-identical
// inputs produce the same ordered (tool, args digest, result digest)
// sequence regardless of wall-clock timing or concurrency with other runs.
//
// Spans form a forest: ParentID is an optional id reference, never a
// pointer, so spans can be persisted and queried on their own.
package trace
