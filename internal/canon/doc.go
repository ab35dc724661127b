// Package canon provides the one serialization used for content addressing:
// RFC 8785 canonical JSON plus SHA-256 hex digests over its bytes.
//
// Every payload that becomes an artifact (span arguments and results,
// models, cards, bundle manifests) goes through Marshal so that equal
// values always produce equal bytes and therefore equal digests.
//
// canon imports nothing internal. Other packages depend on it, never the
// reverse.
package canon
