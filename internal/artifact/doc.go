// Package artifact implements the content-addressed artifact store.
//
// An artifact is an immutable blob identified by the SHA-256 of its bytes.
// Bytes live in a BlobStore (filesystem or memory); metadata lives in an
// optional Index. An artifact is visible only when both agree: a blob
// without its index row, or an index row without its blob, reads as absent.
package artifact
