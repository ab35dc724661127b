package artifact

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a digest has no complete artifact.
var ErrNotFound = errors.New("artifact not found")

// ErrCorrupt is returned when stored bytes no longer hash to their digest.
var ErrCorrupt = errors.New("artifact corrupt")

// Common MIME types used by the pipeline.
const (
	MimeJSON   = "application/json"
	MimeText   = "text/plain"
	MimeBinary = "application/octet-stream"
)

// Artifact is the persisted metadata record for one blob.
type Artifact struct {
	Digest         string            `json:"digest"`
	MimeType       string            `json:"mime_type"`
	Length         int64             `json:"length"`
	PIIMasked      bool              `json:"pii_masked"`
	CreatedAt      time.Time         `json:"created_at"`
	StorageLocator string            `json:"storage_locator"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// PutOptions carries the metadata recorded on first write. Later puts of
// the same bytes do not change it.
type PutOptions struct {
	MimeType  string
	PIIMasked bool
	Metadata  map[string]string
}
