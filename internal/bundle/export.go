package bundle

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/provtrail/internal/artifact"
	"github.com/roach88/provtrail/internal/canon"
	"github.com/roach88/provtrail/internal/incident"
	"github.com/roach88/provtrail/internal/trace"
)

// Archive entry names.
const (
	ManifestEntry  = "manifest.json"
	ChecksumsEntry = "checksums.json"
	SignatureEntry = "signatures/key.sig"
	ArtifactPrefix = "artifacts/"
)

// Manifest is the signed description of an incident's history.
type Manifest struct {
	Incident    incident.Incident `json:"incident"`
	Spans       []trace.Span      `json:"spans"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// Checksums binds the manifest to the artifacts it references.
type Checksums struct {
	Manifest  string   `json:"manifest"`
	Artifacts []string `json:"artifacts"`
}

// Sign computes the keyed digest over manifest and checksums bytes. It
// gives tamper evidence to holders of the secret; it is not a signature
// anyone else can check.
func Sign(manifest, checksums, secret []byte) string {
	h := sha256.New()
	h.Write(manifest)
	h.Write(checksums)
	h.Write(secret)
	return hex.EncodeToString(h.Sum(nil))
}

// Export builds the bundle archive for an incident.
func (e *Exporter) Export(ctx context.Context, incidentID string) ([]byte, error) {
	inc, spans, err := e.load(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	generatedAt := e.now()

	manifest, manifestDigest, err := canon.MarshalDigest(Manifest{Incident: inc, Spans: spans, GeneratedAt: generatedAt})
	if err != nil {
		return nil, fmt.Errorf("export %s: manifest: %w", incidentID, err)
	}
	digests := trace.Digests(spans)
	if digests == nil {
		digests = []string{}
	}
	slices.Sort(digests)
	checksums, err := canon.Marshal(Checksums{Manifest: manifestDigest, Artifacts: digests})
	if err != nil {
		return nil, fmt.Errorf("export %s: checksums: %w", incidentID, err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if err := writeEntry(zw, ManifestEntry, manifest, generatedAt); err != nil {
		return nil, fmt.Errorf("export %s: %w", incidentID, err)
	}
	var gaps int
	for _, d := range digests {
		data, err := e.artifacts.Get(ctx, d)
		if errors.Is(err, artifact.ErrNotFound) {
			gaps++
			e.logger.Warn("artifact missing from bundle", "incident_id", incidentID, "digest", d)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("export %s: artifact %s: %w", incidentID, d, err)
		}
		if err := writeEntry(zw, ArtifactPrefix+d, data, generatedAt); err != nil {
			return nil, fmt.Errorf("export %s: %w", incidentID, err)
		}
	}
	if err := writeEntry(zw, ChecksumsEntry, checksums, generatedAt); err != nil {
		return nil, fmt.Errorf("export %s: %w", incidentID, err)
	}
	sig := Sign(manifest, checksums, e.secret)
	if err := writeEntry(zw, SignatureEntry, []byte(sig), generatedAt); err != nil {
		return nil, fmt.Errorf("export %s: %w", incidentID, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("export %s: close archive: %w", incidentID, err)
	}

	e.metrics.IncrementBundleExported()
	e.logger.Info("bundle exported", "incident_id", incidentID, "spans", len(spans), "artifacts", len(digests), "gaps", gaps)
	return buf.Bytes(), nil
}

func writeEntry(zw *zip.Writer, name string, data []byte, modified time.Time) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: modified})
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
