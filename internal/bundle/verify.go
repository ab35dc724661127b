package bundle

import (
	"archive/zip"
	"bytes"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/roach88/provtrail/internal/canon"
	"github.com/roach88/provtrail/internal/trace"
)

//go:embed schema/*.json
var schemaFS embed.FS

const schemaBaseURL = "https://schemas.provtrail.dev/bundle/"

type schemas struct {
	manifest  *jsonschema.Schema
	checksums *jsonschema.Schema
}

var loadSchemas = sync.OnceValues(func() (schemas, error) {
	c := jsonschema.NewCompiler()
	var out schemas
	for _, s := range []struct {
		name string
		dst  **jsonschema.Schema
	}{
		{"manifest.schema.json", &out.manifest},
		{"checksums.schema.json", &out.checksums},
	} {
		src, err := schemaFS.ReadFile("schema/" + s.name)
		if err != nil {
			return schemas{}, fmt.Errorf("read schema %s: %w", s.name, err)
		}
		url := schemaBaseURL + s.name
		if err := c.AddResource(url, bytes.NewReader(src)); err != nil {
			return schemas{}, fmt.Errorf("add schema resource %s: %w", s.name, err)
		}
		if *s.dst, err = c.Compile(url); err != nil {
			return schemas{}, fmt.Errorf("compile schema %s: %w", s.name, err)
		}
	}
	return out, nil
})

// Report is the outcome of verifying an archive.
type Report struct {
	ManifestDigest string `json:"manifest_digest"`

	// SignatureValid: signatures/key.sig matches manifest, checksums and
	// the secret.
	SignatureValid bool `json:"signature_valid"`

	// ManifestMatches: checksums.json names the digest of manifest.json.
	ManifestMatches bool `json:"manifest_matches"`

	// ReferencesMatch: checksums.json lists exactly the digests the
	// manifest's spans reference.
	ReferencesMatch bool `json:"references_match"`

	Artifacts int      `json:"artifacts"`
	Missing   []string `json:"missing"`
	Corrupt   []string `json:"corrupt"`
	Unlisted  []string `json:"unlisted"`

	SchemaErrors []string `json:"schema_errors"`
}

// Tampered reports whether anything in the archive contradicts its
// signature or checksums.
func (r Report) Tampered() bool {
	return !r.SignatureValid || !r.ManifestMatches || !r.ReferencesMatch ||
		len(r.Corrupt) > 0 || len(r.Unlisted) > 0 || len(r.SchemaErrors) > 0
}

// OK reports an untampered archive with no integrity gaps.
func (r Report) OK() bool {
	return !r.Tampered() && len(r.Missing) == 0
}

// Verify checks an archive produced by Export. It fails only when the
// archive cannot be read or lacks its fixed entries; every other problem is
// reported.
func Verify(data, secret []byte) (Report, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Report{}, fmt.Errorf("verify: open archive: %w", err)
	}
	entries := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		b, err := readEntry(f)
		if err != nil {
			return Report{}, fmt.Errorf("verify: %w", err)
		}
		entries[f.Name] = b
	}

	manifest, ok := entries[ManifestEntry]
	if !ok {
		return Report{}, fmt.Errorf("verify: archive has no %s", ManifestEntry)
	}
	checksumBytes, ok := entries[ChecksumsEntry]
	if !ok {
		return Report{}, fmt.Errorf("verify: archive has no %s", ChecksumsEntry)
	}
	sig, ok := entries[SignatureEntry]
	if !ok {
		return Report{}, fmt.Errorf("verify: archive has no %s", SignatureEntry)
	}

	r := Report{
		ManifestDigest: canon.Digest(manifest),
		Missing:        []string{},
		Corrupt:        []string{},
		Unlisted:       []string{},
		SchemaErrors:   []string{},
	}
	want := Sign(manifest, checksumBytes, secret)
	r.SignatureValid = subtle.ConstantTimeCompare([]byte(want), bytes.TrimSpace(sig)) == 1

	s, err := loadSchemas()
	if err != nil {
		return Report{}, fmt.Errorf("verify: %w", err)
	}
	if err := validate(s.manifest, manifest); err != nil {
		r.SchemaErrors = append(r.SchemaErrors, ManifestEntry+": "+err.Error())
	}
	if err := validate(s.checksums, checksumBytes); err != nil {
		r.SchemaErrors = append(r.SchemaErrors, ChecksumsEntry+": "+err.Error())
	}

	var checksums Checksums
	if err := json.Unmarshal(checksumBytes, &checksums); err != nil {
		r.SchemaErrors = append(r.SchemaErrors, ChecksumsEntry+": "+err.Error())
	}
	r.ManifestMatches = checksums.Manifest == r.ManifestDigest

	var m Manifest
	if err := json.Unmarshal(manifest, &m); err != nil {
		r.SchemaErrors = append(r.SchemaErrors, ManifestEntry+": "+err.Error())
	}
	referenced := trace.Digests(m.Spans)
	slices.Sort(referenced)
	listed := slices.Clone(checksums.Artifacts)
	slices.Sort(listed)
	r.ReferencesMatch = slices.Equal(referenced, listed)

	for _, d := range checksums.Artifacts {
		b, ok := entries[ArtifactPrefix+d]
		if !ok {
			r.Missing = append(r.Missing, d)
			continue
		}
		r.Artifacts++
		if canon.Digest(b) != d {
			r.Corrupt = append(r.Corrupt, d)
		}
	}
	for name := range entries {
		d, ok := strings.CutPrefix(name, ArtifactPrefix)
		if ok && !slices.Contains(checksums.Artifacts, d) {
			r.Unlisted = append(r.Unlisted, d)
		}
	}
	slices.Sort(r.Unlisted)
	return r, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return b, nil
}

func validate(schema *jsonschema.Schema, raw []byte) error {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	return schema.Validate(payload)
}
