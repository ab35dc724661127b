package pipeline

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/provtrail/internal/artifact"
	"github.com/roach88/provtrail/internal/com"
)

// Manifest describes the four inputs of one run.
//
// Example:
//
//	name: po123
//	observed_at: 2025-08-09T00:00:00Z
//	purchase_order: {path: po_850.edi}
//	ship_notice: {path: asn_856.edi}
//	erp: {path: erp.csv, mime_type: text/csv}
//	carrier: {path: carrier.csv}
type Manifest struct {
	// Name labels the run in logs and batch results. Defaults to the
	// manifest file name.
	Name string `yaml:"name,omitempty"`

	// ObservedAt overrides the configured observation timestamp (RFC 3339).
	ObservedAt string `yaml:"observed_at,omitempty"`

	PurchaseOrder Source `yaml:"purchase_order"`
	ShipNotice    Source `yaml:"ship_notice"`
	ERP           Source `yaml:"erp"`
	Carrier       Source `yaml:"carrier"`
}

// Source points at one input file. Relative paths resolve against the
// manifest's directory.
type Source struct {
	Path     string `yaml:"path"`
	MimeType string `yaml:"mime_type,omitempty"`
}

// Input is one source's raw bytes.
type Input struct {
	System   com.SourceSystem
	Name     string
	MimeType string
	Data     []byte
}

// Inputs is everything a run consumes.
type Inputs struct {
	Name          string
	ObservedAt    time.Time // zero means the runner's default
	PurchaseOrder Input
	ShipNotice    Input
	ERP           Input
	Carrier       Input
}

// All returns the inputs in retrieval order.
func (in Inputs) All() []Input {
	return []Input{in.PurchaseOrder, in.ShipNotice, in.ERP, in.Carrier}
}

// LoadManifest reads and parses a run manifest YAML file.
// Unknown fields are rejected.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	base := filepath.Dir(path)
	for _, src := range m.sources() {
		if src.Path != "" && !filepath.IsAbs(src.Path) {
			src.Path = filepath.Join(base, src.Path)
		}
	}
	if m.Name == "" {
		m.Name = filepath.Base(path)
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return &m, nil
}

func (m *Manifest) sources() []*Source {
	return []*Source{&m.PurchaseOrder, &m.ShipNotice, &m.ERP, &m.Carrier}
}

// Validate checks that every source is named and the timestamp parses.
func (m *Manifest) Validate() error {
	for _, f := range []struct {
		key string
		src Source
	}{
		{"purchase_order", m.PurchaseOrder},
		{"ship_notice", m.ShipNotice},
		{"erp", m.ERP},
		{"carrier", m.Carrier},
	} {
		if f.src.Path == "" {
			return fmt.Errorf("%s.path is required", f.key)
		}
	}
	if m.ObservedAt != "" {
		if _, err := time.Parse(time.RFC3339, m.ObservedAt); err != nil {
			return fmt.Errorf("observed_at: %w", err)
		}
	}
	return nil
}

// Read loads the referenced files.
func (m *Manifest) Read() (Inputs, error) {
	in := Inputs{Name: m.Name}
	if m.ObservedAt != "" {
		t, err := time.Parse(time.RFC3339, m.ObservedAt)
		if err != nil {
			return Inputs{}, fmt.Errorf("read manifest %s: observed_at: %w", m.Name, err)
		}
		in.ObservedAt = t.UTC()
	}

	var err error
	if in.PurchaseOrder, err = readInput(com.SourcePurchaseOrder, m.PurchaseOrder); err != nil {
		return Inputs{}, err
	}
	if in.ShipNotice, err = readInput(com.SourceShipNotice, m.ShipNotice); err != nil {
		return Inputs{}, err
	}
	if in.ERP, err = readInput(com.SourceERP, m.ERP); err != nil {
		return Inputs{}, err
	}
	if in.Carrier, err = readInput(com.SourceCarrier, m.Carrier); err != nil {
		return Inputs{}, err
	}
	return in, nil
}

func readInput(sys com.SourceSystem, src Source) (Input, error) {
	data, err := os.ReadFile(src.Path)
	if err != nil {
		return Input{}, fmt.Errorf("read %s input: %w", sys, err)
	}
	mime := src.MimeType
	if mime == "" {
		mime = artifact.MimeText
	}
	return Input{System: sys, Name: filepath.Base(src.Path), MimeType: mime, Data: data}, nil
}
