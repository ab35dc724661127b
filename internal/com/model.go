package com

import (
	"fmt"
	"slices"
)

// Semantic field names.
const (
	FieldOrderID              = "order_id"
	FieldCustomerName         = "customer_name"
	FieldExpectedShipDate     = "expected_ship_date"
	FieldExpectedDeliveryDate = "expected_delivery_date"
	FieldActualDelivery       = "actual_delivery_datetime"
	FieldCarrierETA           = "carrier_eta"
)

// SourceSystem identifies which feed a value came from.
type SourceSystem string

const (
	SourcePurchaseOrder SourceSystem = "edi_850"
	SourceShipNotice    SourceSystem = "edi_856"
	SourceERP           SourceSystem = "erp"
	SourceCarrier       SourceSystem = "carrier"
)

// SegmentLocator addresses an element within an X12 segment.
type SegmentLocator struct {
	Segment string `json:"segment"`
	Element string `json:"element"`
}

// ColumnLocator addresses a column of a tabular extract.
type ColumnLocator struct {
	Column string `json:"column"`
}

// Locator is a union: exactly one of X12 or CSV is set.
type Locator struct {
	X12 *SegmentLocator `json:"x12,omitempty"`
	CSV *ColumnLocator  `json:"csv,omitempty"`
}

// AtSegment locates element (two-digit X12 position) of segment.
func AtSegment(segment string, element int) Locator {
	return Locator{X12: &SegmentLocator{Segment: segment, Element: fmt.Sprintf("%02d", element)}}
}

// AtColumn locates a tabular column.
func AtColumn(column string) Locator {
	return Locator{CSV: &ColumnLocator{Column: column}}
}

func (l Locator) String() string {
	switch {
	case l.X12 != nil:
		return l.X12.Segment + "/" + l.X12.Element
	case l.CSV != nil:
		return "column:" + l.CSV.Column
	}
	return "unknown"
}

// ProvenanceEntry records where a field value came from.
type ProvenanceEntry struct {
	SourceSystem         SourceSystem `json:"source_system"`
	SourceArtifactDigest string       `json:"source_artifact_digest"`
	Locator              Locator      `json:"locator"`
	ObservedAt           string       `json:"observed_at"`
}

// FieldValue is a chosen value plus its provenance. The winning source's
// entries come first.
type FieldValue struct {
	Value      string            `json:"value"`
	Provenance []ProvenanceEntry `json:"provenance"`
}

// Model is the Canonical Order Model keyed by semantic field name. Absent
// fields are simply not in the map.
type Model map[string]FieldValue

// Value returns a field's chosen value.
func (m Model) Value(field string) (string, bool) {
	fv, ok := m[field]
	if !ok {
		return "", false
	}
	return fv.Value, true
}

// OrderID returns the order id or "" when it could not be extracted.
func (m Model) OrderID() string {
	v, _ := m.Value(FieldOrderID)
	return v
}

// Fields returns populated field names sorted.
func (m Model) Fields() []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

// Validate checks provenance completeness: every populated field has at
// least one entry, and every entry's digest is the digest of the payload
// ingested for its source system.
func (m Model) Validate(src Sources) error {
	for _, name := range m.Fields() {
		fv := m[name]
		if len(fv.Provenance) == 0 {
			return fmt.Errorf("field %s has no provenance", name)
		}
		for _, p := range fv.Provenance {
			want := src.Digest(p.SourceSystem)
			if want == "" || p.SourceArtifactDigest != want {
				return fmt.Errorf("field %s cites %s digest %q, ingested %q", name, p.SourceSystem, p.SourceArtifactDigest, want)
			}
			if (p.Locator.X12 == nil) == (p.Locator.CSV == nil) {
				return fmt.Errorf("field %s has a locator that is not exactly one of x12 or csv", name)
			}
		}
	}
	return nil
}
