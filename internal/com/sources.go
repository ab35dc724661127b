package com

import "github.com/roach88/provtrail/internal/feed"

// SegmentFeed is a parsed X12 source and the digest of its raw bytes.
type SegmentFeed struct {
	Digest   string
	Segments []feed.Segment
}

// TableFeed is a parsed tabular source and the digest of its raw bytes.
// Table may be nil when the extract was unusable.
type TableFeed struct {
	Digest string
	Table  *feed.Table
}

// Sources are the four typed inputs of one build.
type Sources struct {
	PurchaseOrder SegmentFeed
	ShipNotice    SegmentFeed
	ERP           TableFeed
	Carrier       TableFeed
}

// Digest returns the ingested payload digest for a source system.
func (s Sources) Digest(sys SourceSystem) string {
	switch sys {
	case SourcePurchaseOrder:
		return s.PurchaseOrder.Digest
	case SourceShipNotice:
		return s.ShipNotice.Digest
	case SourceERP:
		return s.ERP.Digest
	case SourceCarrier:
		return s.Carrier.Digest
	}
	return ""
}

// DigestMap is the digest set used as the parse step's arguments.
func (s Sources) DigestMap() map[string]string {
	return map[string]string{
		string(SourcePurchaseOrder): s.PurchaseOrder.Digest,
		string(SourceShipNotice):    s.ShipNotice.Digest,
		string(SourceERP):           s.ERP.Digest,
		string(SourceCarrier):       s.Carrier.Digest,
	}
}

func (s Sources) table(sys SourceSystem) *feed.Table {
	switch sys {
	case SourceERP:
		return s.ERP.Table
	case SourceCarrier:
		return s.Carrier.Table
	}
	return nil
}
