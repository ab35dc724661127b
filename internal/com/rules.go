package com

import (
	"log/slog"
	"time"

	"github.com/roach88/provtrail/internal/feed"
)

// X12 qualifiers and positions.
const (
	segBEG = "BEG"
	segDTM = "DTM"

	qualRequestedShip = "037"
	qualDelivered     = "011"
)

// Resolution is a rule's answer for one field.
type Resolution struct {
	Value    string
	Source   SourceSystem
	Locators []Locator
}

// RuleContext is what a rule may read. OrderID is the order id resolved
// so far and is empty while resolving the order id itself.
type RuleContext struct {
	Sources Sources
	OrderID string
	Logger  *slog.Logger
}

// Rule resolves one field or reports absence.
type Rule func(rc *RuleContext) (Resolution, bool)

// FieldRules is a field and its rules in precedence order.
type FieldRules struct {
	Field string
	Rules []Rule
}

// DefaultRules is the production precedence. The order id comes first
// because the tabular lookups are keyed by it. ERP beats the purchase order
// for the expected ship date.
func DefaultRules() []FieldRules {
	return []FieldRules{
		{FieldOrderID, []Rule{OrderIDFromPurchaseOrder}},
		{FieldCustomerName, []Rule{FromTable(SourceERP, feed.FieldCustomerName, normalizeText)}},
		{FieldExpectedShipDate, []Rule{
			FromTable(SourceERP, feed.FieldExpectedShipDate, normalizeDate),
			ShipDateFromPurchaseOrder,
		}},
		{FieldExpectedDeliveryDate, []Rule{FromTable(SourceERP, feed.FieldExpectedDeliveryDate, normalizeDate)}},
		{FieldActualDelivery, []Rule{ActualDeliveryFromShipNotice}},
		{FieldCarrierETA, []Rule{FromTable(SourceCarrier, feed.FieldCarrierETA, normalizeDateTime)}},
	}
}

// lastWith returns the last located segment that carries element i. A
// later segment overrides an earlier one.
func lastWith(locs []feed.Located, i int) (feed.Segment, bool) {
	for j := len(locs) - 1; j >= 0; j-- {
		if _, ok := locs[j].Segment.Element(i); ok {
			return locs[j].Segment, true
		}
	}
	return nil, false
}

// OrderIDFromPurchaseOrder reads BEG element 03 of the last BEG segment.
func OrderIDFromPurchaseOrder(rc *RuleContext) (Resolution, bool) {
	seg, ok := lastWith(feed.Find(rc.Sources.PurchaseOrder.Segments, segBEG), 3)
	if !ok {
		return Resolution{}, false
	}
	id, _ := seg.Element(3)
	return Resolution{Value: id, Source: SourcePurchaseOrder, Locators: []Locator{AtSegment(segBEG, 3)}}, true
}

// ShipDateFromPurchaseOrder reads DTM element 02 of the last DTM segment
// with qualifier 037.
func ShipDateFromPurchaseOrder(rc *RuleContext) (Resolution, bool) {
	seg, ok := lastWith(feed.FindQualified(rc.Sources.PurchaseOrder.Segments, segDTM, qualRequestedShip), 2)
	if !ok {
		return Resolution{}, false
	}
	raw, _ := seg.Element(2)
	d, err := feed.ParseDate(raw)
	if err != nil {
		rc.Logger.Warn("malformed date, field omitted", "source", SourcePurchaseOrder, "segment", segDTM, "value", raw, "error", err)
		return Resolution{}, false
	}
	return Resolution{Value: d.Format(feed.DateLayout), Source: SourcePurchaseOrder, Locators: []Locator{AtSegment(segDTM, 2)}}, true
}

// ActualDeliveryFromShipNotice combines DTM 011 element 02 (date) and 03
// (time) of the last such segment. Both elements are cited when the time is
// present.
func ActualDeliveryFromShipNotice(rc *RuleContext) (Resolution, bool) {
	seg, ok := lastWith(feed.FindQualified(rc.Sources.ShipNotice.Segments, segDTM, qualDelivered), 2)
	if !ok {
		return Resolution{}, false
	}
	date, _ := seg.Element(2)
	clock, hasClock := seg.Element(3)
	at, err := feed.X12DateTime(date, clock)
	if err != nil {
		rc.Logger.Warn("malformed delivery timestamp, field omitted", "source", SourceShipNotice, "date", date, "time", clock, "error", err)
		return Resolution{}, false
	}
	locators := []Locator{AtSegment(segDTM, 2)}
	if hasClock {
		locators = append(locators, AtSegment(segDTM, 3))
	}
	return Resolution{Value: formatDateTime(at), Source: SourceShipNotice, Locators: locators}, true
}

// normalizer turns a raw cell into the field's canonical form.
type normalizer func(raw string) (string, error)

// FromTable builds a rule that looks the current order up in a tabular
// source. Without an order id the rule is always absent.
func FromTable(sys SourceSystem, field feed.Field, normalize normalizer) Rule {
	return func(rc *RuleContext) (Resolution, bool) {
		if rc.OrderID == "" {
			return Resolution{}, false
		}
		raw, column, ok := rc.Sources.table(sys).Lookup(rc.OrderID, field)
		if !ok {
			return Resolution{}, false
		}
		value, err := normalize(raw)
		if err != nil {
			rc.Logger.Warn("malformed value, field omitted", "source", sys, "column", column, "order_id", rc.OrderID, "value", raw, "error", err)
			return Resolution{}, false
		}
		return Resolution{Value: value, Source: sys, Locators: []Locator{AtColumn(column)}}, true
	}
}

func normalizeText(raw string) (string, error) {
	return raw, nil
}

func normalizeDate(raw string) (string, error) {
	d, err := feed.ParseDate(raw)
	if err != nil {
		return "", err
	}
	return d.Format(feed.DateLayout), nil
}

func normalizeDateTime(raw string) (string, error) {
	t, err := feed.ParseDateTime(raw)
	if err != nil {
		return "", err
	}
	return formatDateTime(t), nil
}

func formatDateTime(t time.Time) string {
	if t.Second() != 0 {
		return t.Format("2006-01-02T15:04:05")
	}
	return t.Format(feed.DateTimeLayout)
}
