package incident

import (
	"context"
	"fmt"

	"github.com/roach88/provtrail/internal/trace"
)

// FeedItem is an incident joined with its taxonomy, severity display data
// and KPIs.
type FeedItem struct {
	Incident
	Category
	SeverityMeta SeverityMeta `json:"severity_meta"`
	KPIs         trace.KPIs   `json:"kpis"`
}

// Feed lists incidents matching f with their display data.
func (e *Engine) Feed(ctx context.Context, f Filter) ([]FeedItem, error) {
	incs, err := e.List(ctx, f)
	if err != nil {
		return nil, err
	}
	kpis := make(map[string]trace.KPIs)
	items := make([]FeedItem, 0, len(incs))
	for _, inc := range incs {
		k, ok := kpis[inc.OrderID]
		if !ok {
			spans, err := e.spans.SpansByOrder(ctx, inc.OrderID)
			if err != nil {
				return nil, fmt.Errorf("feed: load spans for %s: %w", inc.OrderID, err)
			}
			k = trace.ComputeKPIs(spans)
			kpis[inc.OrderID] = k
		}
		items = append(items, FeedItem{
			Incident:     inc,
			Category:     Lookup(inc.Type),
			SeverityMeta: MetaFor(inc.Severity),
			KPIs:         k,
		})
	}
	return items, nil
}

// OrderSummary is everything recorded about one order.
type OrderSummary struct {
	OrderID   string       `json:"order_id"`
	Incidents []Incident   `json:"incidents"`
	Spans     []trace.Span `json:"spans"`
	KPIs      trace.KPIs   `json:"kpis"`
}

// Summary returns an order's incidents and trace.
func (e *Engine) Summary(ctx context.Context, orderID string) (OrderSummary, error) {
	incs, err := e.List(ctx, Filter{OrderID: orderID})
	if err != nil {
		return OrderSummary{}, err
	}
	spans, err := e.spans.SpansByOrder(ctx, orderID)
	if err != nil {
		return OrderSummary{}, fmt.Errorf("summary %s: load spans: %w", orderID, err)
	}
	return OrderSummary{OrderID: orderID, Incidents: incs, Spans: spans, KPIs: trace.ComputeKPIs(spans)}, nil
}
