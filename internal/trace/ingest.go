package trace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/provtrail/internal/metrics"
)

// OrderResolver maps an incident id to its order id. It returns an error
// wrapping a not-found sentinel when the incident is unknown.
type OrderResolver interface {
	OrderForIncident(ctx context.Context, incidentID string) (string, error)
}

// SpanInput is a span supplied by an external caller. Exactly one of
// OrderID or IncidentID links it to an order.
type SpanInput struct {
	SpanID       string         `json:"span_id,omitempty"`
	ParentID     string         `json:"parent_id,omitempty"`
	Tool         string         `json:"tool"`
	StartTs      int64          `json:"start_ts"`
	EndTs        int64          `json:"end_ts"`
	ArgsDigest   string         `json:"args_digest"`
	ResultDigest string         `json:"result_digest"`
	Attributes   map[string]any `json:"attributes,omitempty"`
	OrderID      string         `json:"order_id,omitempty"`
	IncidentID   string         `json:"incident_id,omitempty"`
}

// Ingestor accepts externally produced spans under the same referential
// rules as the Recorder.
type Ingestor struct {
	artifacts Artifacts
	spans     SpanStore
	resolver  OrderResolver
	ids       IDGenerator
	now       func() time.Time
	metrics   *metrics.Metrics
}

// NewIngestor creates an Ingestor. resolver may be nil when callers always
// supply order ids.
func NewIngestor(artifacts Artifacts, spans SpanStore, resolver OrderResolver, m *metrics.Metrics) *Ingestor {
	return &Ingestor{
		artifacts: artifacts,
		spans:     spans,
		resolver:  resolver,
		ids:       UUIDv7Generator{},
		now:       func() time.Time { return time.Now().UTC() },
		metrics:   m,
	}
}

// Append validates every input before persisting any of them, so a batch
// with one bad span leaves the store untouched.
func (in *Ingestor) Append(ctx context.Context, inputs ...SpanInput) ([]Span, error) {
	spans := make([]Span, 0, len(inputs))
	for i, input := range inputs {
		span, err := in.validate(ctx, input)
		if err != nil {
			reason := "invalid"
			if errors.Is(err, ErrUnknownDigest) {
				reason = "unknown_digest"
			} else if errors.Is(err, ErrUnknownOrder) {
				reason = "unknown_order"
			}
			in.metrics.IncrementSpanRejected(reason)
			return nil, fmt.Errorf("span %d: %w", i, err)
		}
		spans = append(spans, span)
	}

	for _, span := range spans {
		if err := in.spans.AppendSpan(ctx, span); err != nil {
			return nil, &Error{Code: ErrCodeStorage, Message: "append span", Tool: span.Tool, Key: span.SpanID, Err: err}
		}
		in.metrics.IncrementSpanRecorded(span.Tool)
	}
	return spans, nil
}

func (in *Ingestor) validate(ctx context.Context, input SpanInput) (Span, error) {
	if input.Tool == "" {
		return Span{}, &Error{Code: ErrCodeInvalidSpan, Message: "tool is required"}
	}
	if input.EndTs < input.StartTs {
		return Span{}, &Error{Code: ErrCodeInvalidSpan, Message: "end_ts precedes start_ts", Tool: input.Tool}
	}
	if err := checkDigests(ctx, in.artifacts, input.Tool, input.ArgsDigest, input.ResultDigest); err != nil {
		return Span{}, err
	}

	orderID := input.OrderID
	if orderID == "" {
		if input.IncidentID == "" || in.resolver == nil {
			return Span{}, &Error{Code: ErrCodeInvalidSpan, Message: "order_id or incident_id is required", Tool: input.Tool}
		}
		resolved, err := in.resolver.OrderForIncident(ctx, input.IncidentID)
		if err != nil {
			return Span{}, &Error{Code: ErrCodeUnknownOrder, Message: "incident does not resolve to an order", Tool: input.Tool, Key: input.IncidentID, Err: err}
		}
		orderID = resolved
	}

	id := input.SpanID
	if id == "" {
		id = in.ids.NewID()
	}
	return Span{
		SpanID:       id,
		ParentID:     input.ParentID,
		Tool:         input.Tool,
		StartTs:      input.StartTs,
		EndTs:        input.EndTs,
		ArgsDigest:   input.ArgsDigest,
		ResultDigest: input.ResultDigest,
		Attributes:   cloneAttributes(input.Attributes),
		OrderID:      orderID,
		CreatedAt:    in.now(),
	}, nil
}
