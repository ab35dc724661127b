package trace

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/roach88/provtrail/internal/artifact"
	"github.com/roach88/provtrail/internal/canon"
	"github.com/roach88/provtrail/internal/metrics"
)

// Artifacts is the slice of the artifact store the recorder needs.
type Artifacts interface {
	Put(ctx context.Context, data []byte, opts artifact.PutOptions) (string, error)
	Exists(ctx context.Context, digest string) (bool, error)
}

// SpanStore persists spans. AppendSpan is append-only; SpansByOrder returns
// an order's spans sorted by StartTs, EndTs, then insertion.
type SpanStore interface {
	AppendSpan(ctx context.Context, s Span) error
	SpansByOrder(ctx context.Context, orderID string) ([]Span, error)
}

// Recorder emits the spans of one run.
//
// Spans emitted before the run knows its order id are held back and
// persisted by BindOrder. With no SpanStore the trace lives only in memory.
type Recorder struct {
	artifacts Artifacts
	spans     SpanStore
	clock     *Clock
	ids       IDGenerator
	now       func() time.Time
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu      sync.Mutex
	orderID string
	trace   []Span
	pending []Span
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithSpanStore persists spans as they are emitted.
func WithSpanStore(s SpanStore) RecorderOption {
	return func(r *Recorder) { r.spans = s }
}

// WithClock replaces the run clock (default starts at 0).
func WithClock(c *Clock) RecorderOption {
	return func(r *Recorder) { r.clock = c }
}

// WithIDGenerator replaces the span id generator (default UUIDv7).
func WithIDGenerator(g IDGenerator) RecorderOption {
	return func(r *Recorder) { r.ids = g }
}

// WithOrder binds the recorder to an order from the start.
func WithOrder(orderID string) RecorderOption {
	return func(r *Recorder) { r.orderID = orderID }
}

// WithNow sets the wall clock used for CreatedAt.
func WithNow(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// WithMetrics attaches metrics.
func WithMetrics(m *metrics.Metrics) RecorderOption {
	return func(r *Recorder) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

// NewRecorder creates a recorder for one run.
func NewRecorder(artifacts Artifacts, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		artifacts: artifacts,
		clock:     NewClock(),
		ids:       UUIDv7Generator{},
		now:       func() time.Time { return time.Now().UTC() },
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EmitOption adjusts how a single Emit stores its payloads.
type EmitOption func(*emitOptions)

type emitOptions struct {
	maskArgs   bool
	maskResult bool
}

// MaskArgs stores the arguments artifact as PII-bearing, hiding its preview.
func MaskArgs() EmitOption {
	return func(o *emitOptions) { o.maskArgs = true }
}

// MaskResult stores the result artifact as PII-bearing, hiding its preview.
func MaskResult() EmitOption {
	return func(o *emitOptions) { o.maskResult = true }
}

// Emit serializes args and result canonically, stores both as artifacts,
// allocates the next logical interval and appends the span. If any step
// fails no span is recorded and the clock does not advance.
func (r *Recorder) Emit(ctx context.Context, parentID, tool string, args, result any, attrs map[string]any, opts ...EmitOption) (Span, error) {
	var o emitOptions
	for _, opt := range opts {
		opt(&o)
	}

	argsDigest, err := r.store(ctx, tool, "args", args, o.maskArgs)
	if err != nil {
		return Span{}, err
	}
	resultDigest, err := r.store(ctx, tool, "result", result, o.maskResult)
	if err != nil {
		return Span{}, err
	}
	return r.EmitDigests(ctx, parentID, tool, argsDigest, resultDigest, attrs)
}

func (r *Recorder) store(ctx context.Context, tool, role string, v any, masked bool) (string, error) {
	data, err := canon.Marshal(v)
	if err != nil {
		return "", &Error{Code: ErrCodeSerialization, Message: "serialize " + role, Tool: tool, Err: err}
	}
	digest, err := r.artifacts.Put(ctx, data, artifact.PutOptions{MimeType: artifact.MimeJSON, PIIMasked: masked})
	if err != nil {
		return "", &Error{Code: ErrCodeStorage, Message: "store " + role, Tool: tool, Err: err}
	}
	return digest, nil
}

// EmitDigests appends a span over payloads that are already artifacts.
// Both digests must exist in the artifact store.
func (r *Recorder) EmitDigests(ctx context.Context, parentID, tool, argsDigest, resultDigest string, attrs map[string]any) (Span, error) {
	if err := checkDigests(ctx, r.artifacts, tool, argsDigest, resultDigest); err != nil {
		r.metrics.IncrementSpanRejected("unknown_digest")
		return Span{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	start := r.clock.Current()
	span := Span{
		SpanID:       r.ids.NewID(),
		ParentID:     parentID,
		Tool:         tool,
		StartTs:      start,
		EndTs:        start + 1,
		ArgsDigest:   argsDigest,
		ResultDigest: resultDigest,
		Attributes:   cloneAttributes(attrs),
		OrderID:      r.orderID,
		CreatedAt:    r.now(),
	}

	if r.spans != nil {
		if r.orderID == "" {
			r.pending = append(r.pending, span)
		} else if err := r.spans.AppendSpan(ctx, span); err != nil {
			return Span{}, &Error{Code: ErrCodeStorage, Message: "append span", Tool: tool, Err: err}
		}
	}

	r.clock.Tick()
	r.trace = append(r.trace, span)
	r.metrics.IncrementSpanRecorded(tool)
	r.logger.Debug("span recorded", "tool", tool, "span_id", span.SpanID, "start_ts", span.StartTs, "order_id", span.OrderID)
	return span, nil
}

// BindOrder assigns the run's order id and persists any spans emitted
// before it was known. Binding twice to a different order is an error.
func (r *Recorder) BindOrder(ctx context.Context, orderID string) error {
	if orderID == "" {
		return fmt.Errorf("bind order: empty order id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.orderID != "" && r.orderID != orderID {
		return fmt.Errorf("bind order: recorder already bound to %s", r.orderID)
	}
	r.orderID = orderID
	for i := range r.trace {
		if r.trace[i].OrderID == "" {
			r.trace[i].OrderID = orderID
		}
	}
	for len(r.pending) > 0 {
		span := r.pending[0]
		span.OrderID = orderID
		if r.spans != nil {
			if err := r.spans.AppendSpan(ctx, span); err != nil {
				return fmt.Errorf("bind order %s: append span %s: %w", orderID, span.SpanID, err)
			}
		}
		r.pending = r.pending[1:]
	}
	return nil
}

// OrderID returns the bound order id, or "".
func (r *Recorder) OrderID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orderID
}

// Trace returns a copy of the spans emitted so far in emission order.
func (r *Recorder) Trace() []Span {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Span(nil), r.trace...)
}

// Pending reports how many spans await BindOrder.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func checkDigests(ctx context.Context, artifacts Artifacts, tool, argsDigest, resultDigest string) error {
	for _, ref := range []struct{ role, digest string }{{"args", argsDigest}, {"result", resultDigest}} {
		ok, err := artifacts.Exists(ctx, ref.digest)
		if err != nil {
			return &Error{Code: ErrCodeStorage, Message: "check " + ref.role + " digest", Tool: tool, Key: ref.digest, Err: err}
		}
		if !ok {
			return unknownDigest(tool, ref.role, ref.digest)
		}
	}
	return nil
}

func cloneAttributes(attrs map[string]any) map[string]any {
	if attrs == nil {
		return map[string]any{}
	}
	return maps.Clone(attrs)
}
