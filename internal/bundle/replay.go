package bundle

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/provtrail/internal/artifact"
	"github.com/roach88/provtrail/internal/incident"
	"github.com/roach88/provtrail/internal/metrics"
	"github.com/roach88/provtrail/internal/trace"
)

// DefaultPreviewLength bounds previews, in raw bytes before encoding.
const DefaultPreviewLength = 256

// Incidents loads incidents by id.
type Incidents interface {
	GetIncident(ctx context.Context, incidentID string) (incident.Incident, error)
}

// Artifacts reads stored artifacts.
type Artifacts interface {
	Get(ctx context.Context, digest string) ([]byte, error)
	Stat(ctx context.Context, digest string) (artifact.Artifact, error)
}

// Exporter reads an incident's history. It never re-executes business
// logic; everything comes from persisted spans and artifacts.
type Exporter struct {
	incidents  Incidents
	spans      trace.SpanStore
	artifacts  Artifacts
	secret     []byte
	previewLen int
	now        func() time.Time
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithSecret sets the shared signing secret.
func WithSecret(secret []byte) Option {
	return func(e *Exporter) { e.secret = secret }
}

// WithPreviewLength sets how many leading bytes previews cover.
func WithPreviewLength(n int) Option {
	return func(e *Exporter) {
		if n > 0 {
			e.previewLen = n
		}
	}
}

// WithClock sets the clock stamping generated_at.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) { e.now = now }
}

// WithMetrics attaches metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Exporter) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Exporter) { e.logger = l }
}

// NewExporter creates an Exporter.
func NewExporter(incidents Incidents, spans trace.SpanStore, artifacts Artifacts, opts ...Option) *Exporter {
	e := &Exporter{
		incidents:  incidents,
		spans:      spans,
		artifacts:  artifacts,
		previewLen: DefaultPreviewLength,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Output is one step of a strict replay.
type Output struct {
	Tool         string `json:"tool"`
	ResultDigest string `json:"result_digest"`
	Preview      string `json:"preview"`
}

// Replay is what happened for an incident, in order.
type Replay struct {
	Incident incident.Incident `json:"incident"`
	Outputs  []Output          `json:"outputs"`
}

// StrictReplay lists the result of every span on the incident's order.
func (e *Exporter) StrictReplay(ctx context.Context, incidentID string) (Replay, error) {
	inc, spans, err := e.load(ctx, incidentID)
	if err != nil {
		return Replay{}, fmt.Errorf("replay: %w", err)
	}
	outputs := make([]Output, 0, len(spans))
	for _, s := range spans {
		preview, err := e.preview(ctx, s.ResultDigest)
		if err != nil {
			return Replay{}, fmt.Errorf("replay %s: span %s: %w", incidentID, s.SpanID, err)
		}
		outputs = append(outputs, Output{Tool: s.Tool, ResultDigest: s.ResultDigest, Preview: preview})
	}
	return Replay{Incident: inc, Outputs: outputs}, nil
}

// TimelineEntry is a span with previews of both payloads.
type TimelineEntry struct {
	trace.Span
	ArgsPreview   string `json:"args_preview"`
	ResultPreview string `json:"result_preview"`
}

// Timeline returns the incident's spans with payload previews.
func (e *Exporter) Timeline(ctx context.Context, incidentID string) ([]TimelineEntry, error) {
	_, spans, err := e.load(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("timeline: %w", err)
	}
	entries := make([]TimelineEntry, 0, len(spans))
	for _, s := range spans {
		args, err := e.preview(ctx, s.ArgsDigest)
		if err != nil {
			return nil, fmt.Errorf("timeline %s: span %s: %w", incidentID, s.SpanID, err)
		}
		result, err := e.preview(ctx, s.ResultDigest)
		if err != nil {
			return nil, fmt.Errorf("timeline %s: span %s: %w", incidentID, s.SpanID, err)
		}
		entries = append(entries, TimelineEntry{Span: s, ArgsPreview: args, ResultPreview: result})
	}
	return entries, nil
}

func (e *Exporter) load(ctx context.Context, incidentID string) (incident.Incident, []trace.Span, error) {
	inc, err := e.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return incident.Incident{}, nil, err
	}
	spans, err := e.spans.SpansByOrder(ctx, inc.OrderID)
	if err != nil {
		return incident.Incident{}, nil, fmt.Errorf("load spans for order %s: %w", inc.OrderID, err)
	}
	trace.Sort(spans)
	return inc, spans, nil
}

// preview is base64 of the first previewLen bytes, or "" when the
// artifact is PII-masked or no longer stored.
func (e *Exporter) preview(ctx context.Context, digest string) (string, error) {
	meta, err := e.artifacts.Stat(ctx, digest)
	if errors.Is(err, artifact.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if meta.PIIMasked {
		return "", nil
	}
	data, err := e.artifacts.Get(ctx, digest)
	if errors.Is(err, artifact.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if len(data) > e.previewLen {
		data = data[:e.previewLen]
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
