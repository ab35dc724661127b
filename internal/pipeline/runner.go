package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/provtrail/internal/artifact"
	"github.com/roach88/provtrail/internal/com"
	"github.com/roach88/provtrail/internal/feed"
	"github.com/roach88/provtrail/internal/incident"
	"github.com/roach88/provtrail/internal/metrics"
	"github.com/roach88/provtrail/internal/narrative"
	"github.com/roach88/provtrail/internal/trace"
)

// Runner executes the audited workflow over one set of inputs:
//
//	tool.retrieval x4 -> tool.call/parse -> tool.call/detect
//	  -> llm.call/rca -> llm.call/email -> policy.check/redact
//
// The narrative steps only run when detection opens an incident.
type Runner struct {
	artifacts  trace.Artifacts
	spans      trace.SpanStore
	engine     *incident.Engine
	narrator   *narrative.Generator
	aliases    feed.Aliases
	observedAt time.Time
	spanIDs    func() trace.IDGenerator
	now        func() time.Time
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithSpanStore persists every run's spans.
func WithSpanStore(s trace.SpanStore) Option {
	return func(r *Runner) { r.spans = s }
}

// WithAliases replaces the tabular column aliases.
func WithAliases(a feed.Aliases) Option {
	return func(r *Runner) { r.aliases = a }
}

// WithObservedAt sets the default observation timestamp.
func WithObservedAt(t time.Time) Option {
	return func(r *Runner) { r.observedAt = t.UTC() }
}

// WithSpanIDs sets the factory that gives each run its own span id
// generator.
func WithSpanIDs(newGen func() trace.IDGenerator) Option {
	return func(r *Runner) { r.spanIDs = newGen }
}

// WithNow sets the wall clock stamped on span CreatedAt.
func WithNow(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithMetrics attaches metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a Runner.
func NewRunner(artifacts trace.Artifacts, engine *incident.Engine, narrator *narrative.Generator, opts ...Option) *Runner {
	r := &Runner{
		artifacts:  artifacts,
		engine:     engine,
		narrator:   narrator,
		aliases:    feed.DefaultAliases,
		observedAt: com.DefaultObservedAt,
		spanIDs:    func() trace.IDGenerator { return trace.UUIDv7Generator{} },
		now:        func() time.Time { return time.Now().UTC() },
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Result is the outcome of one run.
type Result struct {
	Name     string             `json:"name"`
	OrderID  string             `json:"order_id"`
	Model    com.Model          `json:"com"`
	Decision incident.Decision  `json:"decision"`
	Incident *incident.Incident `json:"incident,omitempty"`
	RCA      *narrative.RCA     `json:"rca,omitempty"`

	// Drafts are the redacted messages.
	Drafts *narrative.Drafts `json:"drafts,omitempty"`

	// Spans in emission order. They are persisted only when the run
	// resolved an order id.
	Spans []trace.Span `json:"spans"`
}

// runContext is the state owned by a single run.
type runContext struct {
	rec  *trace.Recorder
	last string // span id of the previous step
}

func (rc *runContext) emit(ctx context.Context, tool string, args, result any, attrs map[string]any, opts ...trace.EmitOption) (trace.Span, error) {
	span, err := rc.rec.Emit(ctx, rc.last, tool, args, result, attrs, opts...)
	if err != nil {
		return trace.Span{}, err
	}
	rc.last = span.SpanID
	return span, nil
}

func (r *Runner) newRunContext() *runContext {
	opts := []trace.RecorderOption{
		trace.WithClock(trace.NewClock()),
		trace.WithIDGenerator(r.spanIDs()),
		trace.WithNow(r.now),
		trace.WithMetrics(r.metrics),
		trace.WithLogger(r.logger),
	}
	if r.spans != nil {
		opts = append(opts, trace.WithSpanStore(r.spans))
	}
	return &runContext{rec: trace.NewRecorder(r.artifacts, opts...)}
}

// Run executes the workflow. Malformed inputs degrade the model rather than
// fail the run; storage failures abort it.
func (r *Runner) Run(ctx context.Context, in Inputs) (*Result, error) {
	rc := r.newRunContext()
	res := &Result{Name: in.Name, Spans: []trace.Span{}}

	src, err := r.retrieve(ctx, rc, in)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", in.Name, err)
	}

	observedAt := r.observedAt
	if !in.ObservedAt.IsZero() {
		observedAt = in.ObservedAt
	}
	res.Model = com.NewBuilder(com.WithObservedAt(observedAt), com.WithLogger(r.logger)).Build(src)
	if _, err := rc.emit(ctx, trace.ToolParse, src.DigestMap(), res.Model, map[string]any{"operation": "build_com"}); err != nil {
		return nil, fmt.Errorf("run %s: %w", in.Name, err)
	}

	res.OrderID = res.Model.OrderID()
	if res.OrderID != "" {
		if err := rc.rec.BindOrder(ctx, res.OrderID); err != nil {
			return nil, fmt.Errorf("run %s: %w", in.Name, err)
		}
	} else {
		r.logger.Warn("run has no order id, trace not persisted", "run", in.Name)
	}

	res.Decision = r.engine.Detect(res.Model)
	if _, err := rc.emit(ctx, trace.ToolDetect, res.Model, res.Decision, map[string]any{"operation": "detect_incident"}); err != nil {
		return nil, fmt.Errorf("run %s: %w", in.Name, err)
	}

	if res.Decision.Opens() {
		if err := r.narrate(ctx, rc, res); err != nil {
			return nil, fmt.Errorf("run %s: %w", in.Name, err)
		}
	}

	res.Spans = rc.rec.Trace()
	slog.Info("run complete",
		"run", in.Name,
		"order_id", res.OrderID,
		"decision", res.Decision.Status,
		"spans", len(res.Spans),
	)
	return res, nil
}

// retrieve stores each raw input and records its retrieval span.
func (r *Runner) retrieve(ctx context.Context, rc *runContext, in Inputs) (com.Sources, error) {
	digests := make(map[com.SourceSystem]string, 4)
	for _, input := range in.All() {
		digest, err := r.artifacts.Put(ctx, input.Data, artifact.PutOptions{
			MimeType: input.MimeType,
			Metadata: map[string]string{"source_system": string(input.System), "file": input.Name},
		})
		if err != nil {
			return com.Sources{}, fmt.Errorf("store %s input: %w", input.System, err)
		}
		digests[input.System] = digest

		// Retrieval spans are roots.
		span, err := rc.rec.Emit(ctx, "", trace.ToolRetrieval,
			map[string]any{"file": input.Name, "source_system": string(input.System)},
			map[string]any{"file_digest": digest, "length": len(input.Data)},
			map[string]any{"file": input.Name, "source_system": string(input.System)},
		)
		if err != nil {
			return com.Sources{}, err
		}
		rc.last = span.SpanID
	}

	return com.Sources{
		PurchaseOrder: com.SegmentFeed{Digest: digests[com.SourcePurchaseOrder], Segments: feed.ParseSegments(in.PurchaseOrder.Data)},
		ShipNotice:    com.SegmentFeed{Digest: digests[com.SourceShipNotice], Segments: feed.ParseSegments(in.ShipNotice.Data)},
		ERP:           com.TableFeed{Digest: digests[com.SourceERP], Table: r.table(in.ERP)},
		Carrier:       com.TableFeed{Digest: digests[com.SourceCarrier], Table: r.table(in.Carrier)},
	}, nil
}

// table parses a tabular extract. An unusable extract contributes nothing.
func (r *Runner) table(in Input) *feed.Table {
	t, err := feed.ParseTable(in.Data, r.aliases)
	if err != nil {
		r.logger.Warn("tabular input unusable", "source_system", in.System, "file", in.Name, "error", err)
		return nil
	}
	return t
}

// narrate generates the RCA and drafts, redacts them and opens the incident.
func (r *Runner) narrate(ctx context.Context, rc *runContext, res *Result) error {
	d := res.Decision
	rca := r.narrator.RCA(d.OrderID, d.EtaDeltaHours)
	rcaSpan, err := rc.emit(ctx, trace.ToolRCA, d, rca, map[string]any{"operation": "generate_rca"})
	if err != nil {
		return err
	}

	drafts, err := r.narrator.Drafts(res.Model, d.EtaDeltaHours)
	if err != nil {
		return err
	}
	if _, err := rc.emit(ctx, trace.ToolEmail, rca, drafts, map[string]any{"operation": "generate_email_drafts"}, trace.MaskResult()); err != nil {
		return err
	}

	var names []string
	if name, ok := res.Model.Value(com.FieldCustomerName); ok {
		names = append(names, name)
	}
	redacted := narrative.NewRedactor(names...).RedactDrafts(drafts)
	redactSpan, err := rc.emit(ctx, trace.ToolRedact, drafts, redacted, map[string]any{"operation": "redact_pii"}, trace.MaskArgs())
	if err != nil {
		return err
	}

	res.RCA = &rca
	res.Drafts = &redacted

	if d.OrderID == "" {
		return nil
	}
	inc, err := r.engine.Open(ctx, d, narrative.Description(d.EtaDeltaHours, rca.Why), map[string]any{
		"reasoning_digest": rcaSpan.ResultDigest,
		"email_digest":     redactSpan.ResultDigest,
	})
	if err != nil {
		return err
	}
	res.Incident = &inc
	return nil
}
