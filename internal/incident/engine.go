package incident

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"math"
	"time"

	"github.com/roach88/provtrail/internal/artifact"
	"github.com/roach88/provtrail/internal/com"
	"github.com/roach88/provtrail/internal/feed"
	"github.com/roach88/provtrail/internal/metrics"
	"github.com/roach88/provtrail/internal/policy"
	"github.com/roach88/provtrail/internal/trace"
)

// Decision is the outcome of Detect for one order. It is also the result
// payload of the detect span, so its JSON shape is part of the trace.
type Decision struct {
	OrderID       string   `json:"order_id"`
	EtaDeltaHours *float64 `json:"eta_delta_hours"`
	Status        Status   `json:"status"`

	// Set only when Status is open.
	Type       Type   `json:"incident_type,omitempty"`
	Severity   string `json:"severity,omitempty"`
	Hypothesis string `json:"hypothesis,omitempty"`
	Impact     string `json:"impact,omitempty"`
}

// Opens reports whether the decision opens an incident.
func (d Decision) Opens() bool {
	return d.Status == StatusOpen
}

// Engine detects incidents and drives their lifecycle.
type Engine struct {
	store     Store
	artifacts trace.Artifacts
	spans     trace.SpanStore
	policy    *policy.Policy
	ids       trace.IDGenerator
	spanIDs   trace.IDGenerator
	now       func() time.Time
	metrics   *metrics.Metrics
	logger    *slog.Logger

	approvals keyedMutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy replaces the built-in policy.
func WithPolicy(p *policy.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithIDGenerator sets the incident id generator (default UUIDv7).
func WithIDGenerator(g trace.IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithSpanIDGenerator sets the id generator for approval spans.
func WithSpanIDGenerator(g trace.IDGenerator) Option {
	return func(e *Engine) { e.spanIDs = g }
}

// WithClock sets the wall clock used for CreatedAt and ResolvedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics attaches metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine. artifacts and spans are used to record
// approval spans and to derive KPIs.
func NewEngine(store Store, artifacts trace.Artifacts, spans trace.SpanStore, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		artifacts: artifacts,
		spans:     spans,
		policy:    policy.Default(),
		ids:       trace.UUIDv7Generator{},
		spanIDs:   trace.UUIDv7Generator{},
		now:       func() time.Time { return time.Now().UTC() },
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the policy in effect.
func (e *Engine) Policy() *policy.Policy {
	return e.policy
}

// EtaDelta returns actual delivery minus carrier ETA in hours rounded to
// three decimals, or nil when either side is missing or unparseable.
func EtaDelta(m com.Model) *float64 {
	actual, ok := m.Value(com.FieldActualDelivery)
	if !ok {
		return nil
	}
	eta, ok := m.Value(com.FieldCarrierETA)
	if !ok {
		return nil
	}
	a, err := feed.ParseDateTime(actual)
	if err != nil {
		return nil
	}
	p, err := feed.ParseDateTime(eta)
	if err != nil {
		return nil
	}
	d := math.Round(a.Sub(p).Hours()*1000) / 1000
	return &d
}

// Detect classifies a COM. It is pure: nothing is persisted.
func (e *Engine) Detect(m com.Model) Decision {
	d := Decision{OrderID: m.OrderID(), EtaDeltaHours: EtaDelta(m), Status: DecisionNoIncident}
	if d.EtaDeltaHours == nil || !e.policy.Opens(*d.EtaDeltaHours) {
		return d
	}
	hours := FormatHours(*d.EtaDeltaHours)
	d.Status = StatusOpen
	d.Type = Type(e.policy.DefaultType)
	d.Severity = e.policy.Severity(d.EtaDeltaHours)
	d.Hypothesis = "ETA slip " + hours + " hours"
	d.Impact = "Delay of " + hours + " hours compared to carrier ETA"
	return d
}

// Open persists an incident for an open decision.
func (e *Engine) Open(ctx context.Context, d Decision, description string, metadata map[string]any) (Incident, error) {
	if !d.Opens() {
		return Incident{}, fmt.Errorf("open incident: decision for order %q is %s", d.OrderID, d.Status)
	}
	if d.OrderID == "" {
		return Incident{}, fmt.Errorf("open incident: decision has no order id")
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	inc := Incident{
		IncidentID:    e.ids.NewID(),
		OrderID:       d.OrderID,
		Type:          d.Type,
		Severity:      d.Severity,
		Status:        StatusOpen,
		EtaDeltaHours: d.EtaDeltaHours,
		Description:   description,
		CreatedAt:     e.now(),
		Metadata:      maps.Clone(metadata),
	}
	if err := e.store.CreateIncident(ctx, inc); err != nil {
		return Incident{}, fmt.Errorf("open incident for order %s: %w", d.OrderID, err)
	}
	e.metrics.IncrementIncidentOpened(inc.Severity)
	if inc.EtaDeltaHours != nil {
		e.metrics.ObserveEtaDelta(*inc.EtaDeltaHours)
	}
	slog.Info("incident opened", "incident_id", inc.IncidentID, "order_id", inc.OrderID, "type", inc.Type, "severity", inc.Severity)
	return inc, nil
}

// Get loads an incident.
func (e *Engine) Get(ctx context.Context, incidentID string) (Incident, error) {
	return e.store.GetIncident(ctx, incidentID)
}

// Approve resolves an open incident and records a human.approval span on
// its order. Approvals of one incident are serialized; of any number of
// concurrent calls exactly one succeeds and the rest get
// ErrAlreadyResolved without recording a span. The span is recorded only
// after the resolve succeeds; if recording fails the incident is reopened.
func (e *Engine) Approve(ctx context.Context, incidentID string) (Incident, error) {
	unlock := e.approvals.lock(incidentID)
	defer unlock()

	inc, err := e.store.GetIncident(ctx, incidentID)
	if err != nil {
		return Incident{}, fmt.Errorf("approve: %w", err)
	}
	if inc.Status == StatusResolved {
		return inc, fmt.Errorf("approve: %w: %s", ErrAlreadyResolved, incidentID)
	}

	empty, err := e.artifacts.Put(ctx, nil, artifact.PutOptions{MimeType: artifact.MimeBinary})
	if err != nil {
		return Incident{}, fmt.Errorf("approve %s: store empty payload: %w", incidentID, err)
	}
	existing, err := e.spans.SpansByOrder(ctx, inc.OrderID)
	if err != nil {
		return Incident{}, fmt.Errorf("approve %s: load spans: %w", incidentID, err)
	}
	var last int64
	for _, s := range existing {
		last = max(last, s.EndTs)
	}

	at := e.now()
	ok, err := e.store.ResolveIncident(ctx, incidentID, at)
	if err != nil {
		return Incident{}, fmt.Errorf("approve %s: resolve: %w", incidentID, err)
	}
	if !ok {
		// Another process resolved it between our read and write.
		return Incident{}, fmt.Errorf("approve: %w: %s", ErrAlreadyResolved, incidentID)
	}

	rec := trace.NewRecorder(e.artifacts,
		trace.WithSpanStore(e.spans),
		trace.WithOrder(inc.OrderID),
		trace.WithClock(trace.NewClockAt(last)),
		trace.WithIDGenerator(e.spanIDs),
		trace.WithNow(e.now),
		trace.WithMetrics(e.metrics),
		trace.WithLogger(e.logger),
	)
	attrs := map[string]any{"incident_id": incidentID, "action": "approve"}
	if _, err := rec.EmitDigests(ctx, "", trace.ToolApproval, empty, empty, attrs); err != nil {
		// The approval is not on record, so the incident stays open.
		if rerr := e.store.ReopenIncident(ctx, incidentID); rerr != nil {
			slog.Error("incident resolved without approval span", "incident_id", incidentID, "error", rerr)
			return Incident{}, fmt.Errorf("approve %s: %w", incidentID, errors.Join(err, fmt.Errorf("reopen: %w", rerr)))
		}
		return Incident{}, fmt.Errorf("approve %s: %w", incidentID, err)
	}

	inc.Status = StatusResolved
	inc.ResolvedAt = &at
	e.metrics.IncrementIncidentApproved()
	slog.Info("incident approved", "incident_id", incidentID, "order_id", inc.OrderID)
	return inc, nil
}

// KPIs derives the KPIs of an incident from its order's spans.
func (e *Engine) KPIs(ctx context.Context, incidentID string) (trace.KPIs, error) {
	inc, err := e.store.GetIncident(ctx, incidentID)
	if err != nil {
		return trace.KPIs{}, fmt.Errorf("kpis: %w", err)
	}
	spans, err := e.spans.SpansByOrder(ctx, inc.OrderID)
	if err != nil {
		return trace.KPIs{}, fmt.Errorf("kpis %s: load spans: %w", incidentID, err)
	}
	return trace.ComputeKPIs(spans), nil
}

// List returns incidents matching f, newest first.
func (e *Engine) List(ctx context.Context, f Filter) ([]Incident, error) {
	incs, err := e.store.ListIncidents(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	return incs, nil
}
