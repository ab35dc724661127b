package com

import (
	"io"
	"log/slog"
	"time"
)

// DefaultObservedAt is the observation timestamp used when a run does not
// set one. It is fixed so that repeated runs produce identical models.
var DefaultObservedAt = time.Date(2025, 8, 9, 0, 0, 0, 0, time.UTC)

// Builder fuses sources into a Model.
type Builder struct {
	observedAt string
	rules      []FieldRules
	alternates bool
	logger     *slog.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithObservedAt fixes the observation timestamp stamped on provenance.
func WithObservedAt(t time.Time) BuilderOption {
	return func(b *Builder) { b.observedAt = t.UTC().Format(time.RFC3339) }
}

// WithRules replaces the precedence table.
func WithRules(rules []FieldRules) BuilderOption {
	return func(b *Builder) { b.rules = rules }
}

// WithAlternates also records the provenance of lower-precedence sources
// that produced a value, after the winner's entries.
func WithAlternates() BuilderOption {
	return func(b *Builder) { b.alternates = true }
}

// WithLogger sets the logger that receives malformed-input warnings.
func WithLogger(l *slog.Logger) BuilderOption {
	return func(b *Builder) { b.logger = l }
}

// NewBuilder creates a Builder with the default rules.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		observedAt: DefaultObservedAt.Format(time.RFC3339),
		rules:      DefaultRules(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build never fails: malformed or missing inputs only leave fields out.
func (b *Builder) Build(src Sources) Model {
	model := Model{}
	rc := &RuleContext{Sources: src, Logger: b.logger}

	for _, fr := range b.rules {
		fv, ok := b.resolve(rc, fr)
		if !ok {
			continue
		}
		model[fr.Field] = fv
		if fr.Field == FieldOrderID {
			rc.OrderID = fv.Value
		}
	}

	if rc.OrderID == "" {
		b.logger.Warn("order id not found, order-scoped fields omitted")
	}
	return model
}

func (b *Builder) resolve(rc *RuleContext, fr FieldRules) (FieldValue, bool) {
	var (
		fv    FieldValue
		found bool
	)
	for _, rule := range fr.Rules {
		res, ok := rule(rc)
		if !ok {
			continue
		}
		if !found {
			fv = FieldValue{Value: res.Value, Provenance: b.entries(rc.Sources, res)}
			found = true
			if !b.alternates {
				break
			}
			continue
		}
		fv.Provenance = append(fv.Provenance, b.entries(rc.Sources, res)...)
	}
	return fv, found
}

func (b *Builder) entries(src Sources, res Resolution) []ProvenanceEntry {
	out := make([]ProvenanceEntry, 0, len(res.Locators))
	for _, loc := range res.Locators {
		out = append(out, ProvenanceEntry{
			SourceSystem:         res.Source,
			SourceArtifactDigest: src.Digest(res.Source),
			Locator:              loc,
			ObservedAt:           b.observedAt,
		})
	}
	return out
}
