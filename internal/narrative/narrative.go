package narrative

import (
	"bytes"
	"embed"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"text/template"

	"github.com/roach88/provtrail/internal/com"
	"github.com/roach88/provtrail/internal/incident"
	"github.com/roach88/provtrail/internal/policy"
)

//go:embed templates/*.txt
var defaultTemplates embed.FS

// Template file names looked up in a template directory.
const (
	InternalTemplate = "internal_email.txt"
	CustomerTemplate = "customer_email.txt"
)

// Why is the fixed explanation attached to every ETA-slip RCA.
const Why = "The actual delivery time recorded in the ASN (DTM 011) was later than the ETA provided by the carrier, indicating a delay during transportation."

// SupportingRefs cites the evidence an ETA-slip RCA rests on.
var SupportingRefs = []string{"856:DTM:011", "carrier_eta"}

// RCA is the templated root-cause narrative.
type RCA struct {
	OrderID        string   `json:"order_id"`
	Hypothesis     string   `json:"hypothesis"`
	SupportingRefs []string `json:"supporting_refs"`
	Confidence     float64  `json:"confidence"`
	Impact         string   `json:"impact"`
	Why            string   `json:"why"`
}

// Drafts are the two outbound messages for an incident.
type Drafts struct {
	Internal string `json:"internal_email"`
	Customer string `json:"customer_email"`
}

// draftData is what templates see.
type draftData struct {
	OrderID        string
	CustomerName   string
	EtaDeltaHours  string
	CarrierETA     string
	ActualDelivery string
}

// Generator renders RCAs and drafts.
type Generator struct {
	policy   *policy.Policy
	dir      string
	internal *template.Template
	customer *template.Template
	logger   *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithPolicy sets the policy supplying the confidence seed and range.
func WithPolicy(p *policy.Policy) Option {
	return func(g *Generator) { g.policy = p }
}

// WithTemplateDir loads templates from dir instead of the built-in ones.
// Both InternalTemplate and CustomerTemplate must exist there.
func WithTemplateDir(dir string) Option {
	return func(g *Generator) { g.dir = dir }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// NewGenerator parses the templates up front so rendering cannot fail on
// syntax.
func NewGenerator(opts ...Option) (*Generator, error) {
	g := &Generator{
		policy: policy.Default(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(g)
	}

	var err error
	if g.internal, err = g.load(InternalTemplate); err != nil {
		return nil, err
	}
	if g.customer, err = g.load(CustomerTemplate); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Generator) load(name string) (*template.Template, error) {
	var (
		src []byte
		err error
	)
	if g.dir != "" {
		src, err = os.ReadFile(filepath.Join(g.dir, name))
	} else {
		src, err = defaultTemplates.ReadFile("templates/" + name)
	}
	if err != nil {
		return nil, fmt.Errorf("load template %s: %w", name, err)
	}
	t, err := template.New(name).Option("missingkey=error").Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	return t, nil
}

// Confidence draws the RCA confidence from a PRNG seeded by the policy.
// Every call returns the same value.
func (g *Generator) Confidence() float64 {
	seed := uint64(g.policy.ConfidenceSeed)
	r := rand.New(rand.NewPCG(seed, seed))
	lo, hi := g.policy.ConfidenceMin, g.policy.ConfidenceMax
	return math.Round((lo+(hi-lo)*r.Float64())*1000) / 1000
}

// RCA renders the root-cause narrative for an order.
func (g *Generator) RCA(orderID string, delta *float64) RCA {
	hours := hoursText(delta)
	return RCA{
		OrderID:        orderID,
		Hypothesis:     "ETA slip " + hours + " hours",
		SupportingRefs: append([]string(nil), SupportingRefs...),
		Confidence:     g.Confidence(),
		Impact:         "Delay of " + hours + " hours compared to carrier ETA",
		Why:            Why,
	}
}

// Drafts renders the internal and customer messages. A missing customer
// name renders as "Customer".
func (g *Generator) Drafts(m com.Model, delta *float64) (Drafts, error) {
	data := draftData{
		OrderID:        m.OrderID(),
		CustomerName:   valueOr(m, com.FieldCustomerName, "Customer"),
		EtaDeltaHours:  hoursText(delta),
		CarrierETA:     valueOr(m, com.FieldCarrierETA, "unknown"),
		ActualDelivery: valueOr(m, com.FieldActualDelivery, "unknown"),
	}
	internal, err := render(g.internal, data)
	if err != nil {
		return Drafts{}, err
	}
	customer, err := render(g.customer, data)
	if err != nil {
		return Drafts{}, err
	}
	g.logger.Debug("drafts rendered", "order_id", data.OrderID)
	return Drafts{Internal: internal, Customer: customer}, nil
}

// Description is the incident description derived from the RCA.
func Description(delta *float64, why string) string {
	return "Delivery delay of " + hoursText(delta) + " hours. " + why
}

func render(t *template.Template, data draftData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

func hoursText(delta *float64) string {
	if delta == nil {
		return "unknown"
	}
	return incident.FormatHours(*delta)
}

func valueOr(m com.Model, field, fallback string) string {
	if v, ok := m.Value(field); ok && v != "" {
		return v
	}
	return fallback
}
