package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the audit pipeline.
//
// A nil *Metrics is valid and records nothing, so components accept it as
// an optional dependency.
type Metrics struct {
	ArtifactsStored       prometheus.Counter
	ArtifactsDeduplicated prometheus.Counter

	// Spans recorded by tool, and spans refused by integrity checks by reason
	SpansRecorded *prometheus.CounterVec
	SpansRejected *prometheus.CounterVec

	IncidentsOpened   *prometheus.CounterVec
	IncidentsApproved prometheus.Counter
	BundlesExported   prometheus.Counter

	EtaDeltaHours prometheus.Histogram
}

// New registers all provtrail metrics on reg. Pass prometheus.NewRegistry()
// in tests to avoid duplicate registration on the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ArtifactsStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "provtrail_artifacts_stored_total",
			Help: "Artifacts written for the first time",
		}),
		ArtifactsDeduplicated: factory.NewCounter(prometheus.CounterOpts{
			Name: "provtrail_artifacts_deduplicated_total",
			Help: "Artifact puts that found the digest already present",
		}),
		SpansRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "provtrail_spans_recorded_total",
			Help: "Spans appended to the trace by tool",
		}, []string{"tool"}),
		SpansRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "provtrail_spans_rejected_total",
			Help: "Spans refused before persistence by reason",
		}, []string{"reason"}),
		IncidentsOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "provtrail_incidents_opened_total",
			Help: "Incidents opened by severity",
		}, []string{"severity"}),
		IncidentsApproved: factory.NewCounter(prometheus.CounterOpts{
			Name: "provtrail_incidents_approved_total",
			Help: "Incidents resolved through human approval",
		}),
		BundlesExported: factory.NewCounter(prometheus.CounterOpts{
			Name: "provtrail_bundles_exported_total",
			Help: "Incident bundles exported",
		}),
		EtaDeltaHours: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "provtrail_eta_delta_hours",
			Help:    "Observed delivery delay against carrier ETA in hours",
			Buckets: []float64{-24, -2, 0, 1, 2, 4, 8, 24, 48, 96},
		}),
	}
}

// IncrementArtifactStored records a first-time artifact write.
func (m *Metrics) IncrementArtifactStored() {
	if m != nil {
		m.ArtifactsStored.Inc()
	}
}

// IncrementArtifactDeduplicated records a put that found existing content.
func (m *Metrics) IncrementArtifactDeduplicated() {
	if m != nil {
		m.ArtifactsDeduplicated.Inc()
	}
}

// IncrementSpanRecorded records an accepted span.
func (m *Metrics) IncrementSpanRecorded(tool string) {
	if m != nil {
		m.SpansRecorded.WithLabelValues(tool).Inc()
	}
}

// IncrementSpanRejected records a span refused before persistence.
func (m *Metrics) IncrementSpanRejected(reason string) {
	if m != nil {
		m.SpansRejected.WithLabelValues(reason).Inc()
	}
}

// IncrementIncidentOpened records a newly opened incident.
func (m *Metrics) IncrementIncidentOpened(severity string) {
	if m != nil {
		m.IncidentsOpened.WithLabelValues(severity).Inc()
	}
}

// IncrementIncidentApproved records an open -> resolved transition.
func (m *Metrics) IncrementIncidentApproved() {
	if m != nil {
		m.IncidentsApproved.Inc()
	}
}

// IncrementBundleExported records a completed bundle export.
func (m *Metrics) IncrementBundleExported() {
	if m != nil {
		m.BundlesExported.Inc()
	}
}

// ObserveEtaDelta records a computed ETA delta.
func (m *Metrics) ObserveEtaDelta(hours float64) {
	if m != nil {
		m.EtaDeltaHours.Observe(hours)
	}
}
