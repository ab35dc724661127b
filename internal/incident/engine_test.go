package incident

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/provtrail/internal/canon"
	"github.com/roach88/provtrail/internal/metrics"
	"github.com/roach88/provtrail/internal/policy"
	"github.com/roach88/provtrail/internal/trace"
)

func TestDetectOpensMediumIncidentForFourHourSlip(t *testing.T) {
	f := newFixture(t)

	d := f.engine.Detect(model("PO123", "2025-08-05T12:00", "2025-08-05T08:00"))

	require.True(t, d.Opens())
	require.NotNil(t, d.EtaDeltaHours)
	assert.Equal(t, 4.0, *d.EtaDeltaHours)
	assert.Equal(t, TypeETAMissed, d.Type)
	assert.Equal(t, BucketETA, Lookup(d.Type).Bucket)
	assert.Equal(t, "medium", d.Severity)
	assert.Equal(t, "ETA slip 4.0 hours", d.Hypothesis)
	assert.Equal(t, "Delay of 4.0 hours compared to carrier ETA", d.Impact)
}

func TestDetectNoIncident(t *testing.T) {
	tests := []struct {
		name      string
		actual    string
		eta       string
		wantDelta *float64
	}{
		{"early", "2025-08-05T07:00", "2025-08-05T08:00", ptr(-1.0)},
		{"on time", "2025-08-05T08:00", "2025-08-05T08:00", ptr(0.0)},
		{"no actual delivery", "", "2025-08-05T08:00", nil},
		{"no carrier eta", "2025-08-05T12:00", "", nil},
		{"unparseable eta", "2025-08-05T12:00", "soon", nil},
	}
	f := newFixture(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := f.engine.Detect(model("PO123", tt.actual, tt.eta))
			assert.Equal(t, DecisionNoIncident, d.Status)
			assert.False(t, d.Opens())
			assert.Equal(t, tt.wantDelta, d.EtaDeltaHours)
			assert.Empty(t, d.Type)
			assert.Empty(t, d.Severity)
		})
	}
}

func TestDetectSeverityBands(t *testing.T) {
	tests := []struct {
		actual string
		want   string
	}{
		{"2025-08-05T09:00", "low"},
		{"2025-08-05T10:00", "low"},
		{"2025-08-05T10:01", "medium"},
		{"2025-08-06T08:00", "medium"},
		{"2025-08-06T08:01", "high"},
	}
	f := newFixture(t)
	for _, tt := range tests {
		d := f.engine.Detect(model("PO123", tt.actual, "2025-08-05T08:00"))
		assert.Equal(t, tt.want, d.Severity, tt.actual)
	}
}

func TestDetectRoundsToThreeDecimals(t *testing.T) {
	f := newFixture(t)
	d := f.engine.Detect(model("PO123", "2025-08-05T08:01:01", "2025-08-05T08:00"))
	require.NotNil(t, d.EtaDeltaHours)
	assert.Equal(t, 0.017, *d.EtaDeltaHours)
}

func TestDetectUsesPolicy(t *testing.T) {
	p, err := policy.Parse([]byte(`
incident: {
	threshold_hours: 6
	default_type:    "transporter_delay"
}
`), "p.cue")
	require.NoError(t, err)
	f := newFixture(t, WithPolicy(p))

	assert.False(t, f.engine.Detect(model("PO123", "2025-08-05T12:00", "2025-08-05T08:00")).Opens())
	d := f.engine.Detect(model("PO123", "2025-08-05T16:00", "2025-08-05T08:00"))
	assert.True(t, d.Opens())
	assert.Equal(t, TypeTransporterDelay, d.Type)
}

func TestOpen(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	f := newFixture(t, WithMetrics(m))
	ctx := context.Background()

	d := f.engine.Detect(model("PO123", "2025-08-05T12:00", "2025-08-05T08:00"))
	inc, err := f.engine.Open(ctx, d, "Delivery delay of 4.0 hours.", map[string]any{"k": "v"})
	require.NoError(t, err)

	assert.Equal(t, "inc-1", inc.IncidentID)
	assert.Equal(t, StatusOpen, inc.Status)
	assert.Equal(t, testNow, inc.CreatedAt)
	assert.Nil(t, inc.ResolvedAt)

	got, err := f.engine.Get(ctx, "inc-1")
	require.NoError(t, err)
	assert.Equal(t, inc, got)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IncidentsOpened.WithLabelValues("medium")))
}

func TestOpenRejectsNoIncident(t *testing.T) {
	f := newFixture(t)
	d := f.engine.Detect(model("PO123", "2025-08-05T07:00", "2025-08-05T08:00"))
	_, err := f.engine.Open(context.Background(), d, "", nil)
	require.Error(t, err)
}

func openIncident(t *testing.T, f fixture) Incident {
	t.Helper()
	ctx := context.Background()

	// Seed the order's trace so approval continues its clock.
	rec := trace.NewRecorder(f.artifacts, trace.WithSpanStore(f.spans), trace.WithOrder("PO123"))
	_, err := rec.Emit(ctx, "", trace.ToolDetect, map[string]any{"order_id": "PO123"}, map[string]any{"status": "open"}, nil)
	require.NoError(t, err)
	_, err = rec.Emit(ctx, "", trace.ToolRCA, map[string]any{"order_id": "PO123"}, map[string]any{"why": "late"}, nil)
	require.NoError(t, err)

	d := f.engine.Detect(model("PO123", "2025-08-05T12:00", "2025-08-05T08:00"))
	inc, err := f.engine.Open(ctx, d, "Delivery delay of 4.0 hours.", nil)
	require.NoError(t, err)
	return inc
}

func TestApprove(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	f := newFixture(t, WithMetrics(m))
	ctx := context.Background()
	inc := openIncident(t, f)

	resolved, err := f.engine.Approve(ctx, inc.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, testNow, *resolved.ResolvedAt)

	spans, err := f.spans.SpansByOrder(ctx, "PO123")
	require.NoError(t, err)
	require.Len(t, spans, 3)
	approval := spans[2]
	assert.Equal(t, trace.ToolApproval, approval.Tool)
	assert.Equal(t, "approval-1", approval.SpanID)
	assert.Equal(t, canon.EmptyDigest, approval.ArgsDigest)
	assert.Equal(t, canon.EmptyDigest, approval.ResultDigest)
	assert.Equal(t, map[string]any{"incident_id": inc.IncidentID, "action": "approve"}, approval.Attributes)
	assert.Equal(t, int64(2), approval.StartTs, "approval continues after the order's last span")
	assert.Equal(t, int64(3), approval.EndTs)

	stored, err := f.engine.Get(ctx, inc.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, stored.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IncidentsApproved))
}

func TestApproveAlreadyResolved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inc := openIncident(t, f)

	_, err := f.engine.Approve(ctx, inc.IncidentID)
	require.NoError(t, err)
	before := f.spans.Len()

	_, err = f.engine.Approve(ctx, inc.IncidentID)
	require.ErrorIs(t, err, ErrAlreadyResolved)
	assert.Equal(t, before, f.spans.Len(), "no span for a no-op approval")
}

func TestApproveUnknownIncident(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Approve(context.Background(), "nope")
	require.ErrorIs(t, err, ErrIncidentNotFound)
	assert.Contains(t, err.Error(), "nope")
	assert.Zero(t, f.spans.Len())
}

// flakyStore fails resolves until failures runs out.
type flakyStore struct {
	*MemoryStore
	failures int
}

func (s *flakyStore) ResolveIncident(ctx context.Context, incidentID string, at time.Time) (bool, error) {
	if s.failures > 0 {
		s.failures--
		return false, errors.New("db down")
	}
	return s.MemoryStore.ResolveIncident(ctx, incidentID, at)
}

// brokenSpans refuses every append.
type brokenSpans struct {
	*trace.MemorySpanStore
}

func (brokenSpans) AppendSpan(context.Context, trace.Span) error {
	return errors.New("disk full")
}

func approvalCount(t *testing.T, spans trace.SpanStore) int {
	t.Helper()
	all, err := spans.SpansByOrder(context.Background(), "PO123")
	require.NoError(t, err)
	n := 0
	for _, s := range all {
		if s.Tool == trace.ToolApproval {
			n++
		}
	}
	return n
}

func TestApproveFailedResolveRecordsNoSpan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inc := openIncident(t, f)

	store := &flakyStore{MemoryStore: f.store, failures: 1}
	engine := NewEngine(store, f.artifacts, f.spans,
		WithSpanIDGenerator(trace.NewSequentialGenerator("approval")),
		WithClock(func() time.Time { return testNow }),
	)

	_, err := engine.Approve(ctx, inc.IncidentID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Zero(t, approvalCount(t, f.spans))

	stored, err := engine.Get(ctx, inc.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, stored.Status)

	_, err = engine.Approve(ctx, inc.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, 1, approvalCount(t, f.spans))
}

func TestApproveFailedSpanReopensIncident(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inc := openIncident(t, f)

	spans := brokenSpans{f.spans}
	engine := NewEngine(f.store, f.artifacts, spans, WithClock(func() time.Time { return testNow }))

	_, err := engine.Approve(ctx, inc.IncidentID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	stored, err := f.store.GetIncident(ctx, inc.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, stored.Status)
	assert.Nil(t, stored.ResolvedAt)
	assert.Zero(t, approvalCount(t, f.spans))

	_, err = f.engine.Approve(ctx, inc.IncidentID)
	require.NoError(t, err, "the incident can still be approved")
	assert.Equal(t, 1, approvalCount(t, f.spans))
}

func TestApproveConcurrentExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	inc := openIncident(t, f)
	before := f.spans.Len()

	const n = 16
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.engine.Approve(context.Background(), inc.IncidentID)
		}()
	}
	wg.Wait()

	var ok, already int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyResolved):
			already++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, already)
	assert.Equal(t, before+1, f.spans.Len())
}

func TestKPIs(t *testing.T) {
	f := newFixture(t)
	inc := openIncident(t, f)

	k, err := f.engine.KPIs(context.Background(), inc.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, trace.KPIs{EvidenceTime: 2, TimeToRCA: 1}, k)

	_, err = f.engine.KPIs(context.Background(), "nope")
	require.ErrorIs(t, err, ErrIncidentNotFound)
}

func TestFeedAndSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inc := openIncident(t, f)

	items, err := f.engine.Feed(ctx, Filter{Status: StatusOpen})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, inc.IncidentID, items[0].IncidentID)
	assert.Equal(t, "ETA Missed", items[0].Label)
	assert.Equal(t, SeverityMeta{"amber", 2}, items[0].SeverityMeta)
	assert.Equal(t, int64(2), items[0].KPIs.EvidenceTime)

	items, err = f.engine.Feed(ctx, Filter{Status: StatusResolved})
	require.NoError(t, err)
	assert.Empty(t, items)

	sum, err := f.engine.Summary(ctx, "PO123")
	require.NoError(t, err)
	assert.Len(t, sum.Incidents, 1)
	assert.Len(t, sum.Spans, 2)
}

func ptr(f float64) *float64 { return &f }
