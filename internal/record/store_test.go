package record

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/provtrail/internal/artifact"
	"github.com/roach88/provtrail/internal/incident"
	"github.com/roach88/provtrail/internal/trace"
)

var testNow = time.Date(2025, 8, 9, 0, 0, 0, 0, time.UTC)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	require.NoError(t, err, "database file was created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	for i := 0; i < 3; i++ {
		s, err := OpenSQLite(path)
		require.NoError(t, err, "iteration %d", i)
		require.NoError(t, s.Close())
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)
	tests := []struct {
		pragma string
		want   string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
		{"user_version", "1"},
	}
	for _, tt := range tests {
		var got string
		require.NoError(t, s.DB().QueryRow("PRAGMA "+tt.pragma).Scan(&got))
		assert.Equal(t, tt.want, got, tt.pragma)
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("mysql", "x")
	require.ErrorContains(t, err, "unsupported")
}

func TestRebind(t *testing.T) {
	sqlite := &Store{driver: DriverSQLite}
	pg := &Store{driver: DriverPostgres}
	q := "SELECT a FROM t WHERE b = ? AND c = ?"
	assert.Equal(t, q, sqlite.rebind(q))
	assert.Equal(t, "SELECT a FROM t WHERE b = $1 AND c = $2", pg.rebind(q))
}

func TestArtifacts(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			d := putArtifact(t, s, "hello")
			got, err := s.GetArtifact(ctx, d)
			require.NoError(t, err)
			assert.Equal(t, d, got.Digest)
			assert.Equal(t, artifact.MimeText, got.MimeType)
			assert.Equal(t, int64(5), got.Length)
			assert.False(t, got.PIIMasked)
			assert.Equal(t, testNow, got.CreatedAt)

			// First write wins.
			require.NoError(t, s.PutArtifact(ctx, artifact.Artifact{Digest: d, MimeType: "other", PIIMasked: true, CreatedAt: testNow.Add(time.Hour)}))
			again, err := s.GetArtifact(ctx, d)
			require.NoError(t, err)
			assert.Equal(t, got, again)

			_, err = s.GetArtifact(ctx, "missing")
			require.ErrorIs(t, err, artifact.ErrNotFound)
			assert.Contains(t, err.Error(), "missing")

			digests, err := s.ArtifactDigests(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{d}, digests)
		})
	}
}

func TestArtifactStoreWithRecordIndex(t *testing.T) {
	s := createTestStore(t)
	blobs, err := artifact.NewFSBlobStore(t.TempDir())
	require.NoError(t, err)
	store := artifact.New(blobs, artifact.WithIndex(s), artifact.WithClock(func() time.Time { return testNow }))
	ctx := context.Background()

	d, err := store.Put(ctx, []byte("payload"), artifact.PutOptions{MimeType: artifact.MimeText, PIIMasked: true})
	require.NoError(t, err)

	meta, err := store.Stat(ctx, d)
	require.NoError(t, err)
	assert.True(t, meta.PIIMasked)
	assert.Equal(t, int64(7), meta.Length)
	assert.NotEmpty(t, meta.StorageLocator)

	require.NoError(t, store.Purge(ctx, d))
	ok, err := store.Exists(ctx, d)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = s.GetArtifact(ctx, d)
	require.NoError(t, err, "metadata row survives a purge")
}

func span(id, orderID, tool string, start int64, args, result string) trace.Span {
	return trace.Span{
		SpanID:       id,
		Tool:         tool,
		StartTs:      start,
		EndTs:        start + 1,
		ArgsDigest:   args,
		ResultDigest: result,
		Attributes:   map[string]any{},
		OrderID:      orderID,
		CreatedAt:    testNow,
	}
}

func TestSpans(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()
			a := putArtifact(t, s, "args")
			r := putArtifact(t, s, "result")

			s2 := span("s2", "PO123", trace.ToolParse, 1, a, r)
			s2.ParentID = "s1"
			s2.Attributes = map[string]any{"length": 42, "source": "erp"}
			require.NoError(t, s.AppendSpan(ctx, s2))
			require.NoError(t, s.AppendSpan(ctx, span("s1", "PO123", trace.ToolRetrieval, 0, a, r)))
			require.NoError(t, s.AppendSpan(ctx, span("s3", "PO123", trace.ToolDetect, 1, a, r)))
			require.NoError(t, s.AppendSpan(ctx, span("x1", "PO999", trace.ToolDetect, 0, a, r)))

			got, err := s.SpansByOrder(ctx, "PO123")
			require.NoError(t, err)
			require.Len(t, got, 3)
			assert.Equal(t, []string{"s1", "s2", "s3"}, []string{got[0].SpanID, got[1].SpanID, got[2].SpanID},
				"ordered by start_ts then insertion")
			assert.Equal(t, "s1", got[1].ParentID)
			assert.Empty(t, got[0].ParentID)
			assert.Equal(t, map[string]any{"length": float64(42), "source": "erp"}, got[1].Attributes)
			assert.Equal(t, testNow, got[0].CreatedAt)

			none, err := s.SpansByOrder(ctx, "nope")
			require.NoError(t, err)
			assert.NotNil(t, none)
			assert.Empty(t, none)

			orders, err := s.OrderIDs(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"PO123", "PO999"}, orders)
		})
	}
}

func TestAppendSpanRejectsUnknownDigest(t *testing.T) {
	s := createTestStore(t)
	a := putArtifact(t, s, "args")

	err := s.AppendSpan(context.Background(), span("s1", "PO123", trace.ToolParse, 0, a, "0000000000000000000000000000000000000000000000000000000000000000"))
	require.ErrorIs(t, err, trace.ErrUnknownDigest)
	assert.True(t, trace.IsClientError(err))

	got, err := s.SpansByOrder(context.Background(), "PO123")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAppendSpanDuplicateID(t *testing.T) {
	s := createTestStore(t)
	a := putArtifact(t, s, "args")
	require.NoError(t, s.AppendSpan(context.Background(), span("s1", "PO123", trace.ToolParse, 0, a, a)))
	err := s.AppendSpan(context.Background(), span("s1", "PO123", trace.ToolParse, 1, a, a))
	require.ErrorIs(t, err, ErrDuplicate)
}

func newIncident(id, orderID string, created time.Time) incident.Incident {
	delta := 4.0
	return incident.Incident{
		IncidentID:    id,
		OrderID:       orderID,
		Type:          incident.TypeETAMissed,
		Severity:      "medium",
		Status:        incident.StatusOpen,
		EtaDeltaHours: &delta,
		Description:   "Delivery delay of 4.0 hours.",
		CreatedAt:     created,
		Metadata:      map[string]any{"reasoning_digest": "abc"},
	}
}

func TestIncidents(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			inc := newIncident("inc-1", "PO123", testNow)
			require.NoError(t, s.CreateIncident(ctx, inc))
			require.ErrorIs(t, s.CreateIncident(ctx, inc), ErrDuplicate)

			got, err := s.GetIncident(ctx, "inc-1")
			require.NoError(t, err)
			assert.Equal(t, inc, got)

			noDelta := newIncident("inc-2", "PO124", testNow.Add(500*time.Millisecond))
			noDelta.EtaDeltaHours = nil
			noDelta.Severity = "low"
			require.NoError(t, s.CreateIncident(ctx, noDelta))
			got, err = s.GetIncident(ctx, "inc-2")
			require.NoError(t, err)
			assert.Nil(t, got.EtaDeltaHours)

			_, err = s.GetIncident(ctx, "missing")
			require.ErrorIs(t, err, incident.ErrIncidentNotFound)
			assert.Contains(t, err.Error(), "missing")

			order, err := s.OrderForIncident(ctx, "inc-2")
			require.NoError(t, err)
			assert.Equal(t, "PO124", order)
			_, err = s.OrderForIncident(ctx, "missing")
			require.ErrorIs(t, err, incident.ErrIncidentNotFound)
		})
	}
}

func TestListIncidents(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	// Sub-second offsets check that ordering is chronological, not lexical.
	require.NoError(t, s.CreateIncident(ctx, newIncident("a", "PO1", testNow)))
	require.NoError(t, s.CreateIncident(ctx, newIncident("b", "PO2", testNow.Add(500*time.Millisecond))))
	c := newIncident("c", "PO1", testNow.Add(time.Second))
	c.Severity = "high"
	require.NoError(t, s.CreateIncident(ctx, c))

	ids := func(incs []incident.Incident) []string {
		out := []string{}
		for _, i := range incs {
			out = append(out, i.IncidentID)
		}
		return out
	}

	all, err := s.ListIncidents(ctx, incident.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, ids(all))

	byOrder, err := s.ListIncidents(ctx, incident.Filter{OrderID: "PO1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, ids(byOrder))

	high, err := s.ListIncidents(ctx, incident.Filter{Severity: "high", Status: incident.StatusOpen})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(high))

	page, err := s.ListIncidents(ctx, incident.Filter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(page))

	tail, err := s.ListIncidents(ctx, incident.Filter{Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(tail))
}

func TestResolveIncident(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()
			require.NoError(t, s.CreateIncident(ctx, newIncident("inc-1", "PO123", testNow)))

			at := testNow.Add(time.Hour)
			ok, err := s.ResolveIncident(ctx, "inc-1", at)
			require.NoError(t, err)
			assert.True(t, ok)

			got, err := s.GetIncident(ctx, "inc-1")
			require.NoError(t, err)
			assert.Equal(t, incident.StatusResolved, got.Status)
			require.NotNil(t, got.ResolvedAt)
			assert.Equal(t, at, *got.ResolvedAt)

			ok, err = s.ResolveIncident(ctx, "inc-1", at.Add(time.Hour))
			require.NoError(t, err)
			assert.False(t, ok)

			_, err = s.ResolveIncident(ctx, "missing", at)
			require.ErrorIs(t, err, incident.ErrIncidentNotFound)

			require.NoError(t, s.ReopenIncident(ctx, "inc-1"))
			got, err = s.GetIncident(ctx, "inc-1")
			require.NoError(t, err)
			assert.Equal(t, incident.StatusOpen, got.Status)
			assert.Nil(t, got.ResolvedAt)
			require.ErrorIs(t, s.ReopenIncident(ctx, "missing"), incident.ErrIncidentNotFound)
		})
	}
}

func TestResolveIncidentConcurrent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateIncident(ctx, newIncident("inc-1", "PO123", testNow)))

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ResolveIncident(ctx, "inc-1", testNow)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestEngineApproveOnRecordStore(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	blobs, err := artifact.NewFSBlobStore(t.TempDir())
	require.NoError(t, err)
	artifacts := artifact.New(blobs, artifact.WithIndex(s))
	require.NoError(t, s.CreateIncident(ctx, newIncident("inc-1", "PO123", testNow)))

	engine := incident.NewEngine(s, artifacts, s, incident.WithClock(func() time.Time { return testNow }))
	resolved, err := engine.Approve(ctx, "inc-1")
	require.NoError(t, err)
	assert.Equal(t, incident.StatusResolved, resolved.Status)

	spans, err := s.SpansByOrder(ctx, "PO123")
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, trace.ToolApproval, spans[0].Tool)
	assert.Equal(t, map[string]any{"incident_id": "inc-1", "action": "approve"}, spans[0].Attributes)

	_, err = engine.Approve(ctx, "inc-1")
	require.ErrorIs(t, err, incident.ErrAlreadyResolved)
}
