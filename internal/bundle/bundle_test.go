package bundle

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/provtrail/internal/artifact"
	"github.com/roach88/provtrail/internal/canon"
	"github.com/roach88/provtrail/internal/incident"
	"github.com/roach88/provtrail/internal/trace"
)

var (
	testNow    = time.Date(2025, 8, 9, 12, 0, 0, 0, time.UTC)
	testSecret = []byte("s3cret")
)

type fixture struct {
	exporter  *Exporter
	artifacts *artifact.Store
	spans     *trace.MemorySpanStore
	incidents *incident.MemoryStore
	recorder  *trace.Recorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	f := fixture{
		artifacts: artifact.New(artifact.NewMemoryBlobStore(), artifact.WithIndex(artifact.NewMemoryIndex())),
		spans:     trace.NewMemorySpanStore(),
		incidents: incident.NewMemoryStore(),
	}
	f.recorder = trace.NewRecorder(f.artifacts,
		trace.WithSpanStore(f.spans),
		trace.WithOrder("PO123"),
		trace.WithIDGenerator(trace.NewSequentialGenerator("span")),
		trace.WithNow(func() time.Time { return testNow }),
	)
	f.exporter = NewExporter(f.incidents, f.spans, f.artifacts,
		WithSecret(testSecret),
		WithClock(func() time.Time { return testNow }),
	)
	return f
}

func (f fixture) seed(t *testing.T) incident.Incident {
	t.Helper()
	ctx := context.Background()
	_, err := f.recorder.Emit(ctx, "", trace.ToolDetect, map[string]any{"order_id": "PO123"}, map[string]any{"status": "open"}, nil)
	require.NoError(t, err)
	_, err = f.recorder.Emit(ctx, "", trace.ToolRCA, map[string]any{"order_id": "PO123"}, map[string]any{"why": strings.Repeat("x", 400)}, nil)
	require.NoError(t, err)
	_, err = f.recorder.Emit(ctx, "", trace.ToolEmail, map[string]any{"order_id": "PO123"}, map[string]any{"customer_email": "Dear Jane"}, nil, trace.MaskResult())
	require.NoError(t, err)

	delta := 4.0
	inc := incident.Incident{
		IncidentID:    "inc-1",
		OrderID:       "PO123",
		Type:          incident.TypeETAMissed,
		Severity:      "medium",
		Status:        incident.StatusOpen,
		EtaDeltaHours: &delta,
		Description:   "Delivery delay of 4.0 hours.",
		CreatedAt:     testNow,
		Metadata:      map[string]any{},
	}
	require.NoError(t, f.incidents.CreateIncident(ctx, inc))
	return inc
}

func readArchive(t *testing.T, data []byte) ([]string, map[string][]byte) {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var names []string
	entries := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		names = append(names, f.Name)
		entries[f.Name] = b
	}
	return names, entries
}

func rewrite(t *testing.T, names []string, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(entries[name])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestStrictReplay(t *testing.T) {
	f := newFixture(t)
	inc := f.seed(t)

	replay, err := f.exporter.StrictReplay(context.Background(), inc.IncidentID)
	require.NoError(t, err)

	assert.Equal(t, inc, replay.Incident)
	require.Len(t, replay.Outputs, 3)
	assert.Equal(t, []string{trace.ToolDetect, trace.ToolRCA, trace.ToolEmail},
		[]string{replay.Outputs[0].Tool, replay.Outputs[1].Tool, replay.Outputs[2].Tool})

	detect, err := base64.StdEncoding.DecodeString(replay.Outputs[0].Preview)
	require.NoError(t, err)
	assert.Equal(t, `{"status":"open"}`, string(detect))

	rca, err := base64.StdEncoding.DecodeString(replay.Outputs[1].Preview)
	require.NoError(t, err)
	assert.Len(t, rca, DefaultPreviewLength, "preview is bounded")

	assert.Empty(t, replay.Outputs[2].Preview, "masked artifacts have no preview")
}

func TestStrictReplayPurgedArtifact(t *testing.T) {
	f := newFixture(t)
	inc := f.seed(t)
	spans, err := f.spans.SpansByOrder(context.Background(), "PO123")
	require.NoError(t, err)
	require.NoError(t, f.artifacts.Purge(context.Background(), spans[0].ResultDigest))

	replay, err := f.exporter.StrictReplay(context.Background(), inc.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, spans[0].ResultDigest, replay.Outputs[0].ResultDigest)
	assert.Empty(t, replay.Outputs[0].Preview)
}

func TestStrictReplayUnknownIncident(t *testing.T) {
	f := newFixture(t)
	_, err := f.exporter.StrictReplay(context.Background(), "missing")
	require.ErrorIs(t, err, incident.ErrIncidentNotFound)
	assert.Contains(t, err.Error(), "missing")

	_, err = f.exporter.Export(context.Background(), "missing")
	require.ErrorIs(t, err, incident.ErrIncidentNotFound)
}

func TestTimeline(t *testing.T) {
	f := newFixture(t)
	inc := f.seed(t)

	entries, err := f.exporter.Timeline(context.Background(), inc.IncidentID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "span-1", entries[0].SpanID)
	args, err := base64.StdEncoding.DecodeString(entries[0].ArgsPreview)
	require.NoError(t, err)
	assert.Equal(t, `{"order_id":"PO123"}`, string(args))
	assert.NotEmpty(t, entries[2].ArgsPreview)
	assert.Empty(t, entries[2].ResultPreview)
}

func TestExportLayout(t *testing.T) {
	f := newFixture(t)
	inc := f.seed(t)
	spans, err := f.spans.SpansByOrder(context.Background(), "PO123")
	require.NoError(t, err)

	data, err := f.exporter.Export(context.Background(), inc.IncidentID)
	require.NoError(t, err)
	names, entries := readArchive(t, data)

	digests := trace.Digests(spans)
	require.Len(t, digests, 4, "all three spans share the same args")

	assert.Equal(t, ManifestEntry, names[0])
	assert.Equal(t, ChecksumsEntry, names[len(names)-2])
	assert.Equal(t, SignatureEntry, names[len(names)-1])
	assert.Len(t, names, 3+len(digests))

	var checksums Checksums
	require.NoError(t, json.Unmarshal(entries[ChecksumsEntry], &checksums))
	assert.Equal(t, canon.Digest(entries[ManifestEntry]), checksums.Manifest)
	assert.IsIncreasing(t, checksums.Artifacts)
	assert.ElementsMatch(t, digests, checksums.Artifacts)
	for _, d := range checksums.Artifacts {
		assert.Equal(t, d, canon.Digest(entries[ArtifactPrefix+d]))
	}

	assert.Equal(t, Sign(entries[ManifestEntry], entries[ChecksumsEntry], testSecret), string(entries[SignatureEntry]))

	var m Manifest
	require.NoError(t, json.Unmarshal(entries[ManifestEntry], &m))
	assert.Equal(t, inc.IncidentID, m.Incident.IncidentID)
	assert.Len(t, m.Spans, 3)
	assert.True(t, testNow.Equal(m.GeneratedAt))

	canonical, err := canon.Canonicalize(entries[ManifestEntry])
	require.NoError(t, err)
	assert.Equal(t, entries[ManifestEntry], canonical, "manifest is stored canonically")
}

func TestExportIsDeterministic(t *testing.T) {
	f := newFixture(t)
	inc := f.seed(t)

	a, err := f.exporter.Export(context.Background(), inc.IncidentID)
	require.NoError(t, err)
	b, err := f.exporter.Export(context.Background(), inc.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestExportPurgedArtifactLeavesGap(t *testing.T) {
	f := newFixture(t)
	inc := f.seed(t)
	spans, err := f.spans.SpansByOrder(context.Background(), "PO123")
	require.NoError(t, err)
	purged := spans[1].ResultDigest
	require.NoError(t, f.artifacts.Purge(context.Background(), purged))

	data, err := f.exporter.Export(context.Background(), inc.IncidentID)
	require.NoError(t, err)
	_, entries := readArchive(t, data)

	var checksums Checksums
	require.NoError(t, json.Unmarshal(entries[ChecksumsEntry], &checksums))
	assert.Contains(t, checksums.Artifacts, purged)
	assert.NotContains(t, entries, ArtifactPrefix+purged)

	report, err := Verify(data, testSecret)
	require.NoError(t, err)
	assert.False(t, report.Tampered())
	assert.False(t, report.OK())
	assert.Equal(t, []string{purged}, report.Missing)
}

func TestVerify(t *testing.T) {
	f := newFixture(t)
	inc := f.seed(t)
	data, err := f.exporter.Export(context.Background(), inc.IncidentID)
	require.NoError(t, err)

	report, err := Verify(data, testSecret)
	require.NoError(t, err)
	assert.True(t, report.OK(), "%+v", report)
	assert.Equal(t, 4, report.Artifacts)
	assert.Empty(t, report.SchemaErrors)

	wrong, err := Verify(data, []byte("other"))
	require.NoError(t, err)
	assert.False(t, wrong.SignatureValid)
	assert.True(t, wrong.Tampered())
}

func TestVerifyDetectsTampering(t *testing.T) {
	f := newFixture(t)
	inc := f.seed(t)
	data, err := f.exporter.Export(context.Background(), inc.IncidentID)
	require.NoError(t, err)

	t.Run("artifact bytes", func(t *testing.T) {
		names, entries := readArchive(t, data)
		for _, n := range names {
			if strings.HasPrefix(n, ArtifactPrefix) {
				entries[n] = []byte("forged")
				break
			}
		}
		report, err := Verify(rewrite(t, names, entries), testSecret)
		require.NoError(t, err)
		assert.True(t, report.SignatureValid)
		assert.Len(t, report.Corrupt, 1)
		assert.True(t, report.Tampered())
	})

	t.Run("manifest", func(t *testing.T) {
		names, entries := readArchive(t, data)
		entries[ManifestEntry] = bytes.Replace(entries[ManifestEntry], []byte(`"medium"`), []byte(`"low"`), 1)
		report, err := Verify(rewrite(t, names, entries), testSecret)
		require.NoError(t, err)
		assert.False(t, report.SignatureValid)
		assert.False(t, report.ManifestMatches)
	})

	t.Run("unlisted artifact", func(t *testing.T) {
		names, entries := readArchive(t, data)
		extra := []byte("extra")
		name := ArtifactPrefix + canon.Digest(extra)
		names = append(names, name)
		entries[name] = extra
		report, err := Verify(rewrite(t, names, entries), testSecret)
		require.NoError(t, err)
		assert.Equal(t, []string{canon.Digest(extra)}, report.Unlisted)
		assert.True(t, report.Tampered())
	})

	t.Run("schema", func(t *testing.T) {
		names, entries := readArchive(t, data)
		entries[ChecksumsEntry] = []byte(`{"manifest":"nope","artifacts":[]}`)
		entries[SignatureEntry] = []byte(Sign(entries[ManifestEntry], entries[ChecksumsEntry], testSecret))
		report, err := Verify(rewrite(t, names, entries), testSecret)
		require.NoError(t, err)
		assert.True(t, report.SignatureValid)
		assert.NotEmpty(t, report.SchemaErrors)
		assert.False(t, report.ReferencesMatch)
	})
}

func TestVerifyRejectsIncompleteArchive(t *testing.T) {
	_, err := Verify([]byte("not a zip"), testSecret)
	require.Error(t, err)

	data := rewrite(t, []string{ManifestEntry}, map[string][]byte{ManifestEntry: []byte(`{}`)})
	_, err = Verify(data, testSecret)
	require.ErrorContains(t, err, ChecksumsEntry)
}
