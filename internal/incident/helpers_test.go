package incident

import (
	"testing"
	"time"

	"github.com/roach88/provtrail/internal/artifact"
	"github.com/roach88/provtrail/internal/com"
	"github.com/roach88/provtrail/internal/trace"
)

var testNow = time.Date(2025, 8, 9, 10, 0, 0, 0, time.UTC)

type fixture struct {
	engine    *Engine
	store     *MemoryStore
	artifacts *artifact.Store
	spans     *trace.MemorySpanStore
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	f := fixture{
		store:     NewMemoryStore(),
		artifacts: artifact.New(artifact.NewMemoryBlobStore(), artifact.WithIndex(artifact.NewMemoryIndex())),
		spans:     trace.NewMemorySpanStore(),
	}
	opts = append([]Option{
		WithIDGenerator(trace.NewSequentialGenerator("inc")),
		WithSpanIDGenerator(trace.NewSequentialGenerator("approval")),
		WithClock(func() time.Time { return testNow }),
	}, opts...)
	f.engine = NewEngine(f.store, f.artifacts, f.spans, opts...)
	return f
}

func model(orderID, actual, eta string) com.Model {
	m := com.Model{}
	if orderID != "" {
		m[com.FieldOrderID] = com.FieldValue{Value: orderID}
	}
	if actual != "" {
		m[com.FieldActualDelivery] = com.FieldValue{Value: actual}
	}
	if eta != "" {
		m[com.FieldCarrierETA] = com.FieldValue{Value: eta}
	}
	return m
}
