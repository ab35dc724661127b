package trace

import (
	"context"
	"sync"
)

// MemorySpanStore is an in-process SpanStore.
type MemorySpanStore struct {
	mu    sync.Mutex
	spans []Span
}

// NewMemorySpanStore returns an empty store.
func NewMemorySpanStore() *MemorySpanStore {
	return &MemorySpanStore{}
}

func (m *MemorySpanStore) AppendSpan(_ context.Context, s Span) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spans = append(m.spans, s)
	return nil
}

func (m *MemorySpanStore) SpansByOrder(_ context.Context, orderID string) ([]Span, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Span{}
	for _, s := range m.spans {
		if s.OrderID == orderID {
			out = append(out, s)
		}
	}
	Sort(out)
	return out, nil
}

// Len returns the number of stored spans.
func (m *MemorySpanStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.spans)
}
