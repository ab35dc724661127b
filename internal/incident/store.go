package incident

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"
)

// Store persists incidents.
//
// ResolveIncident performs the open -> resolved transition as one
// conditional update and reports whether this call made it.
// ReopenIncident reverts a resolve whose approval could not be recorded.
type Store interface {
	CreateIncident(ctx context.Context, inc Incident) error
	GetIncident(ctx context.Context, incidentID string) (Incident, error)
	ResolveIncident(ctx context.Context, incidentID string, at time.Time) (bool, error)
	ReopenIncident(ctx context.Context, incidentID string) error
	ListIncidents(ctx context.Context, f Filter) ([]Incident, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]Incident
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]Incident)}
}

func (m *MemoryStore) CreateIncident(_ context.Context, inc Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[inc.IncidentID]; ok {
		return fmt.Errorf("create incident: duplicate id %s", inc.IncidentID)
	}
	m.rows[inc.IncidentID] = clone(inc)
	return nil
}

func (m *MemoryStore) GetIncident(_ context.Context, incidentID string) (Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.rows[incidentID]
	if !ok {
		return Incident{}, fmt.Errorf("%w: %s", ErrIncidentNotFound, incidentID)
	}
	return clone(inc), nil
}

func (m *MemoryStore) ResolveIncident(_ context.Context, incidentID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.rows[incidentID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrIncidentNotFound, incidentID)
	}
	if inc.Status != StatusOpen {
		return false, nil
	}
	inc.Status = StatusResolved
	inc.ResolvedAt = &at
	m.rows[incidentID] = inc
	return true, nil
}

func (m *MemoryStore) ReopenIncident(_ context.Context, incidentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.rows[incidentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrIncidentNotFound, incidentID)
	}
	inc.Status = StatusOpen
	inc.ResolvedAt = nil
	m.rows[incidentID] = inc
	return nil
}

func (m *MemoryStore) ListIncidents(_ context.Context, f Filter) ([]Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Incident{}
	for _, inc := range m.rows {
		if f.Matches(inc) {
			out = append(out, clone(inc))
		}
	}
	SortNewestFirst(out)
	return f.Page(out), nil
}

// Matches reports whether inc satisfies every set field of f.
func (f Filter) Matches(inc Incident) bool {
	return (f.Status == "" || inc.Status == f.Status) &&
		(f.Type == "" || inc.Type == f.Type) &&
		(f.Severity == "" || inc.Severity == f.Severity) &&
		(f.OrderID == "" || inc.OrderID == f.OrderID)
}

// Page applies Offset and Limit to an already sorted slice.
func (f Filter) Page(incs []Incident) []Incident {
	if f.Offset > 0 {
		if f.Offset >= len(incs) {
			return []Incident{}
		}
		incs = incs[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(incs) {
		incs = incs[:f.Limit]
	}
	return incs
}

// SortNewestFirst orders by CreatedAt descending, then by id.
func SortNewestFirst(incs []Incident) {
	slices.SortStableFunc(incs, func(a, b Incident) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.IncidentID < b.IncidentID:
			return -1
		case a.IncidentID > b.IncidentID:
			return 1
		}
		return 0
	})
}

func clone(inc Incident) Incident {
	inc.Metadata = maps.Clone(inc.Metadata)
	if inc.EtaDeltaHours != nil {
		d := *inc.EtaDeltaHours
		inc.EtaDeltaHours = &d
	}
	if inc.ResolvedAt != nil {
		r := *inc.ResolvedAt
		inc.ResolvedAt = &r
	}
	return inc
}
