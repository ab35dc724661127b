package artifact

import (
	"context"
	"fmt"
	"sync"
)

// Index is the metadata backend. PutArtifact must be idempotent on digest
// (first write wins); GetArtifact returns ErrNotFound for unknown digests.
type Index interface {
	PutArtifact(ctx context.Context, a Artifact) error
	GetArtifact(ctx context.Context, digest string) (Artifact, error)
}

// MemoryIndex is an in-process Index.
type MemoryIndex struct {
	mu   sync.RWMutex
	rows map[string]Artifact
}

// NewMemoryIndex returns an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{rows: make(map[string]Artifact)}
}

func (m *MemoryIndex) PutArtifact(_ context.Context, a Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[a.Digest]; !ok {
		m.rows[a.Digest] = a
	}
	return nil
}

func (m *MemoryIndex) GetArtifact(_ context.Context, digest string) (Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.rows[digest]
	if !ok {
		return Artifact{}, fmt.Errorf("%w: %s", ErrNotFound, digest)
	}
	return a, nil
}
