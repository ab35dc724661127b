package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// BlobStore persists raw bytes by key.
//
// Write must be atomic: a concurrent or crashed writer never leaves a
// readable partial blob. created reports whether this call stored the
// bytes (false when the key already existed).
type BlobStore interface {
	Write(ctx context.Context, key string, data []byte) (locator string, created bool, err error)
	Read(ctx context.Context, key string) ([]byte, error)
	Has(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// FSBlobStore keeps one file per key under a directory.
type FSBlobStore struct {
	dir string
}

// NewFSBlobStore creates the directory if needed.
func NewFSBlobStore(dir string) (*FSBlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &FSBlobStore{dir: dir}, nil
}

// Dir returns the backing directory.
func (s *FSBlobStore) Dir() string {
	return s.dir
}

func (s *FSBlobStore) path(key string) string {
	return filepath.Join(s.dir, key)
}

// Write stores data via a temp file and rename so readers see all or nothing.
func (s *FSBlobStore) Write(ctx context.Context, key string, data []byte) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	final := s.path(key)
	if _, err := os.Stat(final); err == nil {
		return final, false, nil
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-"+key+"-*")
	if err != nil {
		return "", false, fmt.Errorf("create temp blob: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return "", false, fmt.Errorf("write temp blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return "", false, fmt.Errorf("sync temp blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", false, fmt.Errorf("close temp blob: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		cleanup()
		return "", false, fmt.Errorf("publish blob: %w", err)
	}
	return final, true, nil
}

// Read returns the stored bytes or ErrNotFound.
func (s *FSBlobStore) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", key, err)
	}
	return data, nil
}

// Has reports whether a complete blob exists for key.
func (s *FSBlobStore) Has(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat blob %s: %w", key, err)
}

// Delete removes the blob. Deleting a missing key is not an error.
func (s *FSBlobStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob %s: %w", key, err)
	}
	return nil
}

// MemoryBlobStore keeps blobs in a map. Used by tests and dry runs.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBlobStore returns an empty in-memory store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (m *MemoryBlobStore) Write(_ context.Context, key string, data []byte) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	locator := "mem://" + key
	if _, ok := m.blobs[key]; ok {
		return locator, false, nil
	}
	m.blobs[key] = append([]byte(nil), data...)
	return locator, true, nil
}

func (m *MemoryBlobStore) Read(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryBlobStore) Has(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[key]
	return ok, nil
}

func (m *MemoryBlobStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

// Len returns the number of stored blobs.
func (m *MemoryBlobStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
