package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/provtrail/internal/canon"
	"github.com/roach88/provtrail/internal/metrics"
)

// Store is the content-addressed artifact store.
//
// Put is atomic per digest: concurrent puts of identical bytes inside one
// process are coalesced through singleflight and serialized by a per-digest
// lock, so exactly one of them writes. Across processes the blob rename and
// the index's first-write-wins insert give the same convergence.
type Store struct {
	blobs   BlobStore
	index   Index
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *slog.Logger

	group singleflight.Group
	locks sync.Map // digest -> *sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithIndex attaches a metadata index. Without one, blob presence alone
// decides existence.
func WithIndex(idx Index) Option {
	return func(s *Store) { s.index = idx }
}

// WithClock overrides the createdAt clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMetrics attaches metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Store over the given blob backend.
func New(blobs BlobStore, opts ...Option) *Store {
	s := &Store{
		blobs:  blobs,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put stores data and returns its digest. Storing identical bytes again
// returns the same digest and writes nothing.
func (s *Store) Put(ctx context.Context, data []byte, opts PutOptions) (string, error) {
	digest := canon.Digest(data)
	_, err, _ := s.group.Do(digest, func() (any, error) {
		return nil, s.put(ctx, digest, data, opts)
	})
	if err != nil {
		return "", err
	}
	return digest, nil
}

func (s *Store) lock(digest string) func() {
	v, _ := s.locks.LoadOrStore(digest, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *Store) put(ctx context.Context, digest string, data []byte, opts PutOptions) error {
	unlock := s.lock(digest)
	defer unlock()

	present, err := s.Exists(ctx, digest)
	if err != nil {
		return fmt.Errorf("put artifact %s: %w", digest, err)
	}
	if present {
		s.metrics.IncrementArtifactDeduplicated()
		return nil
	}

	locator, created, err := s.blobs.Write(ctx, digest, data)
	if err != nil {
		return fmt.Errorf("put artifact %s: write blob: %w", digest, err)
	}

	if s.index != nil {
		mime := opts.MimeType
		if mime == "" {
			mime = MimeBinary
		}
		rec := Artifact{
			Digest:         digest,
			MimeType:       mime,
			Length:         int64(len(data)),
			PIIMasked:      opts.PIIMasked,
			CreatedAt:      s.now(),
			StorageLocator: locator,
			Metadata:       opts.Metadata,
		}
		if err := s.index.PutArtifact(ctx, rec); err != nil {
			// Leave no half-visible artifact behind.
			if created {
				if derr := s.blobs.Delete(ctx, digest); derr != nil {
					s.logger.Warn("rollback blob after index failure", "digest", digest, "error", derr)
				}
			}
			return fmt.Errorf("put artifact %s: write index: %w", digest, err)
		}
	}

	s.metrics.IncrementArtifactStored()
	s.logger.Debug("artifact stored", "digest", digest, "length", len(data), "mime_type", opts.MimeType)
	return nil
}

// Exists reports whether a complete artifact is stored under digest.
// Malformed digests are simply absent.
func (s *Store) Exists(ctx context.Context, digest string) (bool, error) {
	if !canon.ValidDigest(digest) {
		return false, nil
	}
	if s.index != nil {
		if _, err := s.index.GetArtifact(ctx, digest); err != nil {
			if errors.Is(err, ErrNotFound) {
				return false, nil
			}
			return false, fmt.Errorf("lookup artifact %s: %w", digest, err)
		}
	}
	ok, err := s.blobs.Has(ctx, digest)
	if err != nil {
		return false, fmt.Errorf("lookup artifact %s: %w", digest, err)
	}
	return ok, nil
}

// Get returns the exact bytes stored under digest. The bytes are re-hashed
// before returning; a mismatch is ErrCorrupt.
func (s *Store) Get(ctx context.Context, digest string) ([]byte, error) {
	ok, err := s.Exists(ctx, digest)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, digest)
	}
	data, err := s.blobs.Read(ctx, digest)
	if err != nil {
		return nil, err
	}
	if got := canon.Digest(data); got != digest {
		return nil, fmt.Errorf("%w: %s hashes to %s", ErrCorrupt, digest, got)
	}
	return data, nil
}

// Stat returns the artifact's metadata. Without an index the record is
// synthesized from the blob.
func (s *Store) Stat(ctx context.Context, digest string) (Artifact, error) {
	ok, err := s.Exists(ctx, digest)
	if err != nil {
		return Artifact{}, err
	}
	if !ok {
		return Artifact{}, fmt.Errorf("%w: %s", ErrNotFound, digest)
	}
	if s.index != nil {
		return s.index.GetArtifact(ctx, digest)
	}
	data, err := s.blobs.Read(ctx, digest)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{Digest: digest, MimeType: MimeBinary, Length: int64(len(data))}, nil
}

// Purge removes an artifact's bytes while keeping its metadata row, the
// way an external retention policy would. The digest reads as absent
// afterwards and shows up as an integrity gap in exported bundles.
func (s *Store) Purge(ctx context.Context, digest string) error {
	if !canon.ValidDigest(digest) {
		return fmt.Errorf("purge: invalid digest %q", digest)
	}
	unlock := s.lock(digest)
	defer unlock()
	if err := s.blobs.Delete(ctx, digest); err != nil {
		return fmt.Errorf("purge %s: %w", digest, err)
	}
	s.logger.Info("artifact purged", "digest", digest)
	return nil
}
