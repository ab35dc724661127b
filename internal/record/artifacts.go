package record

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/provtrail/internal/artifact"
)

var _ artifact.Index = (*Store)(nil)

// PutArtifact inserts an artifact row. The first write of a digest wins;
// later writes are silently ignored.
func (s *Store) PutArtifact(ctx context.Context, a artifact.Artifact) error {
	metadata, err := marshalObject(a.Metadata)
	if err != nil {
		return fmt.Errorf("put artifact %s: %w", a.Digest, err)
	}
	_, err = s.exec(ctx, `
		INSERT INTO artifacts
		(digest, mime_type, length, pii_masked, created_at, storage_locator, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(digest) DO NOTHING
	`,
		a.Digest,
		a.MimeType,
		a.Length,
		a.PIIMasked,
		formatTime(a.CreatedAt),
		a.StorageLocator,
		metadata,
	)
	if err != nil {
		return fmt.Errorf("put artifact %s: %w", a.Digest, err)
	}
	return nil
}

// GetArtifact returns an artifact row or artifact.ErrNotFound.
func (s *Store) GetArtifact(ctx context.Context, digest string) (artifact.Artifact, error) {
	var (
		a         artifact.Artifact
		createdAt string
		metadata  string
	)
	err := s.queryRow(ctx, `
		SELECT digest, mime_type, length, pii_masked, created_at, storage_locator, metadata
		FROM artifacts
		WHERE digest = ?
	`, digest).Scan(&a.Digest, &a.MimeType, &a.Length, &a.PIIMasked, &createdAt, &a.StorageLocator, &metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return artifact.Artifact{}, fmt.Errorf("%w: %s", artifact.ErrNotFound, digest)
	}
	if err != nil {
		return artifact.Artifact{}, fmt.Errorf("get artifact %s: %w", digest, err)
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return artifact.Artifact{}, fmt.Errorf("get artifact %s: %w", digest, err)
	}
	if a.Metadata, err = unmarshalObject[string](metadata); err != nil {
		return artifact.Artifact{}, fmt.Errorf("get artifact %s: %w", digest, err)
	}
	return a, nil
}

// ArtifactDigests lists stored artifact digests in byte order.
func (s *Store) ArtifactDigests(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, `SELECT digest FROM artifacts ORDER BY digest`)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	digests := []string{}
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		digests = append(digests, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return digests, nil
}
