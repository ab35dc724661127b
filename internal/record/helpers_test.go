package record

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/provtrail/internal/artifact"
	"github.com/roach88/provtrail/internal/canon"
)

// createTestStore creates a fresh SQLite store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// stores returns SQLite always, plus PostgreSQL when
// PROVTRAIL_TEST_POSTGRES_DSN is set.
func stores(t *testing.T) map[string]func(t *testing.T) *Store {
	t.Helper()
	out := map[string]func(t *testing.T) *Store{DriverSQLite: createTestStore}
	if dsn := os.Getenv("PROVTRAIL_TEST_POSTGRES_DSN"); dsn != "" {
		out[DriverPostgres] = func(t *testing.T) *Store {
			t.Helper()
			s, err := Open(DriverPostgres, dsn)
			require.NoError(t, err)
			_, err = s.DB().Exec(`TRUNCATE spans, incidents, artifacts RESTART IDENTITY CASCADE`)
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		}
	}
	return out
}

// putArtifact stores a metadata row for data and returns its digest.
func putArtifact(t *testing.T, s *Store, data string) string {
	t.Helper()
	d := canon.Digest([]byte(data))
	require.NoError(t, s.PutArtifact(context.Background(), artifact.Artifact{
		Digest:         d,
		MimeType:       artifact.MimeText,
		Length:         int64(len(data)),
		CreatedAt:      testNow,
		StorageLocator: "mem://" + d,
	}))
	return d
}
