package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PROVTRAIL_DB_DRIVER", "PROVTRAIL_DB_DSN", "PROVTRAIL_ARTIFACT_DIR",
		"PROVTRAIL_BUNDLE_SECRET", "PROVTRAIL_PREVIEW_LENGTH", "PROVTRAIL_LOG_LEVEL",
		"PROVTRAIL_LOG_FORMAT", "PROVTRAIL_POLICY_FILE", "PROVTRAIL_TEMPLATE_DIR",
		"PROVTRAIL_OBSERVED_AT", "PROVTRAIL_CONCURRENCY",
	} {
		if v, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, v) })
			os.Unsetenv(key)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "provtrail.db", cfg.Database.DSN)
	assert.Equal(t, "artifacts", cfg.Artifacts.Dir)
	assert.Equal(t, 256, cfg.Bundle.PreviewLength)
	assert.Equal(t, 4, cfg.Concurrency)

	at, err := cfg.ObservedTime()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 8, 9, 0, 0, 0, 0, time.UTC), at)

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "provtrail.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  driver: postgres
  dsn: postgres://localhost/provtrail
artifacts:
  dir: /var/lib/provtrail/artifacts
bundle:
  secret: from-file
log:
  level: debug
  format: json
`), 0o644))
	t.Setenv("PROVTRAIL_BUNDLE_SECRET", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/provtrail", cfg.Database.DSN)
	assert.Equal(t, "/var/lib/provtrail/artifacts", cfg.Artifacts.Dir)
	assert.Equal(t, "from-env", cfg.Bundle.Secret)
	assert.Equal(t, "json", cfg.Log.Format)

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"driver", map[string]string{"PROVTRAIL_DB_DRIVER": "mysql"}},
		{"observed_at", map[string]string{"PROVTRAIL_OBSERVED_AT": "yesterday"}},
		{"log level", map[string]string{"PROVTRAIL_LOG_LEVEL": "loud"}},
		{"log format", map[string]string{"PROVTRAIL_LOG_FORMAT": "xml"}},
		{"concurrency", map[string]string{"PROVTRAIL_CONCURRENCY": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
