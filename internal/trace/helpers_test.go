package trace

import (
	"context"
	"fmt"
	"testing"

	"github.com/roach88/provtrail/internal/artifact"
)

type staticResolver map[string]string

func (r staticResolver) OrderForIncident(_ context.Context, id string) (string, error) {
	order, ok := r[id]
	if !ok {
		return "", fmt.Errorf("incident not found: %s", id)
	}
	return order, nil
}

func newTestArtifacts(t *testing.T) *artifact.Store {
	t.Helper()
	return artifact.New(artifact.NewMemoryBlobStore(), artifact.WithIndex(artifact.NewMemoryIndex()))
}

func artifactOpts() artifact.PutOptions {
	return artifact.PutOptions{MimeType: artifact.MimeBinary}
}
