//go:build integration

// Package containers starts throwaway backends for the token storage
// integration tests.
package containers

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
)

// requireDocker skips t when the Docker daemon cannot be reached.
func requireDocker(ctx context.Context, t *testing.T) {
	t.Helper()
	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		t.Skip("Docker is not available - skipping integration test")
	}
	defer provider.Close()

	if _, err := provider.DaemonHost(ctx); err != nil {
		t.Skip("Docker is not available - skipping integration test")
	}
}

// terminateOnCleanup removes c when the test finishes.
func terminateOnCleanup(t *testing.T, c testcontainers.Container) {
	t.Helper()
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(c); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})
}
