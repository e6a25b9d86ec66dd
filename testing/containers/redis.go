//go:build integration

package containers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

// DefaultRedisImage is used by StartRedis.
const DefaultRedisImage = "redis:7-alpine"

// StartRedis starts Redis and returns its host:port address. The container is
// removed when t finishes. Without Docker the test is skipped.
func StartRedis(ctx context.Context, t *testing.T) string {
	t.Helper()
	requireDocker(ctx, t)

	c, err := redis.Run(ctx, DefaultRedisImage,
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").WithStartupTimeout(60*time.Second),
		),
	)
	terminateOnCleanup(t, c)
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get Redis host: %v", err)
	}
	port, err := c.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("Failed to get Redis port: %v", err)
	}

	addr := fmt.Sprintf("%s:%d", host, port.Int())
	t.Logf("Redis container started at %s", addr)
	return addr
}
