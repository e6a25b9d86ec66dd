//go:build integration

package containers

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// DefaultPostgresImage is used by StartPostgres.
const DefaultPostgresImage = "postgres:17-alpine"

// StartPostgres starts PostgreSQL and returns a pgx compatible DSN. The
// container is removed when t finishes. Without Docker the test is skipped.
func StartPostgres(ctx context.Context, t *testing.T) string {
	t.Helper()
	requireDocker(ctx, t)

	c, err := postgres.Run(ctx, DefaultPostgresImage,
		postgres.WithDatabase("vkflow"),
		postgres.WithUsername("vkflow"),
		postgres.WithPassword("vkflow"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	terminateOnCleanup(t, c)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get PostgreSQL connection string: %v", err)
	}
	return dsn
}
