package trace

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureRequestIDUsesExisting(t *testing.T) {
	ctx := WithRequestID(context.Background(), "existing-id")
	assert.Equal(t, "existing-id", EnsureRequestID(ctx))
}

func TestEnsureRequestIDGeneratesWhenMissing(t *testing.T) {
	got := EnsureRequestID(context.Background())
	_, err := uuid.Parse(got)
	require.NoError(t, err)
}

func TestEmptyRequestIDIsIgnored(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	_, ok := RequestIDFromContext(ctx)
	assert.False(t, ok)
}

func TestTaskIDRoundTrip(t *testing.T) {
	_, ok := TaskIDFromContext(context.Background())
	assert.False(t, ok)

	id, ok := TaskIDFromContext(WithTaskID(context.Background(), 7))
	require.True(t, ok)
	assert.Equal(t, int64(7), id)
}
