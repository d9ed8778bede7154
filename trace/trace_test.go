package trace

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-123")

	id, ok := IDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "req-123", id)
}

func TestIDFromContextMissing(t *testing.T) {
	_, ok := IDFromContext(context.Background())
	assert.False(t, ok)
}

func TestIDFromContextEmptyValue(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	_, ok := IDFromContext(ctx)
	assert.False(t, ok)
}

func TestEnsureRequestID(t *testing.T) {
	t.Run("returns existing ID", func(t *testing.T) {
		ctx := WithRequestID(context.Background(), "existing")
		assert.Equal(t, "existing", EnsureRequestID(ctx))
	})

	t.Run("generates a UUID when absent", func(t *testing.T) {
		id := EnsureRequestID(context.Background())
		_, err := uuid.Parse(id)
		require.NoError(t, err)
	})

	t.Run("generated IDs are unique", func(t *testing.T) {
		a := EnsureRequestID(context.Background())
		b := EnsureRequestID(context.Background())
		assert.NotEqual(t, a, b)
	})
}
