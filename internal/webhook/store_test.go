package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_MarkAndCheck(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	processed, err := store.IsProcessed(ctx, "key-1")
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, store.MarkProcessed(ctx, "key-1", time.Hour))

	processed, err = store.IsProcessed(ctx, "key-1")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestMemoryStore_ExpiredKeysForgotten(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.MarkProcessed(ctx, "key-1", 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	processed, err := store.IsProcessed(ctx, "key-1")
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestMemoryStore_LazyEvictionOnWrite(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.MarkProcessed(ctx, "old", 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, store.MarkProcessed(ctx, "new", time.Hour))

	store.mu.Lock()
	_, oldExists := store.entries["old"]
	store.mu.Unlock()
	assert.False(t, oldExists)
}
