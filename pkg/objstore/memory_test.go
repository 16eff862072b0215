package objstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPutGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	require.NoError(t, store.Put(ctx, "bucket", "a/b/c", []byte("payload")))

	data, err := store.Get(ctx, "bucket", "a/b/c")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestMemoryGetMissing(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	_, err := store.Get(ctx, "bucket", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryDeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	require.NoError(t, store.Put(ctx, "bucket", "k", []byte("x")))
	require.NoError(t, store.Delete(ctx, "bucket", "k"))
	require.NoError(t, store.Delete(ctx, "bucket", "k"))

	_, err := store.Get(ctx, "bucket", "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryList(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	require.NoError(t, store.Put(ctx, "bucket", "prod/S/1.chunk", []byte("aa")))
	require.NoError(t, store.Put(ctx, "bucket", "prod/S/2.chunk", []byte("bbb")))
	require.NoError(t, store.Put(ctx, "bucket", "dev/S/1.chunk", []byte("c")))

	objects, err := store.List(ctx, "bucket", "prod/")
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, "prod/S/1.chunk", objects[0].Key)
	assert.Equal(t, int64(2), objects[0].Size)
	assert.Equal(t, "prod/S/2.chunk", objects[1].Key)
	assert.WithinDuration(t, time.Now(), objects[0].LastModified, time.Minute)
}

func TestMemorySetModified(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	require.NoError(t, store.Put(ctx, "bucket", "k", []byte("x")))
	old := time.Now().Add(-2 * time.Hour)
	store.SetModified("bucket", "k", old)

	objects, err := store.List(ctx, "bucket", "")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.True(t, objects[0].LastModified.Equal(old))
}
