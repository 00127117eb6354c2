package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/model"
)

func newTestClient(t *testing.T) *RedisClient {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	r, err := NewRedisClient(config.RedisConfig{Addr: addr, CacheTTL: time.Minute})
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestLatestKey(t *testing.T) {
	assert.Equal(t, "canvas:room:abc:latest", latestKey("abc"))
}

func TestLatestCache(t *testing.T) {
	r := newTestClient(t)
	ctx := context.Background()
	roomID := uuid.NewString()
	t.Cleanup(func() { _ = r.Invalidate(ctx, roomID) })

	miss, err := r.GetLatest(ctx, roomID)
	require.NoError(t, err)
	assert.Nil(t, miss)

	snap := &model.CanvasSnapshot{
		ID:        7,
		RoomID:    roomID,
		SaveData:  `{"lines":[],"width":1,"height":1}`,
		Author:    "user-1",
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	stored, err := r.StoreLatest(ctx, snap)
	require.NoError(t, err)
	assert.True(t, stored)

	hit, err := r.GetLatest(ctx, roomID)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, snap.ID, hit.ID)
	assert.Equal(t, snap.SaveData, hit.SaveData)
	assert.True(t, snap.CreatedAt.Equal(hit.CreatedAt))

	require.NoError(t, r.Invalidate(ctx, roomID))
	gone, err := r.GetLatest(ctx, roomID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestStoreLatest_KeepsNewer(t *testing.T) {
	r := newTestClient(t)
	ctx := context.Background()
	roomID := uuid.NewString()
	t.Cleanup(func() { _ = r.Invalidate(ctx, roomID) })

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	newer := &model.CanvasSnapshot{ID: 2, RoomID: roomID, SaveData: "new", CreatedAt: base.Add(time.Second)}
	older := &model.CanvasSnapshot{ID: 1, RoomID: roomID, SaveData: "old", CreatedAt: base}
	sameTimeLowerID := &model.CanvasSnapshot{ID: 1, RoomID: roomID, SaveData: "tie", CreatedAt: base.Add(time.Second)}

	stored, err := r.StoreLatest(ctx, newer)
	require.NoError(t, err)
	assert.True(t, stored)

	for _, stale := range []*model.CanvasSnapshot{older, sameTimeLowerID} {
		stored, err = r.StoreLatest(ctx, stale)
		require.NoError(t, err)
		assert.False(t, stored)
	}

	hit, err := r.GetLatest(ctx, roomID)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, "new", hit.SaveData)
}
