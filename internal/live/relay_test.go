package live

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whiteboard-backend/internal/model"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisRelay_ForwardsToHub(t *testing.T) {
	client := newTestRedis(t)

	hub := NewHub()
	relay := NewRedisRelay(client, hub)
	sub := hub.Subscribe("relay-room")
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx, ready) }()

	select {
	case <-ready:
	case <-time.After(3 * time.Second):
		t.Fatal("relay did not subscribe")
	}

	require.NoError(t, relay.Publish(ctx, Event{Type: model.EventCanvasUpdated, RoomID: "relay-room", SnapshotID: 42}))

	select {
	case ev := <-sub.C():
		assert.Equal(t, int64(42), ev.SnapshotID)
		assert.Equal(t, model.EventCanvasUpdated, ev.Type)
	case <-time.After(3 * time.Second):
		t.Fatal("event not relayed")
	}

	cancel()
	assert.NoError(t, <-done)
}
