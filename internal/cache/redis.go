package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/model"
)

// RedisClient wraps the Redis client for latest-snapshot caching
type RedisClient struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient creates a new Redis client and verifies the connection
func NewRedisClient(cfg config.RedisConfig) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	log.Printf("[Redis] Connected to %s", cfg.Addr)
	return &RedisClient{client: client, ttl: ttl}, nil
}

// NewFromClient wraps an existing client
func NewFromClient(client *redis.Client, ttl time.Duration) *RedisClient {
	return &RedisClient{client: client, ttl: ttl}
}

func latestKey(roomID string) string {
	return "canvas:room:" + roomID + ":latest"
}

// storeIfNewer writes the snapshot only when it orders after the cached one
// (created_at, then id), so a slow reader cannot overwrite a newer append.
var storeIfNewer = redis.NewScript(`
local ts = redis.call('HGET', KEYS[1], 'ts')
if ts then
  local cts = tonumber(ts)
  local nts = tonumber(ARGV[1])
  local cid = tonumber(redis.call('HGET', KEYS[1], 'id'))
  if cts > nts or (cts == nts and cid >= tonumber(ARGV[2])) then
    return 0
  end
end
redis.call('HSET', KEYS[1], 'ts', ARGV[1], 'id', ARGV[2], 'data', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

// GetLatest returns the cached latest snapshot for a room, or nil on a miss
func (r *RedisClient) GetLatest(ctx context.Context, roomID string) (*model.CanvasSnapshot, error) {
	val, err := r.client.HGet(ctx, latestKey(roomID), "data").Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snap model.CanvasSnapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		// Corrupt entry, drop it
		r.client.Del(ctx, latestKey(roomID))
		return nil, nil
	}
	return &snap, nil
}

// StoreLatest caches snap unless a newer snapshot is already cached.
// Returns whether the entry was written.
func (r *RedisClient) StoreLatest(ctx context.Context, snap *model.CanvasSnapshot) (bool, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return false, err
	}

	res, err := storeIfNewer.Run(ctx, r.client,
		[]string{latestKey(snap.RoomID)},
		snap.CreatedAt.UnixMicro(), snap.ID, data, r.ttl.Milliseconds(),
	).Int()
	if err != nil {
		log.Printf("[Redis] Failed to cache snapshot %d: %v", snap.ID, err)
		return false, err
	}
	return res == 1, nil
}

// Invalidate removes the cached latest snapshot for a room
func (r *RedisClient) Invalidate(ctx context.Context, roomID string) error {
	return r.client.Del(ctx, latestKey(roomID)).Err()
}

// Client exposes the underlying client (pub/sub relay)
func (r *RedisClient) Client() *redis.Client {
	return r.client
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// Health checks if Redis is healthy
func (r *RedisClient) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
