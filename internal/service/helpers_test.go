package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/live"
	"whiteboard-backend/internal/model"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(model.AllModels()...); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// stepClock 호출마다 1초씩 증가하는 시계
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []live.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev live.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Events() []live.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]live.Event(nil), p.events...)
}

// memCache Redis 없이 동작하는 SnapshotCache
type memCache struct {
	mu          sync.Mutex
	entries     map[string]*model.CanvasSnapshot
	hits        int
	invalidated int
	// beforeStore 다음 StoreLatest 직전에 한 번 실행
	beforeStore func()
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]*model.CanvasSnapshot)}
}

func (c *memCache) GetLatest(_ context.Context, roomID string) (*model.CanvasSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.entries[roomID]
	if !ok {
		return nil, nil
	}
	c.hits++
	cp := *snap
	return &cp, nil
}

func (c *memCache) StoreLatest(_ context.Context, snap *model.CanvasSnapshot) (bool, error) {
	c.mu.Lock()
	hook := c.beforeStore
	c.beforeStore = nil
	c.mu.Unlock()
	if hook != nil {
		hook()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries[snap.RoomID]; ok {
		if cur.CreatedAt.After(snap.CreatedAt) || (cur.CreatedAt.Equal(snap.CreatedAt) && cur.ID >= snap.ID) {
			return false, nil
		}
	}
	cp := *snap
	c.entries[snap.RoomID] = &cp
	return true, nil
}

func (c *memCache) Invalidate(_ context.Context, roomID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, roomID)
	c.invalidated++
	return nil
}

type fixture struct {
	db        *gorm.DB
	rooms     *RoomService
	snapshots *SnapshotService
	members   *MemberService
	pub       *recordingPublisher
	cache     *memCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := setupTestDB(t)
	clock := newStepClock()
	pub := &recordingPublisher{}
	cache := newMemCache()

	opts := []Option{WithClock(clock.Now), WithPublisher(pub), WithCache(cache)}
	cfg := config.CanvasConfig{MaxSnapshotBytes: 4096, HistoryLimit: 10}

	return &fixture{
		db:        db,
		rooms:     NewRoomService(db, opts...),
		snapshots: NewSnapshotService(db, cfg, opts...),
		members:   NewMemberService(db),
		pub:       pub,
		cache:     cache,
	}
}
