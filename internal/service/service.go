package service

import (
	"context"
	"log"
	"time"

	"whiteboard-backend/internal/live"
	"whiteboard-backend/internal/model"
)

// SnapshotCache 최신 스냅샷 캐시 (Redis)
type SnapshotCache interface {
	GetLatest(ctx context.Context, roomID string) (*model.CanvasSnapshot, error)
	StoreLatest(ctx context.Context, snap *model.CanvasSnapshot) (bool, error)
	Invalidate(ctx context.Context, roomID string) error
}

type options struct {
	cache     SnapshotCache
	publisher live.Publisher
	now       func() time.Time
}

// Option 서비스 공통 옵션
type Option func(*options)

// WithCache 최신 스냅샷 캐시 사용
func WithCache(c SnapshotCache) Option {
	return func(o *options) { o.cache = c }
}

// WithPublisher 라이브 이벤트 발행자 지정
func WithPublisher(p live.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithClock 타임스탬프 시계 지정 (테스트용)
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func newOptions(opts []Option) options {
	o := options{
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// publish 커밋 이후 호출. 실패해도 요청은 성공으로 처리한다.
func (o options) publish(ctx context.Context, ev live.Event) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.Publish(ctx, ev); err != nil {
		log.Printf("[Live] Failed to publish %s for room %s: %v", ev.Type, ev.RoomID, err)
	}
}

// storeLatest 커밋된 스냅샷으로 캐시 갱신. 캐시는 (created_at, id)가 더 큰 값만 받는다.
func (o options) storeLatest(ctx context.Context, snap *model.CanvasSnapshot) {
	if o.cache == nil {
		return
	}
	if _, err := o.cache.StoreLatest(ctx, snap); err != nil {
		log.Printf("[Cache] Failed to store latest for room %s: %v", snap.RoomID, err)
		o.invalidate(ctx, snap.RoomID)
	}
}

func (o options) invalidate(ctx context.Context, roomID string) {
	if o.cache == nil {
		return
	}
	if err := o.cache.Invalidate(ctx, roomID); err != nil {
		log.Printf("[Cache] Failed to invalidate room %s: %v", roomID, err)
	}
}
