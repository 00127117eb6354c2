// Package live fans out "latest canvas changed" events to subscribers of a room.
package live

import (
	"context"
	"log"
	"sync"

	"whiteboard-backend/internal/model"
)

// Event 방의 최신 스냅샷 변경 알림
type Event struct {
	Type       model.EventType `json:"type"`
	RoomID     string          `json:"roomId"`
	SnapshotID int64           `json:"snapshotId,omitempty"`
}

// Publisher 이벤트 발행자 (로컬 Hub 또는 Redis 릴레이)
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Hub 방 단위 구독 관리
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[uint64]*Subscription
	nextID uint64
}

// Subscription 한 방에 대한 구독. 채널 버퍼는 1이며 새 이벤트가 전달되지 않은 이전 이벤트를 대체한다.
type Subscription struct {
	id     uint64
	roomID string
	hub    *Hub
	ch     chan Event
	once   sync.Once
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[uint64]*Subscription),
	}
}

// Subscribe 방 구독 등록
func (h *Hub) Subscribe(roomID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		id:     h.nextID,
		roomID: roomID,
		hub:    h,
		ch:     make(chan Event, 1),
	}

	subs, ok := h.rooms[roomID]
	if !ok {
		subs = make(map[uint64]*Subscription)
		h.rooms[roomID] = subs
	}
	subs[sub.id] = sub

	log.Printf("[LiveHub] Subscribed to room %s, total: %d", roomID, len(subs))
	return sub
}

// Publish 로컬 구독자에게 전달. 느린 구독자 때문에 막히지 않는다.
func (h *Hub) Publish(ctx context.Context, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.rooms[ev.RoomID] {
		sub.deliver(ev)
	}
	return nil
}

// Subscribers 방의 현재 구독자 수
func (h *Hub) Subscribers(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.rooms[sub.roomID]
	if !ok {
		return
	}
	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(h.rooms, sub.roomID)
	}
	// 발행은 읽기 잠금 안에서만 일어나므로 여기서 닫아도 안전하다
	close(sub.ch)
}

// deliver room_deleted는 다른 어떤 이벤트로도 대체되지 않는다
func (s *Subscription) deliver(ev Event) {
	select {
	case s.ch <- ev:
		return
	default:
	}

	select {
	case old := <-s.ch:
		if old.Type == model.EventRoomDeleted {
			ev = old
		}
	default:
	}

	select {
	case s.ch <- ev:
	default:
	}
}

// C 이벤트 채널. Close 후 닫힌다.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// RoomID 구독 중인 방
func (s *Subscription) RoomID() string {
	return s.roomID
}

// Close 구독 해제 (여러 번 호출해도 안전)
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
	})
}
