package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"whiteboard-backend/internal/apperr"
	"whiteboard-backend/internal/live"
	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/service"
)

// CanvasWSHandler 방 캔버스 라이브 구독
// 연결 시 최신 스냅샷을 보내고, 이후 변경 이벤트마다 권한과 최신 값을 다시 확인해
// 이 연결에 마지막으로 보낸 스냅샷과 다를 때만 전송한다.
type CanvasWSHandler struct {
	snapshots    *service.SnapshotService
	hub          *live.Hub
	limiter      WriteLimiter
	writeTimeout time.Duration
	pingInterval time.Duration

	mu    sync.Mutex
	conns map[string]*canvasConn
}

// canvasConn 연결 하나의 상태
type canvasConn struct {
	id      string
	roomID  string
	userID  string
	conn    *websocket.Conn
	writeMu sync.Mutex

	// lastSent 이 연결이 이미 가진 최신 스냅샷 (created_at, id 순서)
	mu         sync.Mutex
	lastSentID int64
	lastSentAt time.Time
}

// WriteLimiter 사용자별 저장 횟수 제한 (REST와 카운터 공유)
type WriteLimiter interface {
	Allow(key string) (bool, error)
}

// newerThanSent snap이 이 연결에 보낸 것보다 새 스냅샷인지. cc.mu를 잡고 호출한다.
func (cc *canvasConn) newerThanSent(snap *model.CanvasSnapshot) bool {
	if snap.CreatedAt.Equal(cc.lastSentAt) {
		return snap.ID > cc.lastSentID
	}
	return snap.CreatedAt.After(cc.lastSentAt)
}

func (cc *canvasConn) markSent(snap *model.CanvasSnapshot) {
	if cc.newerThanSent(snap) {
		cc.lastSentID = snap.ID
		cc.lastSentAt = snap.CreatedAt
	}
}

// NewCanvasWSHandler CanvasWSHandler 생성 (limiter가 nil이면 제한 없음)
func NewCanvasWSHandler(snapshots *service.SnapshotService, hub *live.Hub, limiter WriteLimiter, writeTimeout, pingInterval time.Duration) *CanvasWSHandler {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &CanvasWSHandler{
		snapshots:    snapshots,
		hub:          hub,
		limiter:      limiter,
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		conns:        make(map[string]*canvasConn),
	}
}

// Connections 현재 열린 연결 수
func (h *CanvasWSHandler) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// HandleWebSocket 업그레이드 전 미들웨어가 Locals에 userID, roomID를 넣어 둔다
func (h *CanvasWSHandler) HandleWebSocket(c *websocket.Conn) {
	userID, ok1 := c.Locals("userID").(string)
	roomID, ok2 := c.Locals("roomID").(string)
	if !ok1 || !ok2 || userID == "" || roomID == "" {
		c.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","error":"invalid session","code":"UNAUTHENTICATED"}`))
		c.Close()
		return
	}

	cc := &canvasConn{
		id:     uuid.NewString(),
		roomID: roomID,
		userID: userID,
		conn:   c,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 초기 전송 전에 구독해야 그 사이의 변경을 놓치지 않는다
	sub := h.hub.Subscribe(roomID)
	defer sub.Close()

	h.register(cc)
	defer h.unregister(cc)

	if !h.refresh(ctx, cc) {
		c.Close()
		return
	}

	done := make(chan struct{})
	go h.pump(ctx, cc, sub, done)

	h.readLoop(ctx, cc)
	close(done)
}

func (h *CanvasWSHandler) register(cc *canvasConn) {
	h.mu.Lock()
	h.conns[cc.id] = cc
	total := len(h.conns)
	h.mu.Unlock()
	log.Printf("[Canvas WS] Connected: room=%s user=%s conn=%s, total: %d", cc.roomID, cc.userID, cc.id, total)
}

func (h *CanvasWSHandler) unregister(cc *canvasConn) {
	h.mu.Lock()
	delete(h.conns, cc.id)
	total := len(h.conns)
	h.mu.Unlock()
	log.Printf("[Canvas WS] Disconnected: room=%s user=%s conn=%s, remaining: %d", cc.roomID, cc.userID, cc.id, total)
}

// pump 구독 이벤트와 ping 처리
func (h *CanvasWSHandler) pump(ctx context.Context, cc *canvasConn, sub *live.Subscription, done <-chan struct{}) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.writeControl(cc, websocket.PingMessage); err != nil {
				cc.conn.Close()
				return
			}
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if ev.Type == model.EventRoomDeleted {
				h.send(cc, live.Message{Type: live.MsgRoomDeleted, RoomID: cc.roomID})
				cc.conn.Close()
				return
			}
			if !h.refresh(ctx, cc) {
				cc.conn.Close()
				return
			}
		}
	}
}

// refresh 권한 재확인 후 최신 스냅샷이 마지막 전송보다 새 것이면 전송
// 연결을 유지해도 되면 true.
func (h *CanvasWSHandler) refresh(ctx context.Context, cc *canvasConn) bool {
	snap, err := h.snapshots.GetLatest(ctx, cc.roomID, cc.userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotAuthorized) || errors.Is(err, apperr.ErrUnauthenticated) {
			h.sendError(cc, "", err)
			return false
		}
		log.Printf("[Canvas WS] Failed to load latest for room %s: %v", cc.roomID, err)
		return true
	}

	msg := live.Message{Type: live.MsgSnapshot, RoomID: cc.roomID}
	if snap != nil {
		msg.SnapshotID = snap.ID
		msg.SaveData = &snap.SaveData
		msg.Author = snap.Author
	}

	// 작성자의 update 처리 중이면 ack 이후까지 기다린다
	cc.mu.Lock()
	if snap != nil {
		if !cc.newerThanSent(snap) {
			cc.mu.Unlock()
			return true
		}
		cc.markSent(snap)
	}
	cc.mu.Unlock()

	return h.send(cc, msg) == nil
}

// readLoop 클라이언트 메시지 처리 (update, ping)
func (h *CanvasWSHandler) readLoop(ctx context.Context, cc *canvasConn) {
	for {
		_, raw, err := cc.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg live.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.sendError(cc, "", apperr.ErrInvalidInput)
			continue
		}

		switch msg.Type {
		case live.MsgUpdate:
			h.handleUpdate(ctx, cc, msg)
		case live.MsgPing:
			h.send(cc, live.Message{Type: live.MsgPong, RequestID: msg.RequestID})
		default:
			h.sendError(cc, msg.RequestID, apperr.ErrInvalidInput)
		}
	}
}

func (h *CanvasWSHandler) handleUpdate(ctx context.Context, cc *canvasConn, msg live.Message) {
	if msg.SaveData == nil {
		h.sendError(cc, msg.RequestID, apperr.ErrInvalidInput)
		return
	}

	if h.limiter != nil {
		ok, err := h.limiter.Allow("user:" + cc.userID)
		if err != nil {
			log.Printf("[Canvas WS] Rate limit storage error: %v", err)
		} else if !ok {
			h.sendError(cc, msg.RequestID, apperr.ErrRateLimited)
			return
		}
	}

	// Append가 발행한 이벤트의 refresh는 lastSent 갱신 뒤에 실행되어
	// 작성자에게 자기 스냅샷을 다시 보내지 않는다
	cc.mu.Lock()
	snap, err := h.snapshots.Append(ctx, cc.roomID, *msg.SaveData, cc.userID)
	if err == nil {
		cc.markSent(snap)
	}
	cc.mu.Unlock()
	if err != nil {
		h.sendError(cc, msg.RequestID, err)
		return
	}

	h.send(cc, live.Message{Type: live.MsgAck, RoomID: cc.roomID, SnapshotID: snap.ID, RequestID: msg.RequestID})
}

func (h *CanvasWSHandler) sendError(cc *canvasConn, requestID string, err error) {
	message := err.Error()
	if statusFor(err) >= 500 {
		log.Printf("[Canvas WS] room=%s user=%s: %v", cc.roomID, cc.userID, err)
		message = "internal server error"
	}
	h.send(cc, live.Message{
		Type:      live.MsgError,
		RoomID:    cc.roomID,
		RequestID: requestID,
		Error:     message,
		Code:      apperr.Code(err),
	})
}

// send 연결당 쓰기는 writeMu로 직렬화
func (h *CanvasWSHandler) send(cc *canvasConn, msg live.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	cc.writeMu.Lock()
	defer cc.writeMu.Unlock()

	cc.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	if err := cc.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("[Canvas WS] Failed to send %s to conn %s: %v", msg.Type, cc.id, err)
		return err
	}
	return nil
}

func (h *CanvasWSHandler) writeControl(cc *canvasConn, messageType int) error {
	cc.writeMu.Lock()
	defer cc.writeMu.Unlock()
	return cc.conn.WriteControl(messageType, nil, time.Now().Add(h.writeTimeout))
}
