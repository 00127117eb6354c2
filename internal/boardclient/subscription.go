package boardclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"

	"whiteboard-backend/internal/apperr"
	"whiteboard-backend/internal/live"
	"whiteboard-backend/internal/syncengine"
)

var (
	// ErrRoomDeleted 구독 중 방이 삭제됨
	ErrRoomDeleted = errors.New("room deleted")
	// ErrSubscriptionClosed 응답을 받기 전에 연결이 끝남
	ErrSubscriptionClosed = errors.New("subscription closed")
)

// Subscription 방 캔버스 라이브 구독
// 최신 스냅샷만 의미가 있으므로 채널은 버퍼 1이며 밀린 값은 새 값으로 교체된다.
type Subscription struct {
	roomID  string
	conn    *websocket.Conn
	updates chan syncengine.Update

	writeMu sync.Mutex

	// requestId별 ack/error 대기
	waitMu  sync.Mutex
	waiters map[string]chan live.Message

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
	done      chan struct{}
}

func (c *Client) wsURL(roomID string) string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws" + c.roomPath(roomID)[len("/api"):] + "/canvas"
}

// Subscribe 방 구독 시작. 첫 메시지로 현재 최신 스냅샷이 온다.
func (c *Client) Subscribe(ctx context.Context, roomID string) (*Subscription, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = c.timeout

	conn, resp, err := dialer.DialContext(ctx, c.wsURL(roomID), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, statusError(resp.StatusCode, nil)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}

	sub := &Subscription{
		roomID:  roomID,
		conn:    conn,
		updates: make(chan syncengine.Update, 1),
		waiters: make(map[string]chan live.Message),
		done:    make(chan struct{}),
	}
	go sub.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Updates 서버가 보낸 최신 스냅샷. 연결이 끝나면 닫힌다.
func (s *Subscription) Updates() <-chan syncengine.Update {
	return s.updates
}

// Done 연결 종료 알림
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err 종료 사유 (방 삭제면 ErrRoomDeleted, 정상 Close면 nil)
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// Ping 서버 응답 확인용 ping 메시지 전송
func (s *Subscription) Ping() error {
	return s.write(live.Message{Type: live.MsgPing})
}

// Push WebSocket으로 스냅샷 저장. ack를 받으면 새 스냅샷 ID를 반환한다.
// 서버는 이 연결에 자기 스냅샷을 다시 보내지 않는다.
func (s *Subscription) Push(ctx context.Context, blob string) (int64, error) {
	requestID := uuid.NewString()
	reply := make(chan live.Message, 1)

	s.waitMu.Lock()
	s.waiters[requestID] = reply
	s.waitMu.Unlock()
	defer func() {
		s.waitMu.Lock()
		delete(s.waiters, requestID)
		s.waitMu.Unlock()
	}()

	err := s.write(live.Message{
		Type:      live.MsgUpdate,
		RoomID:    s.roomID,
		RequestID: requestID,
		SaveData:  &blob,
	})
	if err != nil {
		return 0, fmt.Errorf("push: %w", err)
	}

	select {
	case msg := <-reply:
		if msg.Type == live.MsgAck {
			return msg.SnapshotID, nil
		}
		return 0, codeError(msg.Code, msg.Error)
	case <-s.done:
		if err := s.Err(); err != nil {
			return 0, err
		}
		return 0, ErrSubscriptionClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// resolve 대기 중인 Push에 응답 전달. 대기자가 없으면 false.
func (s *Subscription) resolve(msg live.Message) bool {
	s.waitMu.Lock()
	reply, ok := s.waiters[msg.RequestID]
	s.waitMu.Unlock()
	if ok {
		reply <- msg
	}
	return ok
}

func (s *Subscription) write(msg live.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// deliver 밀린 값이 있으면 버리고 최신 값만 남긴다
func (s *Subscription) deliver(u syncengine.Update) {
	for {
		select {
		case s.updates <- u:
			return
		default:
		}
		select {
		case <-s.updates:
		default:
		}
	}
}

func (s *Subscription) readLoop() {
	defer func() {
		close(s.updates)
		s.Close()
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.fail(fmt.Errorf("read: %w", err))
				}
			}
			return
		}

		var msg live.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[BoardClient] Dropping malformed message: %v", err)
			continue
		}

		switch msg.Type {
		case live.MsgSnapshot:
			u := syncengine.Update{SnapshotID: msg.SnapshotID}
			if msg.SaveData != nil {
				u.SaveData = *msg.SaveData
				u.Present = true
			}
			s.deliver(u)
		case live.MsgRoomDeleted:
			s.fail(ErrRoomDeleted)
			return
		case live.MsgError:
			if msg.Code == apperr.Code(apperr.ErrNotAuthorized) && msg.RequestID == "" {
				s.fail(fmt.Errorf("%s: %w", msg.Error, apperr.ErrNotAuthorized))
				return
			}
			if msg.RequestID != "" && s.resolve(msg) {
				continue
			}
			log.Printf("[BoardClient] Server error for %q: %s (%s)", msg.RequestID, msg.Error, msg.Code)
		case live.MsgAck:
			s.resolve(msg)
		case live.MsgPong:
		default:
			log.Printf("[BoardClient] Unknown message type: %s", msg.Type)
		}
	}
}

// Close 연결 종료 (여러 번 호출해도 안전)
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
}

// LiveStore 최신 스냅샷은 REST로 읽고 저장은 구독 연결로 보내는 syncengine.Store
type LiveStore struct {
	client *Client
	sub    *Subscription
}

var _ syncengine.Store = (*LiveStore)(nil)

// LiveStore sub로 저장하는 Store 생성
func (c *Client) LiveStore(sub *Subscription) *LiveStore {
	return &LiveStore{client: c, sub: sub}
}

func (l *LiveStore) Latest(ctx context.Context, roomID string) (syncengine.Update, error) {
	return l.client.Latest(ctx, roomID)
}

func (l *LiveStore) Append(ctx context.Context, roomID, blob string) error {
	if roomID != l.sub.roomID {
		return fmt.Errorf("subscription is for room %s: %w", l.sub.roomID, apperr.ErrInvalidInput)
	}
	_, err := l.sub.Push(ctx, blob)
	return err
}
