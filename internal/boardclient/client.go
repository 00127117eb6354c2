// Package boardclient 화이트보드 API 클라이언트
// REST 호출은 fiber Agent, 라이브 구독은 WebSocket으로 처리하며
// Client는 syncengine.Store를 구현한다.
package boardclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"whiteboard-backend/internal/apperr"
	"whiteboard-backend/internal/syncengine"
)

// ErrRateLimited 서버가 429(또는 WebSocket RATE_LIMITED 에러)를 반환
var ErrRateLimited = apperr.ErrRateLimited

// Client 화이트보드 API 클라이언트 (한 사용자 토큰 기준)
type Client struct {
	baseURL string
	token   string
	timeout time.Duration
}

// Option 클라이언트 옵션
type Option func(*Client)

// WithTimeout 요청 타임아웃 (기본 10초)
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New baseURL은 http(s)://host:port 형식
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ syncengine.Store = (*Client)(nil)

// RoomSummary 방 목록 항목
type RoomSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	OwnerID     string    `json:"ownerId"`
	IsOwner     bool      `json:"isOwner"`
	MemberCount int       `json:"memberCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RoomDetail 방 상세
type RoomDetail struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"createdAt"`
}

// SnapshotMeta 히스토리 항목
type SnapshotMeta struct {
	ID        int64     `json:"id"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
	Size      int       `json:"size"`
}

type errorBody struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Result string `json:"result"`
}

// statusError HTTP 상태 코드를 공통 에러로 변환
func statusError(code int, body []byte) error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	msg := eb.Error
	if msg == "" {
		msg = fmt.Sprintf("status %d", code)
	}

	switch code {
	case fiber.StatusUnauthorized:
		return fmt.Errorf("%s: %w", msg, apperr.ErrUnauthenticated)
	case fiber.StatusForbidden:
		return fmt.Errorf("%s: %w", msg, apperr.ErrNotAuthorized)
	case fiber.StatusNotFound:
		return fmt.Errorf("%s: %w", msg, apperr.ErrNotFound)
	case fiber.StatusBadRequest:
		return fmt.Errorf("%s: %w", msg, apperr.ErrInvalidInput)
	case fiber.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", msg, ErrRateLimited)
	default:
		return fmt.Errorf("server error: %s", msg)
	}
}

// codeError WebSocket 에러 코드 → 공통 에러
func codeError(code, msg string) error {
	for _, sentinel := range []error{
		apperr.ErrUnauthenticated,
		apperr.ErrNotAuthorized,
		apperr.ErrNotFound,
		apperr.ErrInvalidInput,
		apperr.ErrRateLimited,
	} {
		if apperr.Code(sentinel) == code {
			return fmt.Errorf("%s: %w", msg, sentinel)
		}
	}
	return fmt.Errorf("server error: %s", msg)
}

func (c *Client) roomPath(roomID string, rest ...string) string {
	p := "/api/rooms/" + url.PathEscape(roomID)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

// do 요청 실행 후 2xx면 out으로 디코드
func (c *Client) do(ctx context.Context, agent *fiber.Agent, body any, out any) error {
	if err := ctx.Err(); err != nil {
		fiber.ReleaseAgent(agent)
		return err
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}

	agent.Set(fiber.HeaderAuthorization, "Bearer "+c.token).Timeout(timeout)
	if body != nil {
		agent.JSON(body)
	}

	code, resp, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("request failed: %w", errors.Join(errs...))
	}
	if code < 200 || code > 299 {
		return statusError(code, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// CreateRoom 방 생성 후 ID 반환
func (c *Client) CreateRoom(ctx context.Context, name string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, fiber.Post(c.baseURL+"/api/rooms"), map[string]string{"name": name}, &out)
	return out.ID, err
}

// ListRooms 내가 속한 방 목록
func (c *Client) ListRooms(ctx context.Context) ([]RoomSummary, error) {
	var out struct {
		Rooms []RoomSummary `json:"rooms"`
	}
	err := c.do(ctx, fiber.Get(c.baseURL+"/api/rooms"), nil, &out)
	return out.Rooms, err
}

// GetRoom 방 상세
func (c *Client) GetRoom(ctx context.Context, roomID string) (*RoomDetail, error) {
	var out RoomDetail
	if err := c.do(ctx, fiber.Get(c.baseURL+c.roomPath(roomID)), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Invite userID를 초대 (빈 문자열이면 본인 참가). "joined" 또는 "already_member".
func (c *Client) Invite(ctx context.Context, roomID, userID string) (string, error) {
	var body any
	if userID != "" {
		body = map[string]string{"userId": userID}
	}
	var out struct {
		Result string `json:"result"`
	}
	err := c.do(ctx, fiber.Post(c.baseURL+c.roomPath(roomID, "members")), body, &out)
	return out.Result, err
}

// DeleteRoom 방 삭제 (소유자 전용)
func (c *Client) DeleteRoom(ctx context.Context, roomID string) error {
	return c.do(ctx, fiber.Delete(c.baseURL+c.roomPath(roomID)), nil, nil)
}

// Latest 최신 스냅샷 (syncengine.Store)
func (c *Client) Latest(ctx context.Context, roomID string) (syncengine.Update, error) {
	var out struct {
		CanvasData *string `json:"canvasData"`
		SnapshotID int64   `json:"snapshotId"`
	}
	if err := c.do(ctx, fiber.Get(c.baseURL+c.roomPath(roomID, "canvas")), nil, &out); err != nil {
		return syncengine.Update{}, err
	}
	if out.CanvasData == nil {
		return syncengine.Update{}, nil
	}
	return syncengine.Update{SnapshotID: out.SnapshotID, SaveData: *out.CanvasData, Present: true}, nil
}

// Append 새 스냅샷 저장 (syncengine.Store)
func (c *Client) Append(ctx context.Context, roomID, blob string) error {
	_, err := c.AppendSnapshot(ctx, roomID, blob)
	return err
}

// AppendSnapshot 새 스냅샷 저장 후 ID 반환
func (c *Client) AppendSnapshot(ctx context.Context, roomID, blob string) (int64, error) {
	var out struct {
		SnapshotID int64 `json:"snapshotId"`
	}
	err := c.do(ctx, fiber.Post(c.baseURL+c.roomPath(roomID, "canvas")), map[string]string{"saveData": blob}, &out)
	return out.SnapshotID, err
}

// History 스냅샷 메타데이터 (최신순, limit <= 0이면 서버 기본값)
func (c *Client) History(ctx context.Context, roomID string, limit int) ([]SnapshotMeta, error) {
	target := c.baseURL + c.roomPath(roomID, "canvas", "history")
	if limit > 0 {
		target += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Snapshots []SnapshotMeta `json:"snapshots"`
	}
	err := c.do(ctx, fiber.Get(target), nil, &out)
	return out.Snapshots, err
}
