package middleware

import (
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"whiteboard-backend/internal/apperr"
	"whiteboard-backend/internal/auth"
)

// WriteLimiter 사용자별 캔버스 저장 횟수 제한 (고정 윈도)
// REST 저장과 WebSocket update가 같은 카운터를 쓴다.
// storage가 nil이면 프로세스 메모리에 카운트한다 (단일 인스턴스).
type WriteLimiter struct {
	max     int
	window  time.Duration
	storage fiber.Storage
	now     func() time.Time

	mu        sync.Mutex
	local     map[string]localWindow
	nextSweep time.Time
}

type localWindow struct {
	count   int
	expires time.Time
}

// NewWriteLimiter max가 0 이하이면 제한하지 않는다
func NewWriteLimiter(max int, window time.Duration, storage fiber.Storage) *WriteLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &WriteLimiter{
		max:     max,
		window:  window,
		storage: storage,
		now:     time.Now,
		local:   make(map[string]localWindow),
	}
}

// Allow key의 현재 윈도에 한 건을 기록하고 허용 여부 반환
func (l *WriteLimiter) Allow(key string) (bool, error) {
	if l.max <= 0 {
		return true, nil
	}

	now := l.now()
	bucket := now.UnixNano() / int64(l.window)
	windowKey := fmt.Sprintf("canvas_write:%s:%d", key, bucket)
	expires := time.Unix(0, (bucket+1)*int64(l.window))

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.storage == nil {
		l.sweep(now)
		w := l.local[windowKey]
		if w.count >= l.max {
			return false, nil
		}
		l.local[windowKey] = localWindow{count: w.count + 1, expires: expires}
		return true, nil
	}

	raw, err := l.storage.Get(windowKey)
	if err != nil {
		return false, err
	}
	count := 0
	if len(raw) > 0 {
		count, _ = strconv.Atoi(string(raw))
	}
	if count >= l.max {
		return false, nil
	}
	if err := l.storage.Set(windowKey, []byte(strconv.Itoa(count+1)), expires.Sub(now)); err != nil {
		return false, err
	}
	return true, nil
}

func (l *WriteLimiter) sweep(now time.Time) {
	if now.Before(l.nextSweep) {
		return
	}
	for k, w := range l.local {
		if !now.Before(w.expires) {
			delete(l.local, k)
		}
	}
	l.nextSweep = now.Add(l.window)
}

// LimitKey 인증된 사용자는 사용자 ID, 아니면 IP 기준
func LimitKey(c *fiber.Ctx) string {
	if userID := auth.UserIDFromContext(c); userID != "" {
		return "user:" + userID
	}
	return "ip:" + c.IP()
}

// Handler REST 저장 라우트용 미들웨어 (초과 시 429)
func (l *WriteLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ok, err := l.Allow(LimitKey(c))
		if err != nil {
			// 저장소 장애 시 쓰기를 막지 않는다
			log.Printf("[RateLimit] Storage error: %v", err)
			return c.Next()
		}
		if !ok {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many canvas updates, please slow down",
				"code":  apperr.Code(apperr.ErrRateLimited),
			})
		}
		return c.Next()
	}
}
