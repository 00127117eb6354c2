package middleware

import (
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapStorage 테스트용 fiber.Storage
type mapStorage struct {
	mu   sync.Mutex
	data map[string][]byte
	exp  map[string]time.Duration
	fail bool
}

func newMapStorage() *mapStorage {
	return &mapStorage{data: map[string][]byte{}, exp: map[string]time.Duration{}}
}

func (s *mapStorage) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errors.New("storage down")
	}
	return s.data[key], nil
}

func (s *mapStorage) Set(key string, val []byte, exp time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = val
	s.exp[key] = exp
	return nil
}

func (s *mapStorage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *mapStorage) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = map[string][]byte{}
	return nil
}

func (s *mapStorage) Close() error { return nil }

func TestWriteLimiter_Local(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l := NewWriteLimiter(2, time.Minute, nil)
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		ok, err := l.Allow("user:u1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := l.Allow("user:u1")
	assert.False(t, ok)

	// 다른 사용자는 별도 카운트
	ok, _ = l.Allow("user:u2")
	assert.True(t, ok)

	// 다음 윈도에서 초기화
	now = now.Add(time.Minute)
	ok, _ = l.Allow("user:u1")
	assert.True(t, ok)
	assert.Len(t, l.local, 1)
}

func TestWriteLimiter_Unlimited(t *testing.T) {
	l := NewWriteLimiter(0, time.Minute, nil)
	for i := 0; i < 10; i++ {
		ok, err := l.Allow("user:u1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestWriteLimiter_Storage(t *testing.T) {
	storage := newMapStorage()
	now := time.Date(2026, 3, 1, 9, 0, 30, 0, time.UTC)
	l := NewWriteLimiter(1, time.Minute, storage)
	l.now = func() time.Time { return now }

	ok, err := l.Allow("user:u1")
	require.NoError(t, err)
	assert.True(t, ok)

	// 같은 저장소를 쓰는 다른 인스턴스도 같은 카운트를 본다
	other := NewWriteLimiter(1, time.Minute, storage)
	other.now = l.now
	ok, err = other.Allow("user:u1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.Len(t, storage.exp, 1)
	for _, exp := range storage.exp {
		assert.Equal(t, 30*time.Second, exp)
	}

	storage.fail = true
	_, err = l.Allow("user:u1")
	assert.Error(t, err)
}

func TestWriteLimiter_Handler(t *testing.T) {
	l := NewWriteLimiter(1, time.Minute, nil)
	app := fiber.New()
	app.Post("/canvas", withUser, l.Handler(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusAccepted)
	})

	post := func(user string) int {
		req := httptest.NewRequest("POST", "/canvas", nil)
		req.Header.Set("X-User", user)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusAccepted, post("u1"))
	assert.Equal(t, fiber.StatusTooManyRequests, post("u1"))
	assert.Equal(t, fiber.StatusAccepted, post("u2"))
}

func TestWriteLimiter_HandlerFailsOpen(t *testing.T) {
	storage := newMapStorage()
	storage.fail = true
	l := NewWriteLimiter(1, time.Minute, storage)
	app := fiber.New()
	app.Post("/canvas", withUser, l.Handler(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusAccepted)
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/canvas", nil)
		req.Header.Set("X-User", "u1")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	}
}
