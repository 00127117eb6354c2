package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/model"
)

const testSecret = "server-test-secret"

func setupServer(t *testing.T, mutate func(cfg *config.Config)) (*Server, *auth.JWTManager) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(model.AllModels()...))

	cfg := config.FromEnv()
	cfg.Auth.JWTSecret = testSecret
	cfg.CORS.AllowOrigins = "*"
	cfg.Canvas.WriteRateLimit = 100
	cfg.Canvas.WriteRateWindow = time.Minute
	if mutate != nil {
		mutate(cfg)
	}

	srv := New(cfg, db, nil)
	srv.SetupMiddleware()
	srv.SetupRoutes()
	return srv, auth.NewJWTManager(testSecret, time.Hour, cfg.Auth.Issuer)
}

func request(t *testing.T, srv *Server, method, path, token, body string) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func TestRoutes_Health(t *testing.T) {
	srv, _ := setupServer(t, nil)

	status, body := request(t, srv, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])

	status, _ = request(t, srv, http.MethodGet, "/health/live", "", "")
	assert.Equal(t, http.StatusOK, status)
	status, _ = request(t, srv, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusOK, status)
}

func TestRoutes_RequireToken(t *testing.T) {
	srv, _ := setupServer(t, nil)

	status, body := request(t, srv, http.MethodGet, "/api/rooms", "", "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHENTICATED", body["code"])

	status, _ = request(t, srv, http.MethodGet, "/api/rooms", "garbage", "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRoutes_RoomAndCanvas(t *testing.T) {
	srv, jwt := setupServer(t, nil)
	token, err := jwt.GenerateAccessToken("u1", "Alice")
	require.NoError(t, err)

	status, body := request(t, srv, http.MethodPost, "/api/rooms", token, `{"name":"Board"}`)
	require.Equal(t, http.StatusCreated, status)
	roomID := body["id"].(string)

	status, body = request(t, srv, http.MethodGet, "/api/rooms/"+roomID, token, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{"u1"}, body["members"])

	status, body = request(t, srv, http.MethodGet, "/api/rooms/not-a-uuid/canvas", token, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_INPUT", body["code"])

	blob := `{"lines":[],"width":800,"height":600}`
	payload, _ := json.Marshal(map[string]string{"saveData": blob})
	status, _ = request(t, srv, http.MethodPost, "/api/rooms/"+roomID+"/canvas", token, string(payload))
	assert.Equal(t, http.StatusAccepted, status)

	status, body = request(t, srv, http.MethodGet, "/api/rooms/"+roomID+"/canvas", token, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, blob, body["canvasData"])
}

func TestRoutes_CanvasWriteRateLimit(t *testing.T) {
	srv, jwt := setupServer(t, func(cfg *config.Config) {
		cfg.Canvas.WriteRateLimit = 2
		cfg.Canvas.WriteRateWindow = time.Hour
	})
	token, err := jwt.GenerateAccessToken("u1", "Alice")
	require.NoError(t, err)

	status, body := request(t, srv, http.MethodPost, "/api/rooms", token, `{"name":"Busy"}`)
	require.Equal(t, http.StatusCreated, status)
	canvasPath := "/api/rooms/" + body["id"].(string) + "/canvas"

	payload := `{"saveData":"{\"lines\":[]}"}`
	for i := 0; i < 2; i++ {
		status, _ = request(t, srv, http.MethodPost, canvasPath, token, payload)
		require.Equal(t, http.StatusAccepted, status)
	}

	status, body = request(t, srv, http.MethodPost, canvasPath, token, payload)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "RATE_LIMITED", body["code"])

	// 읽기는 제한하지 않는다
	status, _ = request(t, srv, http.MethodGet, canvasPath, token, "")
	assert.Equal(t, http.StatusOK, status)
}

func TestRoutes_WebSocketRequiresUpgrade(t *testing.T) {
	srv, _ := setupServer(t, nil)

	status, _ := request(t, srv, http.MethodGet, "/ws/rooms/00000000-0000-0000-0000-000000000000/canvas", "", "")
	assert.Equal(t, http.StatusUpgradeRequired, status)
}
