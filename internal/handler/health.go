package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// RedisPinger Redis 헬스체크 대상
type RedisPinger interface {
	Health(ctx context.Context) error
}

// HealthHandler 헬스체크 핸들러
type HealthHandler struct {
	db    *gorm.DB
	redis RedisPinger
	ws    *CanvasWSHandler
}

// NewHealthHandler HealthHandler 생성 (redis, ws는 nil 가능)
func NewHealthHandler(db *gorm.DB, redis RedisPinger, ws *CanvasWSHandler) *HealthHandler {
	return &HealthHandler{db: db, redis: redis, ws: ws}
}

// ComponentCheck 컴포넌트 상태
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse 헬스체크 응답
type HealthResponse struct {
	Status      string                    `json:"status"`
	Timestamp   string                    `json:"timestamp"`
	Checks      map[string]ComponentCheck `json:"checks"`
	Connections int                       `json:"connections"`
}

func (h *HealthHandler) pingDB() error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Check 전체 상태 확인 (DB + Redis)
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
		Checks:    make(map[string]ComponentCheck),
	}

	// 1. Database 체크
	dbStart := time.Now()
	if err := h.pingDB(); err != nil {
		response.Status = "unhealthy"
		response.Checks["database"] = ComponentCheck{
			Status: "unhealthy",
			Error:  "database ping failed",
		}
	} else {
		response.Checks["database"] = ComponentCheck{
			Status:  "healthy",
			Latency: time.Since(dbStart).String(),
		}
	}

	// 2. Redis 체크 (캐시/릴레이는 선택 사항이라 실패해도 degraded)
	if h.redis != nil {
		redisStart := time.Now()
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		err := h.redis.Health(ctx)
		cancel()
		if err != nil {
			if response.Status == "healthy" {
				response.Status = "degraded"
			}
			response.Checks["redis"] = ComponentCheck{
				Status: "degraded",
				Error:  "redis unreachable",
			}
		} else {
			response.Checks["redis"] = ComponentCheck{
				Status:  "healthy",
				Latency: time.Since(redisStart).String(),
			}
		}
	} else {
		response.Checks["redis"] = ComponentCheck{
			Status: "not_configured",
		}
	}

	if h.ws != nil {
		response.Connections = h.ws.Connections()
	}

	statusCode := fiber.StatusOK
	if response.Status == "unhealthy" {
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(response)
}

// Liveness K8s liveness probe용 (단순 체크)
func (h *HealthHandler) Liveness(c *fiber.Ctx) error {
	return c.SendString("OK")
}

// Readiness K8s readiness probe용 (DB 연결 체크)
func (h *HealthHandler) Readiness(c *fiber.Ctx) error {
	if err := h.pingDB(); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).SendString("NOT READY")
	}
	return c.SendString("READY")
}
