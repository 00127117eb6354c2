package handler

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"whiteboard-backend/internal/apperr"
)

// statusFor 서비스 에러 → HTTP 상태 코드
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrUnauthenticated):
		return fiber.StatusUnauthorized
	case errors.Is(err, apperr.ErrNotAuthorized):
		return fiber.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidInput):
		return fiber.StatusBadRequest
	case errors.Is(err, apperr.ErrRateLimited):
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}

// writeError 공통 에러 응답 {"error", "code"}
func writeError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	message := err.Error()
	if status == fiber.StatusInternalServerError {
		log.Printf("[API] %s %s failed: %v", c.Method(), c.Path(), err)
		message = "internal server error"
	}
	return c.Status(status).JSON(fiber.Map{
		"error": message,
		"code":  apperr.Code(err),
	})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": message,
		"code":  apperr.Code(apperr.ErrInvalidInput),
	})
}
