package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"whiteboard-backend/internal/apperr"
	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/service"
)

// RoomMiddleware 방 경로 공통 미들웨어
type RoomMiddleware struct {
	memberService *service.MemberService
}

// NewRoomMiddleware RoomMiddleware 생성
func NewRoomMiddleware(memberService *service.MemberService) *RoomMiddleware {
	return &RoomMiddleware{memberService: memberService}
}

// ValidRoomID :roomId 형식 검사 후 Locals("roomID")에 저장
func ValidRoomID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		roomID := c.Params("roomId")
		if _, err := uuid.Parse(roomID); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid room id",
				"code":  apperr.Code(apperr.ErrInvalidInput),
			})
		}

		c.Locals("roomID", roomID)
		return c.Next()
	}
}

// RequireMembership 방 멤버 필수 (WebSocket 업그레이드 전 검사용)
// 방이 없어도 403을 반환한다.
func (m *RoomMiddleware) RequireMembership() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := auth.UserIDFromContext(c)
		if userID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
				"code":  apperr.Code(apperr.ErrUnauthenticated),
			})
		}

		roomID, _ := c.Locals("roomID").(string)
		if roomID == "" {
			roomID = c.Params("roomId")
		}

		ok, err := m.memberService.IsRoomMember(c.UserContext(), roomID, userID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "membership lookup failed",
				"code":  apperr.Code(err),
			})
		}
		if !ok {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "not a room member",
				"code":  apperr.Code(apperr.ErrNotAuthorized),
			})
		}

		c.Locals("roomID", roomID)
		return c.Next()
	}
}
