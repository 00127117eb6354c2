package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"whiteboard-backend/internal/apperr"
	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/service"
)

// RoomHandler 방 핸들러
type RoomHandler struct {
	rooms *service.RoomService
}

// NewRoomHandler RoomHandler 생성
func NewRoomHandler(rooms *service.RoomService) *RoomHandler {
	return &RoomHandler{rooms: rooms}
}

// CreateRoomRequest 방 생성 요청
type CreateRoomRequest struct {
	Name string `json:"name"`
}

// InviteMemberRequest 멤버 초대 요청 (userId가 비면 본인 참가)
type InviteMemberRequest struct {
	UserID string `json:"userId,omitempty"`
}

// CreateRoom 방 생성
func (h *RoomHandler) CreateRoom(c *fiber.Ctx) error {
	var req CreateRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	roomID, err := h.rooms.CreateRoom(c.UserContext(), req.Name, auth.UserIDFromContext(c))
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id": roomID,
	})
}

// ListRooms 내가 속한 방 목록
func (h *RoomHandler) ListRooms(c *fiber.Ctx) error {
	rooms, err := h.rooms.ListRoomsForUser(c.UserContext(), auth.UserIDFromContext(c))
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{
		"rooms": rooms,
		"total": len(rooms),
	})
}

// GetRoom 방 상세 조회
func (h *RoomHandler) GetRoom(c *fiber.Ctx) error {
	room, err := h.rooms.GetRoom(c.UserContext(), c.Params("roomId"), auth.UserIDFromContext(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(room)
}

// InviteMember 멤버 초대 또는 본인 참가
func (h *RoomHandler) InviteMember(c *fiber.Ctx) error {
	identity := auth.UserIDFromContext(c)
	if identity == "" {
		return writeError(c, apperr.ErrUnauthenticated)
	}

	var req InviteMemberRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}

	target := req.UserID
	if target == "" {
		target = identity
	}

	result, err := h.rooms.InviteMember(c.UserContext(), c.Params("roomId"), target)
	if errors.Is(err, apperr.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":  "room not found",
			"code":   apperr.Code(err),
			"result": model.JoinResultRoomNotFound,
		})
	}
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{
		"result": result,
	})
}

// DeleteRoom 방 삭제 (소유자 전용)
func (h *RoomHandler) DeleteRoom(c *fiber.Ctx) error {
	if err := h.rooms.DeleteRoom(c.UserContext(), c.Params("roomId"), auth.UserIDFromContext(c)); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
	})
}
