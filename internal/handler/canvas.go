package handler

import (
	"github.com/gofiber/fiber/v2"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/service"
)

// CanvasHandler 캔버스 스냅샷 핸들러
type CanvasHandler struct {
	snapshots *service.SnapshotService
}

// NewCanvasHandler CanvasHandler 생성
func NewCanvasHandler(snapshots *service.SnapshotService) *CanvasHandler {
	return &CanvasHandler{snapshots: snapshots}
}

// UpdateCanvasRequest 캔버스 저장 요청
type UpdateCanvasRequest struct {
	SaveData string `json:"saveData"`
}

// CanvasResponse 최신 캔버스 응답 (그린 적 없으면 canvasData = null)
type CanvasResponse struct {
	Viewer     string  `json:"viewer"`
	CanvasData *string `json:"canvasData"`
	SnapshotID int64   `json:"snapshotId,omitempty"`
	Author     string  `json:"author,omitempty"`
}

// GetCanvas 최신 스냅샷 조회
func (h *CanvasHandler) GetCanvas(c *fiber.Ctx) error {
	userID := auth.UserIDFromContext(c)

	snap, err := h.snapshots.GetLatest(c.UserContext(), c.Params("roomId"), userID)
	if err != nil {
		return writeError(c, err)
	}

	resp := CanvasResponse{Viewer: userID}
	if snap != nil {
		resp.CanvasData = &snap.SaveData
		resp.SnapshotID = snap.ID
		resp.Author = snap.Author
	}
	return c.JSON(resp)
}

// UpdateCanvas 새 스냅샷 추가
func (h *CanvasHandler) UpdateCanvas(c *fiber.Ctx) error {
	var req UpdateCanvasRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	snap, err := h.snapshots.Append(c.UserContext(), c.Params("roomId"), req.SaveData, auth.UserIDFromContext(c))
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"snapshotId": snap.ID,
	})
}

// GetHistory 스냅샷 메타데이터 목록 (?limit=)
func (h *CanvasHandler) GetHistory(c *fiber.Ctx) error {
	metas, err := h.snapshots.History(c.UserContext(), c.Params("roomId"), auth.UserIDFromContext(c), c.QueryInt("limit", 0))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"snapshots": metas,
	})
}
