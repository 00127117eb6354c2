package auth

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"whiteboard-backend/internal/apperr"
	"whiteboard-backend/internal/model"
)

// CanAccess 방 접근 가능 여부 (식별자 존재 && 멤버)
func CanAccess(identity string, room *model.Room) bool {
	if identity == "" || room == nil {
		return false
	}
	return room.HasMember(identity)
}

// IsMember room_members 인덱스로 멤버 여부 확인
func IsMember(ctx context.Context, db *gorm.DB, roomID, identity string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&model.RoomMember{}).
		Where("room_id = ? AND user_id = ?", roomID, identity).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Authorize 읽기/쓰기 공통 접근 검사
// 방이 없어도 ErrNotAuthorized를 반환하여 존재 여부를 노출하지 않는다.
func Authorize(ctx context.Context, db *gorm.DB, roomID, identity string) error {
	if identity == "" {
		return apperr.ErrUnauthenticated
	}
	if roomID == "" {
		return fmt.Errorf("room id is required: %w", apperr.ErrInvalidInput)
	}

	ok, err := IsMember(ctx, db, roomID, identity)
	if err != nil {
		return fmt.Errorf("membership lookup failed: %w", err)
	}
	if !ok {
		return apperr.ErrNotAuthorized
	}
	return nil
}
