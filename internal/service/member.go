package service

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/model"
)

// MemberService 멤버십 조회 (미들웨어용)
type MemberService struct {
	db *gorm.DB
}

// NewMemberService MemberService 생성
func NewMemberService(db *gorm.DB) *MemberService {
	return &MemberService{db: db}
}

// IsRoomMember 방 멤버 여부 확인
func (s *MemberService) IsRoomMember(ctx context.Context, roomID, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	return auth.IsMember(ctx, s.db, roomID, userID)
}

// IsRoomOwner 방 소유자 여부 확인
func (s *MemberService) IsRoomOwner(ctx context.Context, roomID, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}

	var room model.Room
	err := s.db.WithContext(ctx).Select("id", "owner_id").Where("id = ?", roomID).Take(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return room.OwnerID == userID, nil
}

// MemberIDs 가입 순서대로 멤버 목록
func (s *MemberService) MemberIDs(ctx context.Context, roomID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&model.RoomMember{}).
		Where("room_id = ?", roomID).
		Order(model.MemberOrder).
		Pluck("user_id", &ids).Error
	return ids, err
}
