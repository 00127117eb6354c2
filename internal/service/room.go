package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"whiteboard-backend/internal/apperr"
	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/live"
	"whiteboard-backend/internal/model"
)

// MaxRoomNameLength 방 이름 최대 길이 (문자 수)
const MaxRoomNameLength = 100

// RoomService 방 생성/초대/목록/삭제
type RoomService struct {
	db *gorm.DB
	options
}

// NewRoomService RoomService 생성
func NewRoomService(db *gorm.DB, opts ...Option) *RoomService {
	return &RoomService{db: db, options: newOptions(opts)}
}

// RoomSummary 방 목록 항목
type RoomSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	OwnerID     string    `json:"ownerId"`
	IsOwner     bool      `json:"isOwner"`
	MemberCount int       `json:"memberCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RoomDetail 방 상세
type RoomDetail struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"createdAt"`
}

func validRoomID(roomID string) bool {
	_, err := uuid.Parse(roomID)
	return err == nil
}

// CreateRoom 방 생성. 소유자는 같은 트랜잭션에서 첫 멤버로 추가된다.
func (s *RoomService) CreateRoom(ctx context.Context, name, owner string) (string, error) {
	if owner == "" {
		return "", apperr.ErrUnauthenticated
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("room name is required: %w", apperr.ErrInvalidInput)
	}
	if utf8.RuneCountInString(name) > MaxRoomNameLength {
		return "", fmt.Errorf("room name longer than %d characters: %w", MaxRoomNameLength, apperr.ErrInvalidInput)
	}

	now := s.now()
	room := model.Room{
		ID:        uuid.NewString(),
		Name:      name,
		OwnerID:   owner,
		CreatedAt: now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&room).Error; err != nil {
			return err
		}

		ownerMember := model.RoomMember{
			RoomID:   room.ID,
			UserID:   owner,
			Position: 0,
			JoinedAt: now,
		}
		return tx.Create(&ownerMember).Error
	})
	if err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}

	log.Printf("[RoomService] Room %s created by %s", room.ID, owner)
	return room.ID, nil
}

// InviteMember 방에 멤버 추가. 같은 요청을 반복해도 결과는 같다.
// 방이 없거나 삭제 중이면 JoinResultRoomNotFound와 ErrNotFound를 함께 반환한다.
func (s *RoomService) InviteMember(ctx context.Context, roomID, target string) (model.JoinResult, error) {
	if target == "" {
		return "", fmt.Errorf("target identity is required: %w", apperr.ErrInvalidInput)
	}
	if !validRoomID(roomID) {
		return "", fmt.Errorf("malformed room id: %w", apperr.ErrInvalidInput)
	}

	var result model.JoinResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 같은 방의 초대끼리는 배타 잠금으로 직렬화해 position이 겹치지 않게 한다
		var room model.Room
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "deleting_at").
			Where("id = ?", roomID).
			Take(&room).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			result = model.JoinResultRoomNotFound
			return nil
		}
		if err != nil {
			return err
		}
		if room.IsDeleting() {
			result = model.JoinResultRoomNotFound
			return nil
		}

		var maxPosition int64
		if err := tx.Model(&model.RoomMember{}).
			Where("room_id = ?", roomID).
			Select("COALESCE(MAX(position), -1)").
			Row().Scan(&maxPosition); err != nil {
			return err
		}

		member := model.RoomMember{
			RoomID:   roomID,
			UserID:   target,
			Position: maxPosition + 1,
			JoinedAt: s.now(),
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&member)
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 0 {
			result = model.JoinResultAlreadyMember
		} else {
			result = model.JoinResultJoined
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("invite member: %w", err)
	}

	if result == model.JoinResultRoomNotFound {
		return result, fmt.Errorf("room %s: %w", roomID, apperr.ErrNotFound)
	}
	if result == model.JoinResultJoined {
		log.Printf("[RoomService] %s joined room %s", target, roomID)
	}
	return result, nil
}

// ListRoomsForUser 사용자가 속한 방 목록 (최신순). 식별자가 없으면 빈 목록.
func (s *RoomService) ListRoomsForUser(ctx context.Context, identity string) ([]RoomSummary, error) {
	summaries := make([]RoomSummary, 0)
	if identity == "" {
		return summaries, nil
	}

	var rooms []model.Room
	err := s.db.WithContext(ctx).
		Joins("JOIN room_members ON room_members.room_id = rooms.id").
		Where("room_members.user_id = ? AND rooms.deleting_at IS NULL", identity).
		Order("rooms.created_at DESC").
		Order("rooms.id ASC").
		Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	if len(rooms) == 0 {
		return summaries, nil
	}

	roomIDs := make([]string, len(rooms))
	for i, r := range rooms {
		roomIDs[i] = r.ID
	}

	var counts []struct {
		RoomID string
		Total  int
	}
	if err := s.db.WithContext(ctx).
		Model(&model.RoomMember{}).
		Select("room_id, COUNT(*) AS total").
		Where("room_id IN ?", roomIDs).
		Group("room_id").
		Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("count members: %w", err)
	}

	countByRoom := make(map[string]int, len(counts))
	for _, c := range counts {
		countByRoom[c.RoomID] = c.Total
	}

	for _, r := range rooms {
		summaries = append(summaries, RoomSummary{
			ID:          r.ID,
			Name:        r.Name,
			OwnerID:     r.OwnerID,
			IsOwner:     r.OwnerID == identity,
			MemberCount: countByRoom[r.ID],
			CreatedAt:   r.CreatedAt,
		})
	}
	return summaries, nil
}

// GetRoom 방 상세 (멤버만 조회 가능)
func (s *RoomService) GetRoom(ctx context.Context, roomID, identity string) (*RoomDetail, error) {
	if err := auth.Authorize(ctx, s.db, roomID, identity); err != nil {
		return nil, err
	}

	var room model.Room
	err := s.db.WithContext(ctx).
		Preload("Members", func(db *gorm.DB) *gorm.DB {
			return db.Order(model.MemberOrder)
		}).
		Where("id = ?", roomID).
		Take(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrNotAuthorized
	}
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}
	if room.IsDeleting() {
		return nil, fmt.Errorf("room %s is being deleted: %w", roomID, apperr.ErrNotFound)
	}

	// Authorize 이후 멤버가 빠졌을 수 있으므로 로드한 값으로 다시 확인
	if !auth.CanAccess(identity, &room) {
		return nil, apperr.ErrNotAuthorized
	}

	return &RoomDetail{
		ID:        room.ID,
		Name:      room.Name,
		OwnerID:   room.OwnerID,
		Members:   room.MemberIDs(),
		CreatedAt: room.CreatedAt,
	}, nil
}

// DeleteRoom 소유자만 삭제 가능
// 1) deleting_at 설정으로 새 쓰기 차단 2) 스냅샷, 멤버, 방 순서로 삭제
func (s *RoomService) DeleteRoom(ctx context.Context, roomID, requester string) error {
	if requester == "" {
		return apperr.ErrUnauthenticated
	}
	if !validRoomID(roomID) {
		return fmt.Errorf("malformed room id: %w", apperr.ErrInvalidInput)
	}

	var room model.Room
	err := s.db.WithContext(ctx).Where("id = ?", roomID).Take(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("room %s: %w", roomID, apperr.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load room: %w", err)
	}
	if room.OwnerID != requester {
		return apperr.ErrNotAuthorized
	}

	// 진행 중인 Append가 공유 잠금을 놓을 때까지 여기서 대기한다
	if err := s.db.WithContext(ctx).
		Model(&model.Room{}).
		Where("id = ? AND deleting_at IS NULL", roomID).
		Update("deleting_at", s.now()).Error; err != nil {
		return fmt.Errorf("fence room: %w", err)
	}

	var removed int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("room_id = ?", roomID).Delete(&model.CanvasSnapshot{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected

		if err := tx.Where("room_id = ?", roomID).Delete(&model.RoomMember{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", roomID).Delete(&model.Room{}).Error
	})
	if err != nil {
		// 차단 상태는 유지되므로 재시도하면 이어서 삭제된다
		return fmt.Errorf("delete room: %w", err)
	}

	s.invalidate(ctx, roomID)
	s.publish(ctx, live.Event{Type: model.EventRoomDeleted, RoomID: roomID})

	log.Printf("[RoomService] Room %s deleted by %s (%d snapshots removed)", roomID, requester, removed)
	return nil
}
