package model

import (
	"time"
)

// Room 화이트보드 방
type Room struct {
	ID         string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name       string     `gorm:"type:varchar(100);not null" json:"name"`
	OwnerID    string     `gorm:"type:varchar(255);not null;index" json:"owner_id"`
	CreatedAt  time.Time  `gorm:"not null" json:"created_at"`
	DeletingAt *time.Time `json:"deleting_at,omitempty"` // 삭제 진행 중 표시 (신규 쓰기 차단)

	// Relations
	Members []RoomMember `gorm:"foreignKey:RoomID" json:"members,omitempty"`
}

func (Room) TableName() string {
	return "rooms"
}

// IsDeleting 삭제가 시작된 방인지 여부
func (r *Room) IsDeleting() bool {
	return r.DeletingAt != nil
}

// RoomMember 방 멤버 (room_id, user_id 복합 키 = 멤버 집합)
type RoomMember struct {
	RoomID   string    `gorm:"primaryKey;type:varchar(36)" json:"room_id"`
	UserID   string    `gorm:"primaryKey;type:varchar(255);index:idx_room_members_user" json:"user_id"`
	Position int64     `gorm:"not null;default:0" json:"position"` // 가입 순서
	JoinedAt time.Time `gorm:"not null" json:"joined_at"`
}

func (RoomMember) TableName() string {
	return "room_members"
}

// MemberOrder 멤버 정렬 기준. position이 같으면 가입 시각, 사용자 ID 순.
const MemberOrder = "position ASC, joined_at ASC, user_id ASC"

// MemberIDs 가입 순서대로 정렬된 멤버 ID 목록
func (r *Room) MemberIDs() []string {
	ids := make([]string, 0, len(r.Members))
	for _, m := range r.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

// HasMember 멤버 여부 확인
func (r *Room) HasMember(userID string) bool {
	for _, m := range r.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}
