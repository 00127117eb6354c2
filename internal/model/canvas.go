package model

import (
	"time"
)

// CanvasSnapshot 방 전체 캔버스의 불변 스냅샷
type CanvasSnapshot struct {
	ID        int64     `gorm:"primaryKey;autoIncrement;index:idx_canvas_room_latest,priority:3" json:"id"`
	RoomID    string    `gorm:"type:varchar(36);not null;index:idx_canvas_room_latest,priority:1" json:"room_id"`
	SaveData  string    `gorm:"type:text;not null" json:"save_data"`
	Author    string    `gorm:"type:varchar(255);not null" json:"author"`
	CreatedAt time.Time `gorm:"not null;index:idx_canvas_room_latest,priority:2" json:"created_at"`
}

func (CanvasSnapshot) TableName() string {
	return "canvas"
}

// SnapshotMeta 히스토리 조회용 스냅샷 메타데이터
type SnapshotMeta struct {
	ID        int64     `json:"id"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
	Size      int       `json:"size"`
}

// Meta 메타데이터 변환
func (s *CanvasSnapshot) Meta() SnapshotMeta {
	return SnapshotMeta{
		ID:        s.ID,
		Author:    s.Author,
		CreatedAt: s.CreatedAt,
		Size:      len(s.SaveData),
	}
}
