package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"whiteboard-backend/internal/apperr"
	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/canvas"
	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/live"
	"whiteboard-backend/internal/model"
)

// SnapshotService 방별 캔버스 스냅샷 저장소
// 스냅샷은 추가만 되며, 최신 = created_at 최대 (같으면 id 최대).
type SnapshotService struct {
	db  *gorm.DB
	cfg config.CanvasConfig
	options
}

// NewSnapshotService SnapshotService 생성
func NewSnapshotService(db *gorm.DB, cfg config.CanvasConfig, opts ...Option) *SnapshotService {
	return &SnapshotService{db: db, cfg: cfg, options: newOptions(opts)}
}

// GetLatest 최신 스냅샷. 한 번도 그려지지 않은 방이면 (nil, nil).
func (s *SnapshotService) GetLatest(ctx context.Context, roomID, identity string) (*model.CanvasSnapshot, error) {
	if err := auth.Authorize(ctx, s.db, roomID, identity); err != nil {
		return nil, err
	}

	if s.cache != nil {
		cached, err := s.cache.GetLatest(ctx, roomID)
		if err != nil {
			log.Printf("[Cache] Lookup failed for room %s: %v", roomID, err)
		} else if cached != nil {
			return cached, nil
		}
	}

	snap, err := s.latest(ctx, s.db, roomID)
	if err != nil || snap == nil {
		return snap, err
	}

	if s.cache != nil {
		if _, err := s.cache.StoreLatest(ctx, snap); err != nil {
			log.Printf("[Cache] Store failed for room %s: %v", roomID, err)
		}
	}
	return snap, nil
}

// latest (room_id, created_at, id) 인덱스 탐색
func (s *SnapshotService) latest(ctx context.Context, db *gorm.DB, roomID string) (*model.CanvasSnapshot, error) {
	var snap model.CanvasSnapshot
	err := db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC").
		Order("id DESC").
		Take(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return &snap, nil
}

// Append 새 스냅샷 추가. 비교-교체 없이 항상 삽입한다.
// 방 행에 공유 잠금을 잡아 삭제(deleting_at 설정)와 순서가 정해지게 한다.
func (s *SnapshotService) Append(ctx context.Context, roomID, blob, author string) (*model.CanvasSnapshot, error) {
	if author == "" {
		return nil, apperr.ErrUnauthenticated
	}
	if roomID == "" {
		return nil, fmt.Errorf("room id is required: %w", apperr.ErrInvalidInput)
	}

	var snap model.CanvasSnapshot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room model.Room
		err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
			Select("id", "deleting_at").
			Where("id = ?", roomID).
			Take(&room).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.ErrNotAuthorized
		}
		if err != nil {
			return err
		}

		if err := auth.Authorize(ctx, tx, roomID, author); err != nil {
			return err
		}
		if room.IsDeleting() {
			return fmt.Errorf("room %s is being deleted: %w", roomID, apperr.ErrNotFound)
		}

		if err := s.validate(blob); err != nil {
			return err
		}

		snap = model.CanvasSnapshot{
			RoomID:    roomID,
			SaveData:  blob,
			Author:    author,
			CreatedAt: s.now(),
		}
		return tx.Create(&snap).Error
	})
	if err != nil {
		return nil, err
	}

	s.storeLatest(ctx, &snap)
	s.publish(ctx, live.Event{Type: model.EventCanvasUpdated, RoomID: roomID, SnapshotID: snap.ID})
	return &snap, nil
}

func (s *SnapshotService) validate(blob string) error {
	if s.cfg.MaxSnapshotBytes > 0 && len(blob) > s.cfg.MaxSnapshotBytes {
		return fmt.Errorf("snapshot is %d bytes, limit %d: %w", len(blob), s.cfg.MaxSnapshotBytes, apperr.ErrInvalidInput)
	}
	if err := canvas.Validate(blob); err != nil {
		return fmt.Errorf("%v: %w", err, apperr.ErrInvalidInput)
	}
	return nil
}

// History 최신순 스냅샷 메타데이터 (내용 제외)
func (s *SnapshotService) History(ctx context.Context, roomID, identity string, limit int) ([]model.SnapshotMeta, error) {
	if err := auth.Authorize(ctx, s.db, roomID, identity); err != nil {
		return nil, err
	}

	if limit <= 0 || (s.cfg.HistoryLimit > 0 && limit > s.cfg.HistoryLimit) {
		limit = s.cfg.HistoryLimit
	}
	if limit <= 0 {
		limit = 50
	}

	metas := make([]model.SnapshotMeta, 0)
	err := s.db.WithContext(ctx).
		Model(&model.CanvasSnapshot{}).
		Select("id, author, created_at, LENGTH(save_data) AS size").
		Where("room_id = ?", roomID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Scan(&metas).Error
	if err != nil {
		return nil, fmt.Errorf("snapshot history: %w", err)
	}
	return metas, nil
}
