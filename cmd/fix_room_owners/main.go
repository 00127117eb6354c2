package main

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/database"
	"whiteboard-backend/internal/model"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	cfg := config.FromEnv()

	// Connect to database
	db, err := database.ConnectDB(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	log.Println("Database connected. Restoring room owner memberships...")

	fixed := 0
	err = db.Transaction(func(tx *gorm.DB) error {
		// 1. 소유자가 멤버 목록에 없는 방 조회
		var rooms []model.Room
		if err := tx.Where("deleting_at IS NULL").
			Where("NOT EXISTS (SELECT 1 FROM room_members WHERE room_members.room_id = rooms.id AND room_members.user_id = rooms.owner_id)").
			Find(&rooms).Error; err != nil {
			return err
		}

		log.Printf("Found %d rooms whose owner is not a member.\n", len(rooms))

		for _, room := range rooms {
			// 2. 소유자를 가장 앞 순서로 추가
			var first int64
			if err := tx.Model(&model.RoomMember{}).
				Select("COALESCE(MIN(position), 0)").
				Where("room_id = ?", room.ID).
				Row().Scan(&first); err != nil {
				return err
			}

			log.Printf("Adding owner %s to room %s (%s)\n", room.OwnerID, room.ID, room.Name)
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.RoomMember{
				RoomID:   room.ID,
				UserID:   room.OwnerID,
				Position: first - 1,
				JoinedAt: time.Now().UTC(),
			})
			if res.Error != nil {
				return res.Error
			}
			fixed += int(res.RowsAffected)
		}

		return nil
	})

	if err != nil {
		log.Fatalf("Failed to fix room owners: %v", err)
	}

	log.Printf("Room owner memberships restored: %d rows added.", fixed)
}
