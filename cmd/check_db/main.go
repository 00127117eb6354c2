package main

import (
	"fmt"
	"log"

	"github.com/joho/godotenv"
	"gorm.io/gorm"

	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/database"
	"whiteboard-backend/internal/model"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("ℹ️ No .env file found, using environment variables")
	}
	cfg := config.FromEnv()

	// 마이그레이션 없이 읽기 전용으로 연결
	dialector, err := database.Dialector(cfg.Database)
	if err != nil {
		log.Fatal("Invalid database config:", err)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	fmt.Printf("✅ Connected to database (%s)\n", cfg.Database.Driver)
	fmt.Println()

	m := db.Migrator()
	tables := []struct {
		name  string
		model any
	}{
		{"rooms", &model.Room{}},
		{"room_members", &model.RoomMember{}},
		{"canvas", &model.CanvasSnapshot{}},
	}

	fmt.Println("📋 Tables:")
	missing := false
	for _, tbl := range tables {
		if !m.HasTable(tbl.model) {
			fmt.Printf("  - %s: MISSING\n", tbl.name)
			missing = true
			continue
		}
		var count int64
		if err := db.Model(tbl.model).Count(&count).Error; err != nil {
			log.Fatalf("Failed to count %s: %v", tbl.name, err)
		}
		fmt.Printf("  - %s: %d rows\n", tbl.name, count)
	}
	fmt.Println()

	if missing {
		fmt.Println("⚠️  Start the server once to run migrations")
		return
	}

	fmt.Println("🔎 Indexes:")
	fmt.Printf("  - idx_canvas_room_latest: %v\n", m.HasIndex(&model.CanvasSnapshot{}, "idx_canvas_room_latest"))
	fmt.Printf("  - idx_room_members_user: %v\n", m.HasIndex(&model.RoomMember{}, "idx_room_members_user"))
	fmt.Println()

	// 삭제가 중단된 방 (DELETE를 다시 호출하면 정리된다)
	var deleting []model.Room
	if err := db.Where("deleting_at IS NOT NULL").Find(&deleting).Error; err != nil {
		log.Fatal("Failed to query deleting rooms:", err)
	}
	fmt.Printf("🗑  Rooms with interrupted deletion: %d\n", len(deleting))
	for _, r := range deleting {
		fmt.Printf("  - %s (%s) owner=%s since %s\n", r.ID, r.Name, r.OwnerID, r.DeletingAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Println()

	// 소유자가 멤버가 아닌 방
	var orphaned []model.Room
	err = db.Where("NOT EXISTS (SELECT 1 FROM room_members WHERE room_members.room_id = rooms.id AND room_members.user_id = rooms.owner_id)").
		Find(&orphaned).Error
	if err != nil {
		log.Fatal("Failed to query owner membership:", err)
	}
	fmt.Printf("👤 Rooms whose owner is not a member: %d\n", len(orphaned))
	for _, r := range orphaned {
		fmt.Printf("  - %s (%s) owner=%s\n", r.ID, r.Name, r.OwnerID)
	}
	if len(orphaned) > 0 {
		fmt.Println("⚠️  Run fix_room_owners to repair")
	}
	fmt.Println()

	// 스냅샷이 많은 방
	type roomUsage struct {
		RoomID string
		Total  int64
		Bytes  int64
	}
	var usage []roomUsage
	err = db.Model(&model.CanvasSnapshot{}).
		Select("room_id, COUNT(*) AS total, SUM(LENGTH(save_data)) AS bytes").
		Group("room_id").
		Order("total DESC").
		Limit(10).
		Scan(&usage).Error
	if err != nil {
		log.Fatal("Failed to get snapshot usage:", err)
	}

	fmt.Println("📈 Snapshot usage (top 10 rooms):")
	for _, u := range usage {
		fmt.Printf("  - %s: %d snapshots, %d bytes\n", u.RoomID, u.Total, u.Bytes)
	}
}
