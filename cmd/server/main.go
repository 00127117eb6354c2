package main

import (
	"context"
	"log"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	"whiteboard-backend/internal/cache"
	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/database"
	"whiteboard-backend/internal/server"
)

func main() {
	// 설정 로드
	cfg := config.Load()

	// 데이터베이스 연결 (AutoMigrate 포함)
	db, err := database.ConnectDB(cfg.Database)
	if err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}

	// Ping 테스트
	if err := database.Ping(); err != nil {
		log.Fatalf("❌ Database ping failed: %v", err)
	}
	log.Printf("✅ Database connected successfully (%s)", cfg.Database.Driver)

	// Redis 연결 (선택적, 실패하면 단일 인스턴스 모드)
	var redisClient *cache.RedisClient
	if cfg.Redis.Enabled() {
		redisClient, err = cache.NewRedisClient(cfg.Redis)
		if err != nil {
			log.Printf("⚠️ Redis connection failed: %v (cache and relay disabled)", err)
			redisClient = nil
		}
	}

	// 서버 생성 및 설정
	srv := server.New(cfg, db, redisClient)
	srv.SetupMiddleware()
	srv.SetupRoutes()

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := srv.ListenAndServe(ctx); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// 서버 종료 후 Redis, DB 순서로 정리
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.Server.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"whiteboard-api": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				cancel()
				select {
				case <-served:
				case <-ctx.Done():
					return ctx.Err()
				}
				if redisClient != nil {
					if err := redisClient.Close(); err != nil {
						log.Printf("Redis close error: %v", err)
					}
				}
				return database.Close()
			},
		},
	)

	exitCode := <-wait
	log.Printf("Whiteboard API exited with code: %d", exitCode)
	os.Exit(exitCode)
}
