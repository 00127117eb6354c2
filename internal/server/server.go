package server

import (
	"context"
	"log"
	"net"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	fiberredis "github.com/gofiber/storage/redis/v3"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/cache"
	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/handler"
	"whiteboard-backend/internal/live"
	"whiteboard-backend/internal/middleware"
	"whiteboard-backend/internal/service"
)

// Server Fiber 서버 래퍼
type Server struct {
	app        *fiber.App
	cfg        *config.Config
	db         *gorm.DB
	redis      *cache.RedisClient
	hub        *live.Hub
	relay      *live.RedisRelay
	jwtManager *auth.JWTManager

	// 인스턴스 간 공유 rate limit 저장소 (Redis 사용 시)
	limiterStorage fiber.Storage
	writeLimiter   *middleware.WriteLimiter

	roomHandler     *handler.RoomHandler
	canvasHandler   *handler.CanvasHandler
	canvasWSHandler *handler.CanvasWSHandler
	healthHandler   *handler.HealthHandler
	roomMiddleware  *middleware.RoomMiddleware
}

// New 새 서버 인스턴스 생성 (redisClient가 nil이면 단일 인스턴스 모드)
func New(cfg *config.Config, db *gorm.DB, redisClient *cache.RedisClient) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "Whiteboard API",
		ServerHeader:          "Fiber",
		StrictRouting:         true,
		CaseSensitive:         true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		Prefork:               false, // WebSocket과 호환성 문제로 비활성화
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,
		BodyLimit:             cfg.Server.BodyLimit,
		DisableStartupMessage: true,
	})

	jwtManager := auth.NewJWTManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.Issuer,
	)

	// 라이브 이벤트: Redis가 있으면 릴레이를 거쳐 모든 인스턴스의 Hub로 전달
	hub := live.NewHub()
	var publisher live.Publisher = hub
	var relay *live.RedisRelay
	opts := []service.Option{}
	var pinger handler.RedisPinger
	var limiterStorage fiber.Storage
	if redisClient != nil {
		relay = live.NewRedisRelay(redisClient.Client(), hub)
		publisher = relay
		opts = append(opts, service.WithCache(redisClient))
		pinger = redisClient

		// fiberredis.New는 연결 실패 시 panic하므로 Ping이 끝난 뒤에만 생성
		host, port := cfg.Redis.HostPort()
		limiterStorage = fiberredis.New(fiberredis.Config{
			Host:     host,
			Port:     port,
			Password: cfg.Redis.Password,
			Database: cfg.Redis.DB,
			PoolSize: 10,
		})
		log.Printf("✅ Redis cache and live relay enabled")
	} else {
		log.Println("ℹ️ Redis not configured (single instance mode)")
	}
	opts = append(opts, service.WithPublisher(publisher))

	roomService := service.NewRoomService(db, opts...)
	snapshotService := service.NewSnapshotService(db, cfg.Canvas, opts...)
	memberService := service.NewMemberService(db)

	// REST 저장과 WebSocket update가 같은 사용자별 한도를 쓴다
	writeLimiter := middleware.NewWriteLimiter(cfg.Canvas.WriteRateLimit, cfg.Canvas.WriteRateWindow, limiterStorage)

	canvasWSHandler := handler.NewCanvasWSHandler(
		snapshotService,
		hub,
		writeLimiter,
		cfg.WebSocket.WriteTimeout,
		cfg.WebSocket.PingInterval,
	)

	return &Server{
		app:             app,
		cfg:             cfg,
		db:              db,
		redis:           redisClient,
		hub:             hub,
		relay:           relay,
		jwtManager:      jwtManager,
		limiterStorage:  limiterStorage,
		writeLimiter:    writeLimiter,
		roomHandler:     handler.NewRoomHandler(roomService),
		canvasHandler:   handler.NewCanvasHandler(snapshotService),
		canvasWSHandler: canvasWSHandler,
		healthHandler:   handler.NewHealthHandler(db, pinger, canvasWSHandler),
		roomMiddleware:  middleware.NewRoomMiddleware(memberService),
	}
}

// App 내부 Fiber 앱 (테스트용)
func (s *Server) App() *fiber.App {
	return s.app
}

// Hub 로컬 라이브 이벤트 허브
func (s *Server) Hub() *live.Hub {
	return s.hub
}

// SetupMiddleware 미들웨어 설정
func (s *Server) SetupMiddleware() {
	// 패닉 복구
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: s.cfg.Server.StackTrace,
	}))

	// 로깅
	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	// CORS
	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORS.AllowOrigins,
		AllowHeaders:     s.cfg.CORS.AllowHeaders,
		AllowMethods:     "GET, POST, DELETE, OPTIONS",
		AllowCredentials: s.cfg.CORS.AllowOrigins != "*",
	}))
}

// SetupRoutes 라우트 설정
func (s *Server) SetupRoutes() {
	// 헬스체크 엔드포인트
	s.app.Get("/health", s.healthHandler.Check)
	s.app.Get("/health/live", s.healthHandler.Liveness)
	s.app.Get("/health/ready", s.healthHandler.Readiness)

	// Room 라우트 그룹 (인증 필요)
	rooms := s.app.Group("/api/rooms", auth.AuthMiddleware(s.jwtManager))
	rooms.Post("", s.roomHandler.CreateRoom)
	rooms.Get("", s.roomHandler.ListRooms)

	room := rooms.Group("/:roomId", middleware.ValidRoomID())
	room.Get("", s.roomHandler.GetRoom)
	room.Delete("", s.roomHandler.DeleteRoom)
	room.Post("/members", s.roomHandler.InviteMember)

	// Canvas 라우트 (방 하위)
	room.Get("/canvas", s.canvasHandler.GetCanvas)
	room.Post("/canvas", s.writeLimiter.Handler(), s.canvasHandler.UpdateCanvas)
	room.Get("/canvas/history", s.canvasHandler.GetHistory)

	// WebSocket 업그레이드 체크 미들웨어
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// WebSocket 캔버스 구독 (멤버만)
	s.app.Get("/ws/rooms/:roomId/canvas",
		auth.WebSocketAuthMiddleware(s.jwtManager),
		middleware.ValidRoomID(),
		s.roomMiddleware.RequireMembership(),
		websocket.New(s.canvasWSHandler.HandleWebSocket, websocket.Config{
			ReadBufferSize:  s.cfg.WebSocket.ReadBufferSize,
			WriteBufferSize: s.cfg.WebSocket.WriteBufferSize,
		}),
	)
}

// Serve 주어진 리스너로 서버 실행. ctx가 끝나면 Graceful Shutdown.
// 릴레이가 있으면 구독이 확정된 뒤에 요청을 받는다.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if s.relay != nil {
		ready := make(chan struct{})
		g.Go(func() error {
			return s.relay.Run(gctx, ready)
		})
		select {
		case <-ready:
		case <-gctx.Done():
			_ = ln.Close()
			return g.Wait()
		}
	}

	g.Go(func() error {
		// Shutdown()으로 먼저 멈춘 경우에도 릴레이가 함께 종료되도록
		defer cancel()
		return s.app.Listener(ln)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("🛑 Shutting down server...")
		if err := s.app.ShutdownWithTimeout(s.cfg.Server.ShutdownTimeout); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		if s.limiterStorage != nil {
			if err := s.limiterStorage.Close(); err != nil {
				log.Printf("Limiter storage close error: %v", err)
			}
		}
		return nil
	})

	return g.Wait()
}

// ListenAndServe 설정된 포트로 서버 실행 (ctx가 끝나면 Graceful Shutdown)
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Port)
	if err != nil {
		return err
	}

	log.Printf("🚀 Whiteboard API starting on %s", s.cfg.Server.Port)
	log.Printf("📡 WebSocket endpoint: ws://localhost%s/ws/rooms/:roomId/canvas", s.cfg.Server.Port)

	return s.Serve(ctx, ln)
}
