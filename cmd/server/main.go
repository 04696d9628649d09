package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"classroom/internal/config"
	"classroom/internal/handler"
	"classroom/internal/messaging"
	"classroom/internal/middleware"
	"classroom/internal/repository"
	"classroom/internal/repository/memory"
	"classroom/internal/service"
	"classroom/pkg/jwt"
	"classroom/pkg/logger"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	appLogger := logger.New(cfg.Log.Level)

	rdb := connectRedis(cfg, appLogger)
	if rdb != nil {
		defer rdb.Close()
	}

	// Инициализация репозиториев
	var repos *repository.Repositories
	switch cfg.Database.Driver {
	case "memory":
		appLogger.Warn("Using in-memory storage, data is lost on restart")
		repos = memory.NewRepositories(memory.NewStore())
		if rdb != nil {
			repos.WebhookDedup = repository.NewWebhookDedupRepository(rdb, appLogger)
			repos.RateLimit = repository.NewRateLimitRepository(rdb, appLogger)
		}
	default:
		dbPool := connectPostgres(cfg, appLogger)
		defer dbPool.Close()
		repos = repository.NewRepositories(dbPool, rdb, appLogger)
	}

	// NATS необязателен: без него итоги доступны только через HTTP
	publisher := messaging.NewNoopPublisher()
	if cfg.NATS.URL != "" {
		nc, err := messaging.Connect(cfg.NATS.URL, appLogger)
		if err != nil {
			appLogger.Fatal("Failed to connect to NATS", "error", err)
		}
		defer nc.Drain()
		publisher = messaging.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix, appLogger)
		appLogger.Info("NATS connection established", "subject_prefix", cfg.NATS.SubjectPrefix)
	}

	// Инициализация сервисов
	services := service.NewServices(repos, publisher, cfg, appLogger)

	// Инициализация middleware
	tokens := jwt.NewManager(cfg.JWT.AccessSecret, cfg.JWT.Issuer, cfg.JWT.AccessTTL)
	authMiddleware := middleware.NewAuthMiddleware(tokens, appLogger)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(services.RateLimit, appLogger)

	// Инициализация handlers
	handlers := handler.NewHandlers(services, cfg, appLogger)

	// Настройка роутера
	router := setupRouter(handlers, authMiddleware, rateLimitMiddleware, cfg, appLogger)

	// Запуск HTTP сервера
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		appLogger.Info("Starting server", "addr", srv.Addr, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Ожидание сигнала для graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", "error", err)
		return
	}

	appLogger.Info("Server exited")
}

func connectPostgres(cfg *config.Config, appLogger logger.Logger) *pgxpool.Pool {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN)
	if err != nil {
		appLogger.Fatal("Invalid database DSN", "error", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConnections)
	poolCfg.MaxConnIdleTime = cfg.Database.MaxIdleTime
	poolCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime

	dbPool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		appLogger.Fatal("Failed to connect to database", "error", err)
	}

	// Проверка подключения к БД
	if err := dbPool.Ping(context.Background()); err != nil {
		appLogger.Fatal("Failed to ping database", "error", err)
	}
	appLogger.Info("Database connection established")

	if err := repository.EnsureSchema(context.Background(), dbPool); err != nil {
		appLogger.Fatal("Failed to apply schema", "error", err)
	}
	return dbPool
}

// connectRedis возвращает nil, если Redis не настроен. В режиме memory недоступный
// Redis не мешает запуску.
func connectRedis(cfg *config.Config, appLogger logger.Logger) *redis.Client {
	if cfg.Redis.Addr == "" {
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Проверка подключения к Redis
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		if cfg.Database.Driver == "memory" {
			appLogger.Warn("Redis is unavailable, continuing without it", "error", err)
			_ = rdb.Close()
			return nil
		}
		appLogger.Fatal("Failed to connect to Redis", "error", err)
	}
	appLogger.Info("Redis connection established")
	return rdb
}

func setupRouter(
	handlers *handler.Handlers,
	authMiddleware *middleware.AuthMiddleware,
	rateLimitMiddleware *middleware.RateLimitMiddleware,
	cfg *config.Config,
	log logger.Logger,
) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.ErrorHandler(log))

	// Health check
	router.GET("/health", handlers.Health.Check)
	router.GET("/server-info", handlers.Health.ServerInfo)

	// Вебхуки LiveKit: аутентификация по подписи тела
	router.POST("/webhooks/livekit", handlers.Webhook.Receive)

	v1 := router.Group("/api/v1")
	{
		// Выдача токенов LiveKit: ограничена по IP, нужен JWT; чужие identity и роли - только оператору
		credentials := v1.Group("/rooms/:id/credentials")
		credentials.Use(rateLimitMiddleware.Limit("credentials"), authMiddleware.RequireAuth())
		{
			credentials.POST("", handlers.Credential.Issue)
			credentials.POST("/probe", handlers.Credential.Probe)
		}

		protected := v1.Group("")
		protected.Use(authMiddleware.RequireAuth())
		{
			protected.GET("/rooms/:id", handlers.Room.GetByID)
			protected.GET("/rooms/:id/attendance", handlers.Attendance.GetRoomAttendance)
			protected.GET("/participants/:identity/attendance", handlers.Attendance.GetParticipantAttendance)

			// Действия оператора
			operator := protected.Group("")
			operator.Use(authMiddleware.RequireOperator())
			{
				operator.POST("/rooms", handlers.Room.Schedule)
				operator.POST("/rooms/:id/live", handlers.Room.GoLive)
				operator.POST("/rooms/:id/attendance/close", handlers.Attendance.Close)
				operator.POST("/rooms/:id/attendance/rebuild", handlers.Attendance.Rebuild)
				operator.GET("/rooms/:id/monitor", handlers.Monitor.Watch)
			}
		}
	}

	return router
}
