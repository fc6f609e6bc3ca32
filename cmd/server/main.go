// Package main runs the podrec API server: session/participant registry,
// chunk ingestion, WebSocket signaling relay and the event-bridge subscriber
// that forwards completion notices to connected rooms.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/podrec/backend/config"
	"github.com/podrec/backend/internal/auth"
	"github.com/podrec/backend/internal/middleware"
	"github.com/podrec/backend/internal/recordings"
	"github.com/podrec/backend/internal/sessions"
	"github.com/podrec/backend/internal/signaling"
	"github.com/podrec/backend/pkg/database"
	"github.com/podrec/backend/pkg/events"
	"github.com/podrec/backend/pkg/queue"
	"github.com/podrec/backend/pkg/redis"
	"github.com/podrec/backend/pkg/response"
	"github.com/podrec/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		RecordingsBucket:     cfg.AWS.RecordingsBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	bus := events.NewBus(rdb.Client, logger)
	hub := signaling.NewHub(logger)

	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	sessionRepo := sessions.NewRepository(pool)
	sessionHandler := sessions.NewHandler(sessionRepo, jobQueue, logger)

	recordingRepo := recordings.NewRepository(pool)
	recordingHandler := recordings.NewHandler(recordingRepo, s3Client, logger)

	// Event bridge: forward completion notices to every connection in the
	// session's room. Best-effort; an empty room drops the notice.
	cancelSub, err := bus.Subscribe(ctx, func(env events.Envelope) {
		if env.Event != events.EventRecordingCompleted {
			return
		}
		hub.BroadcastToRoom(env.SessionID, signaling.Notice(env.Event, gin.H{
			"sessionId":     env.SessionID,
			"participantId": env.ParticipantID,
		}))
	})
	if err != nil {
		logger.Fatal("event bridge subscribe", zap.Error(err))
	}
	defer cancelSub()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	api := router.Group("/api")
	{
		api.POST("/auth/register", authHandler.Register)
		api.POST("/auth/login", authHandler.Login)

		// Anyone with the link can inspect or join a session; host actions need a JWT.
		api.GET("/sessions/:id", sessionHandler.GetByID)
		api.POST("/sessions/:id/join", sessionHandler.Join)
		api.POST("/sessions/:id/chunks", recordingHandler.UploadChunk)
		api.GET("/sessions/:id/recordings", recordingHandler.ListBySession)

		protected := api.Group("")
		protected.Use(middleware.JWT(jwtService))
		{
			protected.POST("/sessions", sessionHandler.Create)
			protected.PUT("/sessions/:id", sessionHandler.Update)
			protected.DELETE("/sessions/:id", sessionHandler.End)
		}
	}

	router.GET("/ws", signaling.ServeWs(hub, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
