// Package main runs the assembly worker: it consumes process-session jobs
// from the video-processing queue, merges each participant's chunks into one
// final recording and publishes completion events.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/podrec/backend/config"
	"github.com/podrec/backend/internal/recordings"
	"github.com/podrec/backend/internal/sessions"
	"github.com/podrec/backend/internal/worker"
	"github.com/podrec/backend/pkg/database"
	"github.com/podrec/backend/pkg/events"
	"github.com/podrec/backend/pkg/queue"
	"github.com/podrec/backend/pkg/redis"
	"github.com/podrec/backend/pkg/storage"
)

// store combines the session and recording repositories into the assembler's
// persistence surface. Distinct aliases let both repositories be embedded
// despite sharing the type name Repository.
type (
	sessionsRepository   = sessions.Repository
	recordingsRepository = recordings.Repository
)

type store struct {
	*sessionsRepository
	*recordingsRepository
}

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

	jobQueue := queue.NewQueue(rdb.Client, logger)
	if n, err := jobQueue.Recover(ctx); err != nil {
		logger.Fatal("recover in-flight jobs", zap.Error(err))
	} else if n > 0 {
		logger.Info("requeued in-flight jobs from previous run", zap.Int("count", n))
	}
	bus := events.NewBus(rdb.Client, logger)
	st := store{sessions.NewRepository(pool), recordings.NewRepository(pool)}
	assembler := worker.NewAssembler(
		st,
		s3Client,
		jobQueue,
		bus,
		cfg.Worker.ScratchDir,
		time.Duration(cfg.AWS.CallTimeoutSec)*time.Second,
		logger,
	)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go assembler.Run(workerCtx)
	logger.Info("assembly worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("assembly worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
