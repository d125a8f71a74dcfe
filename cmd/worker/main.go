// Package main runs the standalone cascade worker. Deployments that want
// deletion traffic off the API instances run this next to cmd/server;
// both consume the same queue, so running both is safe.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pollstream/backend/config"
	"github.com/pollstream/backend/internal/cascade"
	"github.com/pollstream/backend/internal/participants"
	"github.com/pollstream/backend/internal/questions"
	"github.com/pollstream/backend/internal/responses"
	"github.com/pollstream/backend/internal/sessions"
	"github.com/pollstream/backend/pkg/database"
	"github.com/pollstream/backend/pkg/queue"
	"github.com/pollstream/backend/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := cascade.NewProcessor(cascade.Stores{
		Responses:    responses.NewRepository(pool),
		Participants: participants.NewRepository(pool),
		Questions:    questions.NewRepository(pool),
		Sessions:     sessions.NewRepository(pool),
	}, cfg.Cascade.BatchSize, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx, jobQueue)
	logger.Info("cascade worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
