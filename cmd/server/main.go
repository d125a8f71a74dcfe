// Package main runs the live-polling lifecycle HTTP server with graceful shutdown.
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

	"github.com/pollstream/backend/config"
	"github.com/pollstream/backend/internal/cascade"
	"github.com/pollstream/backend/internal/middleware"
	"github.com/pollstream/backend/internal/participants"
	"github.com/pollstream/backend/internal/questions"
	"github.com/pollstream/backend/internal/realtime"
	"github.com/pollstream/backend/internal/responses"
	"github.com/pollstream/backend/internal/sessions"
	"github.com/pollstream/backend/pkg/database"
	"github.com/pollstream/backend/pkg/queue"
	"github.com/pollstream/backend/pkg/redis"
	"github.com/pollstream/backend/pkg/response"
	"github.com/pollstream/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ImagesBucket:         cfg.AWS.ImagesBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("image storage disabled", zap.Error(err))
			s3Client = nil
		}
	}
	// Keep the interfaces nil when S3 is absent; a typed nil would dodge
	// the handlers' nil checks.
	var sessionImages sessions.ImageStore
	var questionImages questions.ImageStore
	if s3Client != nil {
		sessionImages = s3Client
		questionImages = s3Client
	}

	publisher := realtime.NewPublisher(rdb.Client, logger)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	sessionRepo := sessions.NewRepository(pool)
	questionRepo := questions.NewRepository(pool)
	participantRepo := participants.NewRepository(pool)
	responseRepo := responses.NewRepository(pool)

	sessionHandler := sessions.NewHandler(sessionRepo, questionRepo, participantRepo, responseRepo,
		jobQueue, publisher, sessionImages, logger)
	questionHandler := questions.NewHandler(questionRepo, sessionRepo, responseRepo, publisher, questionImages, logger)

	processor := cascade.NewProcessor(cascade.Stores{
		Responses:    responseRepo,
		Participants: participantRepo,
		Questions:    questionRepo,
		Sessions:     sessionRepo,
	}, cfg.Cascade.BatchSize, logger)

	reaper := sessions.NewReaper(sessionRepo,
		time.Duration(cfg.Reaper.IntervalMinutes)*time.Minute,
		time.Duration(cfg.Reaper.MaxAgeHours)*time.Hour,
		logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Audience surface (no presenter identity required)
	router.GET("/sessions/code/:code", sessionHandler.GetByCode)
	router.GET("/sessions/:id/branding-image", sessionHandler.BrandingImageURL)
	router.GET("/questions/:id", questionHandler.Get)
	router.GET("/questions/:id/results", questionHandler.Results)

	// Presenter API (identity from trusted gateway headers)
	api := router.Group("")
	api.Use(middleware.Presenter())
	{
		api.POST("/sessions", sessionHandler.Create)
		api.GET("/sessions", sessionHandler.List)
		api.GET("/sessions/:id", sessionHandler.GetByID)
		api.PATCH("/sessions/:id", sessionHandler.Update)
		api.PATCH("/sessions/:id/status", sessionHandler.SetStatus)
		api.POST("/sessions/:id/reopen", sessionHandler.Reopen)
		api.PUT("/sessions/:id/active-question", sessionHandler.SetActiveQuestion)
		api.POST("/sessions/:id/duplicate", sessionHandler.Duplicate)
		api.POST("/sessions/:id/branding-image", sessionHandler.UploadBrandingImage)
		api.DELETE("/sessions/:id/branding-image", sessionHandler.ClearBrandingImage)
		api.DELETE("/sessions/:id", sessionHandler.Delete)
		api.POST("/sessions/:id/reset", sessionHandler.Reset)
		api.GET("/sessions/:id/stats", sessionHandler.Stats)

		api.POST("/sessions/:id/questions", questionHandler.Create)
		api.GET("/sessions/:id/questions", questionHandler.List)
		api.PUT("/sessions/:id/questions/order", questionHandler.Reorder)
		api.PATCH("/questions/:id", questionHandler.Update)
		api.DELETE("/questions/:id", questionHandler.Delete)
		api.POST("/questions/:id/options/:index/image", questionHandler.UploadOptionImage)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background loops: in-process cascade worker and the stale-session reaper.
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	go processor.Run(bgCtx, jobQueue)
	go reaper.Run(bgCtx)

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	bgCancel()
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
