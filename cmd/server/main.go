// Package main runs the CodeReplay HTTP server, the in-process ingest workers and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/codereplay/backend/config"
	"github.com/codereplay/backend/internal/auth"
	"github.com/codereplay/backend/internal/downloads"
	"github.com/codereplay/backend/internal/groups"
	"github.com/codereplay/backend/internal/ingest"
	"github.com/codereplay/backend/internal/middleware"
	"github.com/codereplay/backend/internal/pending"
	"github.com/codereplay/backend/internal/playground"
	"github.com/codereplay/backend/internal/recordings"
	"github.com/codereplay/backend/internal/transcode"
	"github.com/codereplay/backend/internal/uploads"
	"github.com/codereplay/backend/internal/users"
	"github.com/codereplay/backend/internal/worker"
	"github.com/codereplay/backend/pkg/database"
	"github.com/codereplay/backend/pkg/fileroot"
	"github.com/codereplay/backend/pkg/metrics"
	"github.com/codereplay/backend/pkg/queue"
	"github.com/codereplay/backend/pkg/redis"
	"github.com/codereplay/backend/pkg/response"
	"github.com/codereplay/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), int32(cfg.Ingest.Workers+10), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	tables := database.Tables{Pending: cfg.Database.PendingTable, Summary: cfg.Database.SummaryTable, Group: cfg.Database.GroupTable}
	if err := database.Migrate(ctx, pool, tables); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	sessions, err := auth.NewSessionResolver(cfg.Auth.Secret, cfg.Auth.SecureCookies())
	if err != nil {
		logger.Fatal("session resolver", zap.Error(err))
	}

	artifacts, err := storage.NewLocal(cfg.Ingest.DownloadsDir)
	if err != nil {
		logger.Fatal("downloads dir", zap.Error(err))
	}
	if err := os.MkdirAll(cfg.Ingest.UploadTmpDir, 0o700); err != nil {
		logger.Fatal("upload tmp dir", zap.Error(err))
	}

	var s3Client *storage.S3
	if cfg.AWS.S3Enabled() {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			RecordingsBucket:     cfg.AWS.RecordingsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	// Stores
	userRepo := users.NewRepository(pool)
	groupRepo := groups.NewRepository(pool, cfg.Database.GroupTable)
	pendingRepo := pending.NewRepository(pool, cfg.Database.PendingTable, cfg.Database.SummaryTable)
	summaryRepo := recordings.NewRepository(pool, cfg.Database.SummaryTable)

	// Ingestion
	ingestMetrics := metrics.NewIngestMetrics(prometheus.DefaultRegisterer)
	ffmpeg := transcode.NewFFmpeg(cfg.Ingest.FFmpegPath, cfg.Ingest.TranscodeTimeout, logger)
	var mirror ingest.Mirror
	var presigner downloads.Presigner
	if s3Client != nil {
		mirror, presigner = s3Client, s3Client
	}
	pipeline := ingest.NewPipeline(pendingRepo, summaryRepo, groupRepo, ffmpeg, artifacts, mirror, ingestMetrics, logger)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewIngestProcessor(jobQueue, pipeline, pendingRepo, logger)
	gen := fileroot.NewGenerator()
	if highest, err := pendingRepo.MaxFileRoot(ctx); err != nil {
		logger.Warn("read highest fileRoot", zap.Error(err))
	} else {
		gen.Observe(highest)
	}
	roots := fileroot.NewRedisReserver(gen, rdb.Client, logger)

	// Handlers
	userHandler := users.NewHandler(userRepo, logger)
	groupHandler := groups.NewHandler(groupRepo, logger)
	pendingHandler := pending.NewHandler(pendingRepo, logger)
	recordingHandler := recordings.NewHandler(summaryRepo, userRepo, logger)
	uploadHandler := uploads.NewHandler(pendingRepo, jobQueue, roots, cfg.Ingest.UploadTmpDir, int64(cfg.Server.MaxUploadMB)<<20, logger)
	downloadHandler := downloads.NewHandler(artifacts, presigner, logger)
	playgroundProxy := playground.NewProxy(cfg.Playground.Server, cfg.Playground.Timeout, logger)

	router := gin.New()
	// Search filters are URL-encoded JSON and may contain '/'.
	router.UseRawPath = true
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Identity(sessions, logger))

	// Health and metrics
	router.GET("/health", func(c *gin.Context) {
		hctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(hctx); err != nil {
			response.ServiceUnavailable(c, "database unavailable")
			return
		}
		if err := rdb.Healthy(hctx); err != nil {
			response.ServiceUnavailable(c, "redis unavailable")
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public (identity optional)
	router.GET("/", userHandler.Me)
	router.POST("/upload", uploadHandler.Upload)
	router.POST("/confirm/:fileRoot", pendingHandler.Confirm)
	router.GET("/recordings/pending", pendingHandler.List)
	router.GET("/recordings/find/:fileRoot", recordingHandler.Find)
	router.GET("/recordings/search/:query/:page", recordingHandler.Search)
	router.GET("/recordings/count/:query", recordingHandler.Count)
	router.GET("/downloads/:name", downloadHandler.Get)

	// Signed-in only
	api := router.Group("")
	api.Use(middleware.RequireIdentity())
	{
		api.POST("/user", userHandler.Update)
		api.GET("/recording_group", groupHandler.List)
		api.POST("/recording_group", groupHandler.Create)
		api.POST("/join_group", groupHandler.Join)
		api.POST("/update_group/:id/:status", groupHandler.SetStatus)
		api.POST("/playground", playgroundProxy.Submit)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background ingestion
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	processor.SweepStale(ctx, cfg.Ingest.StalePending)
	workersDone := make(chan struct{})
	go func() {
		processor.Run(workerCtx, cfg.Ingest.Workers)
		close(workersDone)
	}()

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
	workerCancel()
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		logger.Warn("ingest workers did not stop in time")
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
