// Package main runs the standalone ingest worker. It must share UPLOAD_TMP_DIR and DOWNLOADS_DIR
// with the server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/codereplay/backend/config"
	"github.com/codereplay/backend/internal/groups"
	"github.com/codereplay/backend/internal/ingest"
	"github.com/codereplay/backend/internal/pending"
	"github.com/codereplay/backend/internal/recordings"
	"github.com/codereplay/backend/internal/transcode"
	"github.com/codereplay/backend/internal/worker"
	"github.com/codereplay/backend/pkg/database"
	"github.com/codereplay/backend/pkg/metrics"
	"github.com/codereplay/backend/pkg/queue"
	"github.com/codereplay/backend/pkg/redis"
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
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), int32(cfg.Ingest.Workers+2), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	artifacts, err := storage.NewLocal(cfg.Ingest.DownloadsDir)
	if err != nil {
		logger.Fatal("downloads dir", zap.Error(err))
	}

	var mirror ingest.Mirror
	if cfg.AWS.S3Enabled() {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			RecordingsBucket:     cfg.AWS.RecordingsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			mirror = s3Client
		}
	}

	pendingRepo := pending.NewRepository(pool, cfg.Database.PendingTable, cfg.Database.SummaryTable)
	pipeline := ingest.NewPipeline(
		pendingRepo,
		recordings.NewRepository(pool, cfg.Database.SummaryTable),
		groups.NewRepository(pool, cfg.Database.GroupTable),
		transcode.NewFFmpeg(cfg.Ingest.FFmpegPath, cfg.Ingest.TranscodeTimeout, logger),
		artifacts,
		mirror,
		metrics.NewIngestMetrics(prometheus.DefaultRegisterer),
		logger,
	)
	processor := worker.NewIngestProcessor(queue.NewQueue(rdb.Client, logger), pipeline, pendingRepo, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	processor.SweepStale(ctx, cfg.Ingest.StalePending)
	done := make(chan struct{})
	go func() {
		processor.Run(workerCtx, cfg.Ingest.Workers)
		close(done)
	}()
	logger.Info("worker started", zap.Int("workers", cfg.Ingest.Workers))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: ":" + cfg.Ingest.MetricsPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("metrics listening", zap.String("port", cfg.Ingest.MetricsPort))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics shutdown", zap.Error(err))
	}
	cancel()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		logger.Warn("workers did not stop in time")
	}
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
