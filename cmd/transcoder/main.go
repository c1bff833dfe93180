package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/video-transcoder/internal/api/handlers/admin"
	"github.com/aliskhannn/video-transcoder/internal/api/handlers/job"
	"github.com/aliskhannn/video-transcoder/internal/api/router"
	"github.com/aliskhannn/video-transcoder/internal/api/server"
	"github.com/aliskhannn/video-transcoder/internal/config"
	"github.com/aliskhannn/video-transcoder/internal/filtergraph"
	"github.com/aliskhannn/video-transcoder/internal/infra/kafka/consumer"
	"github.com/aliskhannn/video-transcoder/internal/infra/kafka/producer"
	jobmsg "github.com/aliskhannn/video-transcoder/internal/kafka/handlers/job"
	"github.com/aliskhannn/video-transcoder/internal/processor"
	"github.com/aliskhannn/video-transcoder/internal/progress"
	"github.com/aliskhannn/video-transcoder/internal/publisher"
	jobrepo "github.com/aliskhannn/video-transcoder/internal/repository/job"
	jobsvc "github.com/aliskhannn/video-transcoder/internal/service/job"
	"github.com/aliskhannn/video-transcoder/internal/storage"
	"github.com/aliskhannn/video-transcoder/internal/storage/file"
	"github.com/aliskhannn/video-transcoder/internal/storage/s3"
	"github.com/aliskhannn/video-transcoder/internal/sweeper"
	"github.com/aliskhannn/video-transcoder/internal/transform"
)

// blobStore is what both storage drivers provide.
type blobStore interface {
	Upload(ctx context.Context, path string, src io.Reader, size int64, contentType string) error
	Download(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, paths []string) []storage.DeleteResult
	URL(ctx context.Context, path string) (string, error)
}

func main() {
	configPath := flag.String("config", "./config/config.yml", "path to the config file")
	flag.Parse()

	// Context & signals: used for graceful shutdown on system interrupts.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize logger and load application configuration.
	zlog.Init()
	cfg := config.MustLoad(*configPath)

	// Connect to PostgreSQL (master and slaves).
	opts := &dbpg.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	slaveDSNs := make([]string, 0, len(cfg.Database.Slaves))
	for _, s := range cfg.Database.Slaves {
		slaveDSNs = append(slaveDSNs, s.DSN())
	}

	db, err := dbpg.New(cfg.Database.Master.DSN(), slaveDSNs, opts)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	// Retry strategy for Kafka, storage and other external calls.
	strategy := retry.Strategy{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay,
		Backoff:  cfg.Retry.Backoff,
	}

	blobs, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("failed to connect to storage")
	}

	// Live progress lives in Redis; the database keeps unit boundaries.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		zlog.Logger.Warn().Err(err).Msg("redis unavailable, live progress disabled until it recovers")
	}

	// Initialize repository, producer, pipeline stages and service layer.
	repo := jobrepo.NewRepository(db)
	p := producer.New(&cfg.Kafka, strategy)
	encoder := processor.NewFFmpeg(cfg.Worker.FFmpegPath, cfg.Worker.FFprobePath)

	service := jobsvc.NewService(jobsvc.Deps{
		Repo:      repo,
		Blobs:     blobs,
		Validator: transform.NewValidator(blobs),
		Producer:  p,
		Executor:  processor.New(encoder, cfg.Worker.WorkDir),
		Builder:   filtergraph.NewBuilder(cfg.Worker.FontPath),
		Stamper:   processor.NewStamper(cfg.Worker.FontPath),
		Publisher: publisher.New(blobs, strategy),
		Progress:  progress.NewTracker(rdb, cfg.Redis.ProgressTTL),
		Links:     blobs,
	}, cfg.Pipeline.Retention)

	sw := sweeper.New(repo, blobs, cfg.Sweeper.BatchSize)

	// Kafka consumer for job requests, bounded by worker concurrency.
	c := consumer.New(&cfg.Kafka, strategy, jobmsg.NewRequestedHandler(service), cfg.Worker.Concurrency)

	var wg sync.WaitGroup
	wg.Add(1)
	go c.Consume(ctx, &wg)

	// Start HTTP server in a separate goroutine.
	r := router.Setup(job.NewHandler(service), admin.NewHandler(sw))
	s := server.New(cfg.Server, r)
	go func() {
		zlog.Logger.Info().Str("addr", s.Addr).Msg("starting server")
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Block until context is canceled (SIGINT/SIGTERM).
	<-ctx.Done()
	zlog.Logger.Info().Msg("context done")

	// Graceful shutdown with timeout for HTTP server.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}

	// Wait for in-flight jobs to finish.
	wg.Wait()

	if err := db.Master.Close(); err != nil {
		zlog.Logger.Printf("failed to close master DB: %v", err)
	}
	for i, s := range db.Slaves {
		if err := s.Close(); err != nil {
			zlog.Logger.Printf("failed to close slave DB %d: %v", i, err)
		}
	}

	if err := rdb.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close redis client")
	}
	if err := p.Client.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close kafka producer client")
	}
	if err := c.Client.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close kafka consumer client")
	}
}

func openStorage(ctx context.Context, cfg config.Storage) (blobStore, error) {
	switch cfg.Driver {
	case "s3":
		return s3.NewStorage(ctx, s3.Options{
			Region:        cfg.Region,
			Endpoint:      cfg.Endpoint,
			AccessKey:     cfg.AccessKey,
			SecretKey:     cfg.SecretKey,
			Bucket:        cfg.BucketName,
			PublicBaseURL: cfg.PublicBaseURL,
			PresignExpiry: cfg.PresignExpiry,
		})
	default:
		return file.NewStorage(ctx, file.Options{
			Endpoint:      cfg.Endpoint,
			AccessKey:     cfg.AccessKey,
			SecretKey:     cfg.SecretKey,
			Bucket:        cfg.BucketName,
			UseSSL:        cfg.UseSSL,
			PublicBaseURL: cfg.PublicBaseURL,
			PresignExpiry: cfg.PresignExpiry,
		})
	}
}
