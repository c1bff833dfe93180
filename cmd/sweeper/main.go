// Command sweeper removes expired transcode jobs and their artifacts, either
// on the configured cron schedule or once with -once.
package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/video-transcoder/internal/config"
	jobrepo "github.com/aliskhannn/video-transcoder/internal/repository/job"
	"github.com/aliskhannn/video-transcoder/internal/storage"
	"github.com/aliskhannn/video-transcoder/internal/storage/file"
	"github.com/aliskhannn/video-transcoder/internal/storage/s3"
	"github.com/aliskhannn/video-transcoder/internal/sweeper"
)

type blobDeleter interface {
	Delete(ctx context.Context, paths []string) []storage.DeleteResult
}

func main() {
	configPath := flag.String("config", "./config/config.yml", "path to the config file")
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zlog.Init()
	cfg := config.MustLoad(*configPath)

	slaveDSNs := make([]string, 0, len(cfg.Database.Slaves))
	for _, s := range cfg.Database.Slaves {
		slaveDSNs = append(slaveDSNs, s.DSN())
	}

	db, err := dbpg.New(cfg.Database.Master.DSN(), slaveDSNs, &dbpg.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer func() {
		if err := db.Master.Close(); err != nil {
			zlog.Logger.Printf("failed to close master DB: %v", err)
		}
	}()

	var blobs blobDeleter
	switch cfg.Storage.Driver {
	case "s3":
		blobs, err = s3.NewStorage(ctx, s3.Options{
			Region:    cfg.Storage.Region,
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.BucketName,
		})
	default:
		blobs, err = file.NewStorage(ctx, file.Options{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.BucketName,
			UseSSL:    cfg.Storage.UseSSL,
		})
	}
	if err != nil {
		zlog.Logger.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("failed to connect to storage")
	}

	sw := sweeper.New(jobrepo.NewRepository(db), blobs, cfg.Sweeper.BatchSize)

	if *once {
		if _, err := sw.Sweep(ctx); err != nil {
			zlog.Logger.Fatal().Err(err).Msg("sweep failed")
		}
		return
	}

	c, err := sw.Schedule(ctx, cfg.Sweeper.Schedule)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to schedule sweeper")
	}
	zlog.Logger.Info().Str("schedule", cfg.Sweeper.Schedule).Msg("sweeper started")

	<-ctx.Done()

	// Wait for a running sweep to finish.
	<-c.Stop().Done()
	zlog.Logger.Info().Msg("sweeper stopped")
}
