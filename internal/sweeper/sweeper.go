// Package sweeper deletes jobs whose retention horizon has passed, together
// with every artifact they reference.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/video-transcoder/internal/model"
	jobrepo "github.com/aliskhannn/video-transcoder/internal/repository/job"
	"github.com/aliskhannn/video-transcoder/internal/storage"
)

const defaultBatchSize = 100

type jobRepository interface {
	ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Job, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type blobDeleter interface {
	Delete(ctx context.Context, paths []string) []storage.DeleteResult
}

// Report summarizes one sweep.
type Report struct {
	Jobs         int `json:"jobs"`
	FilesDeleted int `json:"files_deleted"`
	FilesFailed  int `json:"files_failed"`
	JobsFailed   int `json:"jobs_failed"`
}

// Sweeper deletes expired jobs and their artifacts.
type Sweeper struct {
	repo      jobRepository
	blobs     blobDeleter
	batchSize int
	now       func() time.Time
}

// New creates a Sweeper that lists batchSize expired jobs at a time.
func New(repo jobRepository, blobs blobDeleter, batchSize int) *Sweeper {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Sweeper{repo: repo, blobs: blobs, batchSize: batchSize, now: time.Now}
}

// Sweep removes every job expired at the time of the call. Blob deletion is
// best-effort; the record is deleted after all of its blobs were attempted.
// Running it again, or concurrently, is safe.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var report Report
	now := s.now()

	for {
		jobs, err := s.repo.ListExpired(ctx, now, s.batchSize)
		if err != nil {
			return report, fmt.Errorf("sweep: failed to list expired jobs: %w", err)
		}

		deleted := 0
		for _, job := range jobs {
			if s.sweepJob(ctx, job, &report) {
				deleted++
			}
		}

		// A batch where nothing could be deleted would be returned again.
		if len(jobs) < s.batchSize || deleted == 0 {
			break
		}
	}

	zlog.Logger.Info().
		Int("jobs", report.Jobs).
		Int("files_deleted", report.FilesDeleted).
		Int("files_failed", report.FilesFailed).
		Int("jobs_failed", report.JobsFailed).
		Msg("retention sweep finished")

	return report, nil
}

func (s *Sweeper) sweepJob(ctx context.Context, job model.Job, report *Report) bool {
	paths := make([]string, 0, len(job.Outputs))
	for _, o := range job.Outputs {
		if o.StoragePath != "" {
			paths = append(paths, o.StoragePath)
		}
	}

	if len(paths) > 0 {
		results := s.blobs.Delete(ctx, paths)
		failed := storage.Failed(results)
		for _, r := range failed {
			zlog.Logger.Err(r.Err).
				Str("job_id", job.ID.String()).
				Str("path", r.Path).
				Msg("failed to delete artifact")
		}
		report.FilesFailed += len(failed)
		report.FilesDeleted += len(results) - len(failed)
	}

	if err := s.repo.Delete(ctx, job.ID); err != nil && !errors.Is(err, jobrepo.ErrJobNotFound) {
		report.JobsFailed++
		zlog.Logger.Err(err).Str("job_id", job.ID.String()).Msg("failed to delete job record")
		return false
	}

	report.Jobs++
	return true
}

// Schedule runs Sweep on a six-field cron spec (with seconds). Overlapping
// runs are skipped. The caller stops the returned scheduler.
func (s *Sweeper) Schedule(ctx context.Context, spec string) (*cron.Cron, error) {
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)

	_, err := c.AddFunc(spec, func() {
		if _, err := s.Sweep(ctx); err != nil {
			zlog.Logger.Err(err).Msg("scheduled sweep failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}

	c.Start()
	return c, nil
}
