package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/video-transcoder/internal/filtergraph"
	"github.com/aliskhannn/video-transcoder/internal/model"
	"github.com/aliskhannn/video-transcoder/internal/processor"
	"github.com/aliskhannn/video-transcoder/internal/progress"
	"github.com/aliskhannn/video-transcoder/internal/publisher"
	jobrepo "github.com/aliskhannn/video-transcoder/internal/repository/job"
)

// ErrForbidden is returned when the caller neither owns the job nor has
// the admin role.
var ErrForbidden = errors.New("forbidden")

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// jobRepository persists the job lifecycle.
type jobRepository interface {
	Create(ctx context.Context, job model.Job) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (model.Job, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]model.Job, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.Status) error
	UpdateOutputs(ctx context.Context, id uuid.UUID, outputs []model.OutputArtifact) error
	UpdateProgress(ctx context.Context, id uuid.UUID, percent int) error
	Complete(ctx context.Context, id uuid.UUID, outputs []model.OutputArtifact) error
	Fail(ctx context.Context, id uuid.UUID, detail string) error
}

// blobReader downloads source videos and logos.
type blobReader interface {
	Download(ctx context.Context, path string) (io.ReadCloser, error)
}

// validator turns a request body into a TransformationSpec.
type validator interface {
	Validate(ctx context.Context, raw model.RawSpec) (model.TransformationSpec, error)
}

// producer enqueues jobs for the workers.
type producer interface {
	Produce(ctx context.Context, msg model.JobMessage) error
}

// executor opens per-job workspaces on the encoding engine.
type executor interface {
	Open(ctx context.Context, jobID uuid.UUID) (*processor.Workspace, error)
}

// programBuilder maps a spec and unit to an engine program.
type programBuilder interface {
	Build(spec model.TransformationSpec, unit model.Unit) filtergraph.Program
}

// stamper decorates the extracted still frame.
type stamper interface {
	Stamp(frame []byte, wm model.Watermark, logo []byte) ([]byte, int, int, error)
}

// artifactPublisher stores finished artifacts.
type artifactPublisher interface {
	Publish(ctx context.Context, data []byte, key string) (string, error)
}

// linkResolver turns a storage path into a retrieval URL.
type linkResolver interface {
	URL(ctx context.Context, path string) (string, error)
}

// progressTracker holds live progress between unit boundaries.
type progressTracker interface {
	Report(ctx context.Context, id uuid.UUID, percent int, stage string) error
	Get(ctx context.Context, id uuid.UUID) (progress.Snapshot, bool, error)
	Clear(ctx context.Context, id uuid.UUID) error
}

// Deps groups the collaborators of the Service.
type Deps struct {
	Repo      jobRepository
	Blobs     blobReader
	Validator validator
	Producer  producer
	Executor  executor
	Builder   programBuilder
	Stamper   stamper
	Publisher artifactPublisher
	Progress  progressTracker
	Links     linkResolver
}

// Service owns the job lifecycle: it accepts submissions, runs the output
// matrix of a job unit by unit and finalizes the job status.
type Service struct {
	Deps
	retention time.Duration
	now       func() time.Time
}

// NewService creates a new Service. Jobs expire retention after creation.
func NewService(d Deps, retention time.Duration) *Service {
	return &Service{Deps: d, retention: retention, now: time.Now}
}

// SubmitRequest is a new transcoding request.
type SubmitRequest struct {
	OwnerID       string
	InputRef      string
	InputFilename string
	Spec          model.RawSpec
}

// Submit validates the request, persists the job and queues it.
// A *model.ValidationError means the request was rejected and nothing was
// stored. If the job cannot be queued it is marked failed.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (uuid.UUID, error) {
	if strings.TrimSpace(req.OwnerID) == "" {
		return uuid.Nil, &model.ValidationError{Field: "owner_id", Reason: "required"}
	}
	if !model.ValidOwnerID(req.OwnerID) {
		return uuid.Nil, &model.ValidationError{Field: "owner_id", Reason: "must not contain path separators or dot segments"}
	}
	if strings.TrimSpace(req.InputRef) == "" {
		return uuid.Nil, &model.ValidationError{Field: "input_ref", Reason: "required"}
	}

	spec, err := s.Validator.Validate(ctx, req.Spec)
	if err != nil {
		return uuid.Nil, err
	}

	filename := req.InputFilename
	if filename == "" {
		filename = path.Base(req.InputRef)
	}

	id, err := s.Repo.Create(ctx, model.Job{
		OwnerID:       req.OwnerID,
		InputRef:      req.InputRef,
		InputFilename: filename,
		Spec:          spec,
		Status:        model.StatusPending,
		ExpiresAt:     s.now().Add(s.retention),
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("submit: failed to create job: %w", err)
	}

	if err := s.Repo.UpdateStatus(ctx, id, model.StatusProcessing); err != nil {
		return uuid.Nil, s.abandon(ctx, id, &model.SetupError{Stage: "start", Err: err})
	}

	if err := s.Producer.Produce(ctx, model.JobMessage{JobID: id}); err != nil {
		return uuid.Nil, s.abandon(ctx, id, &model.SetupError{Stage: "enqueue", Err: err})
	}

	zlog.Logger.Info().
		Str("job_id", id.String()).
		Str("owner_id", req.OwnerID).
		Int("units", spec.MatrixSize()+1).
		Msg("job submitted")

	return id, nil
}

// abandon marks a job that will never be processed as failed and returns
// setupErr for the caller.
func (s *Service) abandon(ctx context.Context, id uuid.UUID, setupErr *model.SetupError) error {
	if err := s.Repo.Fail(ctx, id, setupErr.Error()); err != nil {
		zlog.Logger.Err(err).Str("job_id", id.String()).Msg("failed to mark job failed")
	}
	return setupErr
}

// Process runs a queued job to a terminal state. Unit failures are
// recorded on the job, not returned; an error is returned only when the
// job record itself could not be read or finalized.
func (s *Service) Process(ctx context.Context, id uuid.UUID) error {
	// A started job runs to completion even if the consumer shuts down.
	ctx = context.WithoutCancel(ctx)

	job, err := s.Repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jobrepo.ErrJobNotFound) {
			zlog.Logger.Warn().Str("job_id", id.String()).Msg("job not found, skipping")
			return nil
		}
		return fmt.Errorf("process: failed to load job: %w", err)
	}

	if job.Status.Terminal() {
		zlog.Logger.Info().
			Str("job_id", id.String()).
			Str("status", string(job.Status)).
			Msg("job already finalized, skipping")
		return nil
	}

	if job.Status == model.StatusPending {
		if err := s.Repo.UpdateStatus(ctx, id, model.StatusProcessing); err != nil {
			return fmt.Errorf("process: failed to start job: %w", err)
		}
	}

	ws, logo, err := s.setup(ctx, job)
	if err != nil {
		zlog.Logger.Err(err).Str("job_id", id.String()).Msg("job setup failed")
		return s.finalize(ctx, id, nil, err.Error())
	}
	defer func() {
		if err := ws.Close(); err != nil {
			zlog.Logger.Err(err).Str("job_id", id.String()).Msg("failed to remove workspace")
		}
	}()

	units := append([]model.Unit{model.ThumbnailUnit}, job.Spec.Matrix()...)
	outputs := make([]model.OutputArtifact, 0, len(units))
	var failures []error

	for i, unit := range units {
		report := s.reporter(ctx, id, i, len(units), unit)
		report(0)

		artifact, err := s.processUnit(ctx, job, ws, logo, unit, report)
		if err != nil {
			zlog.Logger.Err(err).
				Str("job_id", id.String()).
				Str("unit", unit.String()).
				Msg("unit failed")
			failures = append(failures, err)
		} else {
			outputs = append(outputs, artifact)
			if err := s.Repo.UpdateOutputs(ctx, id, outputs); err != nil {
				zlog.Logger.Err(err).Str("job_id", id.String()).Msg("failed to persist outputs")
			}
		}

		if err := s.Repo.UpdateProgress(ctx, id, Overall(i+1, len(units), 0)); err != nil {
			zlog.Logger.Err(err).Str("job_id", id.String()).Msg("failed to persist progress")
		}
	}

	return s.finalize(ctx, id, outputs, summarize(failures, len(units)))
}

// Get returns a job the caller may see, with live progress for running jobs.
func (s *Service) Get(ctx context.Context, id uuid.UUID, caller model.Identity) (model.Job, error) {
	job, err := s.Repo.Get(ctx, id)
	if err != nil {
		return model.Job{}, err
	}

	if job.OwnerID != caller.UserID && !caller.IsAdmin() {
		return model.Job{}, ErrForbidden
	}

	if !job.Status.Terminal() {
		snap, ok, err := s.Progress.Get(ctx, id)
		if err != nil {
			zlog.Logger.Err(err).Str("job_id", id.String()).Msg("failed to read live progress")
		} else if ok && snap.Percent > job.Progress {
			job.Progress = snap.Percent
		}
	}

	s.resolveLinks(ctx, &job)
	return job, nil
}

// List returns the caller's jobs, newest first.
func (s *Service) List(ctx context.Context, caller model.Identity, limit int) ([]model.Job, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)

	jobs, err := s.Repo.ListByOwner(ctx, caller.UserID, limit)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}

	for i := range jobs {
		s.resolveLinks(ctx, &jobs[i])
	}

	return jobs, nil
}

// resolveLinks refreshes the retrieval URL of every artifact. The stored
// URL is kept when resolution fails.
func (s *Service) resolveLinks(ctx context.Context, job *model.Job) {
	if s.Links == nil || len(job.Outputs) == 0 {
		return
	}
	job.Outputs = slices.Clone(job.Outputs)
	for i, o := range job.Outputs {
		if o.StoragePath == "" {
			continue
		}
		url, err := s.Links.URL(ctx, o.StoragePath)
		if err != nil {
			zlog.Logger.Warn().Err(err).
				Str("job_id", job.ID.String()).
				Str("path", o.StoragePath).
				Msg("failed to resolve retrieval url")
			continue
		}
		job.Outputs[i].RetrievalURL = url
	}
}

// setup loads everything the units share. Any failure here fails the job
// without attempting a unit.
func (s *Service) setup(ctx context.Context, job model.Job) (*processor.Workspace, []byte, error) {
	input, err := s.readBlob(ctx, job.InputRef)
	if err != nil {
		return nil, nil, &model.SetupError{Stage: "download input", Err: err}
	}

	var logo []byte
	if job.Spec.Watermark.Kind == model.WatermarkLogo {
		logo, err = s.readBlob(ctx, job.Spec.Watermark.LogoRef)
		if err != nil {
			return nil, nil, &model.SetupError{Stage: "download logo", Err: err}
		}
	}

	ws, err := s.Executor.Open(ctx, job.ID)
	if err != nil {
		return nil, nil, &model.SetupError{Stage: "engine", Err: err}
	}

	if err := s.prepare(ctx, ws, job, input, logo); err != nil {
		_ = ws.Close()
		return nil, nil, &model.SetupError{Stage: "workspace", Err: err}
	}

	return ws, logo, nil
}

func (s *Service) prepare(ctx context.Context, ws *processor.Workspace, job model.Job, input, logo []byte) error {
	if err := ws.WriteInput(ctx, job.InputFilename, input); err != nil {
		return err
	}

	switch job.Spec.Watermark.Kind {
	case model.WatermarkLogo:
		return ws.WriteLogo(logo)
	case model.WatermarkText:
		return ws.WriteText(job.Spec.Watermark.Text)
	}

	return nil
}

// processUnit is build, execute, publish. The artifact only counts once
// it is stored.
func (s *Service) processUnit(
	ctx context.Context,
	job model.Job,
	ws *processor.Workspace,
	logo []byte,
	unit model.Unit,
	report func(float64),
) (model.OutputArtifact, error) {
	prog := s.Builder.Build(job.Spec, unit)

	data, err := ws.Execute(ctx, prog, report)
	if err != nil {
		return model.OutputArtifact{}, err
	}

	width, height := prog.Width, prog.Height
	if unit.IsThumbnail() {
		data, width, height, err = s.Stamper.Stamp(data, job.Spec.Watermark, logo)
		if err != nil {
			return model.OutputArtifact{}, &model.TranscodeError{Unit: unit, Err: err}
		}
	}

	name := job.ArtifactName(unit)
	key := publisher.Path(job.OwnerID, job.ID.String(), name)

	url, err := s.Publisher.Publish(ctx, data, key)
	if err != nil {
		return model.OutputArtifact{}, err
	}

	return model.OutputArtifact{
		Name:         name,
		Format:       unit.Format,
		Resolution:   unit.Resolution,
		Width:        width,
		Height:       height,
		ByteSize:     int64(len(data)),
		ContentType:  publisher.ContentType(data, name),
		StoragePath:  key,
		RetrievalURL: url,
	}, nil
}

// finalize writes the terminal state: completed when at least one artifact
// was published, failed with detail otherwise.
func (s *Service) finalize(ctx context.Context, id uuid.UUID, outputs []model.OutputArtifact, detail string) error {
	var err error
	status := model.StatusCompleted

	if len(outputs) > 0 {
		if detail != "" {
			zlog.Logger.Warn().Str("job_id", id.String()).Str("failures", detail).Msg("job completed with failed units")
		}
		err = s.Repo.Complete(ctx, id, outputs)
	} else {
		status = model.StatusFailed
		if detail == "" {
			detail = "no outputs produced"
		}
		err = s.Repo.Fail(ctx, id, detail)
	}

	if clearErr := s.Progress.Clear(ctx, id); clearErr != nil {
		zlog.Logger.Err(clearErr).Str("job_id", id.String()).Msg("failed to clear live progress")
	}

	if err != nil {
		if errors.Is(err, jobrepo.ErrJobFinalized) {
			zlog.Logger.Warn().Str("job_id", id.String()).Msg("job finalized concurrently")
			return nil
		}
		return fmt.Errorf("process: failed to finalize job: %w", err)
	}

	zlog.Logger.Info().
		Str("job_id", id.String()).
		Str("status", string(status)).
		Int("outputs", len(outputs)).
		Msg("job finalized")

	return nil
}

// reporter returns the progress callback of unit i. Live progress is only
// written when the whole percent changes.
func (s *Service) reporter(ctx context.Context, id uuid.UUID, i, total int, unit model.Unit) func(float64) {
	last := -1
	return func(unitPercent float64) {
		p := Overall(i, total, unitPercent/100)
		if p == last {
			return
		}
		last = p
		if err := s.Progress.Report(ctx, id, p, unit.String()); err != nil {
			zlog.Logger.Warn().Err(err).Str("job_id", id.String()).Msg("failed to report progress")
		}
	}
}

func (s *Service) readBlob(ctx context.Context, ref string) ([]byte, error) {
	rc, err := s.Blobs.Download(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ref, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s is empty", ref)
	}

	return data, nil
}

// Overall is the job percentage after done whole units plus frac of the
// next one.
func Overall(done, total int, frac float64) int {
	if total <= 0 {
		return 0
	}
	frac = max(0, min(1, frac))
	p := int(100 * (float64(done) + frac) / float64(total))
	return max(0, min(100, p))
}

// summarize aggregates unit failures into the job's error detail.
func summarize(failures []error, total int) string {
	if len(failures) == 0 {
		return ""
	}
	return fmt.Sprintf("%d of %d units failed:\n%s", len(failures), total, errors.Join(failures...))
}
