package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/video-transcoder/internal/filtergraph"
	"github.com/aliskhannn/video-transcoder/internal/model"
	"github.com/aliskhannn/video-transcoder/internal/processor"
	"github.com/aliskhannn/video-transcoder/internal/progress"
	jobrepo "github.com/aliskhannn/video-transcoder/internal/repository/job"
	"github.com/aliskhannn/video-transcoder/internal/storage"
	"github.com/aliskhannn/video-transcoder/internal/transform"
)

func TestMain(m *testing.M) {
	zlog.Init()
	os.Exit(m.Run())
}

// --- fakes ---

type memRepo struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]model.Job
	statusErr error
	progress  map[uuid.UUID][]int
}

func newMemRepo() *memRepo {
	return &memRepo{jobs: map[uuid.UUID]model.Job{}, progress: map[uuid.UUID][]int{}}
}

func (r *memRepo) Create(_ context.Context, job model.Job) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job.ID = uuid.New()
	job.CreatedAt = time.Now()
	job.Outputs = []model.OutputArtifact{}
	r.jobs[job.ID] = job
	return job.ID, nil
}

func (r *memRepo) Get(_ context.Context, id uuid.UUID) (model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return model.Job{}, jobrepo.ErrJobNotFound
	}
	job.Outputs = slices.Clone(job.Outputs)
	return job, nil
}

func (r *memRepo) ListByOwner(_ context.Context, ownerID string, limit int) ([]model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Job
	for _, j := range r.jobs {
		if j.OwnerID == ownerID && len(out) < limit {
			out = append(out, j)
		}
	}
	return out, nil
}

func (r *memRepo) mutate(id uuid.UUID, fn func(*model.Job)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return jobrepo.ErrJobNotFound
	}
	if job.Status.Terminal() {
		return jobrepo.ErrJobFinalized
	}
	fn(&job)
	r.jobs[id] = job
	return nil
}

func (r *memRepo) UpdateStatus(_ context.Context, id uuid.UUID, status model.Status) error {
	if r.statusErr != nil {
		return r.statusErr
	}
	return r.mutate(id, func(j *model.Job) { j.Status = status })
}

func (r *memRepo) UpdateOutputs(_ context.Context, id uuid.UUID, outputs []model.OutputArtifact) error {
	return r.mutate(id, func(j *model.Job) { j.Outputs = append([]model.OutputArtifact(nil), outputs...) })
}

func (r *memRepo) UpdateProgress(_ context.Context, id uuid.UUID, percent int) error {
	return r.mutate(id, func(j *model.Job) {
		j.Progress = percent
		r.progress[id] = append(r.progress[id], percent)
	})
}

func (r *memRepo) Complete(_ context.Context, id uuid.UUID, outputs []model.OutputArtifact) error {
	return r.mutate(id, func(j *model.Job) {
		j.Status = model.StatusCompleted
		j.Outputs = append([]model.OutputArtifact(nil), outputs...)
		j.ErrorDetail = ""
		j.Progress = 100
	})
}

func (r *memRepo) Fail(_ context.Context, id uuid.UUID, detail string) error {
	return r.mutate(id, func(j *model.Job) {
		j.Status = model.StatusFailed
		j.Outputs = []model.OutputArtifact{}
		j.ErrorDetail = detail
	})
}

type memBlobs map[string][]byte

func (m memBlobs) Download(_ context.Context, path string) (io.ReadCloser, error) {
	data, ok := m[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, storage.ErrObjectNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type fakeProducer struct {
	sent []model.JobMessage
	err  error
}

func (p *fakeProducer) Produce(_ context.Context, msg model.JobMessage) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, msg)
	return nil
}

// fakeEncoder writes a PNG for still outputs and opaque bytes otherwise.
type fakeEncoder struct {
	t       *testing.T
	fail    map[string]bool // output file names that fail
	outputs []string
}

func (e *fakeEncoder) Init(context.Context) error { return nil }

func (e *fakeEncoder) Probe(context.Context, string, string) (time.Duration, error) {
	return 30 * time.Second, nil
}

func (e *fakeEncoder) Run(_ context.Context, dir string, args []string, _ time.Duration, onProgress func(float64)) error {
	out := args[len(args)-1]
	e.outputs = append(e.outputs, out)

	for i, a := range args {
		if a == "-i" {
			assert.FileExists(e.t, filepath.Join(dir, args[i+1]))
		}
		if strings.Contains(a, "textfile="+filtergraph.TextFile) {
			assert.FileExists(e.t, filepath.Join(dir, filtergraph.TextFile))
		}
	}

	if e.fail[out] {
		return &processor.ExecError{Stderr: "Conversion failed!", Err: errors.New("exit status 1")}
	}

	onProgress(50)

	data := []byte("video:" + out)
	if strings.HasSuffix(out, ".png") {
		data = pngBytes(e.t, 320, 180)
	}
	return os.WriteFile(filepath.Join(dir, out), data, 0o644)
}

type fakePublisher struct {
	keys []string
	fail map[string]bool
}

func (p *fakePublisher) Publish(_ context.Context, _ []byte, key string) (string, error) {
	if p.fail[filepath.Base(key)] {
		return "", &model.PublishError{Path: key, Err: errors.New("bucket unavailable")}
	}
	p.keys = append(p.keys, key)
	return "https://cdn.example.com/" + key, nil
}

// signingLinks mimics presigned URLs: every resolution carries the time
// it was signed at.
type signingLinks struct {
	now func() time.Time
	err error
}

func (l *signingLinks) URL(_ context.Context, path string) (string, error) {
	if l.err != nil {
		return "", l.err
	}
	return fmt.Sprintf("https://store.example.com/%s?signed=%d", path, l.now().Unix()), nil
}

type fakeProgress struct {
	mu      sync.Mutex
	reports map[uuid.UUID][]int
	live    map[uuid.UUID]int
	cleared map[uuid.UUID]bool
}

func newFakeProgress() *fakeProgress {
	return &fakeProgress{reports: map[uuid.UUID][]int{}, live: map[uuid.UUID]int{}, cleared: map[uuid.UUID]bool{}}
}

func (p *fakeProgress) Report(_ context.Context, id uuid.UUID, percent int, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reports[id] = append(p.reports[id], percent)
	p.live[id] = percent
	return nil
}

func (p *fakeProgress) Get(_ context.Context, id uuid.UUID) (progress.Snapshot, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.live[id]
	return progress.Snapshot{Percent: v}, ok, nil
}

func (p *fakeProgress) Clear(_ context.Context, id uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.live, id)
	p.cleared[id] = true
	return nil
}

// --- fixture ---

type fixture struct {
	svc       *Service
	repo      *memRepo
	blobs     memBlobs
	producer  *fakeProducer
	encoder   *fakeEncoder
	publisher *fakePublisher
	progress  *fakeProgress
	links     *signingLinks
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		repo:      newMemRepo(),
		blobs:     memBlobs{"uploads/clip.mp4": []byte("source video"), "logos/brand.png": pngBytes(t, 16, 16)},
		producer:  &fakeProducer{},
		encoder:   &fakeEncoder{t: t, fail: map[string]bool{}},
		publisher: &fakePublisher{fail: map[string]bool{}},
		progress:  newFakeProgress(),
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.links = &signingLinks{now: func() time.Time { return f.now }}

	f.svc = NewService(Deps{
		Repo:      f.repo,
		Blobs:     f.blobs,
		Validator: transform.NewValidator(f.blobs),
		Producer:  f.producer,
		Executor:  processor.New(f.encoder, t.TempDir()),
		Builder:   filtergraph.NewBuilder(""),
		Stamper:   processor.NewStamper(""),
		Publisher: f.publisher,
		Progress:  f.progress,
		Links:     f.links,
	}, 72*time.Hour)
	f.svc.now = func() time.Time { return f.now }

	return f
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func rawSpec(formats, resolutions []string) model.RawSpec {
	var raw model.RawSpec
	raw.OutputFormats = formats
	raw.OutputResolutions = resolutions
	return raw
}

func (f *fixture) submitAndProcess(t *testing.T, raw model.RawSpec) model.Job {
	t.Helper()
	ctx := context.Background()

	id, err := f.svc.Submit(ctx, SubmitRequest{OwnerID: "user-1", InputRef: "uploads/clip.mp4", Spec: raw})
	require.NoError(t, err)
	require.NoError(t, f.svc.Process(ctx, id))

	job, err := f.repo.Get(ctx, id)
	require.NoError(t, err)
	return job
}

func names(outputs []model.OutputArtifact) []string {
	out := make([]string, len(outputs))
	for i, o := range outputs {
		out[i] = o.Name
	}
	return out
}

// --- tests ---

func TestProcess_FullMatrix(t *testing.T) {
	f := newFixture(t)

	job := f.submitAndProcess(t, rawSpec([]string{"mp4", "webm"}, []string{"720p", "1080p"}))

	assert.Equal(t, model.StatusCompleted, job.Status)
	assert.Empty(t, job.ErrorDetail)
	assert.Equal(t, 100, job.Progress)
	assert.Len(t, job.Outputs, job.ExpectedOutputs())
	assert.Equal(t, []string{
		"clip_thumbnail.png",
		"clip_720p.mp4", "clip_1080p.mp4",
		"clip_720p.webm", "clip_1080p.webm",
	}, names(job.Outputs))

	thumb := job.Outputs[0]
	assert.Equal(t, "image/png", thumb.ContentType)
	assert.Equal(t, 320, thumb.Width)

	hd := job.Outputs[2]
	assert.Equal(t, 1920, hd.Width)
	assert.Equal(t, 1080, hd.Height)
	assert.Equal(t, "user-1/"+job.ID.String()+"/clip_1080p.mp4", hd.StoragePath)
	assert.Equal(t, "https://cdn.example.com/"+hd.StoragePath, hd.RetrievalURL)
	assert.Positive(t, hd.ByteSize)

	assert.Equal(t, f.now.Add(72*time.Hour), job.ExpiresAt)
	assert.Equal(t, []model.JobMessage{{JobID: job.ID}}, f.producer.sent)
	assert.True(t, f.progress.cleared[job.ID])

	reports := f.progress.reports[job.ID]
	assert.IsNonDecreasing(t, reports)
}

func TestProcess_PartialFailureCompletes(t *testing.T) {
	f := newFixture(t)
	f.encoder.fail["output_1080p.webm"] = true

	job := f.submitAndProcess(t, rawSpec([]string{"mp4", "webm"}, []string{"720p", "1080p"}))

	assert.Equal(t, model.StatusCompleted, job.Status)
	assert.Len(t, job.Outputs, 4)
	assert.NotContains(t, names(job.Outputs), "clip_1080p.webm")
	assert.Empty(t, job.ErrorDetail)
}

func TestProcess_ProgressAdvancesPastFailedUnits(t *testing.T) {
	f := newFixture(t)
	f.encoder.fail["output_720p.mp4"] = true
	f.encoder.fail["output_1080p.mp4"] = true

	job := f.submitAndProcess(t, rawSpec([]string{"mp4"}, []string{"720p", "1080p"}))

	assert.Equal(t, model.StatusCompleted, job.Status)
	assert.Equal(t, []int{33, 66, 100}, f.repo.progress[job.ID])
}

func TestProcess_PublishFailureDropsUnit(t *testing.T) {
	f := newFixture(t)
	f.publisher.fail["clip_720p.mov"] = true

	job := f.submitAndProcess(t, rawSpec([]string{"mov"}, []string{"720p", "4k"}))

	assert.Equal(t, model.StatusCompleted, job.Status)
	assert.Equal(t, []string{"clip_thumbnail.png", "clip_4k.mov"}, names(job.Outputs))
	assert.Empty(t, job.ErrorDetail)
}

func TestProcess_TotalFailure(t *testing.T) {
	f := newFixture(t)
	f.encoder.fail["thumbnail.png"] = true
	f.encoder.fail["output_720p.avi"] = true

	job := f.submitAndProcess(t, rawSpec([]string{"avi"}, []string{"720p"}))

	assert.Equal(t, model.StatusFailed, job.Status)
	assert.Empty(t, job.Outputs)
	assert.Contains(t, job.ErrorDetail, "2 of 2 units failed")
	assert.Empty(t, f.publisher.keys)
}

func TestProcess_SetupFailureSkipsUnits(t *testing.T) {
	f := newFixture(t)
	delete(f.blobs, "uploads/clip.mp4")

	job := f.submitAndProcess(t, rawSpec([]string{"mp4"}, []string{"720p"}))

	assert.Equal(t, model.StatusFailed, job.Status)
	assert.Contains(t, job.ErrorDetail, "setup download input")
	assert.Empty(t, f.encoder.outputs)
}

func TestProcess_TerminalJobIsNoop(t *testing.T) {
	f := newFixture(t)

	job := f.submitAndProcess(t, rawSpec([]string{"mkv"}, []string{"720p"}))
	runs := len(f.encoder.outputs)

	require.NoError(t, f.svc.Process(context.Background(), job.ID))
	assert.Equal(t, runs, len(f.encoder.outputs))

	require.NoError(t, f.svc.Process(context.Background(), uuid.New()))
}

func TestProcess_Watermarks(t *testing.T) {
	f := newFixture(t)

	raw := rawSpec([]string{"mp4"}, []string{"720p"})
	raw.Watermark.Kind = "text"
	raw.Watermark.Text = "© 100% mine: 'quoted'"
	raw.Watermark.Position = "top-left"
	job := f.submitAndProcess(t, raw)
	assert.Equal(t, model.StatusCompleted, job.Status)
	assert.Len(t, job.Outputs, 2)

	raw.Watermark.Kind = "logo"
	raw.Watermark.Text = ""
	raw.Watermark.LogoRef = "logos/brand.png"
	raw.Watermark.Position = "center"
	job = f.submitAndProcess(t, raw)
	assert.Equal(t, model.StatusCompleted, job.Status)
	assert.Len(t, job.Outputs, 2)
}

func TestSubmit_ValidationError(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Submit(context.Background(), SubmitRequest{
		OwnerID: "user-1", InputRef: "uploads/clip.mp4", Spec: rawSpec([]string{"flv"}, []string{"720p"}),
	})

	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Empty(t, f.repo.jobs)
	assert.Empty(t, f.producer.sent)

	_, err = f.svc.Submit(context.Background(), SubmitRequest{OwnerID: "user-1", Spec: rawSpec([]string{"mp4"}, []string{"720p"})})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "input_ref", ve.Field)
}

func TestSubmit_RejectsPathLikeOwner(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Submit(context.Background(), SubmitRequest{
		OwnerID: "a/../b", InputRef: "uploads/clip.mp4", Spec: rawSpec([]string{"mp4"}, []string{"720p"}),
	})

	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "owner_id", ve.Field)
	assert.Empty(t, f.repo.jobs)
}

func TestSubmit_EnqueueFailureFailsJob(t *testing.T) {
	f := newFixture(t)
	f.producer.err = errors.New("broker down")

	_, err := f.svc.Submit(context.Background(), SubmitRequest{
		OwnerID: "user-1", InputRef: "uploads/clip.mp4", Spec: rawSpec([]string{"mp4"}, []string{"720p"}),
	})

	var se *model.SetupError
	require.ErrorAs(t, err, &se)
	require.Len(t, f.repo.jobs, 1)
	for _, j := range f.repo.jobs {
		assert.Equal(t, model.StatusFailed, j.Status)
		assert.Contains(t, j.ErrorDetail, "broker down")
	}
}

func TestSubmit_StartFailureFailsJob(t *testing.T) {
	f := newFixture(t)
	f.repo.statusErr = errors.New("connection reset")

	id, err := f.svc.Submit(context.Background(), SubmitRequest{
		OwnerID: "user-1", InputRef: "uploads/clip.mp4", Spec: rawSpec([]string{"mp4"}, []string{"720p"}),
	})

	var se *model.SetupError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "start", se.Stage)
	assert.Equal(t, uuid.Nil, id)
	assert.Empty(t, f.producer.sent)

	require.Len(t, f.repo.jobs, 1)
	for _, j := range f.repo.jobs {
		assert.Equal(t, model.StatusFailed, j.Status)
		assert.Contains(t, j.ErrorDetail, "connection reset")
	}
}

func TestGet_Access(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.Submit(ctx, SubmitRequest{OwnerID: "user-1", InputRef: "uploads/clip.mp4", Spec: rawSpec([]string{"mp4"}, []string{"720p"})})
	require.NoError(t, err)
	f.progress.live[id] = 37

	job, err := f.svc.Get(ctx, id, model.Identity{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, job.Status)
	assert.Equal(t, 37, job.Progress)

	_, err = f.svc.Get(ctx, id, model.Identity{UserID: "user-2"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Get(ctx, id, model.Identity{UserID: "ops", Role: model.RoleAdmin})
	assert.NoError(t, err)

	_, err = f.svc.Get(ctx, uuid.New(), model.Identity{UserID: "user-1"})
	assert.ErrorIs(t, err, jobrepo.ErrJobNotFound)
}

func TestGet_ResolvesLinksOnRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := model.Identity{UserID: "user-1"}

	stored := f.submitAndProcess(t, rawSpec([]string{"mp4"}, []string{"720p"}))
	require.Len(t, stored.Outputs, 2)

	// Long after a presigned URL from publish time would have expired.
	f.now = f.now.Add(6 * 24 * time.Hour)
	first, err := f.svc.Get(ctx, stored.ID, owner)
	require.NoError(t, err)

	for i, o := range first.Outputs {
		assert.Equal(t, stored.Outputs[i].StoragePath, o.StoragePath)
		assert.Equal(t, fmt.Sprintf("https://store.example.com/%s?signed=%d", o.StoragePath, f.now.Unix()), o.RetrievalURL)
	}

	f.now = f.now.Add(time.Hour)
	second, err := f.svc.Get(ctx, stored.ID, owner)
	require.NoError(t, err)
	assert.NotEqual(t, first.Outputs[0].RetrievalURL, second.Outputs[0].RetrievalURL)

	jobs, err := f.svc.List(ctx, owner, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, second.Outputs[0].RetrievalURL, jobs[0].Outputs[0].RetrievalURL)

	// The stored record is untouched by reads.
	again, err := f.repo.Get(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.Outputs, again.Outputs)
}

func TestGet_KeepsStoredLinkWhenResolutionFails(t *testing.T) {
	f := newFixture(t)
	stored := f.submitAndProcess(t, rawSpec([]string{"mp4"}, []string{"720p"}))
	f.links.err = errors.New("signer unavailable")

	job, err := f.svc.Get(context.Background(), stored.ID, model.Identity{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, stored.Outputs, job.Outputs)
}

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, owner := range []string{"user-1", "user-1", "user-2"} {
		_, err := f.svc.Submit(ctx, SubmitRequest{OwnerID: owner, InputRef: "uploads/clip.mp4", Spec: rawSpec([]string{"mp4"}, []string{"720p"})})
		require.NoError(t, err)
	}

	jobs, err := f.svc.List(ctx, model.Identity{UserID: "user-1"}, 0)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	jobs, err = f.svc.List(ctx, model.Identity{UserID: "user-1"}, 1)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestOverall(t *testing.T) {
	tests := []struct {
		done, total int
		frac        float64
		want        int
	}{
		{0, 5, 0, 0},
		{0, 5, 0.5, 10},
		{1, 5, 0, 20},
		{4, 5, 1, 100},
		{5, 5, 0.3, 100},
		{0, 0, 0.5, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Overall(tt.done, tt.total, tt.frac), "%d/%d+%.1f", tt.done, tt.total, tt.frac)
	}
}
