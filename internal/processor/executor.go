package processor

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/video-transcoder/internal/filtergraph"
	"github.com/aliskhannn/video-transcoder/internal/model"
)

const (
	inputBase = "input"
	logoName  = "watermark.png"
)

// Executor runs programs through an Encoder. The engine is initialized
// lazily on first use and shared by all jobs.
type Executor struct {
	encoder Encoder
	workDir string

	mu    sync.Mutex
	ready bool
}

// New creates an Executor that keeps per-job workspaces under workDir.
func New(encoder Encoder, workDir string) *Executor {
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &Executor{encoder: encoder, workDir: workDir}
}

// init loads the engine once. A failed attempt is retried on the next call.
func (e *Executor) init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ready {
		return nil
	}
	if err := e.encoder.Init(ctx); err != nil {
		return err
	}
	e.ready = true
	return nil
}

// Open prepares an isolated workspace for one job. Concurrent jobs never
// share a directory.
func (e *Executor) Open(ctx context.Context, jobID uuid.UUID) (*Workspace, error) {
	if err := e.init(ctx); err != nil {
		return nil, fmt.Errorf("failed to init encoder: %w", err)
	}

	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return nil, fmt.Errorf("failed to generate workspace name: %w", err)
	}
	name := jobID.String() + "-" + strconv.FormatInt(time.Now().UnixNano(), 10) + "-" + hex.EncodeToString(suffix)

	dir := filepath.Join(e.workDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	return &Workspace{dir: dir, encoder: e.encoder}, nil
}

// Workspace is the private file namespace of one job.
type Workspace struct {
	dir     string
	encoder Encoder

	input    string
	duration time.Duration
	hasLogo  bool
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string { return w.dir }

// WriteInput stores the source video. The original extension is kept as a
// demuxer hint.
func (w *Workspace) WriteInput(ctx context.Context, filename string, data []byte) error {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		ext = ".mp4"
	}
	name := inputBase + ext

	if err := os.WriteFile(filepath.Join(w.dir, name), data, 0o644); err != nil {
		return fmt.Errorf("failed to write input: %w", err)
	}
	w.input = name

	d, err := w.encoder.Probe(ctx, w.dir, name)
	if err != nil {
		zlog.Logger.Warn().Err(err).Str("dir", w.dir).Msg("failed to probe input duration")
	}
	w.duration = d

	zlog.Logger.Info().
		Str("dir", w.dir).
		Str("size", humanize.Bytes(uint64(len(data)))).
		Str("duration", d.String()).
		Msg("input loaded")

	return nil
}

// WriteLogo stores the watermark image used by overlay programs.
func (w *Workspace) WriteLogo(data []byte) error {
	if err := os.WriteFile(filepath.Join(w.dir, logoName), data, 0o644); err != nil {
		return fmt.Errorf("failed to write logo: %w", err)
	}
	w.hasLogo = true
	return nil
}

// WriteText stores the watermark text read by the drawtext stage.
func (w *Workspace) WriteText(text string) error {
	if err := os.WriteFile(filepath.Join(w.dir, filtergraph.TextFile), []byte(text), 0o644); err != nil {
		return fmt.Errorf("failed to write watermark text: %w", err)
	}
	return nil
}

// Execute runs p and returns the produced bytes. The output file is removed
// from the workspace before returning, whatever the outcome.
func (w *Workspace) Execute(ctx context.Context, p filtergraph.Program, onProgress func(float64)) ([]byte, error) {
	if w.input == "" {
		return nil, &model.TranscodeError{Unit: p.Unit, Err: fmt.Errorf("input not loaded")}
	}
	if p.Topology == filtergraph.TopologyOverlay && !w.hasLogo {
		return nil, &model.TranscodeError{Unit: p.Unit, Err: fmt.Errorf("logo not loaded")}
	}

	args := filtergraph.Args(p, filtergraph.Inputs{Source: w.input, Logo: logoName})
	out := filepath.Join(w.dir, p.Output)
	defer os.Remove(out)

	total := w.duration
	if p.Still != nil {
		total = 0
	}

	start := time.Now()
	if err := w.encoder.Run(ctx, w.dir, args, total, onProgress); err != nil {
		te := &model.TranscodeError{Unit: p.Unit, Err: err}
		if ee, ok := err.(*ExecError); ok {
			te.Stderr = ee.Tail()
		}
		return nil, te
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, &model.TranscodeError{Unit: p.Unit, Err: fmt.Errorf("failed to read output: %w", err)}
	}
	if len(data) == 0 {
		return nil, &model.TranscodeError{Unit: p.Unit, Err: fmt.Errorf("empty output")}
	}

	if onProgress != nil {
		onProgress(100)
	}

	zlog.Logger.Info().
		Str("unit", p.Unit.String()).
		Str("size", humanize.Bytes(uint64(len(data)))).
		Dur("took", time.Since(start)).
		Msg("unit encoded")

	return data, nil
}

// Close removes the workspace and everything left in it.
func (w *Workspace) Close() error {
	return os.RemoveAll(w.dir)
}
