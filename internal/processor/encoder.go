package processor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/wb-go/wbf/zlog"
)

// Encoder is the external encoding engine. Implementations may wrap a
// native binary, a remote service or a test double.
type Encoder interface {
	// Init loads the engine. It is called once per process before the
	// first Run.
	Init(ctx context.Context) error
	// Probe returns the duration of a media file inside dir.
	Probe(ctx context.Context, dir, name string) (time.Duration, error)
	// Run executes one invocation with dir as the working namespace.
	// onProgress receives values in [0, 100].
	Run(ctx context.Context, dir string, args []string, total time.Duration, onProgress func(float64)) error
}

// FFmpeg runs the ffmpeg and ffprobe binaries as subprocesses.
type FFmpeg struct {
	binary      string
	probeBinary string

	path      string
	probePath string
}

// NewFFmpeg creates an FFmpeg encoder. Binaries are resolved through PATH
// during Init.
func NewFFmpeg(binary, probeBinary string) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	if probeBinary == "" {
		probeBinary = "ffprobe"
	}
	return &FFmpeg{binary: binary, probeBinary: probeBinary}
}

// Init resolves the binaries and checks that ffmpeg starts.
func (f *FFmpeg) Init(ctx context.Context) error {
	path, err := exec.LookPath(f.binary)
	if err != nil {
		return fmt.Errorf("failed to find %s: %w", f.binary, err)
	}

	out, err := exec.CommandContext(ctx, path, "-hide_banner", "-version").Output()
	if err != nil {
		return fmt.Errorf("failed to run %s -version: %w", path, err)
	}
	f.path = path

	// Without ffprobe progress is only reported at unit boundaries.
	if probePath, err := exec.LookPath(f.probeBinary); err == nil {
		f.probePath = probePath
	} else {
		zlog.Logger.Warn().Err(err).Msg("ffprobe not found, progress will be coarse")
	}

	version, _, _ := strings.Cut(string(out), "\n")
	zlog.Logger.Info().
		Str("path", path).
		Str("version", version).
		Msg("encoder initialized")

	return nil
}

// Probe reads the container duration with ffprobe.
func (f *FFmpeg) Probe(ctx context.Context, dir, name string) (time.Duration, error) {
	if f.probePath == "" {
		return 0, fmt.Errorf("ffprobe is not available")
	}

	cmd := exec.CommandContext(ctx, f.probePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		name,
	)
	cmd.Dir = dir

	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("failed to probe %s: %w", name, err)
	}

	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", out, err)
	}

	return time.Duration(secs * float64(time.Second)), nil
}

// Run executes ffmpeg with machine readable progress on stdout. stderr is
// captured for failure classification.
func (f *FFmpeg) Run(ctx context.Context, dir string, args []string, total time.Duration, onProgress func(float64)) error {
	if f.path == "" {
		return fmt.Errorf("encoder is not initialized")
	}

	full := make([]string, 0, len(args)+3)
	full = append(full, "-progress", "pipe:1", "-nostats")
	full = append(full, args...)

	cmd := exec.CommandContext(ctx, f.path, full...)
	cmd.Dir = dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	readProgress(stdout, total, onProgress)

	if err := cmd.Wait(); err != nil {
		return &ExecError{Stderr: stderr.String(), Err: err}
	}

	return nil
}

// readProgress consumes ffmpeg's key=value progress stream until EOF.
func readProgress(r io.Reader, total time.Duration, onProgress func(float64)) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok || onProgress == nil {
			continue
		}

		switch key {
		case "out_time_us", "out_time_ms": // both are microseconds
			if total <= 0 {
				continue
			}
			us, err := strconv.ParseInt(value, 10, 64)
			if err != nil || us < 0 {
				continue
			}
			pct := float64(time.Duration(us)*time.Microsecond) / float64(total) * 100
			if pct > 100 {
				pct = 100
			}
			onProgress(pct)
		case "progress":
			if value == "end" {
				onProgress(100)
			}
		}
	}
	// Drain so the process never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}
