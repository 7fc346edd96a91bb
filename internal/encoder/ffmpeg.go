package encoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/textreel/internal/failure"
	"github.com/loqalabs/textreel/internal/timeline"
)

// FFmpeg encodes timelines with a single ffmpeg filter graph.
type FFmpeg struct {
	cmd     []string
	runner  Runner
	timeout time.Duration
	logger  *slog.Logger
}

func NewFFmpeg(command string, runner Runner, timeout time.Duration, log *slog.Logger) (*FFmpeg, error) {
	args, err := parseCommand(command)
	if err != nil {
		return nil, err
	}
	return &FFmpeg{
		cmd:     args,
		runner:  runner,
		timeout: timeout,
		logger:  log.With(slog.String("component", "ffmpeg-encoder")),
	}, nil
}

// Encode writes caption files next to outPath and runs ffmpeg. outPath must live
// in the job workspace; the caller moves it out on success.
func (f *FFmpeg) Encode(ctx context.Context, tl timeline.Timeline, profile Profile, outPath string) error {
	const op = "encode"
	workDir := filepath.Dir(outPath)
	plan, err := BuildPlan(tl, profile, workDir, outPath)
	if err != nil {
		return failure.New(failure.EncodingFailure, op, err)
	}
	for path, text := range plan.Captions {
		if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
			return failure.New(failure.EncodingFailure, op, fmt.Errorf("write caption: %w", err))
		}
	}

	runCtx := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	start := time.Now()
	args := append(append([]string{}, f.cmd[1:]...), plan.Args...)
	f.logger.Debug("running ffmpeg", slog.Int("scenes", len(tl.Entries)), slog.Float64("duration", tl.Duration))
	if _, err := f.runner.Run(runCtx, f.cmd[0], args...); err != nil {
		_ = os.Remove(outPath)
		if errors.Is(ctx.Err(), context.Canceled) {
			return failure.New(failure.Canceled, op, ctx.Err())
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return failure.Errorf(failure.EncodingFailure, op, "ffmpeg timed out after %s", f.timeout)
		}
		return failure.New(failure.EncodingFailure, op, err)
	}
	if info, err := os.Stat(outPath); err != nil || info.Size() == 0 {
		return failure.Errorf(failure.EncodingFailure, op, "ffmpeg produced no output at %s", outPath)
	}
	f.logger.Info("encode finished",
		slog.String("output", outPath),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}
