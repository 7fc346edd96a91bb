package narration

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/loqalabs/textreel/internal/config"
	"github.com/loqalabs/textreel/internal/failure"
	"github.com/loqalabs/textreel/internal/media"
)

// Request asks for the narration of one text block.
type Request struct {
	JobID      string
	BlockIndex int
	Text       string
	Language   string
	// Dir is the job workspace; the WAV file is written there and owned by the caller.
	Dir string
}

// Synthesizer turns a text block into exactly one narration file.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (media.NarrationAsset, error)
}

// backend produces raw s16le PCM for a request.
type backend interface {
	pcm(ctx context.Context, req Request) ([]byte, error)
}

type synthesizer struct {
	backend    backend
	sampleRate int
	channels   int
	timeout    time.Duration
}

// New builds the synthesizer selected by cfg.Mode.
func New(cfg config.NarrationConfig) (Synthesizer, error) {
	var b backend
	switch cfg.Mode {
	case "", "mock":
		b = &mockBackend{sampleRate: cfg.SampleRate, channels: cfg.Channels}
	case "exec":
		eb, err := newExecBackend(cfg.Command, cfg.Voice, cfg.SampleRate, cfg.Channels)
		if err != nil {
			return nil, err
		}
		b = eb
	default:
		return nil, fmt.Errorf("unknown narration mode %q", cfg.Mode)
	}
	return &synthesizer{
		backend:    b,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		timeout:    time.Duration(cfg.TimeoutMS) * time.Millisecond,
	}, nil
}

// NewMock returns the silent synthesizer used by tests and dry runs.
func NewMock(sampleRate, channels int) Synthesizer {
	return &synthesizer{
		backend:    &mockBackend{sampleRate: sampleRate, channels: channels},
		sampleRate: sampleRate,
		channels:   channels,
	}
}

func (s *synthesizer) Synthesize(ctx context.Context, req Request) (media.NarrationAsset, error) {
	const op = "synthesize"
	if strings.TrimSpace(req.Text) == "" {
		return media.NarrationAsset{}, failure.Errorf(failure.SynthesisFailure, op, "block %d has no text", req.BlockIndex)
	}
	if !media.SupportedLanguage(req.Language) {
		return media.NarrationAsset{}, failure.Errorf(failure.SynthesisFailure, op, "unsupported language %q", req.Language)
	}
	if req.Dir == "" {
		return media.NarrationAsset{}, failure.New(failure.SynthesisFailure, op, errors.New("no workspace directory"))
	}

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	pcm, err := s.backend.pcm(callCtx, req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return media.NarrationAsset{}, failure.New(failure.Canceled, op, ctx.Err())
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return media.NarrationAsset{}, failure.Errorf(failure.SynthesisFailure, op, "block %d timed out after %s", req.BlockIndex, s.timeout)
		}
		return media.NarrationAsset{}, failure.Wrap(failure.SynthesisFailure, op, err)
	}

	frames := len(pcm) / 2 / s.channels
	if frames == 0 {
		return media.NarrationAsset{}, failure.Errorf(failure.SynthesisFailure, op, "block %d produced no audio", req.BlockIndex)
	}

	path := filepath.Join(req.Dir, fmt.Sprintf("narration-%03d.wav", req.BlockIndex))
	if err := WriteWAV(path, pcm, s.sampleRate, s.channels); err != nil {
		return media.NarrationAsset{}, failure.New(failure.SynthesisFailure, op, err)
	}

	return media.NarrationAsset{
		BlockIndex: req.BlockIndex,
		Path:       path,
		Duration:   float64(frames) / float64(s.sampleRate),
		SampleRate: s.sampleRate,
	}, nil
}
