package render

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/loqalabs/textreel/internal/access"
	"github.com/loqalabs/textreel/internal/config"
	"github.com/loqalabs/textreel/internal/encoder"
	"github.com/loqalabs/textreel/internal/failure"
	"github.com/loqalabs/textreel/internal/media"
	"github.com/loqalabs/textreel/internal/narration"
	"github.com/loqalabs/textreel/internal/scene"
	"github.com/loqalabs/textreel/internal/timeline"
)

// Job is one render request. The pipeline never mutates it.
type Job struct {
	ID          string
	Blocks      []media.TextBlock
	Style       media.StyleSpec
	Background  media.BackgroundAsset
	Language    string
	Entitlement access.Entitlement
	// Transition overrides the configured crossfade when set.
	Transition *float64
}

type Result struct {
	JobID      string
	OutputPath string
	Duration   float64
	Scenes     int
	Clamped    []string
	Elapsed    time.Duration
}

type Options struct {
	WorkDir         string
	OutputDir       string
	Parallelism     int
	StageBackground bool
	Transition      float64
	Profile         encoder.Profile
}

func OptionsFromConfig(cfg config.RenderConfig) Options {
	return Options{
		WorkDir:         cfg.WorkDir,
		OutputDir:       cfg.OutputDir,
		Parallelism:     cfg.SynthesisParallelism,
		StageBackground: cfg.StageBackground,
		Transition:      cfg.TransitionSec,
		Profile:         encoder.ProfileFromConfig(cfg),
	}
}

// SceneBuilder is satisfied by *scene.Builder.
type SceneBuilder interface {
	Build(ctx context.Context, block media.TextBlock, narration media.NarrationAsset, bg media.BackgroundAsset, style media.StyleSpec) (scene.Scene, error)
}

type Pipeline struct {
	opts     Options
	synth    narration.Synthesizer
	scenes   SceneBuilder
	encoder  encoder.Encoder
	observer Observer
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *metrics
}

func NewPipeline(opts Options, synth narration.Synthesizer, scenes SceneBuilder, enc encoder.Encoder, observer Observer, log *slog.Logger) *Pipeline {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	logger := log.With(slog.String("component", "render-pipeline"))
	obs := Observers{LogObserver{Logger: logger}}
	if observer != nil {
		obs = append(obs, observer)
	}
	return &Pipeline{
		opts:     opts,
		synth:    synth,
		scenes:   scenes,
		encoder:  enc,
		observer: obs,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		metrics:  newMetrics(logger),
	}
}

// NewJobID returns a fresh identifier for callers that do not supply one.
func NewJobID() string { return uuid.NewString() }

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// Render runs the job to completion. On failure the returned error carries exactly
// one failure.Kind, no output file exists and the workspace has been removed.
func (p *Pipeline) Render(ctx context.Context, job Job) (Result, error) {
	if job.ID == "" {
		job.ID = NewJobID()
	}
	started := time.Now()
	ctx, span := p.tracer.Start(ctx, "render.job", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.Int("job.blocks", len(job.Blocks)),
		attribute.String("job.language", job.Language),
	))
	defer span.End()

	res, err := p.run(ctx, job)
	if err != nil {
		kind := failure.KindOf(err)
		if kind == "" {
			kind = failure.EncodingFailure
			err = failure.New(kind, "render", err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		p.emit(ctx, job, Event{State: Failed, Kind: kind, Detail: failure.Cause(err)})
		p.metrics.job(ctx, string(kind))
		return Result{JobID: job.ID}, err
	}

	res.Elapsed = time.Since(started)
	p.emit(ctx, job, Event{State: Done, OutputPath: res.OutputPath, Detail: fmt.Sprintf("%.3fs, %d scenes", res.Duration, res.Scenes)})
	p.metrics.job(ctx, string(Done))
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, job Job) (Result, error) {
	if err := p.stage(ctx, job, Validating, func(context.Context) error { return p.validate(job) }); err != nil {
		return Result{}, err
	}

	ws, err := NewWorkspace(p.opts.WorkDir, job.ID)
	if err != nil {
		return Result{}, failure.Wrap(failure.SynthesisFailure, "workspace", err)
	}
	defer p.cleanup(ctx, job, ws)

	bg := job.Background
	if p.opts.StageBackground {
		if bg, err = ws.Stage(bg); err != nil {
			return Result{}, failure.New(failure.SceneBuildFailure, "stage", err)
		}
	}

	var narrations []media.NarrationAsset
	if err := p.stage(ctx, job, Synthesizing, func(ctx context.Context) error {
		narrations, err = p.synthesize(ctx, job, ws)
		return err
	}); err != nil {
		return Result{}, err
	}

	var scenes []scene.Scene
	if err := p.stage(ctx, job, Composing, func(ctx context.Context) error {
		scenes, err = p.compose(ctx, job, narrations, bg)
		return err
	}); err != nil {
		return Result{}, err
	}

	transition := p.opts.Transition
	if job.Transition != nil {
		transition = *job.Transition
	}
	var tl timeline.Timeline
	if err := p.stage(ctx, job, Stitching, func(context.Context) error {
		tl, err = timeline.Stitcher{Transition: transition}.Stitch(scenes)
		return err
	}); err != nil {
		return Result{}, err
	}
	var clamped []string
	for _, c := range tl.Clamped {
		clamped = append(clamped, c.String())
		p.logger.Warn("transition clamped", slog.String("job_id", job.ID), slog.String("detail", c.String()))
	}

	var output string
	if err := p.stage(ctx, job, Encoding, func(ctx context.Context) error {
		rendered := ws.Path("render.mp4")
		if err := p.encoder.Encode(ctx, tl, p.opts.Profile, rendered); err != nil {
			return failure.Wrap(failure.EncodingFailure, "encode", err)
		}
		output, err = p.publish(job.ID, rendered)
		return err
	}); err != nil {
		return Result{}, err
	}

	return Result{
		JobID:      job.ID,
		OutputPath: output,
		Duration:   tl.Duration,
		Scenes:     len(scenes),
		Clamped:    clamped,
	}, nil
}

// stage runs fn as one state of the machine, with a span and a duration sample.
func (p *Pipeline) stage(ctx context.Context, job Job, state State, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return failure.New(failure.Canceled, string(state), err)
	}
	p.emit(ctx, job, Event{State: state})
	stageCtx, span := p.tracer.Start(ctx, "render."+string(state))
	defer span.End()

	start := time.Now()
	err := fn(stageCtx)
	p.metrics.stage(ctx, state, time.Since(start))
	if err != nil {
		if ctx.Err() != nil && failure.KindOf(err) != failure.InvalidInput {
			err = failure.New(failure.Canceled, string(state), ctx.Err())
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (p *Pipeline) validate(job Job) error {
	const op = "validate"
	if !jobIDPattern.MatchString(job.ID) {
		return failure.Errorf(failure.InvalidInput, op, "job id %q is not a safe identifier", job.ID)
	}
	if err := job.Entitlement.Require(); err != nil {
		return failure.Wrap(failure.InvalidInput, op, err)
	}
	if err := media.ValidateBlocks(job.Blocks); err != nil {
		return failure.Wrap(failure.InvalidInput, op, err)
	}
	if err := job.Style.Validate(); err != nil {
		return failure.Wrap(failure.InvalidInput, op, err)
	}
	if !media.SupportedLanguage(job.Language) {
		return failure.Errorf(failure.InvalidInput, op, "unsupported language %q", job.Language)
	}
	if err := job.Background.Validate(); err != nil {
		return failure.Wrap(failure.InvalidInput, op, err)
	}
	if _, err := os.Stat(p.outputPath(job.ID)); err == nil {
		return failure.Errorf(failure.InvalidInput, op, "job id %q already has a published video", job.ID)
	}
	if !job.Background.IsNone() {
		info, err := os.Stat(job.Background.Path)
		if err != nil {
			return failure.Errorf(failure.InvalidInput, op, "background %s: %v", job.Background.Path, err)
		}
		if info.IsDir() {
			return failure.Errorf(failure.InvalidInput, op, "background %s is a directory", job.Background.Path)
		}
	}
	return nil
}

func (p *Pipeline) synthesize(ctx context.Context, job Job, ws *Workspace) ([]media.NarrationAsset, error) {
	out := make([]media.NarrationAsset, len(job.Blocks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Parallelism)
	for i, block := range job.Blocks {
		g.Go(func() error {
			asset, err := p.synth.Synthesize(gctx, narration.Request{
				JobID:      job.ID,
				BlockIndex: block.Index,
				Text:       block.Text,
				Language:   job.Language,
				Dir:        ws.Dir(),
			})
			if err != nil {
				return err
			}
			out[i] = asset
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, failure.Wrap(failure.SynthesisFailure, "synthesize", err)
	}
	return out, nil
}

func (p *Pipeline) compose(ctx context.Context, job Job, narrations []media.NarrationAsset, bg media.BackgroundAsset) ([]scene.Scene, error) {
	scenes := make([]scene.Scene, 0, len(job.Blocks))
	for i, block := range job.Blocks {
		sc, err := p.scenes.Build(ctx, block, narrations[i], bg, job.Style)
		if err != nil {
			return nil, failure.Wrap(failure.SceneBuildFailure, "compose", err)
		}
		scenes = append(scenes, sc)
	}
	return scenes, nil
}

func (p *Pipeline) publish(jobID, rendered string) (string, error) {
	if err := os.MkdirAll(p.opts.OutputDir, 0o755); err != nil {
		return "", failure.New(failure.EncodingFailure, "publish", err)
	}
	dst := p.outputPath(jobID)
	// Another job with the same id may have published while this one ran.
	if _, err := os.Lstat(dst); err == nil {
		return "", failure.Errorf(failure.InvalidInput, "publish", "%s already exists", dst)
	}
	if err := moveFile(rendered, dst); err != nil {
		return "", failure.New(failure.EncodingFailure, "publish", err)
	}
	return dst, nil
}

func (p *Pipeline) outputPath(jobID string) string {
	return filepath.Join(p.opts.OutputDir, jobID+".mp4")
}

func (p *Pipeline) cleanup(ctx context.Context, job Job, ws *Workspace) {
	p.emit(ctx, job, Event{State: Cleanup})
	if err := ws.Close(); err != nil {
		p.logger.Error("workspace cleanup failed", slog.String("job_id", job.ID), slogError(err))
		p.emit(ctx, job, Event{State: Cleanup, Kind: failure.ResourceCleanupFailure, Detail: failure.Cause(err)})
	}
}

// emit detaches from cancellation so a canceled job still records its outcome.
func (p *Pipeline) emit(ctx context.Context, job Job, evt Event) {
	evt.JobID = job.ID
	evt.UserID = job.Entitlement.UserID
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	p.observer.Observe(context.WithoutCancel(ctx), evt)
}
