package runtime

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/textreel/internal/config"
	"github.com/loqalabs/textreel/internal/encoder"
	"github.com/loqalabs/textreel/internal/narration"
	"github.com/loqalabs/textreel/internal/render"
	"github.com/loqalabs/textreel/internal/scene"
)

// BuildPipeline assembles the render pipeline from config. The daemon and the
// CLI share it so both render the same way.
func BuildPipeline(cfg config.Config, observer render.Observer, logger *slog.Logger) (*render.Pipeline, error) {
	synth, err := narration.New(cfg.Narration)
	if err != nil {
		return nil, fmt.Errorf("narration: %w", err)
	}

	runner := encoder.NewRunner()
	probe, err := encoder.NewFFprobe(cfg.Render.FFprobeCommand, runner)
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}
	ffmpeg, err := encoder.NewFFmpeg(cfg.Render.FFmpegCommand, runner, time.Duration(cfg.Render.EncodeTimeoutMS)*time.Millisecond, logger)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: %w", err)
	}

	sceneOpts, err := scene.OptionsFromConfig(cfg.Render)
	if err != nil {
		return nil, err
	}
	builder := scene.NewBuilder(sceneOpts, scene.DirFontLocator{Dir: cfg.Render.FontDir}, probe, logger)

	logger.Info("render pipeline configured",
		slog.String("narration_mode", cfg.Narration.Mode),
		slog.String("output_dir", cfg.Render.OutputDir),
		slog.Float64("transition_sec", cfg.Render.TransitionSec),
		slog.Int("synthesis_parallelism", cfg.Render.SynthesisParallelism))

	return render.NewPipeline(render.OptionsFromConfig(cfg.Render), synth, builder, ffmpeg, observer, logger), nil
}
