package scene

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"

	"github.com/loqalabs/textreel/internal/config"
	"github.com/loqalabs/textreel/internal/failure"
	"github.com/loqalabs/textreel/internal/media"
)

type Options struct {
	Canvas       media.Canvas
	CaptionWidth int
	FadeSec      float64
	ZoomCeiling  float64
	Filler       media.Color
}

func DefaultOptions() Options {
	return Options{
		Canvas:       media.DefaultCanvas,
		CaptionWidth: 1200,
		FadeSec:      0.5,
		ZoomCeiling:  1.05,
		Filler:       media.Black,
	}
}

// OptionsFromConfig reads the caption and canvas settings of the render section.
func OptionsFromConfig(cfg config.RenderConfig) (Options, error) {
	opts := DefaultOptions()
	if cfg.Width > 0 && cfg.Height > 0 {
		opts.Canvas = media.Canvas{Width: cfg.Width, Height: cfg.Height}
	}
	if cfg.CaptionWidth > 0 {
		opts.CaptionWidth = cfg.CaptionWidth
	}
	if cfg.CaptionFadeSec > 0 {
		opts.FadeSec = cfg.CaptionFadeSec
	}
	if cfg.ZoomCeiling > 0 {
		opts.ZoomCeiling = cfg.ZoomCeiling
	}
	if cfg.FillerColor != "" {
		c, err := media.ParseColor(cfg.FillerColor)
		if err != nil {
			return Options{}, fmt.Errorf("render.filler_color: %s", failure.Cause(err))
		}
		opts.Filler = c
	}
	return opts, nil
}

// Builder combines one block, its narration and the shared background into a Scene.
type Builder struct {
	opts   Options
	fonts  FontLocator
	prober Prober
	logger *slog.Logger
}

func NewBuilder(opts Options, fonts FontLocator, prober Prober, log *slog.Logger) *Builder {
	return &Builder{
		opts:   opts,
		fonts:  fonts,
		prober: prober,
		logger: log.With(slog.String("component", "scene-builder")),
	}
}

func (b *Builder) Build(ctx context.Context, block media.TextBlock, narration media.NarrationAsset, bg media.BackgroundAsset, style media.StyleSpec) (Scene, error) {
	const op = "build scene"
	if err := ctx.Err(); err != nil {
		return Scene{}, failure.New(failure.Canceled, op, err)
	}
	if narration.BlockIndex != block.Index {
		return Scene{}, failure.Errorf(failure.SceneBuildFailure, op, "narration for block %d paired with block %d", narration.BlockIndex, block.Index)
	}
	if narration.Duration <= 0 {
		return Scene{}, failure.Errorf(failure.SceneBuildFailure, op, "block %d narration has no duration", block.Index)
	}
	if err := style.Validate(); err != nil {
		return Scene{}, failure.New(failure.SceneBuildFailure, op, fmt.Errorf("style: %s", failure.Cause(err)))
	}

	layer, err := b.background(ctx, bg, narration.Duration)
	if err != nil {
		if ctx.Err() != nil {
			return Scene{}, failure.New(failure.Canceled, op, ctx.Err())
		}
		return Scene{}, failure.New(failure.SceneBuildFailure, op, err)
	}

	fontFile, err := b.fonts.Locate(style.FontFamily)
	if err != nil {
		return Scene{}, failure.New(failure.SceneBuildFailure, op, err)
	}

	fade := fadeWindow(b.opts.FadeSec, narration.Duration)
	caption := CaptionLayer{
		Text:     block.Text,
		Lines:    WrapCaption(block.Text, style.FontSizePt, b.opts.CaptionWidth),
		FontFile: fontFile,
		Style:    style,
		MaxWidth: b.opts.CaptionWidth,
		FadeIn:   fade,
		FadeOut:  fade,
		ZoomFrom: 1.0,
		ZoomTo:   b.opts.ZoomCeiling,
	}

	b.logger.Debug("scene built",
		slog.Int("index", block.Index),
		slog.Float64("duration", narration.Duration),
		slog.String("background", layer.Kind.String()),
		slog.String("hold", layer.Hold.String()),
		slog.Int("caption_lines", len(caption.Lines)),
	)

	return Scene{
		Index:      block.Index,
		Text:       block.Text,
		Duration:   narration.Duration,
		Background: layer,
		Caption:    caption,
		Audio:      narration,
	}, nil
}

func (b *Builder) background(ctx context.Context, bg media.BackgroundAsset, duration float64) (BackgroundLayer, error) {
	layer := BackgroundLayer{Canvas: b.opts.Canvas, Fit: FitCover, Hold: HoldStatic}
	switch bg.Kind {
	case media.BackgroundNone:
		layer.Kind = LayerColor
		layer.Color = b.opts.Filler
		return layer, nil
	case media.BackgroundImage:
		if err := decodableImage(bg.Path); err != nil {
			return layer, err
		}
		layer.Kind = LayerImage
		layer.Source = bg.Path
		return layer, nil
	case media.BackgroundVideo:
		if b.prober == nil {
			return layer, errors.New("no prober configured for video backgrounds")
		}
		info, err := b.prober.Probe(ctx, bg.Path)
		if err != nil {
			return layer, fmt.Errorf("probe %s: %w", bg.Path, err)
		}
		if !info.HasVideo || info.Duration <= 0 {
			return layer, fmt.Errorf("%s has no decodable video stream", bg.Path)
		}
		layer.Kind = LayerVideo
		layer.Source = bg.Path
		layer.SourceDuration = info.Duration
		if info.Duration < duration {
			layer.Hold = HoldLastFrame
			layer.FreezeAt = info.Duration
		} else {
			layer.Hold = HoldTrim
		}
		return layer, nil
	}
	return layer, fmt.Errorf("unknown background kind %d", int(bg.Kind))
}

func decodableImage(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open background: %w", err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return fmt.Errorf("decode background %s: %w", path, err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return fmt.Errorf("background %s has no pixels", path)
	}
	return nil
}
