package encoder

import (
	"context"

	"github.com/loqalabs/textreel/internal/config"
	"github.com/loqalabs/textreel/internal/media"
	"github.com/loqalabs/textreel/internal/timeline"
)

// Profile is the single output format every render uses.
type Profile struct {
	Canvas      media.Canvas
	FPS         int
	VideoCodec  string
	AudioCodec  string
	PixelFormat string
	Preset      string
	AudioRate   int
}

func DefaultProfile() Profile {
	return Profile{
		Canvas:      media.DefaultCanvas,
		FPS:         24,
		VideoCodec:  "libx264",
		AudioCodec:  "aac",
		PixelFormat: "yuv420p",
		Preset:      "medium",
		AudioRate:   44100,
	}
}

func ProfileFromConfig(cfg config.RenderConfig) Profile {
	p := DefaultProfile()
	p.Canvas = media.Canvas{Width: cfg.Width, Height: cfg.Height}
	p.FPS = cfg.FPS
	p.VideoCodec = cfg.VideoCodec
	p.AudioCodec = cfg.AudioCodec
	if cfg.PixelFormat != "" {
		p.PixelFormat = cfg.PixelFormat
	}
	if cfg.Preset != "" {
		p.Preset = cfg.Preset
	}
	return p
}

// Encoder renders a timeline into one audio/video file at outPath.
type Encoder interface {
	Encode(ctx context.Context, tl timeline.Timeline, profile Profile, outPath string) error
}
