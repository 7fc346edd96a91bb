package scene

import (
	"context"

	"github.com/loqalabs/textreel/internal/media"
)

// LayerKind is the source of a background layer.
type LayerKind int

const (
	LayerColor LayerKind = iota
	LayerImage
	LayerVideo
)

func (k LayerKind) String() string {
	switch k {
	case LayerImage:
		return "image"
	case LayerVideo:
		return "video"
	}
	return "color"
}

// Hold says how a background covers the scene duration.
type Hold int

const (
	// HoldStatic shows one frame for the whole scene (images and color fillers).
	HoldStatic Hold = iota
	// HoldTrim cuts a clip that runs longer than the scene.
	HoldTrim
	// HoldLastFrame plays a short clip once and freezes on its last frame.
	HoldLastFrame
)

func (h Hold) String() string {
	switch h {
	case HoldTrim:
		return "trim"
	case HoldLastFrame:
		return "hold_last_frame"
	}
	return "static"
}

// FitCover scales the source until it covers the canvas, then center-crops.
const FitCover = "cover"

type BackgroundLayer struct {
	Kind   LayerKind
	Source string
	// Color fills the canvas when Kind is LayerColor.
	Color  media.Color
	Canvas media.Canvas
	Fit    string
	Hold   Hold
	// FreezeAt is the source offset after which the last frame is held.
	FreezeAt       float64
	SourceDuration float64
}

type CaptionLayer struct {
	Text     string
	Lines    []string
	FontFile string
	Style    media.StyleSpec
	MaxWidth int
	FadeIn   float64
	FadeOut  float64
	ZoomFrom float64
	ZoomTo   float64
}

// Scene is one narrated paragraph ready for stitching. Duration always equals
// the narration duration.
type Scene struct {
	Index      int
	Text       string
	Duration   float64
	Background BackgroundLayer
	Caption    CaptionLayer
	Audio      media.NarrationAsset
}

// Prober inspects a media file.
type Prober interface {
	Probe(ctx context.Context, path string) (media.StreamInfo, error)
}
