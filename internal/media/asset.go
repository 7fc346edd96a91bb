package media

import (
	"path/filepath"
	"strings"

	"github.com/loqalabs/textreel/internal/failure"
)

// BackgroundKind tags the BackgroundAsset variant.
type BackgroundKind int

const (
	BackgroundNone BackgroundKind = iota
	BackgroundImage
	BackgroundVideo
)

func (k BackgroundKind) String() string {
	switch k {
	case BackgroundImage:
		return "image"
	case BackgroundVideo:
		return "video"
	}
	return "none"
}

// BackgroundAsset is either an image, a video clip or nothing. The core reads it
// but never mutates it.
type BackgroundAsset struct {
	Kind BackgroundKind
	Path string
}

var NoBackground = BackgroundAsset{}

func ImageBackground(path string) BackgroundAsset {
	return BackgroundAsset{Kind: BackgroundImage, Path: path}
}

func VideoBackground(path string) BackgroundAsset {
	return BackgroundAsset{Kind: BackgroundVideo, Path: path}
}

func (b BackgroundAsset) IsNone() bool { return b.Kind == BackgroundNone }

var (
	imageExts = []string{".png", ".jpg", ".jpeg"}
	videoExts = []string{".mp4", ".mov", ".webm", ".mkv"}
)

// ResolveBackground picks the variant once, from the file extension.
func ResolveBackground(path string) (BackgroundAsset, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return NoBackground, nil
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range imageExts {
		if ext == e {
			return ImageBackground(path), nil
		}
	}
	for _, e := range videoExts {
		if ext == e {
			return VideoBackground(path), nil
		}
	}
	return NoBackground, failure.Errorf(failure.InvalidInput, "resolve background", "unsupported background file type %q", ext)
}

// Validate checks the variant is consistent with its path.
func (b BackgroundAsset) Validate() error {
	switch b.Kind {
	case BackgroundNone:
		return nil
	case BackgroundImage, BackgroundVideo:
		if strings.TrimSpace(b.Path) == "" {
			return failure.Errorf(failure.InvalidInput, "validate background", "%s background without a path", b.Kind)
		}
		return nil
	}
	return failure.Errorf(failure.InvalidInput, "validate background", "unknown background kind %d", int(b.Kind))
}

// NarrationAsset is the synthesized speech for exactly one TextBlock.
type NarrationAsset struct {
	BlockIndex int
	Path       string
	Duration   float64
	SampleRate int
}

// Canvas is the fixed output frame size.
type Canvas struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

var DefaultCanvas = Canvas{Width: 1280, Height: 720}

// StreamInfo is what probing a background file reports.
type StreamInfo struct {
	Duration float64
	Width    int
	Height   int
	HasVideo bool
}
