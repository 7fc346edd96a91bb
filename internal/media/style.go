package media

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/loqalabs/textreel/internal/failure"
)

const (
	MinFontSize     = 20
	MaxFontSize     = 100
	DefaultFontSize = 50
)

// Fonts is the whitelist of caption font families.
var Fonts = []string{"Arial", "Courier-New", "Helvetica", "Times-New-Roman"}

// Anchor positions the caption block on the canvas.
type Anchor string

const (
	AnchorTop    Anchor = "top-center"
	AnchorCenter Anchor = "center"
	AnchorBottom Anchor = "bottom-center"
)

// ParseAnchor accepts the canonical names plus the short forms top/bottom.
func ParseAnchor(s string) (Anchor, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "top-center", "top":
		return AnchorTop, nil
	case "center", "middle", "":
		return AnchorCenter, nil
	case "bottom-center", "bottom":
		return AnchorBottom, nil
	}
	return "", failure.Errorf(failure.InvalidInput, "parse anchor", "unsupported caption anchor %q", s)
}

// Color is an opaque RGB value.
type Color struct {
	R, G, B uint8
}

var (
	White = Color{255, 255, 255}
	Black = Color{0, 0, 0}
)

// Hex renders the color as ffmpeg accepts it (0xRRGGBB).
func (c Color) Hex() string {
	return fmt.Sprintf("0x%02X%02X%02X", c.R, c.G, c.B)
}

func (c Color) String() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

// ParseColor accepts #RRGGBB, #RGB, rgb(r,g,b) and r,g,b.
func ParseColor(s string) (Color, error) {
	v := strings.TrimSpace(strings.ToLower(s))
	if strings.HasPrefix(v, "#") {
		return parseHex(v[1:], s)
	}
	if strings.HasPrefix(v, "0x") {
		return parseHex(v[2:], s)
	}
	v = strings.TrimSuffix(strings.TrimPrefix(v, "rgb("), ")")
	parts := strings.Split(v, ",")
	if len(parts) != 3 {
		return Color{}, failure.Errorf(failure.InvalidInput, "parse color", "unrecognized color %q", s)
	}
	var rgb [3]uint8
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 255 {
			return Color{}, failure.Errorf(failure.InvalidInput, "parse color", "color component %q out of range", p)
		}
		rgb[i] = uint8(n)
	}
	return Color{rgb[0], rgb[1], rgb[2]}, nil
}

func parseHex(h, raw string) (Color, error) {
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return Color{}, failure.Errorf(failure.InvalidInput, "parse color", "unrecognized color %q", raw)
	}
	n, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return Color{}, failure.Errorf(failure.InvalidInput, "parse color", "unrecognized color %q", raw)
	}
	return Color{uint8(n >> 16), uint8(n >> 8), uint8(n)}, nil
}

// StyleSpec applies uniformly to every scene of one render.
type StyleSpec struct {
	FontFamily string `json:"font_family" yaml:"font_family"`
	FontSizePt int    `json:"font_size" yaml:"font_size"`
	FontColor  Color  `json:"-" yaml:"-"`
	Anchor     Anchor `json:"anchor" yaml:"anchor"`
}

func DefaultStyle() StyleSpec {
	return StyleSpec{
		FontFamily: "Arial",
		FontSizePt: DefaultFontSize,
		FontColor:  White,
		Anchor:     AnchorCenter,
	}
}

// NewStyle builds a style from loosely typed inputs, filling defaults for empty values.
func NewStyle(font string, size int, color, anchor string) (StyleSpec, error) {
	style := DefaultStyle()
	if font != "" {
		style.FontFamily = font
	}
	if size != 0 {
		style.FontSizePt = size
	}
	if color != "" {
		c, err := ParseColor(color)
		if err != nil {
			return StyleSpec{}, err
		}
		style.FontColor = c
	}
	a, err := ParseAnchor(anchor)
	if err != nil {
		return StyleSpec{}, err
	}
	style.Anchor = a
	return style, style.Validate()
}

func (s StyleSpec) Validate() error {
	if !SupportedFont(s.FontFamily) {
		return failure.Errorf(failure.InvalidInput, "validate style", "font %q is not one of %s", s.FontFamily, strings.Join(Fonts, ", "))
	}
	if s.FontSizePt < MinFontSize || s.FontSizePt > MaxFontSize {
		return failure.Errorf(failure.InvalidInput, "validate style", "font size %d outside %d-%d", s.FontSizePt, MinFontSize, MaxFontSize)
	}
	switch s.Anchor {
	case AnchorTop, AnchorCenter, AnchorBottom:
	default:
		return failure.Errorf(failure.InvalidInput, "validate style", "unsupported caption anchor %q", s.Anchor)
	}
	return nil
}

func SupportedFont(name string) bool {
	for _, f := range Fonts {
		if f == name {
			return true
		}
	}
	return false
}

// Languages maps supported narration language codes to display names.
var Languages = map[string]string{
	"de": "Deutsch",
	"en": "English",
	"fr": "Français",
	"es": "Español",
}

func SupportedLanguage(code string) bool {
	_, ok := Languages[code]
	return ok
}
