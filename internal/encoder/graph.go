package encoder

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/loqalabs/textreel/internal/media"
	"github.com/loqalabs/textreel/internal/scene"
	"github.com/loqalabs/textreel/internal/timeline"
)

// captionMargin keeps top and bottom captions off the frame edge.
const captionMargin = 40

// Plan is a complete ffmpeg invocation plus the caption files it reads.
type Plan struct {
	Args     []string
	Captions map[string]string
}

// BuildPlan lays out one ffmpeg call: one background and one narration input per
// scene, a per-scene filter chain, then an xfade/acrossfade join.
func BuildPlan(tl timeline.Timeline, p Profile, workDir, outPath string) (Plan, error) {
	if len(tl.Entries) == 0 {
		return Plan{}, errors.New("empty timeline")
	}
	if p.FPS <= 0 || p.Canvas.Width <= 0 || p.Canvas.Height <= 0 {
		return Plan{}, fmt.Errorf("invalid profile %+v", p)
	}

	n := len(tl.Entries)
	plan := Plan{Captions: make(map[string]string, n)}
	args := []string{"-hide_banner", "-loglevel", "error", "-y"}

	for _, e := range tl.Entries {
		args = append(args, backgroundInput(e.Scene, p)...)
	}
	for _, e := range tl.Entries {
		if e.Scene.Audio.Path == "" {
			return Plan{}, fmt.Errorf("scene %d has no narration", e.Scene.Index)
		}
		args = append(args, "-i", e.Scene.Audio.Path)
	}

	var chains []string
	for i, e := range tl.Entries {
		captionPath := filepath.Join(workDir, fmt.Sprintf("caption-%03d.txt", e.Scene.Index))
		plan.Captions[captionPath] = strings.Join(e.Scene.Caption.Lines, "\n")
		chains = append(chains, videoChain(i, e.Scene, p, captionPath))
		chains = append(chains, audioChain(n+i, i, e.Scene, p))
	}
	chains = append(chains, joinChains(tl)...)

	args = append(args,
		"-filter_complex", strings.Join(chains, ";"),
		"-map", "[vout]",
		"-map", "[aout]",
		"-c:v", p.VideoCodec,
		"-preset", p.Preset,
		"-pix_fmt", p.PixelFormat,
		"-r", strconv.Itoa(p.FPS),
		"-c:a", p.AudioCodec,
		"-b:a", "192k",
		"-t", seconds(tl.Duration),
		"-movflags", "+faststart",
		outPath,
	)
	plan.Args = args
	return plan, nil
}

func backgroundInput(s scene.Scene, p Profile) []string {
	d := seconds(s.Duration)
	switch s.Background.Kind {
	case scene.LayerImage:
		return []string{"-loop", "1", "-framerate", strconv.Itoa(p.FPS), "-t", d, "-i", s.Background.Source}
	case scene.LayerVideo:
		return []string{"-i", s.Background.Source}
	}
	src := fmt.Sprintf("color=c=%s:s=%dx%d:r=%d", s.Background.Color.Hex(), p.Canvas.Width, p.Canvas.Height, p.FPS)
	return []string{"-f", "lavfi", "-t", d, "-i", src}
}

func videoChain(input int, s scene.Scene, p Profile, captionPath string) string {
	d := s.Duration
	var filters []string
	if s.Background.Kind == scene.LayerVideo {
		switch s.Background.Hold {
		case scene.HoldLastFrame:
			filters = append(filters,
				"trim=duration="+seconds(s.Background.FreezeAt),
				"setpts=PTS-STARTPTS",
				"tpad=stop_mode=clone:stop_duration="+seconds(d-s.Background.FreezeAt),
			)
		default:
			// Padding covers a clip that ends early despite its probed length.
			filters = append(filters,
				"trim=duration="+seconds(d),
				"setpts=PTS-STARTPTS",
				"tpad=stop_mode=clone:stop_duration="+seconds(d),
			)
		}
	}
	w, h := p.Canvas.Width, p.Canvas.Height
	filters = append(filters,
		fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase", w, h),
		fmt.Sprintf("crop=%d:%d", w, h),
		"setsar=1",
		fmt.Sprintf("fps=%d", p.FPS),
		"format="+p.PixelFormat,
	)
	if len(s.Caption.Lines) > 0 {
		filters = append(filters, drawtext(s, captionPath))
	}
	filters = append(filters, "trim=duration="+seconds(d), "setpts=PTS-STARTPTS")
	return fmt.Sprintf("[%d:v]%s[v%d]", input, strings.Join(filters, ","), input)
}

func drawtext(s scene.Scene, captionPath string) string {
	c := s.Caption
	opts := []string{
		"fontfile=" + quote(c.FontFile),
		"textfile=" + quote(captionPath),
		"expansion=none",
		"fontcolor=" + c.Style.FontColor.Hex(),
		"fontsize=" + quote(zoomExpr(c, s.Duration)),
		"text_align=C",
		"line_spacing=" + strconv.Itoa(c.Style.FontSizePt/5),
		"x=(w-text_w)/2",
		"y=" + anchorY(c.Style.Anchor),
		"alpha=" + quote(alphaExpr(c, s.Duration)),
	}
	return "drawtext=" + strings.Join(opts, ":")
}

// zoomExpr grows the font linearly from ZoomFrom to ZoomTo across the scene.
func zoomExpr(c scene.CaptionLayer, d float64) string {
	size := float64(c.Style.FontSizePt)
	if c.ZoomTo == c.ZoomFrom || d <= 0 {
		return seconds(size * c.ZoomFrom)
	}
	return fmt.Sprintf("%s*(%s+%s*t/%s)", seconds(size), seconds(c.ZoomFrom), seconds(c.ZoomTo-c.ZoomFrom), seconds(d))
}

func alphaExpr(c scene.CaptionLayer, d float64) string {
	expr := "1"
	if c.FadeOut > 0 {
		expr = fmt.Sprintf("if(gt(t,%s),(%s-t)/%s,%s)", seconds(d-c.FadeOut), seconds(d), seconds(c.FadeOut), expr)
	}
	if c.FadeIn > 0 {
		expr = fmt.Sprintf("if(lt(t,%s),t/%s,%s)", seconds(c.FadeIn), seconds(c.FadeIn), expr)
	}
	return expr
}

func anchorY(a media.Anchor) string {
	switch a {
	case media.AnchorTop:
		return strconv.Itoa(captionMargin)
	case media.AnchorBottom:
		return fmt.Sprintf("h-text_h-%d", captionMargin)
	}
	return "(h-text_h)/2"
}

func audioChain(input, idx int, s scene.Scene, p Profile) string {
	return fmt.Sprintf("[%d:a]aresample=%d,aformat=sample_fmts=fltp:channel_layouts=stereo,apad,atrim=duration=%s,asetpts=PTS-STARTPTS[a%d]",
		input, p.AudioRate, seconds(s.Duration), idx)
}

func joinChains(tl timeline.Timeline) []string {
	n := len(tl.Entries)
	if n == 1 {
		return []string{"[v0]null[vout]", "[a0]anull[aout]"}
	}
	overlaps := tl.Overlaps()
	hard := true
	for _, o := range overlaps {
		if o > 0 {
			hard = false
			break
		}
	}
	if hard {
		var in strings.Builder
		for i := 0; i < n; i++ {
			fmt.Fprintf(&in, "[v%d][a%d]", i, i)
		}
		return []string{fmt.Sprintf("%sconcat=n=%d:v=1:a=1[vout][aout]", in.String(), n)}
	}

	var out []string
	prevV, prevA := "[v0]", "[a0]"
	for i := 1; i < n; i++ {
		nextV, nextA := fmt.Sprintf("[vx%d]", i), fmt.Sprintf("[ax%d]", i)
		if i == n-1 {
			nextV, nextA = "[vout]", "[aout]"
		}
		o := seconds(overlaps[i-1])
		out = append(out,
			fmt.Sprintf("%s[v%d]xfade=transition=fade:duration=%s:offset=%s%s", prevV, i, o, seconds(tl.Entries[i].Start), nextV),
			fmt.Sprintf("%s[a%d]acrossfade=d=%s:c1=tri:c2=tri%s", prevA, i, o, nextA),
		)
		prevV, prevA = nextV, nextA
	}
	return out
}

func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// quote protects a filter option value from both filtergraph parsing passes.
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, ":", `\:`)
	return "'" + s + "'"
}
