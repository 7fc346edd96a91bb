package encoder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/textreel/internal/failure"
	"github.com/loqalabs/textreel/internal/media"
	"github.com/loqalabs/textreel/internal/scene"
	"github.com/loqalabs/textreel/internal/timeline"
)

type fakeRunner struct {
	out   string
	err   error
	calls [][]string
	// write creates the last argument as a file, standing in for ffmpeg output.
	write bool
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.err != nil {
		return "", f.err
	}
	if f.write {
		if err := os.WriteFile(args[len(args)-1], []byte("mp4"), 0o644); err != nil {
			return "", err
		}
	}
	return f.out, nil
}

func testScene(i int, d float64, bg scene.BackgroundLayer) scene.Scene {
	return scene.Scene{
		Index:      i,
		Text:       "caption",
		Duration:   d,
		Background: bg,
		Caption: scene.CaptionLayer{
			Lines:    []string{"caption"},
			FontFile: "/fonts/Arial.ttf",
			Style:    media.DefaultStyle(),
			FadeIn:   0.5,
			FadeOut:  0.5,
			ZoomFrom: 1,
			ZoomTo:   1.05,
		},
		Audio: media.NarrationAsset{BlockIndex: i, Path: filepath.Join("/work", "narration.wav"), Duration: d},
	}
}

func colorLayer() scene.BackgroundLayer {
	return scene.BackgroundLayer{Kind: scene.LayerColor, Color: media.Black, Canvas: media.DefaultCanvas, Fit: scene.FitCover}
}

func stitch(t *testing.T, transition float64, scenes ...scene.Scene) timeline.Timeline {
	t.Helper()
	tl, err := timeline.Stitcher{Transition: transition}.Stitch(scenes)
	if err != nil {
		t.Fatalf("stitch: %v", err)
	}
	return tl
}

func TestBuildPlanCrossfades(t *testing.T) {
	tl := stitch(t, 1, testScene(0, 2.3, colorLayer()), testScene(1, 3.1, colorLayer()))
	plan, err := BuildPlan(tl, DefaultProfile(), "/work", "/work/out.mp4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	joined := strings.Join(plan.Args, " ")
	if strings.Count(joined, "-i ") != 4 {
		t.Fatalf("expected 2 background + 2 narration inputs: %s", joined)
	}
	for _, want := range []string{
		"color=c=0x000000:s=1280x720:r=24",
		"xfade=transition=fade:duration=1.000:offset=1.300[vout]",
		"acrossfade=d=1.000",
		"-c:v libx264",
		"-c:a aac",
		"-pix_fmt yuv420p",
		"-r 24",
		"-t 4.400",
		"alpha='if(lt(t,0.500),t/0.500,if(gt(t,1.800),(2.300-t)/0.500,1))'",
		"fontsize='50.000*(1.000+0.050*t/2.300)'",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q in %s", want, joined)
		}
	}
	if len(plan.Captions) != 2 {
		t.Fatalf("expected two caption files, got %d", len(plan.Captions))
	}
	if plan.Args[len(plan.Args)-1] != "/work/out.mp4" {
		t.Fatalf("expected output path last")
	}
}

func TestBuildPlanHardCuts(t *testing.T) {
	tl := stitch(t, 0, testScene(0, 1, colorLayer()), testScene(1, 1, colorLayer()), testScene(2, 1, colorLayer()))
	plan, err := BuildPlan(tl, DefaultProfile(), "/work", "/work/out.mp4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	joined := strings.Join(plan.Args, " ")
	if !strings.Contains(joined, "[v0][a0][v1][a1][v2][a2]concat=n=3:v=1:a=1[vout][aout]") {
		t.Fatalf("expected concat join: %s", joined)
	}
	if strings.Contains(joined, "xfade") {
		t.Fatalf("unexpected xfade for hard cuts")
	}
}

func TestBuildPlanBackgroundHolds(t *testing.T) {
	held := scene.BackgroundLayer{Kind: scene.LayerVideo, Source: "/bg/clip.mp4", Canvas: media.DefaultCanvas, Hold: scene.HoldLastFrame, FreezeAt: 1}
	image := scene.BackgroundLayer{Kind: scene.LayerImage, Source: "/bg/still.png", Canvas: media.DefaultCanvas}
	tl := stitch(t, 1, testScene(0, 4, held), testScene(1, 3, image))
	plan, err := BuildPlan(tl, DefaultProfile(), "/work", "/work/out.mp4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	joined := strings.Join(plan.Args, " ")
	for _, want := range []string{
		"trim=duration=1.000,setpts=PTS-STARTPTS,tpad=stop_mode=clone:stop_duration=3.000",
		"-loop 1 -framerate 24 -t 3.000 -i /bg/still.png",
		"scale=1280:720:force_original_aspect_ratio=increase,crop=1280:720",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q in %s", want, joined)
		}
	}
}

func TestBuildPlanPadsTrimmedVideo(t *testing.T) {
	trimmed := scene.BackgroundLayer{Kind: scene.LayerVideo, Source: "/bg/long.mp4", Canvas: media.DefaultCanvas, Hold: scene.HoldTrim, SourceDuration: 4.2}
	tl := stitch(t, 0, testScene(0, 4, trimmed))
	plan, err := BuildPlan(tl, DefaultProfile(), "/work", "/work/out.mp4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	joined := strings.Join(plan.Args, " ")
	want := "[0:v]trim=duration=4.000,setpts=PTS-STARTPTS,tpad=stop_mode=clone:stop_duration=4.000,scale="
	if !strings.Contains(joined, want) {
		t.Fatalf("expected %q in %s", want, joined)
	}
}

func TestBuildPlanSingleScene(t *testing.T) {
	tl := stitch(t, 1, testScene(0, 2, colorLayer()))
	plan, err := BuildPlan(tl, DefaultProfile(), "/work", "/work/out.mp4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	joined := strings.Join(plan.Args, " ")
	if !strings.Contains(joined, "[v0]null[vout]") || !strings.Contains(joined, "[a0]anull[aout]") {
		t.Fatalf("expected passthrough join: %s", joined)
	}
}

func TestAnchorY(t *testing.T) {
	if anchorY(media.AnchorTop) != "40" || anchorY(media.AnchorBottom) != "h-text_h-40" || anchorY(media.AnchorCenter) != "(h-text_h)/2" {
		t.Fatalf("unexpected anchor expressions")
	}
}

func TestFFmpegEncode(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{write: true}
	enc, err := NewFFmpeg("ffmpeg -nostdin", runner, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	tl := stitch(t, 1, testScene(0, 2, colorLayer()), testScene(1, 2, colorLayer()))
	out := filepath.Join(dir, "out.mp4")
	if err := enc.Encode(context.Background(), tl, DefaultProfile(), out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runner.calls) != 1 || runner.calls[0][0] != "ffmpeg" || runner.calls[0][1] != "-nostdin" {
		t.Fatalf("unexpected invocation %v", runner.calls)
	}
	data, err := os.ReadFile(filepath.Join(dir, "caption-000.txt"))
	if err != nil || string(data) != "caption" {
		t.Fatalf("expected caption file, got %q %v", data, err)
	}
}

func TestFFmpegEncodeFailure(t *testing.T) {
	dir := t.TempDir()
	enc, err := NewFFmpeg("ffmpeg", &fakeRunner{err: errors.New("exit status 1")}, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	tl := stitch(t, 1, testScene(0, 2, colorLayer()))
	out := filepath.Join(dir, "out.mp4")
	err = enc.Encode(context.Background(), tl, DefaultProfile(), out)
	if !errors.Is(err, failure.EncodingFailure) {
		t.Fatalf("expected encoding failure, got %v", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatalf("expected no output file")
	}
}

func TestFFprobe(t *testing.T) {
	runner := &fakeRunner{out: `{"streams":[{"codec_type":"audio"},{"codec_type":"video","width":640,"height":360,"duration":"1.000000"}],"format":{"duration":"1.040000"}}`}
	probe, err := NewFFprobe("ffprobe", runner)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	info, err := probe.Probe(context.Background(), "clip.mp4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !info.HasVideo || info.Width != 640 || info.Height != 360 || info.Duration != 1 {
		t.Fatalf("unexpected info %+v", info)
	}

	// Audio outlasting the video must not stretch the clip length.
	info, err = parseProbe([]byte(`{"streams":[{"codec_type":"video","width":640,"height":360,"duration":"1.000"},{"codec_type":"audio","duration":"4.200"}],"format":{"duration":"4.200"}}`))
	if err != nil || info.Duration != 1 {
		t.Fatalf("expected video stream duration, got %+v %v", info, err)
	}
	info, err = parseProbe([]byte(`{"streams":[{"codec_type":"video","width":640,"height":360}],"format":{"duration":"2.500"}}`))
	if err != nil || info.Duration != 2.5 {
		t.Fatalf("expected container duration fallback, got %+v %v", info, err)
	}

	info, err = parseProbe([]byte(`{"streams":[{"codec_type":"audio"}],"format":{"duration":"N/A"}}`))
	if err != nil || info.HasVideo || info.Duration != 0 {
		t.Fatalf("expected audio-only result, got %+v %v", info, err)
	}
	if _, err := parseProbe([]byte("garbage")); err == nil {
		t.Fatal("expected decode error")
	}
}
