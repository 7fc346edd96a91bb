package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/textreel/internal/access"
	"github.com/loqalabs/textreel/internal/config"
	"github.com/loqalabs/textreel/internal/encoder"
	"github.com/loqalabs/textreel/internal/eventstore"
	"github.com/loqalabs/textreel/internal/failure"
	"github.com/loqalabs/textreel/internal/media"
	"github.com/loqalabs/textreel/internal/narration"
	"github.com/loqalabs/textreel/internal/scene"
	"github.com/loqalabs/textreel/internal/timeline"
)

type fakeSynth struct {
	durations map[int]float64
	failAt    int
	hook      func(req narration.Request)
	delay     func(index int) time.Duration
}

func (f *fakeSynth) Synthesize(ctx context.Context, req narration.Request) (media.NarrationAsset, error) {
	if f.hook != nil {
		f.hook(req)
	}
	if f.delay != nil {
		select {
		case <-time.After(f.delay(req.BlockIndex)):
		case <-ctx.Done():
			return media.NarrationAsset{}, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return media.NarrationAsset{}, err
	}
	if f.failAt >= 0 && req.BlockIndex == f.failAt {
		return media.NarrationAsset{}, failure.Errorf(failure.SynthesisFailure, "fake", "engine unavailable")
	}
	path := filepath.Join(req.Dir, fmt.Sprintf("narration-%03d.wav", req.BlockIndex))
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		return media.NarrationAsset{}, err
	}
	d, ok := f.durations[req.BlockIndex]
	if !ok {
		d = 1
	}
	return media.NarrationAsset{BlockIndex: req.BlockIndex, Path: path, Duration: d, SampleRate: 16000}, nil
}

type fakeEncoder struct {
	err error
	tl  timeline.Timeline
}

func (f *fakeEncoder) Encode(_ context.Context, tl timeline.Timeline, _ encoder.Profile, outPath string) error {
	f.tl = tl
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(outPath, []byte("mp4"), 0o644)
}

type recorder struct {
	mu     sync.Mutex
	states []State
	events []Event
}

func (r *recorder) Observe(_ context.Context, evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, evt.State)
	r.events = append(r.events, evt)
}

type harness struct {
	pipeline *Pipeline
	synth    *fakeSynth
	encoder  *fakeEncoder
	rec      *recorder
	workDir  string
	outDir   string
}

func newHarness(t *testing.T, parallelism int, observers ...Observer) *harness {
	t.Helper()
	root := t.TempDir()
	fonts := filepath.Join(root, "fonts")
	if err := os.MkdirAll(fonts, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(fonts, "Arial.ttf"), []byte("font"), 0o644); err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		synth:   &fakeSynth{failAt: -1, durations: map[int]float64{}},
		encoder: &fakeEncoder{},
		rec:     &recorder{},
		workDir: filepath.Join(root, "work"),
		outDir:  filepath.Join(root, "out"),
	}
	opts := Options{
		WorkDir:     h.workDir,
		OutputDir:   h.outDir,
		Parallelism: parallelism,
		Transition:  1,
		Profile:     encoder.DefaultProfile(),
	}
	builder := scene.NewBuilder(scene.DefaultOptions(), scene.DirFontLocator{Dir: fonts}, nil, logger)
	h.pipeline = NewPipeline(opts, h.synth, builder, h.encoder, Observers(append([]Observer{h.rec}, observers...)), logger)
	return h
}

func newJob(texts ...string) Job {
	blocks := make([]media.TextBlock, len(texts))
	for i, text := range texts {
		blocks[i] = media.TextBlock{Index: i, Text: text}
	}
	return Job{
		ID:          NewJobID(),
		Blocks:      blocks,
		Style:       media.DefaultStyle(),
		Background:  media.NoBackground,
		Language:    "en",
		Entitlement: access.Granted("user-1"),
	}
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("read %s: %v", dir, err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected %s to be empty, found %d entries", dir, len(entries))
	}
}

func TestRenderTwoScenes(t *testing.T) {
	h := newHarness(t, 1)
	h.synth.durations = map[int]float64{0: 2.3, 1: 3.1}
	job := newJob("Hello world.", "This is scene two.")

	res, err := h.pipeline.Render(context.Background(), job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(res.Duration-4.4) > 1e-9 {
		t.Fatalf("expected 4.4s, got %v", res.Duration)
	}
	if res.Scenes != 2 {
		t.Fatalf("expected 2 scenes, got %d", res.Scenes)
	}
	if res.OutputPath != filepath.Join(h.outDir, job.ID+".mp4") {
		t.Fatalf("unexpected output path %s", res.OutputPath)
	}
	if _, err := os.Stat(res.OutputPath); err != nil {
		t.Fatalf("expected output file: %v", err)
	}
	entries := h.encoder.tl.Entries
	if entries[0].Scene.Caption.Text != "Hello world." || entries[1].Scene.Caption.Text != "This is scene two." {
		t.Fatalf("captions out of order: %+v", entries)
	}
	assertEmptyDir(t, h.workDir)

	want := []State{Validating, Synthesizing, Composing, Stitching, Encoding, Cleanup, Done}
	if fmt.Sprint(h.rec.states) != fmt.Sprint(want) {
		t.Fatalf("expected transitions %v, got %v", want, h.rec.states)
	}
}

func TestRenderSingleScene(t *testing.T) {
	h := newHarness(t, 1)
	h.synth.durations = map[int]float64{0: 3.7}
	res, err := h.pipeline.Render(context.Background(), newJob("Only one."))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Duration != 3.7 {
		t.Fatalf("expected scene duration, got %v", res.Duration)
	}
}

func TestRenderWhitespaceInputCreatesNothing(t *testing.T) {
	h := newHarness(t, 1)
	job := newJob("   ")
	_, err := h.pipeline.Render(context.Background(), job)
	if !errors.Is(err, failure.InvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := os.Stat(h.workDir); !os.IsNotExist(err) {
		t.Fatalf("expected no workspace root to be created")
	}
	if fmt.Sprint(h.rec.states) != fmt.Sprint([]State{Validating, Failed}) {
		t.Fatalf("unexpected transitions %v", h.rec.states)
	}
}

func TestRenderValidation(t *testing.T) {
	cases := map[string]func(*Job){
		"inactive subscription": func(j *Job) { j.Entitlement = access.Entitlement{UserID: "u", Active: false} },
		"unsupported language":  func(j *Job) { j.Language = "it" },
		"bad style":             func(j *Job) { j.Style.FontSizePt = 200 },
		"missing background":    func(j *Job) { j.Background = media.ImageBackground("/does/not/exist.png") },
		"unsafe job id":         func(j *Job) { j.ID = "../escape" },
	}
	for name, mutate := range cases {
		h := newHarness(t, 1)
		job := newJob("Hello.")
		mutate(&job)
		if _, err := h.pipeline.Render(context.Background(), job); !errors.Is(err, failure.InvalidInput) {
			t.Fatalf("%s: expected invalid input, got %v", name, err)
		}
	}
}

func TestRenderEncodingFailureRemovesEverything(t *testing.T) {
	h := newHarness(t, 2)
	var narrationPaths []string
	var mu sync.Mutex
	h.synth.hook = func(req narration.Request) {
		mu.Lock()
		narrationPaths = append(narrationPaths, filepath.Join(req.Dir, fmt.Sprintf("narration-%03d.wav", req.BlockIndex)))
		mu.Unlock()
	}
	h.encoder.err = failure.Errorf(failure.EncodingFailure, "ffmpeg", "exit status 1")

	_, err := h.pipeline.Render(context.Background(), newJob("One.", "Two.", "Three."))
	if !errors.Is(err, failure.EncodingFailure) {
		t.Fatalf("expected encoding failure, got %v", err)
	}
	for _, p := range narrationPaths {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("expected narration %s deleted", p)
		}
	}
	assertEmptyDir(t, h.workDir)
	assertEmptyDir(t, h.outDir)
	last := h.rec.events[len(h.rec.events)-1]
	if last.State != Failed || last.Kind != failure.EncodingFailure {
		t.Fatalf("expected failed event with encoding kind, got %+v", last)
	}
}

func TestRenderCleanupFailureKeepsOutcome(t *testing.T) {
	removeAll = func(string) error { return errors.New("device busy") }
	t.Cleanup(func() { removeAll = os.RemoveAll })

	cleanupFailed := func(h *harness) bool {
		h.rec.mu.Lock()
		defer h.rec.mu.Unlock()
		for _, evt := range h.rec.events {
			if evt.State == Cleanup && evt.Kind == failure.ResourceCleanupFailure && evt.Detail != "" {
				return true
			}
		}
		return false
	}

	h := newHarness(t, 1)
	res, err := h.pipeline.Render(context.Background(), newJob("One.", "Two."))
	if err != nil {
		t.Fatalf("cleanup failure must not fail the render: %v", err)
	}
	if _, err := os.Stat(res.OutputPath); err != nil {
		t.Fatalf("expected published output: %v", err)
	}
	if !cleanupFailed(h) {
		t.Fatalf("expected cleanup failure event, got %+v", h.rec.events)
	}
	if last := h.rec.events[len(h.rec.events)-1]; last.State != Done {
		t.Fatalf("expected done as final event, got %+v", last)
	}

	h = newHarness(t, 1)
	h.encoder.err = failure.Errorf(failure.EncodingFailure, "ffmpeg", "exit status 1")
	if _, err := h.pipeline.Render(context.Background(), newJob("One.")); failure.KindOf(err) != failure.EncodingFailure {
		t.Fatalf("expected encoding failure to survive cleanup failure, got %v", err)
	}
	if !cleanupFailed(h) {
		t.Fatal("expected cleanup failure event after encoding failure")
	}
}

func TestRenderRejectsReusedJobID(t *testing.T) {
	h := newHarness(t, 1)
	job := newJob("One.")
	first, err := h.pipeline.Render(context.Background(), job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := h.pipeline.Render(context.Background(), job); failure.KindOf(err) != failure.InvalidInput {
		t.Fatalf("expected invalid input for a reused id, got %v", err)
	}
	if data, err := os.ReadFile(first.OutputPath); err != nil || string(data) != "mp4" {
		t.Fatalf("first output must be untouched: %q %v", data, err)
	}

	// A workspace left by a job still running under the same id.
	job = newJob("Two.")
	if err := os.MkdirAll(filepath.Join(h.workDir, "job-"+job.ID), 0o700); err != nil {
		t.Fatal(err)
	}
	if _, err := h.pipeline.Render(context.Background(), job); failure.KindOf(err) != failure.InvalidInput {
		t.Fatalf("expected invalid input for an in-flight id, got %v", err)
	}
}

func TestRenderSynthesisFailure(t *testing.T) {
	h := newHarness(t, 3)
	h.synth.failAt = 1
	_, err := h.pipeline.Render(context.Background(), newJob("One.", "Two.", "Three."))
	if failure.KindOf(err) != failure.SynthesisFailure {
		t.Fatalf("expected synthesis failure, got %v", err)
	}
	assertEmptyDir(t, h.workDir)
}

func TestRenderCanceled(t *testing.T) {
	h := newHarness(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	h.synth.hook = func(narration.Request) { cancel() }

	_, err := h.pipeline.Render(ctx, newJob("One.", "Two."))
	if failure.KindOf(err) != failure.Canceled {
		t.Fatalf("expected canceled, got %v", err)
	}
	assertEmptyDir(t, h.workDir)
	assertEmptyDir(t, h.outDir)
	found := false
	for _, s := range h.rec.states {
		if s == Cleanup {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected cleanup to run, got %v", h.rec.states)
	}
}

func TestRenderParallelSynthesisKeepsOrder(t *testing.T) {
	h := newHarness(t, 4)
	h.synth.delay = func(i int) time.Duration { return time.Duration(6-i) * 5 * time.Millisecond }
	for i := 0; i < 6; i++ {
		h.synth.durations[i] = float64(i + 2)
	}
	res, err := h.pipeline.Render(context.Background(), newJob("a", "b", "c", "d", "e", "f"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Scenes != 6 {
		t.Fatalf("expected 6 scenes, got %d", res.Scenes)
	}
	for i, e := range h.encoder.tl.Entries {
		if e.Scene.Index != i || e.Scene.Audio.BlockIndex != i || e.Scene.Duration != float64(i+2) {
			t.Fatalf("entry %d out of order: %+v", i, e.Scene)
		}
	}
}

func TestRenderTransitionOverride(t *testing.T) {
	h := newHarness(t, 1)
	job := newJob("One.", "Two.")
	bad := -0.5
	job.Transition = &bad
	if _, err := h.pipeline.Render(context.Background(), job); !errors.Is(err, failure.InvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	h = newHarness(t, 1)
	h.synth.durations = map[int]float64{0: 2, 1: 2}
	job = newJob("One.", "Two.")
	zero := 0.0
	job.Transition = &zero
	res, err := h.pipeline.Render(context.Background(), job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Duration != 4 {
		t.Fatalf("expected hard cut total of 4s, got %v", res.Duration)
	}
}

func TestRenderStagesBackground(t *testing.T) {
	h := newHarness(t, 1)
	h.pipeline.opts.StageBackground = true
	src := filepath.Join(t.TempDir(), "bg.png")
	if err := os.WriteFile(src, []byte("not really a png"), 0o644); err != nil {
		t.Fatal(err)
	}
	job := newJob("One.")
	job.Background = media.ImageBackground(src)
	_, err := h.pipeline.Render(context.Background(), job)
	if !errors.Is(err, failure.SceneBuildFailure) {
		t.Fatalf("expected undecodable staged background to fail scene build, got %v", err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("caller's background must survive cleanup: %v", err)
	}
	assertEmptyDir(t, h.workDir)
}

func TestStoreObserverRecordsJob(t *testing.T) {
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "events.db"), RetentionMode: "session"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := eventstore.Open(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	h := newHarness(t, 1, NewStoreObserver(store, "internal", logger))
	job := newJob("Hello.")
	res, err := h.pipeline.Render(context.Background(), job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	row, err := store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if row.Status != string(Done) || row.OutputPath != res.OutputPath || row.UserID != "user-1" {
		t.Fatalf("unexpected job row %+v", row)
	}
	events, err := store.ListJobEvents(context.Background(), job.ID, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 7 || events[0].State != string(Validating) || events[6].State != string(Done) {
		t.Fatalf("unexpected events %+v", events)
	}
}
