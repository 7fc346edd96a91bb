package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/loqalabs/textreel/internal/access"
	"github.com/loqalabs/textreel/internal/config"
	"github.com/loqalabs/textreel/internal/failure"
	"github.com/loqalabs/textreel/internal/intake"
	"github.com/loqalabs/textreel/internal/render"
	"github.com/loqalabs/textreel/internal/runtime"
)

var version = "0.1.0-dev"

const usage = "usage: textreel <render|validate|version> [flags]"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: .env: %v\n", err)
	}

	switch os.Args[1] {
	case "render":
		os.Exit(runRender(os.Args[2:]))
	case "validate":
		os.Exit(runValidate(os.Args[2:]))
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}
}

func runRender(args []string) int {
	flags := flag.NewFlagSet("render", flag.ExitOnError)
	var (
		configPath = flags.String("config", "", "Path to configuration file (defaults when empty)")
		text       = flags.String("text", "", "Text to narrate; blank lines separate scenes")
		textFile   = flags.String("text-file", "", "Read the text from a file, - for stdin")
		lang       = flags.String("lang", render.DefaultLanguage, "Narration language")
		background = flags.String("background", "", "Background image or video")
		font       = flags.String("font", "", "Caption font family")
		size       = flags.Int("size", 0, "Caption font size")
		color      = flags.String("color", "", "Caption color (#RRGGBB)")
		anchor     = flags.String("anchor", "", "Caption anchor: top, center or bottom")
		transition = flags.Float64("transition", -1, "Crossfade seconds; negative keeps the configured value")
		out        = flags.String("out", "", "Copy the finished video to this path")
		jobID      = flags.String("id", "", "Job id (generated when empty)")
		user       = flags.String("user", "local", "User id recorded with the render")
		asJSON     = flags.Bool("json", false, "Print the result as JSON")
	)
	flags.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: runtime.ParseLogLevel(cfg.Telemetry.LogLevel)}))

	body := *text
	if *textFile != "" {
		body, err = readText(*textFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}

	req := render.Request{
		JobID:      *jobID,
		Text:       body,
		Language:   *lang,
		Background: *background,
		Font:       *font,
		FontSize:   *size,
		Color:      *color,
		Anchor:     *anchor,
		// Local renders are operator driven and carry their own entitlement.
		Entitlement: access.Entitlement{UserID: *user, Active: true, CheckedAt: time.Now().UTC()},
	}
	if *transition >= 0 {
		req.Transition = transition
	}
	if req.JobID == "" {
		req.JobID = render.NewJobID()
	}
	job, err := req.Job()
	if err != nil {
		return report(err)
	}

	progress := render.ObserverFunc(func(_ context.Context, evt render.Event) {
		fmt.Fprintf(os.Stderr, "[%s] %s %s\n", evt.JobID, evt.State, evt.Detail)
	})
	pipeline, err := runtime.BuildPipeline(cfg, progress, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := pipeline.Render(ctx, job)
	if err != nil {
		return report(err)
	}

	if *out != "" {
		if err := copyFile(res.OutputPath, *out); err != nil {
			fmt.Fprintf(os.Stderr, "copy output: %v\n", err)
			return 1
		}
		res.OutputPath = *out
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]any{
			"job_id":   res.JobID,
			"output":   res.OutputPath,
			"duration": res.Duration,
			"scenes":   res.Scenes,
			"clamped":  res.Clamped,
			"elapsed":  res.Elapsed.String(),
		})
		return 0
	}
	fmt.Printf("%s (%d scenes, %.2fs)\n", res.OutputPath, res.Scenes, res.Duration)
	for _, c := range res.Clamped {
		fmt.Fprintf(os.Stderr, "warning: %s\n", c)
	}
	return 0
}

func runValidate(args []string) int {
	flags := flag.NewFlagSet("validate", flag.ExitOnError)
	path := flags.String("file", "render.yaml", "Path to render manifest")
	flags.Parse(args)

	m, err := intake.LoadManifest(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	job, err := m.Request(filepath.Dir(*path), time.Now().UTC()).Job()
	if err != nil {
		return report(err)
	}
	if err := job.Entitlement.Require(); err != nil {
		return report(err)
	}
	fmt.Printf("manifest valid (%d scenes, language %s)\n", len(job.Blocks), job.Language)
	return 0
}

func report(err error) int {
	fmt.Fprintf(os.Stderr, "%s: %s\n", failure.KindOf(err), failure.Cause(err))
	if failure.KindOf(err) == failure.InvalidInput || failure.KindOf(err) == failure.InvalidTransition {
		return 2
	}
	return 1
}

func readText(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	return string(data), err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if dir := filepath.Dir(dst); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	outFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(outFile, in); err != nil {
		outFile.Close()
		return err
	}
	return outFile.Close()
}
