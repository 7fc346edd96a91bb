package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Render.FPS != 24 || cfg.Render.VideoCodec != "libx264" || cfg.Render.AudioCodec != "aac" {
		t.Fatalf("unexpected encode profile defaults: %+v", cfg.Render)
	}
	if cfg.Render.Width != 1280 || cfg.Render.Height != 720 {
		t.Fatalf("unexpected canvas %dx%d", cfg.Render.Width, cfg.Render.Height)
	}
	if cfg.Render.TransitionSec != 1.0 {
		t.Fatalf("expected 1s transition, got %v", cfg.Render.TransitionSec)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "textreel.yaml")
	data := []byte(`runtime_name: reel-test
narration:
  mode: exec
  command: "python3 tts.py --engine piper"
render:
  transition_sec: 0.75
  synthesis_parallelism: 4
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RuntimeName != "reel-test" || cfg.Narration.Mode != "exec" {
		t.Fatalf("expected file values, got %+v", cfg)
	}
	if cfg.Render.TransitionSec != 0.75 || cfg.Render.SynthesisParallelism != 4 {
		t.Fatalf("expected render overrides, got %+v", cfg.Render)
	}
	if cfg.Render.FPS != 24 {
		t.Fatalf("expected untouched defaults to survive, got fps %d", cfg.Render.FPS)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TEXTREEL_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("TEXTREEL_BUS_USERNAME", "alice")
	t.Setenv("TEXTREEL_BUS_PASSWORD", "secret")
	t.Setenv("TEXTREEL_BUS_TLS_INSECURE", "true")
	t.Setenv("TEXTREEL_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("TEXTREEL_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("TEXTREEL_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("TEXTREEL_EVENT_STORE_MAX_JOBS", "123")
	t.Setenv("TEXTREEL_RENDER_TRANSITION_SEC", "0.5")
	t.Setenv("TEXTREEL_RENDER_SYNTHESIS_PARALLELISM", "3")
	t.Setenv("TEXTREEL_RENDER_STAGE_BACKGROUND", "true")
	t.Setenv("TEXTREEL_NARRATION_TIMEOUT_MS", "1000")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.EventStore.Path != "./tmp.db" || cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store overrides")
	}
	if cfg.EventStore.MaxJobs != 123 {
		t.Fatalf("expected max jobs override, got %d", cfg.EventStore.MaxJobs)
	}
	if cfg.Render.TransitionSec != 0.5 {
		t.Fatalf("expected transition override, got %v", cfg.Render.TransitionSec)
	}
	if cfg.Render.SynthesisParallelism != 3 || !cfg.Render.StageBackground {
		t.Fatalf("expected render overrides, got %+v", cfg.Render)
	}
	if cfg.Narration.TimeoutMS != 1000 {
		t.Fatalf("expected narration timeout override")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"exec without command": func(c *Config) { c.Narration.Mode = "exec" },
		"unknown narration":    func(c *Config) { c.Narration.Mode = "cloud" },
		"odd canvas":           func(c *Config) { c.Render.Width = 1279 },
		"negative transition":  func(c *Config) { c.Render.TransitionSec = -1 },
		"zoom below one":       func(c *Config) { c.Render.ZoomCeiling = 0.9 },
		"caption too wide":     func(c *Config) { c.Render.CaptionWidth = 2000 },
		"bad retention":        func(c *Config) { c.EventStore.RetentionMode = "forever" },
		"zero parallelism":     func(c *Config) { c.Render.SynthesisParallelism = 0 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
