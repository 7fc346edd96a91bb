package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Narration   NarrationConfig  `yaml:"narration"`
	Render      RenderConfig     `yaml:"render"`
	Jobs        JobsConfig       `yaml:"jobs"`
	Intake      IntakeConfig     `yaml:"intake"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxJobs       int    `yaml:"max_jobs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type NarrationConfig struct {
	Mode       string `yaml:"mode"` // mock, exec
	Command    string `yaml:"command"`
	Voice      string `yaml:"voice"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	TimeoutMS  int    `yaml:"timeout_ms"`
}

type RenderConfig struct {
	WorkDir              string  `yaml:"work_dir"`
	OutputDir            string  `yaml:"output_dir"`
	FontDir              string  `yaml:"font_dir"`
	Width                int     `yaml:"width"`
	Height               int     `yaml:"height"`
	FPS                  int     `yaml:"fps"`
	VideoCodec           string  `yaml:"video_codec"`
	AudioCodec           string  `yaml:"audio_codec"`
	PixelFormat          string  `yaml:"pixel_format"`
	Preset               string  `yaml:"preset"`
	TransitionSec        float64 `yaml:"transition_sec"`
	CaptionFadeSec       float64 `yaml:"caption_fade_sec"`
	ZoomCeiling          float64 `yaml:"zoom_ceiling"`
	CaptionWidth         int     `yaml:"caption_width"`
	FillerColor          string  `yaml:"filler_color"`
	StageBackground      bool    `yaml:"stage_background"`
	SynthesisParallelism int     `yaml:"synthesis_parallelism"`
	FFmpegCommand        string  `yaml:"ffmpeg_command"`
	FFprobeCommand       string  `yaml:"ffprobe_command"`
	EncodeTimeoutMS      int     `yaml:"encode_timeout_ms"`
}

type JobsConfig struct {
	Enabled        bool   `yaml:"enabled"`
	MaxConcurrency int    `yaml:"max_concurrency"`
	TimeoutMS      int    `yaml:"timeout_ms"`
	AuditPrivacy   string `yaml:"audit_privacy_scope"`
}

type IntakeConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory"`
	SettleMS  int    `yaml:"settle_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "textreel",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Host:           "127.0.0.1",
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/textreel-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxJobs:       10000,
		},
		Narration: NarrationConfig{
			Mode:       "mock",
			SampleRate: 22050,
			Channels:   1,
			TimeoutMS:  45000,
		},
		Render: RenderConfig{
			WorkDir:              os.TempDir(),
			OutputDir:            "./data/output",
			FontDir:              "./assets/fonts",
			Width:                1280,
			Height:               720,
			FPS:                  24,
			VideoCodec:           "libx264",
			AudioCodec:           "aac",
			PixelFormat:          "yuv420p",
			Preset:               "medium",
			TransitionSec:        1.0,
			CaptionFadeSec:       0.5,
			ZoomCeiling:          1.05,
			CaptionWidth:         1200,
			FillerColor:          "#000000",
			StageBackground:      false,
			SynthesisParallelism: 1,
			FFmpegCommand:        "ffmpeg",
			FFprobeCommand:       "ffprobe",
			EncodeTimeoutMS:      600000,
		},
		Jobs: JobsConfig{
			Enabled:        true,
			MaxConcurrency: 2,
			TimeoutMS:      900000,
			AuditPrivacy:   "internal",
		},
		Intake: IntakeConfig{
			Enabled:   false,
			Directory: "./data/inbox",
			SettleMS:  500,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "TEXTREEL_RUNTIME_NAME")
	overrideString(&cfg.Environment, "TEXTREEL_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "TEXTREEL_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "TEXTREEL_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "TEXTREEL_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "TEXTREEL_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "TEXTREEL_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "TEXTREEL_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "TEXTREEL_BUS_EMBEDDED")
	overrideString(&cfg.Bus.Host, "TEXTREEL_BUS_HOST")
	overrideInt(&cfg.Bus.Port, "TEXTREEL_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "TEXTREEL_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "TEXTREEL_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "TEXTREEL_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "TEXTREEL_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "TEXTREEL_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "TEXTREEL_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "TEXTREEL_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "TEXTREEL_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "TEXTREEL_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "TEXTREEL_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxJobs, "TEXTREEL_EVENT_STORE_MAX_JOBS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "TEXTREEL_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Narration.Mode, "TEXTREEL_NARRATION_MODE")
	overrideString(&cfg.Narration.Command, "TEXTREEL_NARRATION_COMMAND")
	overrideString(&cfg.Narration.Voice, "TEXTREEL_NARRATION_VOICE")
	overrideInt(&cfg.Narration.SampleRate, "TEXTREEL_NARRATION_SAMPLE_RATE")
	overrideInt(&cfg.Narration.Channels, "TEXTREEL_NARRATION_CHANNELS")
	overrideInt(&cfg.Narration.TimeoutMS, "TEXTREEL_NARRATION_TIMEOUT_MS")
	overrideString(&cfg.Render.WorkDir, "TEXTREEL_RENDER_WORK_DIR")
	overrideString(&cfg.Render.OutputDir, "TEXTREEL_RENDER_OUTPUT_DIR")
	overrideString(&cfg.Render.FontDir, "TEXTREEL_RENDER_FONT_DIR")
	overrideInt(&cfg.Render.FPS, "TEXTREEL_RENDER_FPS")
	overrideString(&cfg.Render.Preset, "TEXTREEL_RENDER_PRESET")
	overrideFloat(&cfg.Render.TransitionSec, "TEXTREEL_RENDER_TRANSITION_SEC")
	overrideString(&cfg.Render.FillerColor, "TEXTREEL_RENDER_FILLER_COLOR")
	overrideBool(&cfg.Render.StageBackground, "TEXTREEL_RENDER_STAGE_BACKGROUND")
	overrideInt(&cfg.Render.SynthesisParallelism, "TEXTREEL_RENDER_SYNTHESIS_PARALLELISM")
	overrideString(&cfg.Render.FFmpegCommand, "TEXTREEL_RENDER_FFMPEG_COMMAND")
	overrideString(&cfg.Render.FFprobeCommand, "TEXTREEL_RENDER_FFPROBE_COMMAND")
	overrideInt(&cfg.Render.EncodeTimeoutMS, "TEXTREEL_RENDER_ENCODE_TIMEOUT_MS")
	overrideBool(&cfg.Jobs.Enabled, "TEXTREEL_JOBS_ENABLED")
	overrideInt(&cfg.Jobs.MaxConcurrency, "TEXTREEL_JOBS_MAX_CONCURRENCY")
	overrideInt(&cfg.Jobs.TimeoutMS, "TEXTREEL_JOBS_TIMEOUT_MS")
	overrideBool(&cfg.Intake.Enabled, "TEXTREEL_INTAKE_ENABLED")
	overrideString(&cfg.Intake.Directory, "TEXTREEL_INTAKE_DIRECTORY")
	overrideInt(&cfg.Intake.SettleMS, "TEXTREEL_INTAKE_SETTLE_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Narration.Mode {
	case "mock", "exec":
	default:
		return errors.New("narration.mode must be one of mock|exec")
	}
	if cfg.Narration.Mode == "exec" && cfg.Narration.Command == "" {
		return errors.New("narration.command must be set when mode=exec")
	}
	if cfg.Narration.SampleRate <= 0 {
		return errors.New("narration.sample_rate must be positive")
	}
	if cfg.Narration.Channels <= 0 {
		return errors.New("narration.channels must be positive")
	}
	if cfg.Render.WorkDir == "" {
		return errors.New("render.work_dir must not be empty")
	}
	if cfg.Render.OutputDir == "" {
		return errors.New("render.output_dir must not be empty")
	}
	if cfg.Render.Width <= 0 || cfg.Render.Height <= 0 || cfg.Render.Width%2 != 0 || cfg.Render.Height%2 != 0 {
		return errors.New("render.width and render.height must be positive even numbers")
	}
	if cfg.Render.FPS <= 0 {
		return errors.New("render.fps must be positive")
	}
	if cfg.Render.VideoCodec == "" || cfg.Render.AudioCodec == "" {
		return errors.New("render.video_codec and render.audio_codec must be set")
	}
	if cfg.Render.TransitionSec < 0 {
		return errors.New("render.transition_sec must be >= 0")
	}
	if cfg.Render.CaptionFadeSec < 0 {
		return errors.New("render.caption_fade_sec must be >= 0")
	}
	if cfg.Render.ZoomCeiling < 1 {
		return errors.New("render.zoom_ceiling must be >= 1")
	}
	if cfg.Render.CaptionWidth <= 0 || cfg.Render.CaptionWidth > cfg.Render.Width {
		return errors.New("render.caption_width must be between 1 and render.width")
	}
	if cfg.Render.SynthesisParallelism <= 0 {
		return errors.New("render.synthesis_parallelism must be >= 1")
	}
	if cfg.Render.FFmpegCommand == "" || cfg.Render.FFprobeCommand == "" {
		return errors.New("render.ffmpeg_command and render.ffprobe_command must be set")
	}
	if cfg.Jobs.Enabled {
		if cfg.Jobs.MaxConcurrency <= 0 {
			return errors.New("jobs.max_concurrency must be >= 1")
		}
		if cfg.Jobs.AuditPrivacy == "" {
			return errors.New("jobs.audit_privacy_scope must not be empty")
		}
	}
	if cfg.Intake.Enabled && cfg.Intake.Directory == "" {
		return errors.New("intake.directory must not be empty when intake is enabled")
	}
	return nil
}
