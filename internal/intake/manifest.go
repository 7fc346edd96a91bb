package intake

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loqalabs/textreel/internal/access"
	"github.com/loqalabs/textreel/internal/render"
	"gopkg.in/yaml.v3"
)

// Manifest describes one render dropped into the intake directory.
type Manifest struct {
	ID         string    `yaml:"id,omitempty"`
	Text       string    `yaml:"text,omitempty"`
	Blocks     []string  `yaml:"blocks,omitempty"`
	Language   string    `yaml:"language,omitempty"`
	Background string    `yaml:"background,omitempty"`
	Transition *float64  `yaml:"transition,omitempty"`
	Style      StyleSpec `yaml:"style,omitempty"`
	User       UserSpec  `yaml:"user"`
}

type StyleSpec struct {
	Font   string `yaml:"font,omitempty"`
	Size   int    `yaml:"size,omitempty"`
	Color  string `yaml:"color,omitempty"`
	Anchor string `yaml:"anchor,omitempty"`
}

type UserSpec struct {
	ID     string `yaml:"id"`
	Active bool   `yaml:"active"`
}

// Outcome is written next to a processed manifest.
type Outcome struct {
	JobID      string   `yaml:"job_id"`
	OK         bool     `yaml:"ok"`
	OutputPath string   `yaml:"output_path,omitempty"`
	Duration   float64  `yaml:"duration,omitempty"`
	Scenes     int      `yaml:"scenes,omitempty"`
	Clamped    []string `yaml:"clamped,omitempty"`
	ErrorKind  string   `yaml:"error_kind,omitempty"`
	Error      string   `yaml:"error,omitempty"`
}

// LoadManifest reads a manifest from disk.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest %s: %w", filepath.Base(path), err)
	}
	return m, nil
}

// Request converts the manifest into a render request. Relative background
// paths are resolved against the manifest's directory.
func (m Manifest) Request(dir string, checkedAt time.Time) render.Request {
	bg := strings.TrimSpace(m.Background)
	if bg != "" && !filepath.IsAbs(bg) {
		bg = filepath.Join(dir, bg)
	}
	return render.Request{
		JobID:      m.ID,
		Text:       m.Text,
		Blocks:     m.Blocks,
		Language:   m.Language,
		Background: bg,
		Font:       m.Style.Font,
		FontSize:   m.Style.Size,
		Color:      m.Style.Color,
		Anchor:     m.Style.Anchor,
		Transition: m.Transition,
		Entitlement: access.Entitlement{
			UserID:    m.User.ID,
			Active:    m.User.Active,
			CheckedAt: checkedAt,
		},
	}
}

func writeOutcome(path string, out Outcome) error {
	data, err := yaml.Marshal(out)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func isManifest(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return !strings.HasPrefix(filepath.Base(path), ".")
	}
	return false
}
