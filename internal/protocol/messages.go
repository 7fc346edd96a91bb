package protocol

import "time"

// RenderRequest asks the daemon to render one narrated slideshow.
type RenderRequest struct {
	JobID              string   `json:"job_id,omitempty"`
	UserID             string   `json:"user_id"`
	SubscriptionActive bool     `json:"subscription_active"`
	Text               string   `json:"text,omitempty"`
	Blocks             []string `json:"blocks,omitempty"`
	Language           string   `json:"language,omitempty"`
	Background         string   `json:"background,omitempty"`
	Font               string   `json:"font,omitempty"`
	FontSize           int      `json:"font_size,omitempty"`
	Color              string   `json:"color,omitempty"`
	Anchor             string   `json:"anchor,omitempty"`
	TransitionSec      *float64 `json:"transition_sec,omitempty"`
}

// RenderStatus is published on every pipeline state transition.
type RenderStatus struct {
	JobID     string    `json:"job_id"`
	State     string    `json:"state"`
	Detail    string    `json:"detail,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RenderDone is the final outcome of a job. It is also the reply to a request
// sent with a reply subject.
type RenderDone struct {
	JobID      string    `json:"job_id"`
	OK         bool      `json:"ok"`
	OutputPath string    `json:"output_path,omitempty"`
	Duration   float64   `json:"duration_sec,omitempty"`
	Scenes     int       `json:"scenes,omitempty"`
	Clamped    []string  `json:"clamped,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	SubjectRenderRequest = "render.request"
	SubjectRenderStatus  = "render.status"
	SubjectRenderDone    = "render.done"
)
