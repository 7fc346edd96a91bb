package render

import (
	"context"
	"log/slog"
	"time"

	"github.com/loqalabs/textreel/internal/failure"
)

// State is a step of the render state machine.
type State string

const (
	Validating   State = "validating"
	Synthesizing State = "synthesizing"
	Composing    State = "composing"
	Stitching    State = "stitching"
	Encoding     State = "encoding"
	Cleanup      State = "cleanup"
	Done         State = "done"
	Failed       State = "failed"
)

// Terminal reports whether no further transitions follow.
func (s State) Terminal() bool { return s == Done || s == Failed }

// Event is emitted on every state transition.
type Event struct {
	JobID      string
	UserID     string
	State      State
	At         time.Time
	Detail     string
	Kind       failure.Kind
	OutputPath string
}

// Observer receives transitions. Implementations must not block for long; the
// pipeline calls them inline.
type Observer interface {
	Observe(ctx context.Context, evt Event)
}

type ObserverFunc func(ctx context.Context, evt Event)

func (f ObserverFunc) Observe(ctx context.Context, evt Event) { f(ctx, evt) }

// Observers fans an event out in order.
type Observers []Observer

func (o Observers) Observe(ctx context.Context, evt Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(ctx, evt)
		}
	}
}

// LogObserver writes transitions to a structured logger.
type LogObserver struct {
	Logger *slog.Logger
}

func (l LogObserver) Observe(_ context.Context, evt Event) {
	attrs := []any{
		slog.String("job_id", evt.JobID),
		slog.String("state", string(evt.State)),
	}
	if evt.Detail != "" {
		attrs = append(attrs, slog.String("detail", evt.Detail))
	}
	switch {
	case evt.Kind != "":
		attrs = append(attrs, slog.String("kind", string(evt.Kind)))
		l.Logger.Warn("render transition", attrs...)
	case evt.State == Done:
		attrs = append(attrs, slog.String("output", evt.OutputPath))
		l.Logger.Info("render transition", attrs...)
	default:
		l.Logger.Debug("render transition", attrs...)
	}
}
