package jobs

import (
	"context"
	"log/slog"

	"github.com/loqalabs/textreel/internal/bus"
	"github.com/loqalabs/textreel/internal/protocol"
	"github.com/loqalabs/textreel/internal/render"
)

// StatusPublisher forwards pipeline transitions to render.status.
type StatusPublisher struct {
	bus    *bus.Client
	logger *slog.Logger
}

func NewStatusPublisher(busClient *bus.Client, log *slog.Logger) *StatusPublisher {
	return &StatusPublisher{bus: busClient, logger: log.With(slog.String("component", "render-status"))}
}

func (p *StatusPublisher) Observe(_ context.Context, evt render.Event) {
	if p == nil || p.bus == nil {
		return
	}
	_, err := p.bus.PublishJSON(protocol.SubjectRenderStatus, protocol.RenderStatus{
		JobID:     evt.JobID,
		State:     string(evt.State),
		Detail:    evt.Detail,
		ErrorKind: string(evt.Kind),
		Timestamp: evt.At,
	})
	if err != nil {
		p.logger.Warn("failed to publish render status", slog.String("job_id", evt.JobID), slogError(err))
	}
}
