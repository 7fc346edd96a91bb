package render

import (
	"context"
	"log/slog"

	"github.com/loqalabs/textreel/internal/eventstore"
)

// StoreObserver records transitions in the job audit log.
type StoreObserver struct {
	store   *eventstore.Store
	privacy string
	logger  *slog.Logger
}

func NewStoreObserver(store *eventstore.Store, privacy string, log *slog.Logger) *StoreObserver {
	return &StoreObserver{store: store, privacy: privacy, logger: log.With(slog.String("component", "render-audit"))}
}

func (o *StoreObserver) Observe(ctx context.Context, evt Event) {
	if o == nil || o.store == nil {
		return
	}
	if evt.State == Validating {
		if err := o.store.AppendJob(ctx, evt.JobID, evt.UserID, o.privacy); err != nil {
			o.logger.Warn("failed to record job", slog.String("job_id", evt.JobID), slogError(err))
			return
		}
	}
	if err := o.store.AppendEvent(ctx, eventstore.Event{
		JobID:     evt.JobID,
		State:     string(evt.State),
		Detail:    evt.Detail,
		ErrorKind: string(evt.Kind),
		Privacy:   o.privacy,
		CreatedAt: evt.At,
	}); err != nil {
		o.logger.Warn("failed to record job event", slog.String("job_id", evt.JobID), slogError(err))
	}
	if evt.Kind == "" || evt.State.Terminal() {
		if err := o.store.UpdateJob(ctx, evt.JobID, string(evt.State), evt.OutputPath, string(evt.Kind)); err != nil {
			o.logger.Warn("failed to update job status", slog.String("job_id", evt.JobID), slogError(err))
		}
	}
}
