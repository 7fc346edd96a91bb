package render

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/loqalabs/textreel/internal/render"

type metrics struct {
	jobs   metric.Int64Counter
	stages metric.Float64Histogram
}

func newMetrics(log *slog.Logger) *metrics {
	meter := otel.Meter(instrumentationName)
	m := &metrics{}
	var err error
	m.jobs, err = meter.Int64Counter("textreel.render.jobs",
		metric.WithDescription("Render jobs by outcome"))
	if err != nil {
		log.Warn("failed to create jobs counter", slogError(err))
	}
	m.stages, err = meter.Float64Histogram("textreel.render.stage.duration",
		metric.WithDescription("Time spent in each render stage"),
		metric.WithUnit("s"))
	if err != nil {
		log.Warn("failed to create stage histogram", slogError(err))
	}
	return m
}

func (m *metrics) job(ctx context.Context, outcome string) {
	if m.jobs == nil {
		return
	}
	m.jobs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *metrics) stage(ctx context.Context, state State, elapsed time.Duration) {
	if m.stages == nil {
		return
	}
	m.stages.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("stage", string(state))))
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
