package runtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/loqalabs/textreel/internal/config"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

// metricsNamespace prefixes every exported series, e.g. textreel_render_jobs_total.
const metricsNamespace = "textreel"

// SetupTelemetry installs the global tracer and meter providers for the render
// daemon. The returned handler serves /metrics from a registry private to this
// process and is nil when the exporter could not be created.
func SetupTelemetry(cfg config.Config, logger *slog.Logger) (func(context.Context) error, http.Handler, error) {
	ctx := context.Background()
	logger = logger.With(slog.String("component", "telemetry"))

	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName(cfg.RuntimeName),
		semconv.ServiceNamespace(metricsNamespace),
		attribute.String("deployment.environment", cfg.Environment),
		attribute.String("textreel.narration.mode", cfg.Narration.Mode),
	)

	exporter, sink, err := spanExporter(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if exporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
	} else {
		traceOpts = append(traceOpts, sdktrace.WithSampler(sdktrace.NeverSample()))
	}
	spans := sdktrace.NewTracerProvider(traceOpts...)
	otel.SetTracerProvider(spans)

	meters, handler := renderMetrics(res, logger)
	otel.SetMeterProvider(meters)

	logger.Info("telemetry initialized",
		slog.String("spans", sink),
		slog.Bool("metrics", handler != nil),
		slog.String("metrics_bind", cfg.Telemetry.PrometheusBind),
	)

	shutdown := func(ctx context.Context) error {
		return errors.Join(meters.Shutdown(ctx), spans.Shutdown(ctx))
	}
	return shutdown, handler, nil
}

// spanExporter picks where render spans go: the configured OTLP collector,
// stdout while developing, or nowhere. A nil exporter means spans are dropped.
func spanExporter(ctx context.Context, cfg config.Config) (sdktrace.SpanExporter, string, error) {
	if endpoint := strings.TrimSpace(cfg.Telemetry.OTLPEndpoint); endpoint != "" {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.Telemetry.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, "", err
		}
		return exp, "otlp:" + endpoint, nil
	}
	if cfg.Environment == "development" {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, "", err
		}
		return exp, "stdout", nil
	}
	return nil, "none", nil
}

// renderMetrics exposes the pipeline's OTel instruments alongside Go runtime
// and process collectors under the textreel namespace.
func renderMetrics(res *resource.Resource, logger *slog.Logger) (*sdkmetric.MeterProvider, http.Handler) {
	registry := promclient.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: metricsNamespace}),
	)
	exporter, err := prometheus.New(
		prometheus.WithRegisterer(registry),
		prometheus.WithNamespace(metricsNamespace),
	)
	if err != nil {
		logger.Warn("prometheus exporter unavailable, metrics disabled", slogError(err))
		return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res)), nil
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	return provider, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ParseLogLevel maps telemetry.log_level onto slog levels; unknown values fall
// back to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
