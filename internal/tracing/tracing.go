package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultServiceName = "reasoner-core"

var tracer oteltrace.Tracer = otel.Tracer(defaultServiceName)

// Config holds tracing configuration
type Config struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// Initialize sets up minimal OTLP tracing. A disabled config still
// installs a tracer handle so Start* helpers never panic.
func Initialize(cfg Config, logger *zap.Logger) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName
	}
	tracer = otel.Tracer(cfg.ServiceName)

	if !cfg.Enabled {
		logger.Info("Tracing disabled")
		return nil
	}

	if cfg.OTLPEndpoint == "" {
		cfg.OTLPEndpoint = "localhost:4317"
	}

	exporter, err := otlptracegrpc.New(
		context.Background(),
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	tracer = otel.Tracer(cfg.ServiceName)

	logger.Info("Tracing initialized", zap.String("endpoint", cfg.OTLPEndpoint))
	return nil
}

// StartSpan creates a new span with the given name.
func StartSpan(ctx context.Context, spanName string) (context.Context, oteltrace.Span) {
	return tracer.Start(ctx, spanName)
}

// StartSessionSpan creates the root span for one research session.
func StartSessionSpan(ctx context.Context, sessionID, mode string) (context.Context, oteltrace.Span) {
	ctx, span := tracer.Start(ctx, "reasoner.session")
	span.SetAttributes(
		attribute.String("reasoner.session_id", sessionID),
		attribute.String("reasoner.mode", mode),
	)
	return ctx, span
}

// StartAgentSpan creates a span for one agent invocation within an
// iteration.
func StartAgentSpan(ctx context.Context, agent string, iteration int) (context.Context, oteltrace.Span) {
	ctx, span := tracer.Start(ctx, "reasoner.agent."+agent)
	span.SetAttributes(
		attribute.String("reasoner.agent", agent),
		attribute.Int("reasoner.iteration", iteration),
	)
	return ctx, span
}

// StartGapSpan creates a span for one gap-resolution provider call.
func StartGapSpan(ctx context.Context, channel string) (context.Context, oteltrace.Span) {
	ctx, span := tracer.Start(ctx, "reasoner.gap."+channel)
	span.SetAttributes(attribute.String("reasoner.channel", channel))
	return ctx, span
}
