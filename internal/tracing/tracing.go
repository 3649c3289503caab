// Package tracing sets up OpenTelemetry spans around the Engine's
// per-phase and per-provider work (spec §4.11).
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// ExporterType selects where spans are sent.
type ExporterType string

const (
	ExporterNone   ExporterType = "none"
	ExporterStdout ExporterType = "stdout"
)

// ExporterConfig configures the tracer provider.
type ExporterConfig struct {
	Type        ExporterType
	ServiceName string
	Environment string
}

// Setup builds a TracerProvider per config and registers it as the
// global provider. ExporterNone installs a provider with no exporter,
// so spans are created but dropped; this keeps Start/End call sites
// identical whether or not tracing is actually shipped anywhere.
func Setup(ctx context.Context, config ExporterConfig) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{}

	switch config.Type {
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("tracing: building stdout exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	case ExporterNone, "":
		// no exporter registered
	default:
		return nil, fmt.Errorf("tracing: unsupported exporter type %q", config.Type)
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// Shutdown flushes and stops tp.
func Shutdown(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

const tracerName = "quorum/engine"

// StartPhase opens a span for a deliberation phase.
func StartPhase(ctx context.Context, sessionID, phase string) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, "phase."+phase, trace.WithAttributes(
		attribute.String("quorum.session_id", sessionID),
		attribute.String("quorum.phase", phase),
	))
}

// StartProviderCall opens a span for one provider's call within a phase.
func StartProviderCall(ctx context.Context, sessionID, phase, provider string) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, "provider_call", trace.WithAttributes(
		attribute.String("quorum.session_id", sessionID),
		attribute.String("quorum.phase", phase),
		attribute.String("quorum.provider", provider),
	))
}
