// Package telemetry wires OpenTelemetry tracing into the process. Spans are
// exported to the structured log rather than a collector; a provisioning CLI
// is short-lived and its traces are read by the operator who just ran it.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Setup installs the global tracer provider. The returned shutdown function
// flushes remaining spans and must be called before exit.
func Setup(ctx context.Context) func(context.Context) error {
	tp := sdktrace.NewTracerProvider(
		// Synchronous export: runs are minutes long and span volume is
		// tiny, batching would only delay output past process exit.
		sdktrace.WithSyncer(slogExporter{}),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

// slogExporter writes finished spans to the debug log.
type slogExporter struct{}

func (slogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		args := []any{
			"name", span.Name(),
			"duration", span.EndTime().Sub(span.StartTime()).String(),
		}
		for _, attr := range span.Attributes() {
			args = append(args, string(attr.Key), attr.Value.Emit())
		}
		if status := span.Status(); status.Description != "" {
			args = append(args, "status", status.Description)
		}
		slog.Debug("Span completed.", args...)
	}
	return nil
}

func (slogExporter) Shutdown(ctx context.Context) error { return nil }
