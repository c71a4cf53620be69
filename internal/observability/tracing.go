package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "conductor"

// Tracer returns the process tracer. Without an SDK installed this is a
// no-op, so instrumentation stays free until an operator wires an exporter.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartExecutionSpan opens a span around one execution.
func StartExecutionSpan(ctx context.Context, workflowID, taskID, agentID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "execution",
		trace.WithAttributes(
			attribute.String("workflow.id", workflowID),
			attribute.String("task.id", taskID),
			attribute.String("agent.id", agentID),
		))
}
