package otel

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// zeroTraceID is returned when no span is recording on the context, keeping
// log output shape stable whether or not tracing is active.
const zeroTraceID = "00000000000000000000000000000000"

// GetTraceID returns the trace id from the current span context.
func GetTraceID(ctx context.Context) string {
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		return sc.TraceID().String()
	}
	return zeroTraceID
}
