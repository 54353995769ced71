package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// withTestTracerProvider installs a recording tracer provider for the test
// and restores the previous global afterwards.
func withTestTracerProvider(t *testing.T) {
	t.Helper()
	prev := otel.GetTracerProvider()
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
}

func TestStartSpanAndCorrelationID(t *testing.T) {
	withTestTracerProvider(t)

	ctx, span := StartSpan(context.Background(), "test-op")
	defer span.End()

	cid := CorrelationID(ctx)
	if cid == "" {
		t.Fatal("CorrelationID empty inside active span")
	}
	if cid != span.SpanContext().TraceID().String() {
		t.Fatalf("CorrelationID = %q, want trace id %q", cid, span.SpanContext().TraceID())
	}
}

func TestCorrelationID_NoSpan(t *testing.T) {
	if cid := CorrelationID(context.Background()); cid != "" {
		t.Fatalf("CorrelationID = %q, want empty without span", cid)
	}
}

func TestLogger(t *testing.T) {
	withTestTracerProvider(t)

	// Without a span the default logger comes back unchanged.
	if l := Logger(context.Background()); l == nil {
		t.Fatal("Logger returned nil")
	}

	ctx, span := StartSpan(context.Background(), "test-op")
	defer span.End()
	if l := Logger(ctx); l == nil {
		t.Fatal("Logger returned nil inside span")
	}
}
