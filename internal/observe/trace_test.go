package observe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestTracerProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

func TestCorrelationID_EmptyByDefault(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}
}

func TestStartSpan_UsesGlobalProvider(t *testing.T) {
	tp, exp := newTestTracerProvider(t)
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	ctx, span := StartSpan(context.Background(), "assistant.turn")
	if cid := CorrelationID(ctx); len(cid) != 32 {
		t.Errorf("correlation ID length = %d, want 32", len(cid))
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "assistant.turn" {
		t.Fatalf("spans = %v, want one named assistant.turn", spans)
	}
}

func TestLogger_AddsTraceAttributes(t *testing.T) {
	tp, _ := newTestTracerProvider(t)

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	Logger(ctx).Info("hello")
	out := buf.String()
	if !strings.Contains(out, "trace_id="+CorrelationID(ctx)) {
		t.Errorf("log line missing trace_id: %s", out)
	}
	if !strings.Contains(out, "span_id=") {
		t.Errorf("log line missing span_id: %s", out)
	}

	buf.Reset()
	Logger(context.Background()).Info("plain")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("log line without span has trace_id: %s", buf.String())
	}
}

func TestEndSpan_Status(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   codes.Code
		wantDesc   string
		wantEvents int
	}{
		{name: "ok", wantCode: codes.Unset},
		{
			name:     "superseded turn",
			err:      fmt.Errorf("assistant: llm stream: %w", context.Canceled),
			wantCode: codes.Error,
			wantDesc: "cancelled",
		},
		{name: "deadline", err: context.DeadlineExceeded, wantCode: codes.Error, wantDesc: "cancelled"},
		{
			name:       "provider failure",
			err:        errors.New("assistant: transcribe: 502 bad gateway"),
			wantCode:   codes.Error,
			wantDesc:   "assistant: transcribe: 502 bad gateway",
			wantEvents: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp, exp := newTestTracerProvider(t)
			_, span := tp.Tracer("test").Start(context.Background(), "assistant.stt")
			EndSpan(span, tt.err)

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("ended spans = %d, want 1", len(spans))
			}
			st := spans[0].Status
			if st.Code != tt.wantCode || st.Description != tt.wantDesc {
				t.Errorf("status = %v %q, want %v %q", st.Code, st.Description, tt.wantCode, tt.wantDesc)
			}
			if n := len(spans[0].Events); n != tt.wantEvents {
				t.Errorf("events = %d, want %d", n, tt.wantEvents)
			}
		})
	}
}
