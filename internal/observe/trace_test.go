package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTracer installs an in-memory tracer provider as the global one for the
// duration of the test.
func useTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs redirects the default slog logger into a buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	exp := useTracer(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without span = %q, want empty", got)
	}

	ctx, span := StartSpan(context.Background(), "POST /v1/conversation/start")
	cid := CorrelationID(ctx)
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if want := spans[0].SpanContext.TraceID().String(); cid != want {
		t.Errorf("CorrelationID = %q, want trace id %q", cid, want)
	}
}

func TestLogger_Enrichment(t *testing.T) {
	useTracer(t)

	tests := []struct {
		name     string
		span     bool
		session  string
		want     []string
		wantNone []string
	}{
		{name: "plain", wantNone: []string{"trace_id", "session_id"}},
		{name: "span", span: true, want: []string{"trace_id=", "span_id="}, wantNone: []string{"session_id"}},
		{name: "session", session: "3f1c", want: []string{"session_id=3f1c"}, wantNone: []string{"trace_id"}},
		{name: "span and session", span: true, session: "3f1c", want: []string{"trace_id=", "session_id=3f1c"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := captureLogs(t)
			ctx := context.Background()
			if tc.session != "" {
				ctx = WithSession(ctx, tc.session)
			}
			if tc.span {
				c, s := StartSpan(ctx, "tool generateImage")
				defer s.End()
				ctx = c
			}

			Logger(ctx).Info("provider call failed")

			out := buf.String()
			for _, w := range tc.want {
				if !strings.Contains(out, w) {
					t.Errorf("log missing %q: %s", w, out)
				}
			}
			for _, w := range tc.wantNone {
				if strings.Contains(out, w) {
					t.Errorf("log unexpectedly contains %q: %s", w, out)
				}
			}
		})
	}
}

func TestSessionID_InnermostWins(t *testing.T) {
	t.Parallel()
	if got := SessionID(context.Background()); got != "" {
		t.Errorf("SessionID = %q, want empty", got)
	}
	ctx := WithSession(context.Background(), "a")
	if got := SessionID(WithSession(ctx, "b")); got != "b" {
		t.Errorf("SessionID = %q, want the innermost id", got)
	}
}
