package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// controlSurface mirrors the shape of the GIC HTTP routes: method patterns,
// a wildcard segment, polled health paths, and handlers answering with the status codes
// the real ones use.
func controlSurface() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /v1/conversation/start", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("GET /v1/images/latest", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("POST /v1/images", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	mux.HandleFunc("GET /v1/images/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

type surfaceFixture struct {
	handler http.Handler
	reader  *sdkmetric.ManualReader
	spans   *tracetest.InMemoryExporter
}

func newSurfaceFixture(t *testing.T) *surfaceFixture {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return &surfaceFixture{
		handler: Middleware(m)(controlSurface()),
		reader:  reader,
		spans:   useTracer(t),
	}
}

func (f *surfaceFixture) do(method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestMiddleware_DurationKeyedByRoute(t *testing.T) {
	f := newSurfaceFixture(t)
	f.do("GET", "/v1/images/1")
	f.do("GET", "/v1/images/2")
	f.do("POST", "/v1/conversation/start")

	var rm metricdata.ResourceMetrics
	if err := f.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "gic.http.request.duration")
	if met == nil {
		t.Fatal("gic.http.request.duration not recorded")
	}
	hist := met.Data.(metricdata.Histogram[float64])

	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		path, _ := dp.Attributes.Value("path")
		status, _ := dp.Attributes.Value("status")
		counts[path.AsString()+" "+status.AsString()] += dp.Count
	}
	want := map[string]uint64{
		"GET /v1/images/{id} 200":         2,
		"POST /v1/conversation/start 202": 1,
	}
	for k, n := range want {
		if counts[k] != n {
			t.Errorf("samples[%q] = %d, want %d (all: %v)", k, counts[k], n, counts)
		}
	}
}

func TestMiddleware_UnmatchedPathKeepsRawPath(t *testing.T) {
	f := newSurfaceFixture(t)
	if rec := f.do("GET", "/nope"); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	spans := f.spans.GetSpans()
	if len(spans) != 1 || spans[0].Name != "HTTP GET /nope" {
		t.Errorf("spans = %v, want one named after the raw path", spans)
	}
}

func TestMiddleware_SpanNamedAfterRoute(t *testing.T) {
	f := newSurfaceFixture(t)
	f.do("POST", "/v1/conversation/start")

	spans := f.spans.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no spans recorded")
	}
	if got, want := spans[0].Name, "HTTP POST /v1/conversation/start"; got != want {
		t.Errorf("span name = %q, want %q", got, want)
	}
	var route string
	var status int64
	for _, a := range spans[0].Attributes {
		switch string(a.Key) {
		case "http.route":
			route = a.Value.AsString()
		case "http.response.status_code":
			status = a.Value.AsInt64()
		}
	}
	if route != "POST /v1/conversation/start" || status != http.StatusAccepted {
		t.Errorf("http.route = %q, status = %d", route, status)
	}
}

func TestMiddleware_CorrelationFromTraceparent(t *testing.T) {
	f := newSurfaceFixture(t)

	req := httptest.NewRequest("POST", "/v1/conversation/start", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Correlation-ID"); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("X-Correlation-ID = %q, want the incoming trace id", got)
	}

	fresh := f.do("GET", "/healthz").Header().Get("X-Correlation-ID")
	if len(fresh) != 32 || fresh == "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("X-Correlation-ID without traceparent = %q, want a new trace id", fresh)
	}
}

func TestMiddleware_LogLevels(t *testing.T) {
	tests := []struct {
		method, path string
		level        string
	}{
		{"GET", "/healthz", "level=DEBUG"},
		{"POST", "/v1/conversation/start", "level=INFO"},
		{"GET", "/v1/images/latest", "level=INFO"},
		{"POST", "/v1/images", "level=WARN"},
	}
	for _, tc := range tests {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			f := newSurfaceFixture(t)
			buf := captureLogs(t)
			f.do(tc.method, tc.path)

			line := buf.String()
			if !strings.Contains(line, "request completed") || !strings.Contains(line, tc.level) {
				t.Errorf("log = %q, want a %s completion line", line, tc.level)
			}
			if !strings.Contains(line, "trace_id=") {
				t.Errorf("log = %q, want trace_id", line)
			}
		})
	}
}
