package app

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/marcomolinaleija/GIC/internal/observe"
	"github.com/marcomolinaleija/GIC/internal/resilience"
	"github.com/marcomolinaleija/GIC/pkg/provider/help"
	"github.com/marcomolinaleija/GIC/pkg/provider/image"
	"github.com/marcomolinaleija/GIC/pkg/provider/speech"
)

// Compile-time interface assertions.
var (
	_ image.Provider  = (*guardedImage)(nil)
	_ help.Provider   = (*guardedHelp)(nil)
	_ speech.Provider = (*guardedSpeech)(nil)
)

// observed runs fn under cb and records the provider request metrics for
// kind.
func observed[R any](ctx context.Context, m *observe.Metrics, cb *resilience.CircuitBreaker, provider, kind string, fn func() (R, error)) (R, error) {
	start := time.Now()
	out, err := resilience.Call(cb, fn)
	m.ProviderDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("kind", kind)))

	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, provider, kind)
		observe.Logger(ctx).Warn("provider call failed", "provider", provider, "kind", kind, "err", err)
	}
	m.RecordProviderRequest(ctx, provider, kind, status)
	return out, err
}

// guardedImage wraps an image backend with metrics and a circuit breaker.
type guardedImage struct {
	next    image.Provider
	name    string
	metrics *observe.Metrics
	breaker *resilience.CircuitBreaker
}

func newGuardedImage(next image.Provider, name string, m *observe.Metrics) *guardedImage {
	return &guardedImage{
		next:    next,
		name:    name,
		metrics: m,
		breaker: resilience.New(resilience.Config{Name: "image/" + name}),
	}
}

func (g *guardedImage) Generate(ctx context.Context, req image.GenerateRequest) (*image.Image, error) {
	return observed(ctx, g.metrics, g.breaker, g.name, "image_generate", func() (*image.Image, error) {
		return g.next.Generate(ctx, req)
	})
}

func (g *guardedImage) Edit(ctx context.Context, src image.Image, prompt string) (*image.Image, error) {
	return observed(ctx, g.metrics, g.breaker, g.name, "image_edit", func() (*image.Image, error) {
		return g.next.Edit(ctx, src, prompt)
	})
}

func (g *guardedImage) Analyze(ctx context.Context, img image.Image) (string, error) {
	return observed(ctx, g.metrics, g.breaker, g.name, "image_analyze", func() (string, error) {
		return g.next.Analyze(ctx, img)
	})
}

// guardedHelp wraps a help backend with metrics and a circuit breaker.
type guardedHelp struct {
	next    help.Provider
	name    string
	metrics *observe.Metrics
	breaker *resilience.CircuitBreaker
}

func newGuardedHelp(next help.Provider, name string, m *observe.Metrics) *guardedHelp {
	return &guardedHelp{
		next:    next,
		name:    name,
		metrics: m,
		breaker: resilience.New(resilience.Config{Name: "help/" + name}),
	}
}

func (g *guardedHelp) Ask(ctx context.Context, question string) (string, error) {
	return observed(ctx, g.metrics, g.breaker, g.name, "help", func() (string, error) {
		return g.next.Ask(ctx, question)
	})
}

// guardedSpeech wraps a text-to-speech backend with metrics and a circuit
// breaker.
type guardedSpeech struct {
	next    speech.Provider
	name    string
	metrics *observe.Metrics
	breaker *resilience.CircuitBreaker
}

func newGuardedSpeech(next speech.Provider, name string, m *observe.Metrics) *guardedSpeech {
	return &guardedSpeech{
		next:    next,
		name:    name,
		metrics: m,
		breaker: resilience.New(resilience.Config{Name: "speech/" + name}),
	}
}

func (g *guardedSpeech) Speak(ctx context.Context, text, voice string) ([]byte, error) {
	return observed(ctx, g.metrics, g.breaker, g.name, "speech", func() ([]byte, error) {
		return g.next.Speak(ctx, text, voice)
	})
}
