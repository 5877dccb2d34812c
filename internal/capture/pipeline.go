// Package capture streams microphone frames to the live session.
//
// A [Pipeline] is the processing node between the input stream and the
// transport: it reads fixed-size frames, encodes each one to PCM16 at the
// input contract rate and submits it as a realtime-input blob. Submission goes
// through a [Target], which hides whether the transport handle is already
// available; frames captured while the handle is still pending wait for it,
// and frames that have no session to go to are dropped. Frames the input
// stream queued before Start belong to no session and are discarded.
package capture

import (
	"context"
	"log/slog"
	"sync"

	"github.com/marcomolinaleija/GIC/internal/observe"
	"github.com/marcomolinaleija/GIC/pkg/audio"
	"github.com/marcomolinaleija/GIC/pkg/provider/live"
)

// Target resolves the session that frames are submitted to. Session blocks
// until the pending transport handle is available or ctx is cancelled. A nil
// session or a non-nil error means there is nowhere to send the frame.
type Target interface {
	Session(ctx context.Context) (live.Session, error)
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// Pipeline reads frames from an [audio.InputStream] and submits them to a
// [Target]. It never closes the input stream.
type Pipeline struct {
	in      audio.InputStream
	target  Target
	metrics *observe.Metrics
	log     *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool

	sendWarn sync.Once
}

// New creates a Pipeline. Call [Pipeline.Start] to begin streaming.
func New(in audio.InputStream, target Target, opts ...Option) *Pipeline {
	p := &Pipeline{in: in, target: target}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	return p
}

// Start connects the processing node. Frames already queued on the input
// stream are discarded and counted as no_session drops before Start returns.
// Subsequent calls are no-ops, including calls after Stop.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	if n := p.discardQueued(); n > 0 {
		p.metrics.RecordCaptureDrops(ctx, "no_session", n)
		p.log.Debug("capture: discarded frames queued before start", "frames", n)
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
}

// Stop disconnects the processing node and waits for the in-flight frame, if
// any, to be handed off. It is safe to call Stop more than once and before
// Start.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.started = true
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// discardQueued empties the frame channel without blocking.
func (p *Pipeline) discardQueued() int {
	frames := p.in.Frames()
	n := 0
	for {
		select {
		case _, ok := <-frames:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}

func (p *Pipeline) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	frames := p.in.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			p.submit(ctx, f)
		}
	}
}

func (p *Pipeline) submit(ctx context.Context, f audio.Frame) {
	sess, err := p.target.Session(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil || sess == nil {
		p.metrics.RecordCaptureDrop(ctx, "no_session")
		return
	}

	samples := f.Samples
	if f.SampleRate != 0 && f.SampleRate != audio.InputSampleRate {
		samples = audio.Resample(samples, f.SampleRate, audio.InputSampleRate)
	}
	if err := sess.SendRealtimeInput(audio.NewPCMBlob(samples, audio.InputSampleRate)); err != nil {
		p.metrics.RecordCaptureDrop(ctx, "send_error")
		p.sendWarn.Do(func() {
			p.log.Warn("capture: send failed, dropping frames", "err", err)
		})
		return
	}
	p.metrics.CaptureFrames.Add(ctx, 1)
}
