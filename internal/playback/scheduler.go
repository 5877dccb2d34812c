// Package playback schedules inbound model audio on the speaker timeline.
//
// A [Scheduler] keeps a single "next start" cursor on the output device
// clock. Every decoded chunk starts at max(cursor, now) and advances the
// cursor by its duration, so chunks play back-to-back in arrival order with
// no gap and no overlap regardless of network jitter. [Scheduler.Interrupt]
// is a hard flush: every scheduled source is stopped at once and the cursor
// returns to zero.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marcomolinaleija/GIC/internal/observe"
	"github.com/marcomolinaleija/GIC/pkg/audio"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("playback: scheduler closed")

// Option configures a [Scheduler] during construction.
type Option func(*Scheduler)

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithLogger sets the logger used for dropped chunks. Defaults to
// [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// Scheduler owns one output stream timeline for the lifetime of a session.
//
// All exported methods are safe for concurrent use.
type Scheduler struct {
	out     audio.OutputStream
	metrics *observe.Metrics
	log     *slog.Logger

	mu     sync.Mutex
	cursor time.Duration
	live   map[audio.Source]struct{}
	closed bool
}

// New returns a Scheduler that plays onto out.
func New(out audio.OutputStream, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:  out,
		live: make(map[audio.Source]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// Enqueue decodes one PCM16 chunk at the output rate and schedules it right
// after everything already queued. A chunk that fails to decode is dropped
// and its error returned; the session keeps running.
func (s *Scheduler) Enqueue(ctx context.Context, data []byte) error {
	buf, err := audio.DecodeAudioData(data, audio.OutputSampleRate, audio.Channels)
	if err != nil {
		s.metrics.PlaybackDecodeErrors.Add(ctx, 1)
		s.log.Warn("playback: dropping undecodable chunk", "bytes", len(data), "err", err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	start := max(s.cursor, s.out.Now())
	src, err := s.out.Schedule(buf, start)
	if err != nil {
		s.log.Warn("playback: schedule failed", "start", start, "err", err)
		return fmt.Errorf("playback: schedule: %w", err)
	}
	s.cursor = start + buf.Duration()
	s.live[src] = struct{}{}
	s.metrics.PlaybackChunks.Add(ctx, 1)

	go s.watch(src)
	return nil
}

// watch removes src from the live set once it finished or was stopped.
func (s *Scheduler) watch(src audio.Source) {
	<-src.Done()
	s.mu.Lock()
	delete(s.live, src)
	s.mu.Unlock()
}

// Interrupt stops every scheduled source immediately, clears the live set and
// resets the cursor to zero.
func (s *Scheduler) Interrupt(ctx context.Context) {
	stopped := s.flush()
	s.metrics.PlaybackInterruptions.Add(ctx, 1)
	s.log.Debug("playback: interrupted", "stopped_sources", stopped)
}

// Close flushes the timeline and rejects further chunks. It does not close
// the output stream, which stays owned by the caller.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.flush()
}

func (s *Scheduler) flush() int {
	s.mu.Lock()
	sources := make([]audio.Source, 0, len(s.live))
	for src := range s.live {
		sources = append(sources, src)
	}
	clear(s.live)
	s.cursor = 0
	s.mu.Unlock()

	for _, src := range sources {
		src.Stop()
	}
	return len(sources)
}

// Live returns the number of scheduled sources that have not finished yet.
func (s *Scheduler) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Cursor returns the device-clock time at which the next chunk would start
// if the clock has not passed it.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}
