package mixer

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/marcomolinaleija/GIC/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Source = (*Voice)(nil)

// ErrClosed is returned by [Timeline.Schedule] after [Timeline.Close].
var ErrClosed = errors.New("mixer: timeline closed")

// Timeline is a mono playback clock measured in frames mixed so far.
//
// All exported methods are safe for concurrent use.
type Timeline struct {
	rate int

	mu      sync.Mutex
	pos     int64     // frames mixed so far
	pending voiceHeap // scheduled voices that have not started
	active  []*Voice
	seq     uint64
	closed  bool
}

// NewTimeline returns a timeline running at rate Hz.
func NewTimeline(rate int) *Timeline {
	if rate <= 0 {
		rate = audio.OutputSampleRate
	}
	return &Timeline{rate: rate}
}

// Rate returns the sample rate the timeline was created with.
func (t *Timeline) Rate() int { return t.rate }

// Now returns the clock position.
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.toDuration(t.pos)
}

// Schedule queues samples to start at offset at. Offsets in the past start
// on the next mixed frame. samples must already be at the timeline rate.
func (t *Timeline) Schedule(samples []float32, at time.Duration) (*Voice, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}

	start := t.toFrames(at)
	if start < t.pos {
		start = t.pos
	}
	t.seq++
	v := &Voice{
		t:       t,
		start:   start,
		samples: samples,
		seq:     t.seq,
		done:    make(chan struct{}),
	}
	if len(samples) == 0 {
		v.finish()
		return v, nil
	}
	heap.Push(&t.pending, v)
	return v, nil
}

// Mix fills dst with the sum of every voice overlapping the next len(dst)
// frames and advances the clock by len(dst). Voices that end inside the
// window are finished. Output is clamped to [-1, 1].
func (t *Timeline) Mix(dst []float32) {
	clear(dst)

	t.mu.Lock()
	defer t.mu.Unlock()

	from := t.pos
	to := from + int64(len(dst))
	for t.pending.Len() > 0 && t.pending[0].start < to {
		t.active = append(t.active, heap.Pop(&t.pending).(*Voice))
	}

	kept := t.active[:0]
	for _, v := range t.active {
		if v.stopped {
			continue
		}
		// Offsets of the overlap within dst and within the voice.
		di := max(v.start-from, 0)
		si := max(from-v.start, 0)
		n := min(int64(len(dst))-di, int64(len(v.samples))-si)
		for i := range n {
			dst[di+i] += v.samples[si+i]
		}
		if v.start+int64(len(v.samples)) <= to {
			v.finish()
			continue
		}
		kept = append(kept, v)
	}
	clear(t.active[len(kept):])
	t.active = kept
	t.pos = to

	for i, s := range dst {
		dst[i] = max(-1, min(1, s))
	}
}

// Idle reports whether nothing is playing or scheduled.
func (t *Timeline) Idle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active) == 0 && t.pending.Len() == 0
}

// Close stops every voice and rejects further scheduling. Calling Close more
// than once is safe.
func (t *Timeline) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for _, v := range t.active {
		v.stopped = true
		v.finish()
	}
	for _, v := range t.pending {
		v.stopped = true
		v.finish()
	}
	t.active = nil
	t.pending = nil
}

func (t *Timeline) toFrames(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(d) * int64(t.rate) / int64(time.Second)
}

func (t *Timeline) toDuration(frames int64) time.Duration {
	return time.Duration(frames * int64(time.Second) / int64(t.rate))
}

// ── Voice ──────────────────────────────────────────────────────────────────

// Voice is one buffer scheduled on a [Timeline].
type Voice struct {
	t       *Timeline
	start   int64
	samples []float32
	seq     uint64

	// Guarded by t.mu.
	stopped bool

	once sync.Once
	done chan struct{}
}

// Start returns the clock offset at which the voice begins.
func (v *Voice) Start() time.Duration {
	return v.t.toDuration(v.start)
}

// Stop silences the voice. A stopped voice is dropped on the next Mix.
func (v *Voice) Stop() {
	v.t.mu.Lock()
	v.stopped = true
	v.t.mu.Unlock()
	v.finish()
}

// Done is closed when the voice finished playing or was stopped.
func (v *Voice) Done() <-chan struct{} { return v.done }

func (v *Voice) finish() {
	v.once.Do(func() { close(v.done) })
}
