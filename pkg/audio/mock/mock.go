// Package mock provides in-memory mock implementations of the [audio.Devices],
// [audio.InputStream] and [audio.OutputStream] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so that tests
// can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	in := mock.NewInputStream(audio.InputFormat, 8)
//	out := mock.NewOutputStream(audio.OutputFormat)
//	devices := &mock.Devices{Input: in, Output: out}
//	in.Push(audio.Frame{Samples: make([]float32, 4096)})
//	out.SetNow(250 * time.Millisecond)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/marcomolinaleija/GIC/pkg/audio"
)

// ─── Devices ──────────────────────────────────────────────────────────────────

// Devices is a mock implementation of [audio.Devices].
type Devices struct {
	mu sync.Mutex

	// Input is returned by OpenInput. If nil, a fresh InputStream is created.
	Input *InputStream

	// Output is returned by OpenOutput. If nil, a fresh OutputStream is created.
	Output *OutputStream

	// OpenInputErr, if non-nil, is returned by OpenInput.
	OpenInputErr error

	// OpenOutputErr, if non-nil, is returned by OpenOutput.
	OpenOutputErr error

	// CallCountOpenInput records how many times OpenInput was called.
	CallCountOpenInput int

	// CallCountOpenOutput records how many times OpenOutput was called.
	CallCountOpenOutput int

	// FrameSizes records the frameSize argument of every OpenInput call.
	FrameSizes []int
}

// OpenInput implements [audio.Devices].
func (d *Devices) OpenInput(_ context.Context, format audio.Format, frameSize int) (audio.InputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpenInput++
	d.FrameSizes = append(d.FrameSizes, frameSize)
	if d.OpenInputErr != nil {
		return nil, d.OpenInputErr
	}
	if d.Input == nil {
		d.Input = NewInputStream(format, 16)
	}
	return d.Input, nil
}

// OpenOutput implements [audio.Devices].
func (d *Devices) OpenOutput(_ context.Context, format audio.Format) (audio.OutputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpenOutput++
	if d.OpenOutputErr != nil {
		return nil, d.OpenOutputErr
	}
	if d.Output == nil {
		d.Output = NewOutputStream(format)
	}
	return d.Output, nil
}

var _ audio.Devices = (*Devices)(nil)

// ─── InputStream ──────────────────────────────────────────────────────────────

// InputStream is a mock implementation of [audio.InputStream]. Frames are fed
// by the test through [InputStream.Push].
type InputStream struct {
	mu     sync.Mutex
	format audio.Format
	frames chan audio.Frame
	closed bool

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewInputStream returns an InputStream whose frame channel has the given
// buffer capacity.
func NewInputStream(format audio.Format, buffer int) *InputStream {
	return &InputStream{format: format, frames: make(chan audio.Frame, buffer)}
}

// Push delivers a frame as if it had been captured by the device. It reports
// false when the stream is closed or the buffer is full.
func (s *InputStream) Push(f audio.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if f.SampleRate == 0 {
		f.SampleRate = s.format.SampleRate
	}
	if f.Channels == 0 {
		f.Channels = s.format.Channels
	}
	select {
	case s.frames <- f:
		return true
	default:
		return false
	}
}

// Frames implements [audio.InputStream].
func (s *InputStream) Frames() <-chan audio.Frame { return s.frames }

// Format implements [audio.InputStream].
func (s *InputStream) Format() audio.Format { return s.format }

// Close implements [audio.InputStream]. Every call is counted; only the first
// closes the frame channel.
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return s.CloseErr
}

// Closed reports whether Close has been called.
func (s *InputStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// CloseCount returns the number of Close calls.
func (s *InputStream) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose
}

var _ audio.InputStream = (*InputStream)(nil)

// ─── OutputStream ─────────────────────────────────────────────────────────────

// ScheduleCall records a single invocation of [OutputStream.Schedule].
type ScheduleCall struct {
	Buffer audio.Buffer
	At     time.Duration
	Source *Source
}

// OutputStream is a mock implementation of [audio.OutputStream]. Its clock is
// manual: it only advances through [OutputStream.SetNow] or
// [OutputStream.Advance]. Sources never finish on their own; tests end them
// with [Source.Finish] or [OutputStream.FinishDue].
type OutputStream struct {
	mu     sync.Mutex
	format audio.Format
	now    time.Duration
	closed bool

	// ScheduleErr, if non-nil, is returned by Schedule.
	ScheduleErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// ScheduleCalls records every Schedule call in order.
	ScheduleCalls []ScheduleCall

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewOutputStream returns an OutputStream with its clock at zero.
func NewOutputStream(format audio.Format) *OutputStream {
	return &OutputStream{format: format}
}

// SetNow moves the device clock to d.
func (s *OutputStream) SetNow(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = d
}

// Advance moves the device clock forward by d.
func (s *OutputStream) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now += d
}

// Now implements [audio.OutputStream].
func (s *OutputStream) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Format implements [audio.OutputStream].
func (s *OutputStream) Format() audio.Format { return s.format }

// Schedule implements [audio.OutputStream].
func (s *OutputStream) Schedule(buf audio.Buffer, at time.Duration) (audio.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ScheduleErr != nil {
		return nil, s.ScheduleErr
	}
	src := newSource(at, at+buf.Duration())
	s.ScheduleCalls = append(s.ScheduleCalls, ScheduleCall{Buffer: buf, At: at, Source: src})
	return src, nil
}

// Calls returns a copy of the recorded Schedule calls.
func (s *OutputStream) Calls() []ScheduleCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleCall, len(s.ScheduleCalls))
	copy(out, s.ScheduleCalls)
	return out
}

// FinishDue ends every scheduled source whose end time is at or before the
// current clock, emulating natural completion.
func (s *OutputStream) FinishDue() {
	s.mu.Lock()
	now := s.now
	calls := make([]ScheduleCall, len(s.ScheduleCalls))
	copy(calls, s.ScheduleCalls)
	s.mu.Unlock()

	for _, c := range calls {
		if c.Source.End <= now {
			c.Source.Finish()
		}
	}
}

// Close implements [audio.OutputStream]. It stops every scheduled source.
func (s *OutputStream) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	s.closed = true
	calls := s.ScheduleCalls
	s.mu.Unlock()

	for _, c := range calls {
		c.Source.Stop()
	}
	return s.CloseErr
}

// CloseCount returns the number of Close calls.
func (s *OutputStream) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose
}

var _ audio.OutputStream = (*OutputStream)(nil)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source].
type Source struct {
	// Start and End are the scheduled device-clock interval.
	Start, End time.Duration

	mu       sync.Mutex
	done     chan struct{}
	stopped  bool
	finished bool
}

func newSource(start, end time.Duration) *Source {
	return &Source{Start: start, End: end, done: make(chan struct{})}
}

// Stop implements [audio.Source].
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.finished {
		return
	}
	s.stopped = true
	close(s.done)
}

// Finish ends the source as if playback completed naturally.
func (s *Source) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.finished {
		return
	}
	s.finished = true
	close(s.done)
}

// Done implements [audio.Source].
func (s *Source) Done() <-chan struct{} { return s.done }

// Stopped reports whether the source was stopped before finishing.
func (s *Source) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

var _ audio.Source = (*Source)(nil)
