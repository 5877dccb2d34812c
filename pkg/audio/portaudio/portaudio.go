// Package portaudio provides an [audio.Devices] implementation backed by the
// host's default PortAudio devices via gordonklaus/portaudio.
//
// Streams are opened at the requested format when the device supports it.
// Otherwise the stream runs at the device's default rate and samples are
// resampled at the boundary, so callers always see the format they asked
// for.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/marcomolinaleija/GIC/pkg/audio"
	"github.com/marcomolinaleija/GIC/pkg/audio/mixer"
)

// Compile-time interface assertions.
var (
	_ audio.Devices      = (*Devices)(nil)
	_ audio.InputStream  = (*inputStream)(nil)
	_ audio.OutputStream = (*outputStream)(nil)
)

const (
	// DefaultPeriod is the number of frames written to the output device per
	// hardware period.
	DefaultPeriod = 512

	// frameBuffer is the capacity of the captured frame channel. Frames are
	// dropped when the consumer falls this far behind.
	frameBuffer = 8
)

// Option configures [Devices].
type Option func(*Devices)

// WithPeriod sets the output period in frames. Smaller periods lower
// latency at the cost of more wakeups.
func WithPeriod(frames int) Option {
	return func(d *Devices) {
		if frames > 0 {
			d.period = frames
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(d *Devices) {
		d.log = l
	}
}

// Devices opens streams on the default PortAudio devices. The PortAudio
// library is initialised on the first open and terminated when the last
// open stream is closed.
//
// Devices is safe for concurrent use.
type Devices struct {
	period int
	log    *slog.Logger

	mu   sync.Mutex
	refs int
}

// New returns a [Devices].
func New(opts ...Option) *Devices {
	d := &Devices{period: DefaultPeriod}
	for _, o := range opts {
		o(d)
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	return d
}

func (d *Devices) acquire() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("portaudio: initialize: %w", err)
		}
	}
	d.refs++
	return nil
}

func (d *Devices) release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refs--
	if d.refs == 0 {
		if err := portaudio.Terminate(); err != nil {
			d.log.Warn("portaudio: terminate failed", "err", err)
		}
	}
}

// open tries the requested rate first and falls back to the device default.
// It returns the stream and the rate it actually runs at.
func (d *Devices) open(rate, inCh, outCh, frames int, buf []float32, fallback func() (*portaudio.DeviceInfo, error)) (*portaudio.Stream, int, []float32, error) {
	s, err := portaudio.OpenDefaultStream(inCh, outCh, float64(rate), frames, buf)
	if err == nil {
		return s, rate, buf, nil
	}
	info, infoErr := fallback()
	if infoErr != nil || info == nil || int(info.DefaultSampleRate) == rate {
		return nil, 0, nil, err
	}
	devRate := int(info.DefaultSampleRate)
	devFrames := frames * devRate / rate
	devBuf := make([]float32, devFrames)
	d.log.Info("portaudio: requested rate unsupported, resampling",
		"requested", rate, "device", devRate)
	s, err2 := portaudio.OpenDefaultStream(inCh, outCh, float64(devRate), devFrames, devBuf)
	if err2 != nil {
		return nil, 0, nil, errors.Join(err, err2)
	}
	return s, devRate, devBuf, nil
}

// OpenInput opens the default microphone. Frames carry frameSize samples at
// format.SampleRate.
func (d *Devices) OpenInput(ctx context.Context, format audio.Format, frameSize int) (audio.InputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if format.Channels != 1 {
		return nil, fmt.Errorf("portaudio: open input: unsupported channel count %d", format.Channels)
	}
	if err := d.acquire(); err != nil {
		return nil, err
	}

	buf := make([]float32, frameSize)
	stream, devRate, devBuf, err := d.open(format.SampleRate, 1, 0, frameSize, buf, portaudio.DefaultInputDevice)
	if err != nil {
		d.release()
		return nil, fmt.Errorf("portaudio: open input: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		d.release()
		return nil, fmt.Errorf("portaudio: start input: %w", err)
	}

	in := &inputStream{
		devices: d,
		stream:  stream,
		format:  format,
		devRate: devRate,
		buf:     devBuf,
		frames:  make(chan audio.Frame, frameBuffer),
		done:    make(chan struct{}),
	}
	go in.run()
	return in, nil
}

// OpenOutput opens the default speaker.
func (d *Devices) OpenOutput(ctx context.Context, format audio.Format) (audio.OutputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if format.Channels != 1 {
		return nil, fmt.Errorf("portaudio: open output: unsupported channel count %d", format.Channels)
	}
	if err := d.acquire(); err != nil {
		return nil, err
	}

	buf := make([]float32, d.period)
	stream, devRate, devBuf, err := d.open(format.SampleRate, 0, 1, d.period, buf, portaudio.DefaultOutputDevice)
	if err != nil {
		d.release()
		return nil, fmt.Errorf("portaudio: open output: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		d.release()
		return nil, fmt.Errorf("portaudio: start output: %w", err)
	}

	out := &outputStream{
		devices:  d,
		stream:   stream,
		format:   format,
		timeline: mixer.NewTimeline(devRate),
		buf:      devBuf,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go out.run()
	return out, nil
}

// ── Input ──────────────────────────────────────────────────────────────────

type inputStream struct {
	devices *Devices
	stream  *portaudio.Stream
	format  audio.Format
	devRate int
	buf     []float32
	frames  chan audio.Frame
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error
	mu        sync.Mutex
	closing   bool
}

func (s *inputStream) Frames() <-chan audio.Frame { return s.frames }

func (s *inputStream) Format() audio.Format { return s.format }

func (s *inputStream) run() {
	defer close(s.done)
	defer close(s.frames)

	var captured time.Duration
	var warnOnce sync.Once
	for {
		if err := s.stream.Read(); err != nil {
			if !s.isClosing() && !errors.Is(err, portaudio.InputOverflowed) {
				s.devices.log.Warn("portaudio: input read failed", "err", err)
				return
			}
			if s.isClosing() {
				return
			}
		}

		samples := make([]float32, len(s.buf))
		copy(samples, s.buf)
		samples = audio.Resample(samples, s.devRate, s.format.SampleRate)

		f := audio.Frame{
			Samples:    samples,
			SampleRate: s.format.SampleRate,
			Channels:   1,
			Timestamp:  captured,
		}
		captured += time.Duration(len(samples)) * time.Second / time.Duration(s.format.SampleRate)

		select {
		case s.frames <- f:
		default:
			warnOnce.Do(func() {
				s.devices.log.Warn("portaudio: capture consumer is behind, dropping frames")
			})
		}
	}
}

func (s *inputStream) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// Close aborts the stream, which unblocks the pending Read.
func (s *inputStream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()

		abortErr := s.stream.Abort()
		<-s.done
		s.closeErr = errors.Join(abortErr, s.stream.Close())
		s.devices.release()
		if s.closeErr != nil {
			s.closeErr = fmt.Errorf("portaudio: close input: %w", s.closeErr)
		}
	})
	return s.closeErr
}

// ── Output ─────────────────────────────────────────────────────────────────

type outputStream struct {
	devices  *Devices
	stream   *portaudio.Stream
	format   audio.Format
	timeline *mixer.Timeline
	buf      []float32
	stop     chan struct{}
	done     chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func (s *outputStream) Now() time.Duration { return s.timeline.Now() }

func (s *outputStream) Format() audio.Format { return s.format }

// Schedule resamples buf to the device rate if needed and places it on the
// timeline.
func (s *outputStream) Schedule(buf audio.Buffer, at time.Duration) (audio.Source, error) {
	if buf.Channels > 1 {
		return nil, fmt.Errorf("portaudio: schedule: unsupported channel count %d", buf.Channels)
	}
	rate := buf.SampleRate
	if rate <= 0 {
		rate = s.format.SampleRate
	}
	samples := audio.Resample(buf.Samples, rate, s.timeline.Rate())
	v, err := s.timeline.Schedule(samples, at)
	if err != nil {
		return nil, fmt.Errorf("portaudio: schedule: %w", err)
	}
	return v, nil
}

// run feeds one period per Write. Write blocks until the device has room,
// which paces the timeline at the hardware rate.
func (s *outputStream) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		s.timeline.Mix(s.buf)
		if err := s.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			select {
			case <-s.stop:
			default:
				s.devices.log.Warn("portaudio: output write failed", "err", err)
			}
			return
		}
	}
}

func (s *outputStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.timeline.Close()
		abortErr := s.stream.Abort()
		<-s.done
		s.closeErr = errors.Join(abortErr, s.stream.Close())
		s.devices.release()
		if s.closeErr != nil {
			s.closeErr = fmt.Errorf("portaudio: close output: %w", s.closeErr)
		}
	})
	return s.closeErr
}
