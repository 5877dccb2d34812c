// Package audio defines the audio primitives of the voice session engine:
// frames, playable buffers, the PCM16 wire codec and the device contracts.
//
// The two device abstractions are:
//
//   - [InputStream]: a live microphone stream delivering fixed-size [Frame]s.
//   - [OutputStream]: a speaker timeline on which decoded [Buffer]s are
//     scheduled at absolute offsets of the device clock.
//
// Streams are obtained from a [Devices] implementation supplied by the host
// (see audio/portaudio).
package audio

import (
	"context"
	"time"
)

// InputStream is an exclusive handle on one capture device stream.
//
// Implementations must be safe for concurrent use.
type InputStream interface {
	// Frames returns the channel on which captured frames are delivered. The
	// channel is closed when the stream is closed or the device fails.
	Frames() <-chan Frame

	// Format reports the format of the delivered frames.
	Format() Format

	// Close releases the device. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Source is a handle to one buffer scheduled on an [OutputStream].
type Source interface {
	// Stop halts playback immediately. Stopping a finished source is a no-op.
	Stop()

	// Done is closed when the source finished playing or was stopped.
	Done() <-chan struct{}
}

// OutputStream is an exclusive handle on one playback device timeline.
//
// Implementations must be safe for concurrent use.
type OutputStream interface {
	// Now returns the current position of the device clock.
	Now() time.Duration

	// Schedule queues buf to start playing when the device clock reaches at.
	// A start time in the past plays as soon as possible.
	Schedule(buf Buffer, at time.Duration) (Source, error)

	// Format reports the format the stream was opened with.
	Format() Format

	// Close stops all scheduled sources and releases the device. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Devices opens capture and playback streams. It is the capability the host
// platform provides to the engine.
type Devices interface {
	// OpenInput opens the default capture device. frameSize is the number of
	// samples per delivered [Frame]. Returns an error if the device is
	// unavailable or access was denied.
	OpenInput(ctx context.Context, format Format, frameSize int) (InputStream, error)

	// OpenOutput opens the default playback device.
	OpenOutput(ctx context.Context, format Format) (OutputStream, error)
}
