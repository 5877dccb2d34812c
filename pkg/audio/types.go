package audio

import "time"

// Wire contract with the live conversation service. These are negotiated
// values, not tuning knobs.
const (
	// InputSampleRate is the rate at which microphone audio is captured and
	// streamed upstream.
	InputSampleRate = 16000

	// OutputSampleRate is the rate of the PCM audio the service streams back.
	OutputSampleRate = 24000

	// CaptureFrameSize is the number of samples per captured frame.
	CaptureFrameSize = 4096

	// Channels is the channel count for every stream in the pipeline.
	Channels = 1
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// InputFormat is the format microphone streams are opened with.
var InputFormat = Format{SampleRate: InputSampleRate, Channels: Channels}

// OutputFormat is the format speaker streams are opened with.
var OutputFormat = Format{SampleRate: OutputSampleRate, Channels: Channels}

// Frame is a fixed-length chunk of captured audio. Frames are ephemeral:
// they are produced by an [InputStream] and consumed immediately by the
// encoder, never retained.
type Frame struct {
	// Samples holds interleaved float samples in [-1, 1].
	Samples []float32

	// SampleRate in Hz.
	SampleRate int

	// Channels is always 1 for captured audio.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Buffer is decoded audio ready to be handed to an [OutputStream].
type Buffer struct {
	// Samples holds interleaved float samples in [-1, 1].
	Samples []float32

	// SampleRate in Hz.
	SampleRate int

	// Channels is the number of interleaved channels.
	Channels int
}

// Frames returns the number of sample frames (samples per channel).
func (b Buffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration returns the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}
