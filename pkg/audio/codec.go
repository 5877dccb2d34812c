package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrDecode is wrapped by every decoding failure. A decode error concerns a
// single chunk: callers drop the chunk and keep the session running.
var ErrDecode = errors.New("audio: decode error")

// pcmScale maps float samples onto the int16 range.
const pcmScale = 32768

// EncodePCM16 converts float samples in [-1, 1] to 16-bit signed
// little-endian PCM. Each sample is scaled by 32768 and clamped to the
// representable range, so +1.0 becomes 32767 rather than overflowing.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

func floatToInt16(s float32) int16 {
	if s != s { // NaN
		return 0
	}
	v := math.Round(float64(s) * pcmScale)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// DecodePCM16 reinterprets little-endian 16-bit PCM bytes as int16 samples.
func DecodePCM16(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d in PCM16 data", ErrDecode, len(data))
	}
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out, nil
}

// DecodeAudioData converts raw PCM16 bytes into a playable float [Buffer] at
// the given sample rate and channel count. Empty, misaligned or otherwise
// malformed input yields an error wrapping [ErrDecode].
func DecodeAudioData(data []byte, sampleRate, channels int) (Buffer, error) {
	if sampleRate <= 0 || channels <= 0 {
		return Buffer{}, fmt.Errorf("%w: invalid format %s", ErrDecode, formatString(sampleRate, channels))
	}
	if len(data) == 0 {
		return Buffer{}, fmt.Errorf("%w: empty audio chunk", ErrDecode)
	}
	if len(data)%(2*channels) != 0 {
		return Buffer{}, fmt.Errorf("%w: %d bytes is not a whole number of %s frames",
			ErrDecode, len(data), formatString(sampleRate, channels))
	}
	pcm, err := DecodePCM16(data)
	if err != nil {
		return Buffer{}, err
	}
	samples := make([]float32, len(pcm))
	for i, s := range pcm {
		samples[i] = float32(s) / pcmScale
	}
	return Buffer{Samples: samples, SampleRate: sampleRate, Channels: channels}, nil
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "24000Hz mono".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 || channels <= 0 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
