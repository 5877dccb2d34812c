// Package speech defines the Provider interface for the text-to-speech
// backend that reads image descriptions and status messages aloud.
package speech

import (
	"context"
	"errors"
)

// SampleRate is the rate of the PCM returned by every Provider.
const SampleRate = 24000

// DefaultVoice is used when the caller does not name a voice.
const DefaultVoice = "Zephyr"

// ErrNoAudio is returned when the backend answers without any audio.
var ErrNoAudio = errors.New("speech: response carried no audio")

// FailureMessage is shown to the user when synthesis fails.
const FailureMessage = "No se pudo convertir el texto a voz."

// Provider converts text into mono 16-bit little-endian PCM at [SampleRate].
// Implementations are stateless and safe for concurrent use.
type Provider interface {
	Speak(ctx context.Context, text, voice string) ([]byte, error)
}
