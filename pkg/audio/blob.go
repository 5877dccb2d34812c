package audio

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// pcmMIMEPrefix is the mime type family used for raw PCM16 transport units.
const pcmMIMEPrefix = "audio/pcm;rate="

// Blob is the transport unit exchanged with the live conversation service:
// raw bytes plus a mime type tag that identifies the PCM rate.
type Blob struct {
	Data     []byte
	MIMEType string
}

// PCMMIMEType returns the rate-tagged mime type for PCM16 audio, e.g.
// "audio/pcm;rate=16000".
func PCMMIMEType(sampleRate int) string {
	return pcmMIMEPrefix + strconv.Itoa(sampleRate)
}

// NewPCMBlob encodes samples as PCM16 and tags them with the given rate.
func NewPCMBlob(samples []float32, sampleRate int) Blob {
	return Blob{
		Data:     EncodePCM16(samples),
		MIMEType: PCMMIMEType(sampleRate),
	}
}

// Base64 returns the textual framing of the blob payload.
func (b Blob) Base64() string {
	return base64.StdEncoding.EncodeToString(b.Data)
}

// ParseBlob decodes a base64 payload received from the transport.
func ParseBlob(data, mimeType string) (Blob, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return Blob{}, fmt.Errorf("%w: base64: %v", ErrDecode, err)
	}
	return Blob{Data: raw, MIMEType: mimeType}, nil
}

// RateFromMIMEType extracts the sample rate from a PCM mime type. It returns
// false when the type carries no rate parameter.
func RateFromMIMEType(mimeType string) (int, bool) {
	for _, param := range strings.Split(mimeType, ";")[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(key, "rate") {
			continue
		}
		rate, err := strconv.Atoi(value)
		if err != nil || rate <= 0 {
			return 0, false
		}
		return rate, true
	}
	return 0, false
}
