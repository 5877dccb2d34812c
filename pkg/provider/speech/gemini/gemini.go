// Package gemini implements speech.Provider with a Gemini TTS model.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/marcomolinaleija/GIC/pkg/audio"
	"github.com/marcomolinaleija/GIC/pkg/provider/speech"
)

const defaultModel = "gemini-2.5-flash-preview-tts"

type models interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel overrides the model name.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// Provider implements speech.Provider.
type Provider struct {
	models models
	model  string
}

var _ speech.Provider = (*Provider)(nil)

// New creates a Provider authenticated with apiKey.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: api key must not be empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return newProvider(client.Models, opts...), nil
}

func newProvider(m models, opts ...Option) *Provider {
	p := &Provider{models: m, model: defaultModel}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Speak implements speech.Provider. An empty voice selects
// [speech.DefaultVoice]. Audio returned at another rate is resampled.
func (p *Provider) Speak(ctx context.Context, text, voice string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("gemini: speak: text must not be empty")
	}
	if voice == "" {
		voice = speech.DefaultVoice
	}

	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}
	resp, err := p.models.GenerateContent(ctx, p.model, []*genai.Content{
		{Role: "user", Parts: []*genai.Part{genai.NewPartFromText(text)}},
	}, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: speak: %w", err)
	}

	blob := firstAudio(resp)
	if blob == nil {
		return nil, speech.ErrNoAudio
	}
	rate, ok := audio.RateFromMIMEType(blob.MIMEType)
	if !ok || rate == speech.SampleRate {
		return blob.Data, nil
	}
	buf, err := audio.DecodeAudioData(blob.Data, rate, audio.Channels)
	if err != nil {
		return nil, fmt.Errorf("gemini: speak: %w", err)
	}
	return audio.EncodePCM16(audio.Resample(buf.Samples, rate, speech.SampleRate)), nil
}

func firstAudio(resp *genai.GenerateContentResponse) *genai.Blob {
	if resp == nil {
		return nil
	}
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, part := range c.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData
			}
		}
	}
	return nil
}
