// Package gemini implements help.Provider with a Gemini text model.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/marcomolinaleija/GIC/pkg/provider/help"
)

const defaultModel = "gemini-2.5-flash"

type models interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel overrides the model name.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithSystemInstruction replaces the default help system prompt.
func WithSystemInstruction(s string) Option {
	return func(p *Provider) { p.instruction = s }
}

// Provider implements help.Provider.
type Provider struct {
	models      models
	model       string
	instruction string
}

var _ help.Provider = (*Provider)(nil)

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
	p := &Provider{models: m, model: defaultModel, instruction: help.SystemInstruction()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Ask implements help.Provider.
func (p *Provider) Ask(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", errors.New("gemini: ask: question must not be empty")
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(p.instruction)}},
	}
	resp, err := p.models.GenerateContent(ctx, p.model, []*genai.Content{
		{Role: "user", Parts: []*genai.Part{genai.NewPartFromText(question)}},
	}, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini: ask: %w", err)
	}

	var sb strings.Builder
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part != nil {
				sb.WriteString(part.Text)
			}
		}
	}
	answer := strings.TrimSpace(sb.String())
	if answer == "" {
		return "", errors.New("gemini: ask: empty answer")
	}
	return answer, nil
}
