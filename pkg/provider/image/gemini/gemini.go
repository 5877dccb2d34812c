// Package gemini implements image.Provider on top of the Google Gen AI SDK.
//
// Generation goes through the Imagen predict endpoint; editing and analysis
// are multimodal GenerateContent calls against Gemini models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/marcomolinaleija/GIC/pkg/provider/image"
)

const (
	defaultGenerateModel = "imagen-4.0-generate-001"
	defaultEditModel     = "gemini-2.5-flash-image"
	defaultAnalyzeModel  = "gemini-2.5-flash"

	outputMIMEType = "image/png"

	analyzePrompt = "Describe esta imagen en detalle para una persona ciega. " +
		"Sé muy específico sobre los objetos, colores, composición y cualquier texto visible."
)

// models is the subset of *genai.Models used by the provider.
type models interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateImages(ctx context.Context, model, prompt string, config *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error)
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Imagen model used by Generate.
func WithModel(model string) Option {
	return func(p *Provider) { p.generateModel = model }
}

// WithEditModel sets the Gemini model used by Edit.
func WithEditModel(model string) Option {
	return func(p *Provider) { p.editModel = model }
}

// WithAnalyzeModel sets the Gemini model used by Analyze.
func WithAnalyzeModel(model string) Option {
	return func(p *Provider) { p.analyzeModel = model }
}

// Provider implements image.Provider using the Gen AI SDK.
type Provider struct {
	models        models
	generateModel string
	editModel     string
	analyzeModel  string
	now           func() time.Time
}

var _ image.Provider = (*Provider)(nil)

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
	p := &Provider{
		models:        m,
		generateModel: defaultGenerateModel,
		editModel:     defaultEditModel,
		analyzeModel:  defaultAnalyzeModel,
		now:           time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Generate implements image.Provider.
func (p *Provider) Generate(ctx context.Context, req image.GenerateRequest) (*image.Image, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("gemini: generate: prompt must not be empty")
	}
	ar := req.AspectRatio
	if ar == "" {
		ar = image.Square
	}

	resp, err := p.models.GenerateImages(ctx, p.generateModel, req.Prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		OutputMIMEType: outputMIMEType,
		AspectRatio:    string(ar),
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: generate: %w", err)
	}
	if resp == nil || len(resp.GeneratedImages) == 0 {
		return nil, fmt.Errorf("gemini: generate: %w", image.ErrNoImage)
	}
	gen := resp.GeneratedImages[0]
	if gen.Image == nil || len(gen.Image.ImageBytes) == 0 {
		if gen.RAIFilteredReason != "" {
			return nil, fmt.Errorf("gemini: generate: filtered (%s): %w", gen.RAIFilteredReason, image.ErrNoImage)
		}
		return nil, fmt.Errorf("gemini: generate: %w", image.ErrNoImage)
	}

	mime := gen.Image.MIMEType
	if mime == "" {
		mime = outputMIMEType
	}
	return &image.Image{
		Data:        gen.Image.ImageBytes,
		MIMEType:    mime,
		Prompt:      req.Prompt,
		AspectRatio: ar,
		CreatedAt:   p.now(),
	}, nil
}

// Edit implements image.Provider.
func (p *Provider) Edit(ctx context.Context, src image.Image, prompt string) (*image.Image, error) {
	if len(src.Data) == 0 {
		return nil, errors.New("gemini: edit: source image is empty")
	}
	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			genai.NewPartFromBytes(src.Data, mimeOrPNG(src.MIMEType)),
			genai.NewPartFromText(prompt),
		},
	}}
	resp, err := p.models.GenerateContent(ctx, p.editModel, contents, &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: edit: %w", err)
	}

	for _, part := range firstCandidateParts(resp) {
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return &image.Image{
				Data:      part.InlineData.Data,
				MIMEType:  mimeOrPNG(part.InlineData.MIMEType),
				Prompt:    prompt,
				CreatedAt: p.now(),
			}, nil
		}
	}
	return nil, fmt.Errorf("gemini: edit: %w", image.ErrNoImage)
}

// Analyze implements image.Provider.
func (p *Provider) Analyze(ctx context.Context, img image.Image) (string, error) {
	if len(img.Data) == 0 {
		return "", errors.New("gemini: analyze: image is empty")
	}
	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			genai.NewPartFromBytes(img.Data, mimeOrPNG(img.MIMEType)),
			genai.NewPartFromText(analyzePrompt),
		},
	}}
	resp, err := p.models.GenerateContent(ctx, p.analyzeModel, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini: analyze: %w", err)
	}

	var sb strings.Builder
	for _, part := range firstCandidateParts(resp) {
		sb.WriteString(part.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", errors.New("gemini: analyze: empty description")
	}
	return text, nil
}

func firstCandidateParts(resp *genai.GenerateContentResponse) []*genai.Part {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return nil
	}
	parts := make([]*genai.Part, 0, len(resp.Candidates[0].Content.Parts))
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			parts = append(parts, part)
		}
	}
	return parts
}

func mimeOrPNG(mime string) string {
	if mime == "" {
		return outputMIMEType
	}
	return mime
}
