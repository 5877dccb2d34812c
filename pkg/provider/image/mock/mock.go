// Package mock provides a test double for the image.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/marcomolinaleija/GIC/pkg/provider/image"
)

// EditCall records a single invocation of Provider.Edit.
type EditCall struct {
	Src    image.Image
	Prompt string
}

// Provider is a mock implementation of image.Provider.
type Provider struct {
	mu sync.Mutex

	// GenerateResult is returned by Generate. If nil and GenerateErr is nil,
	// Generate returns a one-byte PNG carrying the request fields.
	GenerateResult *image.Image

	// GenerateErr, if non-nil, is returned as the error from Generate.
	GenerateErr error

	// EditResult is returned by Edit.
	EditResult *image.Image

	// EditErr, if non-nil, is returned as the error from Edit.
	EditErr error

	// Description is returned by Analyze.
	Description string

	// AnalyzeErr, if non-nil, is returned as the error from Analyze.
	AnalyzeErr error

	// Block, if non-nil, makes Generate wait until the channel is closed or
	// the context is cancelled.
	Block chan struct{}

	// GenerateCalls records every Generate request in order.
	GenerateCalls []image.GenerateRequest

	// EditCalls records every Edit call in order.
	EditCalls []EditCall

	// AnalyzeCalls records every image passed to Analyze.
	AnalyzeCalls []image.Image
}

// Generate records the request and returns GenerateResult, GenerateErr.
func (p *Provider) Generate(ctx context.Context, req image.GenerateRequest) (*image.Image, error) {
	p.mu.Lock()
	p.GenerateCalls = append(p.GenerateCalls, req)
	block := p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.GenerateErr != nil {
		return nil, p.GenerateErr
	}
	if p.GenerateResult != nil {
		return p.GenerateResult, nil
	}
	return &image.Image{
		Data:        []byte{0x89},
		MIMEType:    "image/png",
		Prompt:      req.Prompt,
		AspectRatio: req.AspectRatio,
	}, nil
}

// Edit records the call and returns EditResult, EditErr.
func (p *Provider) Edit(_ context.Context, src image.Image, prompt string) (*image.Image, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EditCalls = append(p.EditCalls, EditCall{Src: src, Prompt: prompt})
	return p.EditResult, p.EditErr
}

// Analyze records the call and returns Description, AnalyzeErr.
func (p *Provider) Analyze(_ context.Context, img image.Image) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.AnalyzeCalls = append(p.AnalyzeCalls, img)
	return p.Description, p.AnalyzeErr
}

// GenerateCount returns the number of Generate calls.
func (p *Provider) GenerateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.GenerateCalls)
}

var _ image.Provider = (*Provider)(nil)
