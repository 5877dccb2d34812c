// Package imagegen provides the "generateImage" tool the voice assistant calls
// when the user asks for a picture.
//
// The handler renders the image through an [image.Provider], hands it to an
// [image.Sink] for the outside world to display, and answers the model with
// a short status object so the conversation can resume.
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/marcomolinaleija/GIC/internal/tools"
	"github.com/marcomolinaleija/GIC/pkg/provider/image"
)

// Name is the function name declared to the model.
const Name = "generateImage"

// defaultTimeout bounds a single generation.
const defaultTimeout = 60 * time.Second

// Result is returned to the model after a successful generation.
type Result struct {
	Status      string `json:"status"`
	MIMEType    string `json:"mimeType"`
	AspectRatio string `json:"aspectRatio"`
}

// Declaration returns the function declaration for the tool.
func Declaration() map[string]any {
	ratios := make([]any, len(image.AspectRatios))
	for i, ar := range image.AspectRatios {
		ratios[i] = string(ar)
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prompt": map[string]any{
				"type":        "string",
				"description": "Descripción detallada de la imagen que se debe generar.",
			},
			"aspectRatio": map[string]any{
				"type":        "string",
				"description": "Proporción de la imagen. Por defecto 1:1.",
				"enum":        ratios,
			},
		},
		"required": []any{"prompt"},
	}
}

// Tool returns the generateImage tool bound to p and sink. A nil sink
// discards the images.
func Tool(p image.Provider, sink image.Sink) tools.Tool {
	t := tools.Tool{
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return generate(ctx, p, sink, args)
		},
		Timeout: defaultTimeout,
	}
	t.Definition.Name = Name
	t.Definition.Description = "Genera una imagen a partir de una descripción de texto cuando el usuario lo pida."
	t.Definition.Parameters = Declaration()
	return t
}

func generate(ctx context.Context, p image.Provider, sink image.Sink, args map[string]any) (Result, error) {
	prompt, _ := args["prompt"].(string)
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Result{}, errors.New("imagegen: 'prompt' is required")
	}

	raw, _ := args["aspectRatio"].(string)
	ar, err := image.ParseAspectRatio(raw)
	if err != nil {
		return Result{}, fmt.Errorf("imagegen: %w", err)
	}

	img, err := p.Generate(ctx, image.GenerateRequest{Prompt: prompt, AspectRatio: ar})
	if err != nil {
		return Result{}, fmt.Errorf("imagegen: %w", err)
	}
	if img == nil {
		return Result{}, fmt.Errorf("imagegen: %w", image.ErrNoImage)
	}
	if sink != nil {
		sink.Deliver(ctx, img)
	}

	return Result{Status: "ok", MIMEType: img.MIMEType, AspectRatio: string(ar)}, nil
}
