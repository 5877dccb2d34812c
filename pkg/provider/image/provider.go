// Package image defines the Provider interface for the creative image
// services: text-to-image generation, prompt-driven editing and accessible
// scene description of an existing image.
//
// Implementations are plain request/response calls; they hold no session
// state and must be safe for concurrent use.
package image

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// ErrNoImage is returned when a backend call succeeds but carries no image.
var ErrNoImage = errors.New("image: no image returned")

// AspectRatio is one of the supported output frame shapes.
type AspectRatio string

// Supported aspect ratios.
const (
	Square    AspectRatio = "1:1"
	Landscape AspectRatio = "16:9"
	Portrait  AspectRatio = "9:16"
	Classic   AspectRatio = "4:3"
	Tall      AspectRatio = "3:4"
)

// AspectRatios lists every supported [AspectRatio] in presentation order.
var AspectRatios = []AspectRatio{Square, Landscape, Portrait, Classic, Tall}

// ParseAspectRatio validates s. The empty string selects [Square].
func ParseAspectRatio(s string) (AspectRatio, error) {
	if s == "" {
		return Square, nil
	}
	ar := AspectRatio(s)
	if !slices.Contains(AspectRatios, ar) {
		return "", fmt.Errorf("image: unsupported aspect ratio %q", s)
	}
	return ar, nil
}

// Image is an encoded picture together with the request that produced it.
type Image struct {
	// Data is the encoded image (PNG unless MIMEType says otherwise).
	Data []byte

	// MIMEType is the media type of Data, e.g. "image/png".
	MIMEType string

	// Prompt is the text that produced or last modified the image.
	Prompt string

	// AspectRatio is the requested frame shape. Empty for edited images.
	AspectRatio AspectRatio

	// CreatedAt is when the image was received.
	CreatedAt time.Time
}

// GenerateRequest describes a text-to-image call.
type GenerateRequest struct {
	Prompt      string
	AspectRatio AspectRatio
}

// Provider is the abstraction over image backends.
type Provider interface {
	// Generate renders a new image from a text prompt.
	Generate(ctx context.Context, req GenerateRequest) (*Image, error)

	// Edit applies prompt to src and returns the modified image.
	Edit(ctx context.Context, src Image, prompt string) (*Image, error)

	// Analyze returns a detailed description of img aimed at a blind user.
	Analyze(ctx context.Context, img Image) (string, error)
}

// Sink receives images produced during a conversation.
type Sink interface {
	Deliver(ctx context.Context, img *Image)
}

// Gallery is an in-memory [Sink] that keeps the most recent images.
// The zero value keeps a single image.
type Gallery struct {
	// Capacity is the number of images retained. Values below 1 mean 1.
	Capacity int

	mu     sync.Mutex
	images []*Image
}

// Deliver stores img, evicting the oldest image when full. Nil is ignored.
func (g *Gallery) Deliver(_ context.Context, img *Image) {
	if img == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.images = append(g.images, img)
	if n := max(g.Capacity, 1); len(g.images) > n {
		g.images = slices.Delete(g.images, 0, len(g.images)-n)
	}
}

// Latest returns the most recently delivered image, or nil.
func (g *Gallery) Latest() *Image {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.images) == 0 {
		return nil
	}
	return g.images[len(g.images)-1]
}

// All returns the retained images, oldest first.
func (g *Gallery) All() []*Image {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.images)
}

var _ Sink = (*Gallery)(nil)
