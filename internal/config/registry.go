package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/marcomolinaleija/GIC/pkg/audio"
	"github.com/marcomolinaleija/GIC/pkg/provider/help"
	"github.com/marcomolinaleija/GIC/pkg/provider/image"
	"github.com/marcomolinaleija/GIC/pkg/provider/live"
	"github.com/marcomolinaleija/GIC/pkg/provider/speech"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	live   map[string]func(ProviderEntry) (live.Provider, error)
	image  map[string]func(ProviderEntry) (image.Provider, error)
	help   map[string]func(ProviderEntry) (help.Provider, error)
	audio  map[string]func(ProviderEntry) (audio.Devices, error)
	speech map[string]func(ProviderEntry) (speech.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		live:   make(map[string]func(ProviderEntry) (live.Provider, error)),
		image:  make(map[string]func(ProviderEntry) (image.Provider, error)),
		help:   make(map[string]func(ProviderEntry) (help.Provider, error)),
		audio:  make(map[string]func(ProviderEntry) (audio.Devices, error)),
		speech: make(map[string]func(ProviderEntry) (speech.Provider, error)),
	}
}

// RegisterLive registers a live conversation provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLive(name string, factory func(ProviderEntry) (live.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[name] = factory
}

// RegisterImage registers an image provider factory under name.
func (r *Registry) RegisterImage(name string, factory func(ProviderEntry) (image.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.image[name] = factory
}

// RegisterHelp registers a help provider factory under name.
func (r *Registry) RegisterHelp(name string, factory func(ProviderEntry) (help.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.help[name] = factory
}

// RegisterAudio registers an audio device factory under name.
func (r *Registry) RegisterAudio(name string, factory func(ProviderEntry) (audio.Devices, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// RegisterSpeech registers a text-to-speech provider factory under name.
func (r *Registry) RegisterSpeech(name string, factory func(ProviderEntry) (speech.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speech[name] = factory
}

// CreateLive instantiates a live provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLive(entry ProviderEntry) (live.Provider, error) {
	return create(r, r.live, "live", entry)
}

// CreateImage instantiates an image provider using the factory registered under entry.Name.
func (r *Registry) CreateImage(entry ProviderEntry) (image.Provider, error) {
	return create(r, r.image, "image", entry)
}

// CreateHelp instantiates a help provider using the factory registered under entry.Name.
func (r *Registry) CreateHelp(entry ProviderEntry) (help.Provider, error) {
	return create(r, r.help, "help", entry)
}

// CreateAudio instantiates audio devices using the factory registered under entry.Name.
func (r *Registry) CreateAudio(entry ProviderEntry) (audio.Devices, error) {
	return create(r, r.audio, "audio", entry)
}

// CreateSpeech instantiates a text-to-speech provider using the factory registered under entry.Name.
func (r *Registry) CreateSpeech(entry ProviderEntry) (speech.Provider, error) {
	return create(r, r.speech, "speech", entry)
}

func create[T any](r *Registry, m map[string]func(ProviderEntry) (T, error), kind string, entry ProviderEntry) (T, error) {
	r.mu.RLock()
	factory, ok := m[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}
