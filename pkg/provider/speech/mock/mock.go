// Package mock provides a test double for the speech.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/marcomolinaleija/GIC/pkg/provider/speech"
)

// Call records one Speak invocation.
type Call struct {
	Text  string
	Voice string
}

// Provider is a mock implementation of speech.Provider.
type Provider struct {
	mu sync.Mutex

	// PCM is returned by Speak.
	PCM []byte

	// SpeakErr, if non-nil, is returned as the error from Speak.
	SpeakErr error

	calls []Call
}

// Speak records the call and returns PCM, SpeakErr.
func (p *Provider) Speak(_ context.Context, text, voice string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Text: text, Voice: voice})
	return p.PCM, p.SpeakErr
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

var _ speech.Provider = (*Provider)(nil)
