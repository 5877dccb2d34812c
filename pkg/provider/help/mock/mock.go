// Package mock provides a test double for the help.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/marcomolinaleija/GIC/pkg/provider/help"
)

// Provider is a mock implementation of help.Provider.
type Provider struct {
	mu sync.Mutex

	// Answer is returned by Ask.
	Answer string

	// AskErr, if non-nil, is returned as the error from Ask.
	AskErr error

	// Questions records every question passed to Ask.
	Questions []string
}

// Ask records the question and returns Answer, AskErr.
func (p *Provider) Ask(_ context.Context, question string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Questions = append(p.Questions, question)
	return p.Answer, p.AskErr
}

var _ help.Provider = (*Provider)(nil)
