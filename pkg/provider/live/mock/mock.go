// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and to drive a session's callbacks
// from the test: after Connect, [Provider.Callbacks] returns the hooks the
// engine registered, so the test can play the remote side by calling
// OnOpen, OnMessage, OnError and OnClose directly.
//
// Example:
//
//	p := &mock.Provider{}
//	sess, _ := p.Connect(ctx, cfg, cb)
//	p.Callbacks().OnOpen()
//	p.Callbacks().OnMessage(&live.ServerMessage{...})
package mock

import (
	"context"
	"sync"

	"github.com/marcomolinaleija/GIC/pkg/audio"
	"github.com/marcomolinaleija/GIC/pkg/provider/live"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Cfg is the Config passed to Connect.
	Cfg live.Config
	// Callbacks are the hooks passed to Connect.
	Callbacks live.Callbacks
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, Connect returns a new Session.
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// Gate, if non-nil, makes Connect block until the channel is closed or
	// the context is cancelled. It emulates a slow dial.
	Gate chan struct{}

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	sessions []*Session
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.Config, cb live.Callbacks) (live.Session, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Cfg: cfg, Callbacks: cb})
	gate := p.Gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	sess := p.Session
	if sess == nil {
		sess = &Session{}
	}
	p.sessions = append(p.sessions, sess)
	return sess, nil
}

// Callbacks returns the hooks of the most recent Connect call. It returns the
// zero value if Connect was never called.
func (p *Provider) Callbacks() live.Callbacks {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ConnectCalls) == 0 {
		return live.Callbacks{}
	}
	return p.ConnectCalls[len(p.ConnectCalls)-1].Callbacks
}

// Sessions returns every session handed out by Connect, in order.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Session, len(p.sessions))
	copy(out, p.sessions)
	return out
}

// ConnectCount returns the number of Connect calls.
func (p *Provider) ConnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

var _ live.Provider = (*Provider)(nil)

// Session is a mock implementation of live.Session.
type Session struct {
	mu sync.Mutex

	// SendErr, if non-nil, is returned by SendRealtimeInput.
	SendErr error

	// ToolResponseErr, if non-nil, is returned by SendToolResponse.
	ToolResponseErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// OnToolResponse, if set, is invoked after every SendToolResponse call.
	OnToolResponse func(live.ToolResponse)

	// Blobs records every SendRealtimeInput argument in order.
	Blobs []audio.Blob

	// ToolResponses records every SendToolResponse argument in order.
	ToolResponses []live.ToolResponse

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// SendRealtimeInput records the blob.
func (s *Session) SendRealtimeInput(blob audio.Blob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Blobs = append(s.Blobs, blob)
	return s.SendErr
}

// SendToolResponse records the response.
func (s *Session) SendToolResponse(resp live.ToolResponse) error {
	s.mu.Lock()
	s.ToolResponses = append(s.ToolResponses, resp)
	hook := s.OnToolResponse
	err := s.ToolResponseErr
	s.mu.Unlock()
	if hook != nil {
		hook(resp)
	}
	return err
}

// Close records the call.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return s.CloseErr
}

// BlobCount returns the number of SendRealtimeInput calls.
func (s *Session) BlobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Blobs)
}

// Responses returns a copy of the recorded tool responses.
func (s *Session) Responses() []live.ToolResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]live.ToolResponse, len(s.ToolResponses))
	copy(out, s.ToolResponses)
	return out
}

// CloseCount returns the number of Close calls.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose
}

var _ live.Session = (*Session)(nil)
