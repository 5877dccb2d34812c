// Package tools runs the functions the remote model may call mid-conversation.
//
// A [Registry] holds the available [Tool] values and produces the function
// declarations sent when the session opens. A [Dispatcher] executes the calls
// carried by an inbound tool-call message: each call runs on its own
// goroutine and is answered with exactly one response, correlated by call ID,
// whether the handler succeeds, fails, panics or the tool is unknown.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marcomolinaleija/GIC/pkg/provider/live"
)

// ErrUnknownTool is reported when a call names a tool that is not registered.
var ErrUnknownTool = errors.New("tools: unknown tool")

// Tool is a callable function together with its model-facing declaration.
type Tool struct {
	// Definition is the declaration sent to the remote model.
	Definition live.FunctionDeclaration

	// Handler executes the tool with the decoded call arguments and returns a
	// JSON-serialisable result. Implementations must be safe for concurrent
	// use and must respect context cancellation.
	Handler func(ctx context.Context, args map[string]any) (any, error)

	// Timeout bounds a single invocation. Zero means no limit beyond the
	// dispatcher's lifetime.
	Timeout time.Duration
}

// Registry is an ordered set of tools keyed by name. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]Tool
}

// NewRegistry returns a Registry holding tools in the given order.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds t. Names must be non-empty and unique; Handler must be set.
func (r *Registry) Register(t Tool) error {
	name := t.Definition.Name
	if name == "" {
		return errors.New("tools: tool name must not be empty")
	}
	if t.Handler == nil {
		return fmt.Errorf("tools: tool %q has no handler", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tools == nil {
		r.tools = make(map[string]Tool)
	}
	if _, ok := r.tools[name]; ok {
		return fmt.Errorf("tools: tool %q already registered", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Declarations returns the function declarations in registration order.
func (r *Registry) Declarations() []live.FunctionDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]live.FunctionDeclaration, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Definition)
	}
	return out
}

// Subset returns a new Registry containing only the named tools, in the
// order given. Every name must be registered. A nil or empty list yields an
// empty registry.
func (r *Registry) Subset(names []string) (*Registry, error) {
	sub := &Registry{tools: make(map[string]Tool)}
	var errs []error
	for _, name := range names {
		t, ok := r.Lookup(name)
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownTool, name))
			continue
		}
		if err := sub.Register(t); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return sub, nil
}
