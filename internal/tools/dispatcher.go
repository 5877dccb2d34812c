package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/marcomolinaleija/GIC/internal/observe"
	"github.com/marcomolinaleija/GIC/pkg/provider/live"
)

// Responder delivers tool responses to the remote model. [live.Session]
// satisfies it.
type Responder interface {
	SendToolResponse(live.ToolResponse) error
}

// DispatcherOption configures a [Dispatcher].
type DispatcherOption func(*Dispatcher)

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = l }
}

// WithBaseContext sets the context every call context derives from.
// Defaults to [context.Background]. Values such as the session id are visible
// to handlers; cancelling it cancels in-flight calls.
func WithBaseContext(ctx context.Context) DispatcherOption {
	return func(d *Dispatcher) { d.base = ctx }
}

// Dispatcher executes tool calls against a [Registry] and answers each one
// through a [Responder]. Calls are never retried.
//
// All methods are safe for concurrent use.
type Dispatcher struct {
	reg     *Registry
	resp    Responder
	metrics *observe.Metrics
	log     *slog.Logger
	base    context.Context

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewDispatcher returns a Dispatcher. A nil reg behaves as an empty registry.
func NewDispatcher(reg *Registry, resp Responder, opts ...DispatcherOption) *Dispatcher {
	if reg == nil {
		reg = &Registry{}
	}
	d := &Dispatcher{reg: reg, resp: resp}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	if d.base == nil {
		d.base = context.Background()
	}
	d.ctx, d.cancel = context.WithCancel(d.base)
	return d
}

// Dispatch starts one goroutine per call and returns immediately. Calls
// arriving after Close are dropped.
func (d *Dispatcher) Dispatch(calls []live.FunctionCall) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		if len(calls) > 0 {
			d.log.Debug("tools: dispatcher closed, dropping calls", "count", len(calls))
		}
		return
	}
	for _, call := range calls {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.run(call)
		}()
	}
}

// Close cancels the context of every in-flight invocation and waits for them
// to finish. It is safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
}

func (d *Dispatcher) run(call live.FunctionCall) {
	start := time.Now()
	result, err := d.invoke(call)

	resp := live.ToolResponse{ID: call.ID, Name: call.Name}
	status := "ok"
	if err != nil {
		status = "error"
		resp.Err = err.Error()
		d.log.Warn("tools: call failed", "tool", call.Name, "id", call.ID, "err", err)
	} else {
		resp.Result = result
	}
	d.metrics.RecordToolCall(d.ctx, call.Name, status)
	d.metrics.ToolDuration.Record(d.ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("tool", call.Name)))

	if sendErr := d.resp.SendToolResponse(resp); sendErr != nil {
		d.log.Warn("tools: send response failed", "tool", call.Name, "id", call.ID, "err", sendErr)
	}
}

func (d *Dispatcher) invoke(call live.FunctionCall) (result any, err error) {
	tool, ok := d.reg.Lookup(call.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, call.Name)
	}

	ctx := d.ctx
	if tool.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tool.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("tools: handler panicked", "tool", call.Name, "panic", r)
			result, err = nil, fmt.Errorf("tools: %s: panic: %v", call.Name, r)
		}
	}()

	args := call.Args
	if args == nil {
		args = map[string]any{}
	}
	return tool.Handler(ctx, args)
}
