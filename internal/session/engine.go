// Package session runs one realtime voice conversation at a time.
//
// An [Engine] owns everything a conversation needs while it is live: the
// microphone and speaker streams, the capture pipeline, the playback
// scheduler, the transport handle and the tool dispatcher. It drives the
// lifecycle state machine
//
//	Idle ──Start──▶ Connecting ──OnOpen──▶ Active
//	Connecting|Active ──Stop / remote close──▶ Ended
//	Connecting|Active ──device or transport error──▶ Error
//
// and routes inbound server messages to playback, transcript assembly and
// tool dispatch in arrival order. Leaving a running state always triggers a
// full teardown; every release is attempted even when an earlier one fails.
//
// Each Start begins a new epoch. Callbacks that belong to an earlier epoch
// are ignored, so a slow remote close from a previous conversation can never
// affect the current one.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marcomolinaleija/GIC/internal/capture"
	"github.com/marcomolinaleija/GIC/internal/observe"
	"github.com/marcomolinaleija/GIC/internal/playback"
	"github.com/marcomolinaleija/GIC/internal/tools"
	"github.com/marcomolinaleija/GIC/internal/transcript"
	"github.com/marcomolinaleija/GIC/pkg/audio"
	"github.com/marcomolinaleija/GIC/pkg/provider/live"
)

// ErrAlreadyRunning is returned by Start while a conversation is connecting
// or active.
var ErrAlreadyRunning = errors.New("session: conversation already running")

// errStopped resolves the pending transport of a conversation that was torn
// down before Connect returned.
var errStopped = errors.New("session: stopped before connect completed")

// Config holds the per-conversation settings. Changes made through
// [Engine.SetConfig] apply to the next Start.
type Config struct {
	// Voice is the prebuilt voice name.
	Voice string

	// SystemInstruction is the system prompt for the live model.
	SystemInstruction string

	// InputTranscription enables transcription of the user's speech.
	InputTranscription bool

	// OutputTranscription enables transcription of the model's speech.
	OutputTranscription bool

	// StallTimeout, when positive, forces a turn boundary after that long
	// without transcription fragments. Zero disables it.
	StallTimeout time.Duration
}

// Option is a functional option for configuring an [Engine].
type Option func(*Engine)

// WithTools sets the registry whose declarations are offered to the model and
// whose handlers serve its calls.
func WithTools(reg *tools.Registry) Option {
	return func(e *Engine) { e.tools = reg }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the base logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// note is a queued observer notification.
type note struct {
	state State
	turn  *transcript.Turn
}

// Engine is the session state machine. All exported methods are safe for
// concurrent use. Observers run outside the engine lock, in transition order,
// and may call State, Status and Transcript. They must not block.
type Engine struct {
	devices  audio.Devices
	provider live.Provider
	metrics  *observe.Metrics
	log      *slog.Logger

	transcript transcript.Aggregator

	mu            sync.Mutex
	cfg           Config
	tools         *tools.Registry
	state         State
	epoch         uint64
	cur           *resources
	notes         []note
	onStateChange []func(State)
	onTurn        []func(transcript.Turn)

	deliverMu sync.Mutex
}

// New creates an Engine in the Idle state.
func New(devices audio.Devices, provider live.Provider, cfg Config, opts ...Option) *Engine {
	e := &Engine{devices: devices, provider: provider, cfg: cfg}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	return e
}

// OnStateChange registers fn to be called after every state transition.
func (e *Engine) OnStateChange(fn func(State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onStateChange = append(e.onStateChange, fn)
}

// OnTurn registers fn to be called for every finalised transcript turn.
func (e *Engine) OnTurn(fn func(transcript.Turn)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onTurn = append(e.onTurn, fn)
}

// SetConfig replaces the settings used by the next Start.
func (e *Engine) SetConfig(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
}

// SetTools replaces the tool registry used by the next Start.
func (e *Engine) SetTools(reg *tools.Registry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tools = reg
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Status returns the user-facing status line for the current state.
func (e *Engine) Status() string {
	return e.State().Status()
}

// SessionID returns the identifier of the current or most recent
// conversation, or "" before the first Start.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cur == nil {
		return ""
	}
	return e.cur.id
}

// Transcript returns the finalised turns plus the in-progress text.
func (e *Engine) Transcript() transcript.Snapshot {
	return e.transcript.Snapshot()
}

// ── Lifecycle ────────────────────────────────────────────────────────────────

// Start opens the devices and begins connecting the transport. It returns
// once both device streams are open; the transport connects in the
// background and the state moves to Active when the service confirms the
// session. A device failure moves the state to Error and is returned.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state.Running() {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.epoch++
	res := newResources(e.epoch, uuid.NewString())
	res.log = e.log.With("session_id", res.id)
	res.stallTimeout = e.cfg.StallTimeout
	cfg, reg := e.cfg, e.tools
	e.cur = res
	e.setStateLocked(Connecting)
	e.mu.Unlock()
	e.deliver()

	e.transcript.Reset()
	res.log.Info("session: starting", "voice", cfg.Voice)

	if err := e.openDevices(ctx, res, reg); err != nil {
		if errors.Is(err, errStopped) {
			return nil
		}
		e.fail(res, err)
		return err
	}

	liveCfg := live.Config{
		Voice:               cfg.Voice,
		SystemInstruction:   cfg.SystemInstruction,
		InputTranscription:  cfg.InputTranscription,
		OutputTranscription: cfg.OutputTranscription,
	}
	if reg != nil {
		liveCfg.Tools = reg.Declarations()
	}
	go e.connect(res, liveCfg)
	return nil
}

// Stop ends a connecting or active conversation and releases everything it
// holds. It is a no-op in every other state. Stop waits for the teardown to
// complete.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.state.Running() {
		e.mu.Unlock()
		return
	}
	res := e.cur
	e.setStateLocked(Ended)
	e.mu.Unlock()
	e.deliver()

	res.log.Info("session: stopped")
	e.teardown(res)
}

func (e *Engine) openDevices(ctx context.Context, res *resources, reg *tools.Registry) error {
	in, err := e.devices.OpenInput(ctx, audio.InputFormat, audio.CaptureFrameSize)
	if err != nil {
		return fmt.Errorf("session: open input: %w", err)
	}
	if !res.attach(func(r *resources) { r.in = in }) {
		closeLogged(res.log, "input stream", in.Close)
		return errStopped
	}

	out, err := e.devices.OpenOutput(ctx, audio.OutputFormat)
	if err != nil {
		return fmt.Errorf("session: open output: %w", err)
	}
	sched := playback.New(out, playback.WithMetrics(e.metrics), playback.WithLogger(res.log))
	pipe := capture.New(in, res.pending, capture.WithMetrics(e.metrics), capture.WithLogger(res.log))
	disp := tools.NewDispatcher(reg, res.pending,
		tools.WithBaseContext(res.ctx),
		tools.WithMetrics(e.metrics),
		tools.WithLogger(res.log),
	)
	if !res.attach(func(r *resources) {
		r.out = out
		r.playback = sched
		r.capture = pipe
		r.dispatcher = disp
	}) {
		closeLogged(res.log, "output stream", out.Close)
		disp.Close()
		return errStopped
	}
	return nil
}

func (e *Engine) connect(res *resources, cfg live.Config) {
	cb := live.Callbacks{
		OnOpen:    func() { e.handleOpen(res) },
		OnMessage: func(msg *live.ServerMessage) { e.handleMessage(res, msg) },
		OnError:   func(err error) { e.handleError(res, err) },
		OnClose:   func() { e.handleClose(res) },
	}

	sess, err := e.provider.Connect(res.ctx, cfg, cb)
	if err != nil {
		res.pending.Resolve(nil, err)
		if res.ctx.Err() == nil {
			e.fail(res, fmt.Errorf("session: connect: %w", err))
		}
		return
	}
	if !res.attach(func(r *resources) { r.sess = sess }) {
		// Torn down while dialling: the late handle is closed right away.
		res.pending.Resolve(nil, errStopped)
		closeLogged(res.log, "late transport", sess.Close)
		return
	}
	res.pending.Resolve(sess, nil)
}

// fail moves a running conversation to Error and tears it down.
func (e *Engine) fail(res *resources, err error) {
	e.mu.Lock()
	if res.epoch != e.epoch || !e.state.Running() {
		e.mu.Unlock()
		return
	}
	e.setStateLocked(Error)
	e.mu.Unlock()
	e.deliver()

	res.log.Error("session: failed", "err", err)
	e.teardown(res)
}

// current reports whether res belongs to the live epoch.
func (e *Engine) current(res *resources) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return res.epoch == e.epoch && e.state.Running()
}

// ── Transport callbacks ──────────────────────────────────────────────────────

func (e *Engine) handleOpen(res *resources) {
	e.mu.Lock()
	if res.epoch != e.epoch || e.state != Connecting {
		e.mu.Unlock()
		return
	}
	// Frames queued while connecting are discarded here, before Active is
	// observable, so every frame captured after the transition is sent.
	if pipe := res.capturePipeline(); pipe != nil {
		pipe.Start(res.ctx)
	}
	e.setStateLocked(Active)
	e.mu.Unlock()
	e.deliver()

	res.log.Info("session: active")
}

func (e *Engine) handleMessage(res *resources, msg *live.ServerMessage) {
	if msg == nil || !e.current(res) {
		return
	}

	if msg.ToolCall != nil && len(msg.ToolCall.FunctionCalls) > 0 {
		if d := res.toolDispatcher(); d != nil {
			d.Dispatch(msg.ToolCall.FunctionCalls)
		}
	}

	sc := msg.ServerContent
	if sc == nil {
		return
	}

	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		e.transcript.AppendModel(sc.OutputTranscription.Text)
		e.armStall(res)
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		e.transcript.AppendUser(sc.InputTranscription.Text)
		e.armStall(res)
	}

	sched := res.scheduler()
	if sc.Interrupted && sched != nil {
		sched.Interrupt(res.ctx)
	}
	if sc.ModelTurn != nil && sched != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			if mt := part.InlineData.MIMEType; mt != "" && !strings.HasPrefix(mt, "audio/") {
				continue
			}
			// Decode and schedule failures are logged by the scheduler.
			_ = sched.Enqueue(res.ctx, part.InlineData.Data)
		}
	}

	if sc.TurnComplete {
		e.completeTurn(res)
	}
}

func (e *Engine) handleError(res *resources, err error) {
	e.mu.Lock()
	if res.epoch != e.epoch || !e.state.Running() {
		e.mu.Unlock()
		return
	}
	e.setStateLocked(Error)
	e.mu.Unlock()
	e.deliver()

	res.log.Error("session: transport error", "err", err)
	go e.teardown(res)
}

func (e *Engine) handleClose(res *resources) {
	e.mu.Lock()
	if res.epoch != e.epoch || !e.state.Running() {
		e.mu.Unlock()
		return
	}
	e.setStateLocked(Ended)
	e.mu.Unlock()
	e.deliver()

	res.log.Info("session: closed by remote")
	go e.teardown(res)
}

// ── Transcript ───────────────────────────────────────────────────────────────

func (e *Engine) completeTurn(res *resources) {
	res.stopStall()
	turn, ok := e.transcript.CompleteTurn()
	if !ok {
		return
	}
	e.metrics.TranscriptTurns.Add(res.ctx, 1)

	e.mu.Lock()
	e.notes = append(e.notes, note{turn: &turn})
	e.mu.Unlock()
	e.deliver()
}

func (e *Engine) armStall(res *resources) {
	if res.stallTimeout <= 0 {
		return
	}
	res.resetStall(func() {
		if !e.current(res) {
			return
		}
		res.log.Debug("session: transcript stalled, closing turn", "timeout", res.stallTimeout)
		e.completeTurn(res)
	})
}

// ── Notifications ────────────────────────────────────────────────────────────

// setStateLocked records a transition. It must be called with e.mu held.
func (e *Engine) setStateLocked(s State) {
	prev := e.state
	e.state = s
	e.notes = append(e.notes, note{state: s})

	ctx := context.Background()
	e.metrics.RecordTransition(ctx, s.String())
	if s == Active {
		e.metrics.ActiveSessions.Add(ctx, 1)
	}
	if prev == Active && s != Active {
		e.metrics.ActiveSessions.Add(ctx, -1)
	}
}

// deliver drains queued notifications to the observers. Only one goroutine
// delivers at a time, so observers see transitions in the order they
// happened. A nested call from inside an observer returns at once and its
// notes are drained by the outer loop.
func (e *Engine) deliver() {
	for {
		if !e.deliverMu.TryLock() {
			return
		}
		for {
			e.mu.Lock()
			notes := e.notes
			e.notes = nil
			stateFns := e.onStateChange
			turnFns := e.onTurn
			e.mu.Unlock()
			if len(notes) == 0 {
				break
			}
			for _, n := range notes {
				if n.turn != nil {
					for _, fn := range turnFns {
						fn(*n.turn)
					}
					continue
				}
				for _, fn := range stateFns {
					fn(n.state)
				}
			}
		}
		e.deliverMu.Unlock()

		e.mu.Lock()
		empty := len(e.notes) == 0
		e.mu.Unlock()
		if empty {
			return
		}
	}
}

// ── Teardown ─────────────────────────────────────────────────────────────────

// teardown releases everything res holds, in order. Only the first call per
// conversation does any work; failures are logged and never returned.
func (e *Engine) teardown(res *resources) {
	if !res.release() {
		return
	}
	r := res
	r.stopStall()

	if r.playback != nil {
		r.playback.Close()
	}
	if r.capture != nil {
		r.capture.Stop()
	}
	if r.in != nil {
		closeLogged(r.log, "input stream", r.in.Close)
	}
	if r.out != nil {
		closeLogged(r.log, "output stream", r.out.Close)
	}
	r.cancel()
	// Tool goroutines waiting on a dial that ignores cancellation must not
	// hold dispatcher.Close.
	r.pending.Resolve(nil, errStopped)
	if r.sess != nil {
		closeLogged(r.log, "transport", r.sess.Close)
	}
	if r.dispatcher != nil {
		r.dispatcher.Close()
	}
	r.log.Debug("session: teardown complete")
}

func closeLogged(log *slog.Logger, what string, fn func() error) {
	if err := fn(); err != nil {
		log.Warn("session: close failed", "resource", what, "err", err)
	}
}
