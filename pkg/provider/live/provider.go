// Package live defines the Provider interface for realtime conversational
// backends.
//
// A live provider wraps a remote voice model reachable over a long-lived,
// bidirectional channel. The client streams microphone audio upstream as
// rate-tagged PCM blobs; the service streams back synthesised audio,
// transcription fragments, turn boundaries, interruption signals and in-band
// function-call requests.
//
// The contract is callback based: [Provider.Connect] returns once the channel
// is dialled and configured, and every later event is delivered through the
// supplied [Callbacks] from the provider's receive goroutine. Callbacks fire in
// arrival order and must return quickly.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"slices"

	"github.com/marcomolinaleija/GIC/pkg/audio"
)

// FunctionDeclaration describes a local capability the remote model may
// invoke.
type FunctionDeclaration struct {
	// Name is the function identifier the model uses in a [FunctionCall].
	Name string

	// Description is free text that tells the model when to use the function.
	Description string

	// Parameters is a JSON-schema object describing the arguments.
	Parameters map[string]any
}

// Config is the initial configuration for a new live session. The response
// modality is always audio.
type Config struct {
	// Voice is the prebuilt voice identifier (e.g. "Zephyr"). Empty selects the
	// service default.
	Voice string

	// SystemInstruction is an optional system prompt.
	SystemInstruction string

	// InputTranscription enables transcription of the user's speech.
	InputTranscription bool

	// OutputTranscription enables transcription of the model's speech.
	OutputTranscription bool

	// Tools lists the functions offered to the model.
	Tools []FunctionDeclaration
}

// Callbacks are the event hooks the engine supplies to [Provider.Connect].
// Nil hooks are skipped.
type Callbacks struct {
	// OnOpen fires once the service confirmed the session configuration.
	OnOpen func()

	// OnMessage fires for every inbound server message.
	OnMessage func(msg *ServerMessage)

	// OnError fires when the channel fails or the service reports an error.
	// It is always followed by OnClose.
	OnError func(err error)

	// OnClose fires exactly once when the channel is gone, whether closed by
	// the remote side, by a failure or by [Session.Close].
	OnClose func()
}

// Session is an open live channel.
type Session interface {
	// SendRealtimeInput streams one encoded media blob upstream.
	SendRealtimeInput(blob audio.Blob) error

	// SendToolResponse returns the result of a function call.
	SendToolResponse(resp ToolResponse) error

	// Close terminates the channel. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Provider is the abstraction over any live conversational backend.
type Provider interface {
	// Connect dials the service and sends the session configuration. It
	// returns once the configuration was written; [Callbacks.OnOpen] fires
	// later, when the service acknowledges it. The caller owns the returned
	// Session and must Close it.
	Connect(ctx context.Context, cfg Config, cb Callbacks) (Session, error)
}

// ── Inbound messages ─────────────────────────────────────────────────────────

// ServerMessage is one inbound event. Every field is optional and several may
// be set in a single message.
type ServerMessage struct {
	ToolCall      *ToolCall
	ServerContent *ServerContent
}

// ServerContent carries model output and turn signals.
type ServerContent struct {
	ModelTurn           *Content
	InputTranscription  *Transcription
	OutputTranscription *Transcription

	// TurnComplete marks the end of the model's turn.
	TurnComplete bool

	// Interrupted reports that the user barged in and the model stopped
	// generating. Buffered audio must be flushed.
	Interrupted bool
}

// Content is a sequence of model output parts.
type Content struct {
	Parts []Part
}

// Part is one element of model output.
type Part struct {
	Text       string
	InlineData *InlineData
}

// InlineData is binary media attached to a [Part]. Data is already decoded
// from its base64 wire framing.
type InlineData struct {
	Data     []byte
	MIMEType string
}

// Transcription is a partial text fragment.
type Transcription struct {
	Text string
}

// ToolCall groups the function calls requested in one message.
type ToolCall struct {
	FunctionCalls []FunctionCall
}

// FunctionCall is one function invocation requested by the model.
type FunctionCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResponse answers a [FunctionCall]. Exactly one of Result or Err is
// meaningful: a non-empty Err marks a failed invocation.
type ToolResponse struct {
	ID     string
	Name   string
	Result any
	Err    string
}

// Payload returns the response body sent on the wire: {"result": ...} on
// success or {"error": "..."} on failure.
func (r ToolResponse) Payload() map[string]any {
	if r.Err != "" {
		return map[string]any{"error": r.Err}
	}
	return map[string]any{"result": r.Result}
}

// ── Voices ───────────────────────────────────────────────────────────────────

// Voices lists the prebuilt voice identifiers known to the service.
var Voices = []string{"Zephyr", "Puck", "Charon", "Kore", "Fenrir", "Aoede", "Leda", "Orus"}

// IsKnownVoice reports whether name is one of [Voices].
func IsKnownVoice(name string) bool {
	return slices.Contains(Voices, name)
}
