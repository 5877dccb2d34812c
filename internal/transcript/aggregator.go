// Package transcript assembles streamed transcription fragments into
// per-turn conversation lines.
//
// The live service sends user and model transcription as small partial-text
// fragments. An [Aggregator] appends them, in arrival order, to two running
// accumulators and finalises one [Turn] whenever the service signals a turn
// boundary. The aggregator is a pure function of the signal order: it has no
// timers, and a turn that is never completed simply stays in progress.
package transcript

import (
	"strings"
	"sync"
)

// Turn is one finalised user/assistant exchange.
type Turn struct {
	User  string `json:"user"`
	Model string `json:"model"`
}

// Snapshot is a point-in-time copy of the transcript.
type Snapshot struct {
	// Turns is the ordered history of finalised turns.
	Turns []Turn `json:"turns"`

	// User is the in-progress user text.
	User string `json:"current_user"`

	// Model is the in-progress model text.
	Model string `json:"current_model"`
}

// Aggregator accumulates transcription fragments. The zero value is ready to
// use. All methods are safe for concurrent use.
type Aggregator struct {
	mu      sync.Mutex
	history []Turn
	user    strings.Builder
	model   strings.Builder
}

// AppendUser appends a fragment of the user's speech.
func (a *Aggregator) AppendUser(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.user.WriteString(text)
}

// AppendModel appends a fragment of the model's speech.
func (a *Aggregator) AppendModel(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.model.WriteString(text)
}

// CompleteTurn trims both accumulators and, if either holds text, appends a
// finalised [Turn] to the history and returns it with ok set. Both
// accumulators are reset in every case.
func (a *Aggregator) CompleteTurn() (turn Turn, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	turn = Turn{
		User:  strings.TrimSpace(a.user.String()),
		Model: strings.TrimSpace(a.model.String()),
	}
	a.user.Reset()
	a.model.Reset()

	if turn.User == "" && turn.Model == "" {
		return Turn{}, false
	}
	a.history = append(a.history, turn)
	return turn, true
}

// Pending reports whether either accumulator holds text.
func (a *Aggregator) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.user.Len() > 0 || a.model.Len() > 0
}

// Reset discards the in-progress text. The history is kept.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.user.Reset()
	a.model.Reset()
}

// Snapshot returns a copy of the history and the in-progress text.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	turns := make([]Turn, len(a.history))
	copy(turns, a.history)
	return Snapshot{
		Turns: turns,
		User:  a.user.String(),
		Model: a.model.String(),
	}
}
