// Package narration reads short texts aloud on the speaker: image
// descriptions and the status messages of long-running image operations.
//
// A [Narrator] owns one worker goroutine. Texts passed to [Narrator.Enqueue]
// are spoken one at a time in arrival order; each utterance opens its own
// output stream and releases it when playback ends.
package narration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/marcomolinaleija/GIC/pkg/audio"
	"github.com/marcomolinaleija/GIC/pkg/provider/speech"
)

// Status messages spoken around image operations.
const (
	MsgAnalyzing     = "Imagen cargada. Analizando contenido, por favor espera."
	MsgAnalyzed      = "Análisis completado. Ahora puedes leer la descripción y escribir tus instrucciones de edición."
	MsgEditing       = "Aplicando los cambios solicitados. Esto podría tardar un momento."
	MsgEdited        = "¡Edición completada! La imagen ha sido modificada."
	MsgAnalyzeFailed = "No se pudo analizar la imagen."
	MsgEditFailed    = "Hubo un error al editar la imagen. Por favor, intenta de nuevo."
)

// ErrClosed is returned by Say after Close.
var ErrClosed = errors.New("narration: closed")

const defaultQueueSize = 8

// Option configures a [Narrator].
type Option func(*Narrator)

// WithVoice sets the function consulted for the voice of each utterance.
// Defaults to [speech.DefaultVoice].
func WithVoice(fn func() string) Option {
	return func(n *Narrator) { n.voice = fn }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(n *Narrator) { n.log = l }
}

// WithQueueSize sets how many texts may wait behind the one being spoken.
func WithQueueSize(size int) Option {
	return func(n *Narrator) { n.queueSize = size }
}

// Narrator speaks texts through a speech provider onto audio devices.
//
// All exported methods are safe for concurrent use.
type Narrator struct {
	speech    speech.Provider
	devices   audio.Devices
	voice     func() string
	log       *slog.Logger
	queueSize int

	queue  chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New returns a Narrator and starts its worker. Call Close to stop it.
func New(sp speech.Provider, devices audio.Devices, opts ...Option) *Narrator {
	n := &Narrator{speech: sp, devices: devices, queueSize: defaultQueueSize}
	for _, o := range opts {
		o(n)
	}
	if n.voice == nil {
		n.voice = func() string { return speech.DefaultVoice }
	}
	if n.log == nil {
		n.log = slog.Default()
	}
	if n.queueSize < 1 {
		n.queueSize = 1
	}
	n.queue = make(chan string, n.queueSize)
	n.ctx, n.cancel = context.WithCancel(context.Background())

	n.wg.Add(1)
	go n.run()
	return n
}

// Enqueue schedules text to be spoken after everything already queued. It
// reports false when the text is blank, the queue is full or the narrator is
// closed.
func (n *Narrator) Enqueue(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return false
	}
	select {
	case n.queue <- text:
		return true
	default:
		n.log.Warn("narration: queue full, dropping text", "chars", len(text))
		return false
	}
}

// Say synthesizes text and blocks until it has been played. Cancelling ctx
// stops playback immediately.
func (n *Narrator) Say(ctx context.Context, text string) error {
	if n.ctx.Err() != nil {
		return ErrClosed
	}
	pcm, err := n.speech.Speak(ctx, text, n.voice())
	if err != nil {
		return fmt.Errorf("narration: speak: %w", err)
	}
	buf, err := audio.DecodeAudioData(pcm, speech.SampleRate, audio.Channels)
	if err != nil {
		return fmt.Errorf("narration: %w", err)
	}

	out, err := n.devices.OpenOutput(ctx, audio.Format{SampleRate: speech.SampleRate, Channels: audio.Channels})
	if err != nil {
		return fmt.Errorf("narration: open output: %w", err)
	}
	defer out.Close()

	src, err := out.Schedule(buf, out.Now())
	if err != nil {
		return fmt.Errorf("narration: schedule: %w", err)
	}
	select {
	case <-src.Done():
		return nil
	case <-ctx.Done():
		src.Stop()
		return ctx.Err()
	}
}

// Close stops the utterance being spoken, discards the queue and waits for
// the worker to exit.
func (n *Narrator) Close() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()
	n.cancel()
	n.wg.Wait()
}

func (n *Narrator) run() {
	defer n.wg.Done()
	for text := range n.queue {
		if n.ctx.Err() != nil {
			continue
		}
		if err := n.Say(n.ctx, text); err != nil && !errors.Is(err, context.Canceled) {
			n.log.Warn("narration: utterance failed", "err", err)
		}
	}
}
