// Package app wires the GIC subsystems into a running application.
//
// New builds the session engine, the tool registry and the image gallery
// from the config and the providers main.go created through the registry.
// Run serves the HTTP control surface until its context is cancelled and
// Shutdown ends the conversation and releases everything in order.
//
// For testing, inject doubles through [Providers] and the functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/marcomolinaleija/GIC/internal/config"
	"github.com/marcomolinaleija/GIC/internal/narration"
	"github.com/marcomolinaleija/GIC/internal/observe"
	"github.com/marcomolinaleija/GIC/internal/session"
	"github.com/marcomolinaleija/GIC/internal/tools"
	"github.com/marcomolinaleija/GIC/internal/tools/imagegen"
	"github.com/marcomolinaleija/GIC/internal/transcript"
	"github.com/marcomolinaleija/GIC/pkg/audio"
	"github.com/marcomolinaleija/GIC/pkg/provider/help"
	"github.com/marcomolinaleija/GIC/pkg/provider/image"
	"github.com/marcomolinaleija/GIC/pkg/provider/live"
	"github.com/marcomolinaleija/GIC/pkg/provider/speech"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	Live   live.Provider
	Image  image.Provider
	Help   help.Provider
	Audio  audio.Devices
	Speech speech.Provider
}

// galleryCapacity is the number of generated images kept in memory.
const galleryCapacity = 16

// shutdownGrace bounds the HTTP server drain once Run's context is done.
const shutdownGrace = 10 * time.Second

// App owns the subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	gatherer  prometheus.Gatherer
	listener  net.Listener

	engine  *session.Engine
	tools   *tools.Registry // every tool the providers support
	gallery *image.Gallery
	image   image.Provider
	help    help.Provider
	speech  speech.Provider
	narrate *narration.Narrator

	mu   sync.Mutex
	conv config.ConversationConfig

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithGatherer sets the Prometheus gatherer served on /metrics. Defaults to
// [prometheus.DefaultGatherer].
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// WithListener makes Run serve on l instead of listening on
// server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New wires the application. The live provider and the audio devices are
// required. Image, help and speech are optional and their routes answer 503
// when absent.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Live == nil {
		return nil, errors.New("app: a live provider is required")
	}
	if providers.Audio == nil {
		return nil, errors.New("app: audio devices are required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		gallery:   &image.Gallery{Capacity: galleryCapacity},
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.gatherer == nil {
		a.gatherer = prometheus.DefaultGatherer
	}

	if providers.Image != nil {
		a.image = newGuardedImage(providers.Image, cfg.Providers.Image.Name, a.metrics)
	}
	if providers.Help != nil {
		a.help = newGuardedHelp(providers.Help, cfg.Providers.Help.Name, a.metrics)
	}
	if providers.Speech != nil {
		a.speech = newGuardedSpeech(providers.Speech, cfg.Providers.Speech.Name, a.metrics)
		a.narrate = narration.New(a.speech, providers.Audio, narration.WithVoice(a.voice))
	}

	all, err := tools.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("app: tools: %w", err)
	}
	if a.image != nil {
		if err := all.Register(imagegen.Tool(a.image, a.gallery)); err != nil {
			return nil, fmt.Errorf("app: tools: %w", err)
		}
	}
	a.tools = all

	offered, err := a.offeredTools(cfg.Conversation)
	if err != nil {
		return nil, err
	}
	a.conv = cfg.Conversation
	a.engine = session.New(providers.Audio, providers.Live, sessionConfig(cfg.Conversation),
		session.WithTools(offered),
		session.WithMetrics(a.metrics),
	)
	a.engine.OnStateChange(func(s session.State) {
		slog.Info("conversation state changed",
			"state", s,
			"status", s.Status(),
			"session_id", a.engine.SessionID(),
		)
	})
	a.engine.OnTurn(func(t transcript.Turn) {
		slog.Debug("transcript turn", "user", t.User, "model", t.Model)
	})
	return a, nil
}

// Engine returns the session engine.
func (a *App) Engine() *session.Engine { return a.engine }

// Gallery returns the store of generated images.
func (a *App) Gallery() *image.Gallery { return a.gallery }

// voice returns the configured conversation voice, also used for narration.
func (a *App) voice() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conv.Voice == "" {
		return speech.DefaultVoice
	}
	return a.conv.Voice
}

// narrateText queues text for narration when a speech provider is configured.
func (a *App) narrateText(text string) bool {
	if a.narrate == nil {
		return false
	}
	return a.narrate.Enqueue(text)
}

// ApplyConversation replaces the conversation settings used by the next
// Start. The running conversation, if any, keeps its settings.
func (a *App) ApplyConversation(conv config.ConversationConfig) error {
	offered, err := a.offeredTools(conv)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.conv = conv
	a.mu.Unlock()
	a.engine.SetConfig(sessionConfig(conv))
	a.engine.SetTools(offered)
	slog.Info("conversation settings updated", "voice", conv.Voice, "tools", offered.Names())
	return nil
}

// offeredTools narrows the registry to conv.Tools. Nil offers everything.
func (a *App) offeredTools(conv config.ConversationConfig) (*tools.Registry, error) {
	if conv.Tools == nil {
		return a.tools, nil
	}
	sub, err := a.tools.Subset(conv.Tools)
	if err != nil {
		return nil, fmt.Errorf("app: conversation.tools: %w", err)
	}
	return sub, nil
}

func sessionConfig(conv config.ConversationConfig) session.Config {
	instruction := conv.SystemInstruction
	if instruction == "" {
		instruction = DefaultInstruction
	}
	return session.Config{
		Voice:               conv.Voice,
		SystemInstruction:   instruction,
		InputTranscription:  conv.TranscribeInput(),
		OutputTranscription: conv.TranscribeOutput(),
		StallTimeout:        conv.TurnStallTimeout,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the control surface and blocks until ctx is cancelled or the
// server fails. With conversation.autostart set it also starts the first
// conversation. On cancellation Run returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		addr := a.cfg.Server.ListenAddr
		if addr == "" {
			addr = ":8080"
		}
		var err error
		if ln, err = net.Listen("tcp", addr); err != nil {
			return fmt.Errorf("app: listen %q: %w", addr, err)
		}
	}

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if a.cfg.Conversation.Autostart {
		g.Go(func() error {
			if err := a.engine.Start(gctx); err != nil {
				slog.Warn("autostart failed", "err", err)
			}
			return nil
		})
	}

	slog.Info("app running", "addr", ln.Addr().String())
	err := g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown ends the conversation and releases its devices. It is safe to
// call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")
		done := make(chan struct{})
		go func() {
			a.engine.Stop()
			if a.narrate != nil {
				a.narrate.Close()
			}
			close(done)
		}()
		select {
		case <-done:
			slog.Info("shutdown complete")
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded while stopping the conversation")
			shutdownErr = ctx.Err()
		}
	})
	return shutdownErr
}
