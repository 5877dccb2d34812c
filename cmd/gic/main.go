// Command gic runs the GIC voice creative assistant: a realtime Spanish
// voice conversation with Gemini Live that can generate images on request,
// controlled over a small HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marcomolinaleija/GIC/internal/app"
	"github.com/marcomolinaleija/GIC/internal/config"
	"github.com/marcomolinaleija/GIC/internal/observe"
	"github.com/marcomolinaleija/GIC/pkg/audio"
	"github.com/marcomolinaleija/GIC/pkg/audio/portaudio"
	"github.com/marcomolinaleija/GIC/pkg/provider/help"
	helpgemini "github.com/marcomolinaleija/GIC/pkg/provider/help/gemini"
	"github.com/marcomolinaleija/GIC/pkg/provider/image"
	imagegemini "github.com/marcomolinaleija/GIC/pkg/provider/image/gemini"
	"github.com/marcomolinaleija/GIC/pkg/provider/live"
	livegemini "github.com/marcomolinaleija/GIC/pkg/provider/live/gemini"
	"github.com/marcomolinaleija/GIC/pkg/provider/speech"
	speechgemini "github.com/marcomolinaleija/GIC/pkg/provider/speech/gemini"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "gic: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "gic: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("gic starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(ctx, reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	application, err := app.New(cfg, providers, app.WithGatherer(telemetry.Gatherer))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(_, next *config.Config, d config.ConfigDiff) {
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
		}
		if d.ConversationChanged() {
			if err := application.ApplyConversation(next.Conversation); err != nil {
				slog.Warn("conversation settings rejected", "err", err)
			}
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("adiós")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the built-in provider factories into reg.
// ctx bounds client construction only.
func registerBuiltinProviders(ctx context.Context, reg *config.Registry) {
	reg.RegisterLive("gemini-live", func(e config.ProviderEntry) (live.Provider, error) {
		var opts []livegemini.Option
		if e.Model != "" {
			opts = append(opts, livegemini.WithModel(e.Model))
		}
		if e.BaseURL != "" {
			opts = append(opts, livegemini.WithBaseURL(e.BaseURL))
		}
		return livegemini.New(e.APIKey, opts...), nil
	})

	reg.RegisterImage("gemini", func(e config.ProviderEntry) (image.Provider, error) {
		var opts []imagegemini.Option
		if e.Model != "" {
			opts = append(opts, imagegemini.WithModel(e.Model))
		}
		if m := e.Option("edit_model"); m != "" {
			opts = append(opts, imagegemini.WithEditModel(m))
		}
		if m := e.Option("analyze_model"); m != "" {
			opts = append(opts, imagegemini.WithAnalyzeModel(m))
		}
		return imagegemini.New(ctx, e.APIKey, opts...)
	})

	reg.RegisterHelp("gemini", func(e config.ProviderEntry) (help.Provider, error) {
		var opts []helpgemini.Option
		if e.Model != "" {
			opts = append(opts, helpgemini.WithModel(e.Model))
		}
		return helpgemini.New(ctx, e.APIKey, opts...)
	})

	reg.RegisterSpeech("gemini", func(e config.ProviderEntry) (speech.Provider, error) {
		var opts []speechgemini.Option
		if e.Model != "" {
			opts = append(opts, speechgemini.WithModel(e.Model))
		}
		return speechgemini.New(ctx, e.APIKey, opts...)
	})

	reg.RegisterAudio("portaudio", func(config.ProviderEntry) (audio.Devices, error) {
		return portaudio.New(), nil
	})
}

// buildProviders instantiates every configured provider. Image, help and
// speech are optional; the audio slot defaults to portaudio.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	var (
		p   app.Providers
		err error
	)
	if p.Live, err = reg.CreateLive(cfg.Providers.Live); err != nil {
		return nil, fmt.Errorf("live: %w", err)
	}
	if cfg.Providers.Image.Name != "" {
		if p.Image, err = reg.CreateImage(cfg.Providers.Image); err != nil {
			return nil, fmt.Errorf("image: %w", err)
		}
	}
	if cfg.Providers.Help.Name != "" {
		if p.Help, err = reg.CreateHelp(cfg.Providers.Help); err != nil {
			return nil, fmt.Errorf("help: %w", err)
		}
	}
	if cfg.Providers.Speech.Name != "" {
		if p.Speech, err = reg.CreateSpeech(cfg.Providers.Speech); err != nil {
			return nil, fmt.Errorf("speech: %w", err)
		}
	}
	audioEntry := cfg.Providers.Audio
	if audioEntry.Name == "" {
		audioEntry.Name = "portaudio"
	}
	if p.Audio, err = reg.CreateAudio(audioEntry); err != nil {
		return nil, fmt.Errorf("audio: %w", err)
	}

	slog.Info("providers ready",
		"live", cfg.Providers.Live.Name,
		"image", orNone(cfg.Providers.Image.Name),
		"help", orNone(cfg.Providers.Help.Name),
		"speech", orNone(cfg.Providers.Speech.Name),
		"audio", audioEntry.Name,
	)
	return &p, nil
}

func orNone(name string) string {
	if name == "" {
		return "(not configured)"
	}
	return name
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
