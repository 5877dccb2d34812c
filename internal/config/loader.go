package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/marcomolinaleija/GIC/pkg/provider/live"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"live":   {"gemini-live"},
	"image":  {"gemini"},
	"help":   {"gemini"},
	"audio":  {"portaudio"},
	"speech": {"gemini"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("live", cfg.Providers.Live.Name)
	validateProviderName("image", cfg.Providers.Image.Name)
	validateProviderName("help", cfg.Providers.Help.Name)
	validateProviderName("audio", cfg.Providers.Audio.Name)
	validateProviderName("speech", cfg.Providers.Speech.Name)

	if cfg.Providers.Live.Name == "" {
		errs = append(errs, errors.New("providers.live.name is required"))
	}
	if cfg.Providers.Live.Name != "" && cfg.Providers.Live.APIKey == "" {
		slog.Warn("providers.live.api_key is empty; connections will be rejected by the service")
	}
	if cfg.Providers.Image.Name == "" {
		slog.Warn("providers.image is not configured; image generation will be unavailable")
	}

	conv := cfg.Conversation
	if conv.Voice != "" && !live.IsKnownVoice(conv.Voice) {
		slog.Warn("conversation.voice is not a known prebuilt voice",
			"voice", conv.Voice,
			"known", live.Voices,
		)
	}
	if conv.TurnStallTimeout < 0 {
		errs = append(errs, fmt.Errorf("conversation.turn_stall_timeout %v must not be negative", conv.TurnStallTimeout))
	}
	seen := make(map[string]int, len(conv.Tools))
	for i, name := range conv.Tools {
		if name == "" {
			errs = append(errs, fmt.Errorf("conversation.tools[%d] is empty", i))
			continue
		}
		if prev, ok := seen[name]; ok {
			errs = append(errs, fmt.Errorf("conversation.tools[%d] %q is a duplicate of conversation.tools[%d]", i, name, prev))
		}
		seen[name] = i
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
