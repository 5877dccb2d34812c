package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marcomolinaleija/GIC/internal/config"
	"github.com/marcomolinaleija/GIC/pkg/audio"
	"github.com/marcomolinaleija/GIC/pkg/provider/live"
	livemock "github.com/marcomolinaleija/GIC/pkg/provider/live/mock"
	"github.com/marcomolinaleija/GIC/pkg/provider/speech"
	speechmock "github.com/marcomolinaleija/GIC/pkg/provider/speech/mock"
)

const fullYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
providers:
  live:
    name: gemini-live
    api_key: live-key
    model: models/gemini-2.5-flash-native-audio-preview-09-2025
  image:
    name: gemini
    api_key: image-key
    model: imagen-4.0-generate-001
    options:
      edit_model: gemini-2.5-flash-image
  help:
    name: gemini
    api_key: help-key
  speech:
    name: gemini
    api_key: speech-key
    model: gemini-2.5-flash-preview-tts
  audio:
    name: portaudio
conversation:
  voice: Kore
  system_instruction: "Eres útil."
  output_transcription: false
  tools: [generateImage]
  turn_stall_timeout: 3s
  autostart: true
`

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Providers.Live.APIKey != "live-key" {
		t.Errorf("live api_key = %q", cfg.Providers.Live.APIKey)
	}
	if got := cfg.Providers.Image.Option("edit_model"); got != "gemini-2.5-flash-image" {
		t.Errorf("image edit_model = %q", got)
	}
	if s := cfg.Providers.Speech; s.Name != "gemini" || s.APIKey != "speech-key" || s.Model != "gemini-2.5-flash-preview-tts" {
		t.Errorf("speech = %+v", s)
	}
	if got := cfg.Providers.Image.Option("missing"); got != "" {
		t.Errorf("missing option = %q, want empty", got)
	}

	conv := cfg.Conversation
	if conv.Voice != "Kore" || conv.SystemInstruction != "Eres útil." || !conv.Autostart {
		t.Errorf("conversation = %+v", conv)
	}
	if !conv.TranscribeInput() {
		t.Error("input transcription should default to on")
	}
	if conv.TranscribeOutput() {
		t.Error("output transcription should be off")
	}
	if conv.TurnStallTimeout != 3*time.Second {
		t.Errorf("turn_stall_timeout = %v, want 3s", conv.TurnStallTimeout)
	}
	if len(conv.Tools) != 1 || conv.Tools[0] != "generateImage" {
		t.Errorf("tools = %v", conv.Tools)
	}
}

func TestLoadFromReader_ToolsNilVersusEmpty(t *testing.T) {
	t.Parallel()
	base := "providers:\n  live:\n    name: gemini-live\n"

	cfg, err := config.LoadFromReader(strings.NewReader(base))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Conversation.Tools != nil {
		t.Errorf("omitted tools = %v, want nil", cfg.Conversation.Tools)
	}

	cfg, err = config.LoadFromReader(strings.NewReader(base + "conversation:\n  tools: []\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Conversation.Tools == nil || len(cfg.Conversation.Tools) != 0 {
		t.Errorf("empty tools = %#v, want empty non-nil", cfg.Conversation.Tools)
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing live provider",
			yaml: "server:\n  log_level: info\n",
			want: "providers.live.name is required",
		},
		{
			name: "bad log level",
			yaml: "server:\n  log_level: loud\nproviders:\n  live:\n    name: gemini-live\n",
			want: "server.log_level",
		},
		{
			name: "negative stall timeout",
			yaml: "providers:\n  live:\n    name: gemini-live\nconversation:\n  turn_stall_timeout: -1s\n",
			want: "must not be negative",
		},
		{
			name: "duplicate tool",
			yaml: "providers:\n  live:\n    name: gemini-live\nconversation:\n  tools: [generateImage, generateImage]\n",
			want: "duplicate",
		},
		{
			name: "unknown field",
			yaml: "providers:\n  live:\n    name: gemini-live\nconversation:\n  voise: Puck\n",
			want: "voise",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q should mention %q", err, tc.want)
			}
		})
	}
}

func TestValidate_JoinsAllFailures(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: "loud"},
		Conversation: config.ConversationConfig{
			TurnStallTimeout: -time.Second,
		},
	}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"log_level", "providers.live.name", "turn_stall_timeout"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}

func TestValidate_UnknownVoiceIsOnlyAWarning(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Providers:    config.ProvidersConfig{Live: config.ProviderEntry{Name: "gemini-live"}},
		Conversation: config.ConversationConfig{Voice: "Robotina"},
	}
	if err := config.Validate(cfg); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "gic.yaml")
	if err := os.WriteFile(path, []byte(fullYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Conversation.Voice != "Kore" {
		t.Errorf("voice = %q", cfg.Conversation.Voice)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of a missing file should fail")
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	if _, err := reg.CreateLive(config.ProviderEntry{Name: "gemini-live"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateLive unregistered: err = %v, want ErrProviderNotRegistered", err)
	}

	want := &livemock.Provider{}
	var gotEntry config.ProviderEntry
	reg.RegisterLive("fake", func(e config.ProviderEntry) (live.Provider, error) {
		gotEntry = e
		return want, nil
	})
	p, err := reg.CreateLive(config.ProviderEntry{Name: "fake", Model: "m"})
	if err != nil {
		t.Fatalf("CreateLive: %v", err)
	}
	if p != want {
		t.Error("CreateLive returned a different provider")
	}
	if gotEntry.Model != "m" {
		t.Errorf("factory entry = %+v", gotEntry)
	}

	boom := errors.New("no device")
	reg.RegisterAudio("broken", func(config.ProviderEntry) (audio.Devices, error) { return nil, boom })
	if _, err := reg.CreateAudio(config.ProviderEntry{Name: "broken"}); !errors.Is(err, boom) {
		t.Errorf("CreateAudio: err = %v, want %v", err, boom)
	}
	if _, err := reg.CreateImage(config.ProviderEntry{Name: "x"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateImage: err = %v", err)
	}
	if _, err := reg.CreateHelp(config.ProviderEntry{Name: "x"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateHelp: err = %v", err)
	}

	tts := &speechmock.Provider{}
	reg.RegisterSpeech("fake", func(config.ProviderEntry) (speech.Provider, error) { return tts, nil })
	if got, err := reg.CreateSpeech(config.ProviderEntry{Name: "fake"}); err != nil || got != tts {
		t.Errorf("CreateSpeech = %v, %v", got, err)
	}
	if _, err := reg.CreateSpeech(config.ProviderEntry{Name: "x"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateSpeech unregistered: err = %v", err)
	}
}
