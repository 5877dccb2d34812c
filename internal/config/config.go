// Package config provides the configuration schema, loader, and provider
// registry for the GIC voice assistant.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Conversation ConversationConfig `yaml:"conversation"`
}

// ServerConfig holds network and logging settings for the control server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig selects the implementation for each external capability.
// Each field names a provider registered in the [Registry].
type ProvidersConfig struct {
	Live  ProviderEntry `yaml:"live"`
	Image ProviderEntry `yaml:"image"`
	Help  ProviderEntry `yaml:"help"`
	Audio ProviderEntry `yaml:"audio"`

	// Speech reads descriptions and status messages aloud. Optional.
	Speech ProviderEntry `yaml:"speech"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini-live").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// Option returns the string value stored under key in Options, or "".
func (e ProviderEntry) Option(key string) string {
	if e.Options == nil {
		return ""
	}
	s, _ := e.Options[key].(string)
	return s
}

// ConversationConfig is applied to each new conversation. Changes picked up
// by the [Watcher] take effect on the next Start.
type ConversationConfig struct {
	// Voice is the prebuilt voice the model speaks with.
	Voice string `yaml:"voice"`

	// SystemInstruction overrides the built-in assistant persona.
	SystemInstruction string `yaml:"system_instruction"`

	// InputTranscription and OutputTranscription default to true.
	InputTranscription  *bool `yaml:"input_transcription"`
	OutputTranscription *bool `yaml:"output_transcription"`

	// Tools lists the tool names offered to the model. Nil offers every
	// registered tool; an empty list offers none.
	Tools []string `yaml:"tools"`

	// TurnStallTimeout closes a turn that received transcription but no
	// completion signal for this long. Zero disables it.
	TurnStallTimeout time.Duration `yaml:"turn_stall_timeout"`

	// Autostart starts a conversation as soon as the server is up.
	Autostart bool `yaml:"autostart"`
}

// TranscribeInput reports whether user speech should be transcribed.
func (c ConversationConfig) TranscribeInput() bool {
	return c.InputTranscription == nil || *c.InputTranscription
}

// TranscribeOutput reports whether model speech should be transcribed.
func (c ConversationConfig) TranscribeOutput() bool {
	return c.OutputTranscription == nil || *c.OutputTranscription
}
