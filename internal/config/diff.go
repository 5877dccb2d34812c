package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied without a restart are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// Conversation settings apply to the next conversation.
	VoiceChanged         bool
	InstructionChanged   bool
	TranscriptionChanged bool
	ToolsChanged         bool
	StallTimeoutChanged  bool

	// RestartRequired lists top-level blocks whose changes need a restart.
	RestartRequired []string
}

// ConversationChanged reports whether any conversation setting changed.
func (d ConfigDiff) ConversationChanged() bool {
	return d.VoiceChanged || d.InstructionChanged || d.TranscriptionChanged ||
		d.ToolsChanged || d.StallTimeoutChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}

	oc, nc := old.Conversation, new.Conversation
	d.VoiceChanged = oc.Voice != nc.Voice
	d.InstructionChanged = oc.SystemInstruction != nc.SystemInstruction
	d.TranscriptionChanged = oc.TranscribeInput() != nc.TranscribeInput() ||
		oc.TranscribeOutput() != nc.TranscribeOutput()
	d.ToolsChanged = (oc.Tools == nil) != (nc.Tools == nil) || !slices.Equal(oc.Tools, nc.Tools)
	d.StallTimeoutChanged = oc.TurnStallTimeout != nc.TurnStallTimeout

	return d
}

// providersEqual compares the scalar fields of every provider entry.
// Options maps are compared by key count and string values only.
func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.Live, b.Live) && entryEqual(a.Image, b.Image) &&
		entryEqual(a.Help, b.Help) && entryEqual(a.Audio, b.Audio) &&
		entryEqual(a.Speech, b.Speech)
}

func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k := range a.Options {
		if a.Option(k) != b.Option(k) {
			return false
		}
	}
	return true
}
