package config

import "fmt"

// Diff lists the settings that changed between two configs and can be
// applied without restarting. Provider and audio changes are not tracked;
// they take effect on the next start of the process.
type Diff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PersonaChanged and UserTypeChanged apply to the next voice session.
	PersonaChanged  bool
	NewPersona      string
	UserTypeChanged bool
	NewUserType     string

	// ChatChanged means temperature, max tokens or timeout changed.
	ChatChanged bool

	// RestartRequired lists changed sections that are ignored until restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d Diff) Empty() bool {
	return !d.LogLevelChanged && !d.PersonaChanged && !d.UserTypeChanged && !d.ChatChanged && len(d.RestartRequired) == 0
}

// Compare returns the changes from old to new.
func Compare(old, new *Config) Diff {
	var d Diff
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged, d.NewLogLevel = true, new.Server.LogLevel
	}
	if old.Voice.Persona != new.Voice.Persona {
		d.PersonaChanged, d.NewPersona = true, new.Voice.Persona
	}
	if old.Voice.UserType != new.Voice.UserType {
		d.UserTypeChanged, d.NewUserType = true, new.Voice.UserType
	}
	d.ChatChanged = old.Chat != new.Chat

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	for _, pair := range []struct {
		name     string
		old, new ProviderEntry
	}{
		{"providers.realtime", old.Providers.Realtime, new.Providers.Realtime},
		{"providers.credential", old.Providers.Credential, new.Providers.Credential},
		{"providers.llm", old.Providers.LLM, new.Providers.LLM},
		{"providers.llm_fallback", old.Providers.LLMFallback, new.Providers.LLMFallback},
	} {
		if !sameEntry(pair.old, pair.new) {
			d.RestartRequired = append(d.RestartRequired, pair.name)
		}
	}
	if old.Voice.VAD != new.Voice.VAD {
		d.RestartRequired = append(d.RestartRequired, "voice.vad")
	}
	if old.Voice.TranscriptionModel != new.Voice.TranscriptionModel {
		d.RestartRequired = append(d.RestartRequired, "voice.transcription_model")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	return d
}

func sameEntry(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, v := range a.Options {
		// Values may be nested maps, which are not comparable with ==.
		if w, ok := b.Options[k]; !ok || fmt.Sprint(v) != fmt.Sprint(w) {
			return false
		}
	}
	return true
}
