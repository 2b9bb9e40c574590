// Package config provides the configuration schema, loader, provider registry
// and hot-reload watcher for careercompass.
package config

import "log/slog"

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

// Level converts l to a slog level. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration, usually loaded with [Load].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Voice     VoiceConfig     `yaml:"voice"`
	Audio     AudioConfig     `yaml:"audio"`
	Chat      ChatConfig      `yaml:"chat"`
}

// ServerConfig holds the status server and logging settings.
type ServerConfig struct {
	// ListenAddr is where /metrics, /healthz, /readyz and /status are served
	// (e.g. "127.0.0.1:9090"). Empty disables the status server.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig selects the remote services. Each entry's Name is looked up
// in the [Registry].
type ProvidersConfig struct {
	// Realtime is the speech-to-speech session endpoint.
	Realtime ProviderEntry `yaml:"realtime"`

	// Credential issues the short-lived secret used to open each voice
	// session.
	Credential ProviderEntry `yaml:"credential"`

	// LLM answers the typed chat.
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallback is tried when LLM fails. Optional.
	LLMFallback ProviderEntry `yaml:"llm_fallback"`
}

// ProviderEntry is the configuration block shared by every provider kind.
type ProviderEntry struct {
	// Name selects the registered implementation (e.g. "openai", "edge").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider. "${VAR}" references are
	// expanded from the environment at load time.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific settings not covered above.
	Options map[string]any `yaml:"options"`
}

// Enabled reports whether the entry selects a provider.
func (e ProviderEntry) Enabled() bool { return e.Name != "" }

// StringOption returns Options[key] if it is a string.
func (e ProviderEntry) StringOption(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// VoiceConfig holds the voice session defaults.
type VoiceConfig struct {
	// Persona is the advisor voice (alloy, ash, ballad, coral, echo, sage,
	// shimmer, verse). Default shimmer.
	Persona string `yaml:"persona"`

	// UserType is "jobseeker" or "recruiter". Default jobseeker.
	UserType string `yaml:"user_type"`

	// VAD tunes server-side turn detection for every session.
	VAD VADConfig `yaml:"vad"`

	// TranscriptionModel transcribes the user's speech. Default whisper-1.
	TranscriptionModel string `yaml:"transcription_model"`
}

// VADConfig mirrors the server_vad turn-detection parameters.
type VADConfig struct {
	Threshold         float64 `yaml:"threshold"`
	PrefixPaddingMS   int     `yaml:"prefix_padding_ms"`
	SilenceDurationMS int     `yaml:"silence_duration_ms"`
}

// Audio backends.
const (
	// AudioStream reads and writes raw PCM16 files, pipes or stdin.
	AudioStream = "stream"

	// AudioDevice uses the system's default capture and playback devices.
	AudioDevice = "device"
)

// AudioConfig describes the local audio endpoints.
type AudioConfig struct {
	// Backend is "stream" (default) or "device". The path options only
	// apply to "stream"; the rate and channel options apply to both.
	Backend string `yaml:"backend"`

	// InputPath is raw PCM16 LE microphone input; "-" reads stdin.
	InputPath string `yaml:"input_path"`

	// InputSampleRate is the native rate of InputPath. Default 48000.
	InputSampleRate int `yaml:"input_sample_rate"`

	// InputChannels is the interleaved channel count of InputPath. Default 1.
	InputChannels int `yaml:"input_channels"`

	// PaceInput throttles file input to real time.
	PaceInput bool `yaml:"pace_input"`

	// OutputPath receives the advisor's speech as raw PCM16 LE. Empty
	// discards playback.
	OutputPath string `yaml:"output_path"`

	// OutputSampleRate is the rate written to OutputPath. Default 24000.
	OutputSampleRate int `yaml:"output_sample_rate"`

	// BlockSize is the capture block in samples at the native rate. A power
	// of two between 256 and 16384. Default 4096.
	BlockSize int `yaml:"block_size"`
}

// ChatConfig tunes the typed chat.
type ChatConfig struct {
	// Temperature of 0 leaves the backend default.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens of 0 leaves the backend default.
	MaxTokens int `yaml:"max_tokens"`

	// Timeout bounds one completion, e.g. "60s". Default 60s.
	Timeout string `yaml:"timeout"`
}
