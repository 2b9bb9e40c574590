package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/careercompass/internal/advisor"
	"github.com/MrWong99/careercompass/pkg/provider/llm/anyllm"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultInputSampleRate    = 48000
	DefaultOutputSampleRate   = 24000
	DefaultBlockSize          = 4096
	DefaultTranscriptionModel = "whisper-1"
	DefaultChatTimeout        = 60 * time.Second
)

// ProviderNames lists the implementations the registry knows per kind.
var ProviderNames = map[string][]string{
	"realtime":   {"openai"},
	"credential": {"openai", "edge", "static"},
	"llm":        append([]string{"edge"}, anyllm.Backends...),
}

// Load reads, defaults and validates the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r, expands environment references in
// provider credentials, applies defaults and validates. An empty document
// yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	for _, e := range cfg.Providers.entries() {
		e.APIKey = os.ExpandEnv(e.APIKey)
		e.BaseURL = os.ExpandEnv(e.BaseURL)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields in place.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Providers.Realtime.Name == "" {
		cfg.Providers.Realtime.Name = "openai"
	}
	if cfg.Providers.Credential.Name == "" {
		cfg.Providers.Credential.Name = "openai"
	}
	if cfg.Providers.LLM.Name == "" {
		cfg.Providers.LLM.Name = "openai"
	}

	v := &cfg.Voice
	if v.Persona == "" {
		v.Persona = string(advisor.DefaultPersona)
	}
	if v.UserType == "" {
		v.UserType = string(advisor.JobSeeker)
	}
	if v.VAD == (VADConfig{}) {
		v.VAD = VADConfig{Threshold: 0.5, PrefixPaddingMS: 300, SilenceDurationMS: 500}
	}
	if v.TranscriptionModel == "" {
		v.TranscriptionModel = DefaultTranscriptionModel
	}

	a := &cfg.Audio
	if a.Backend == "" {
		a.Backend = AudioStream
	}
	if a.InputSampleRate == 0 {
		a.InputSampleRate = DefaultInputSampleRate
	}
	if a.InputChannels == 0 {
		a.InputChannels = 1
	}
	if a.OutputSampleRate == 0 {
		a.OutputSampleRate = DefaultOutputSampleRate
	}
	if a.BlockSize == 0 {
		a.BlockSize = DefaultBlockSize
	}
}

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		add("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel)
	}

	p := cfg.Providers
	checkName := func(field, kind string, e ProviderEntry) {
		if e.Name != "" && !slices.Contains(ProviderNames[kind], e.Name) {
			add("providers.%s.name %q is unknown; valid values: %s", field, e.Name, strings.Join(ProviderNames[kind], ", "))
		}
	}
	checkName("realtime", "realtime", p.Realtime)
	checkName("credential", "credential", p.Credential)
	checkName("llm", "llm", p.LLM)
	checkName("llm_fallback", "llm", p.LLMFallback)

	switch p.Credential.Name {
	case "edge":
		if p.Credential.BaseURL == "" {
			add("providers.credential.base_url is required for the edge issuer")
		}
	case "static":
		if p.Credential.APIKey == "" {
			add("providers.credential.api_key is required for the static issuer")
		}
	}
	if p.LLM.Name == "edge" && p.LLM.BaseURL == "" {
		add("providers.llm.base_url is required for the edge provider")
	}
	if p.LLMFallback.Name == "edge" && p.LLMFallback.BaseURL == "" {
		add("providers.llm_fallback.base_url is required for the edge provider")
	}
	if p.LLMFallback.Enabled() && p.LLMFallback.Name == p.LLM.Name && p.LLMFallback.Model == p.LLM.Model && p.LLMFallback.BaseURL == p.LLM.BaseURL {
		add("providers.llm_fallback duplicates providers.llm")
	}

	v := cfg.Voice
	if _, err := advisor.ParsePersona(v.Persona); err != nil {
		add("voice.persona: %w", err)
	}
	if _, err := advisor.ParseUserType(v.UserType); err != nil {
		add("voice.user_type: %w", err)
	}
	if v.VAD.Threshold < 0 || v.VAD.Threshold > 1 {
		add("voice.vad.threshold %.2f is out of range [0, 1]", v.VAD.Threshold)
	}
	if v.VAD.PrefixPaddingMS < 0 {
		add("voice.vad.prefix_padding_ms must not be negative")
	}
	if v.VAD.SilenceDurationMS < 0 {
		add("voice.vad.silence_duration_ms must not be negative")
	}

	a := cfg.Audio
	if a.Backend != AudioStream && a.Backend != AudioDevice {
		add("audio.backend %q is invalid; valid values: %s, %s", a.Backend, AudioStream, AudioDevice)
	}
	if a.InputSampleRate < 8000 || a.InputSampleRate > 192000 {
		add("audio.input_sample_rate %d is out of range [8000, 192000]", a.InputSampleRate)
	}
	if a.OutputSampleRate < 8000 || a.OutputSampleRate > 192000 {
		add("audio.output_sample_rate %d is out of range [8000, 192000]", a.OutputSampleRate)
	}
	if a.InputChannels < 1 || a.InputChannels > 8 {
		add("audio.input_channels %d is out of range [1, 8]", a.InputChannels)
	}
	if a.BlockSize < 256 || a.BlockSize > 16384 || a.BlockSize&(a.BlockSize-1) != 0 {
		add("audio.block_size %d must be a power of two in [256, 16384]", a.BlockSize)
	}

	if cfg.Chat.Temperature < 0 || cfg.Chat.Temperature > 2 {
		add("chat.temperature %.2f is out of range [0, 2]", cfg.Chat.Temperature)
	}
	if cfg.Chat.MaxTokens < 0 {
		add("chat.max_tokens must not be negative")
	}
	if cfg.Chat.Timeout != "" {
		if d, err := time.ParseDuration(cfg.Chat.Timeout); err != nil || d <= 0 {
			add("chat.timeout %q is not a positive duration", cfg.Chat.Timeout)
		}
	}

	return errors.Join(errs...)
}

// ChatTimeout returns the parsed chat timeout or [DefaultChatTimeout].
func (c ChatConfig) ChatTimeout() time.Duration {
	if d, err := time.ParseDuration(c.Timeout); err == nil && d > 0 {
		return d
	}
	return DefaultChatTimeout
}

func (p *ProvidersConfig) entries() []*ProviderEntry {
	return []*ProviderEntry{&p.Realtime, &p.Credential, &p.LLM, &p.LLMFallback}
}
