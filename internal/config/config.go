// Package config provides the configuration schema, loader, and provider registry
// for the parley voice loop.
//
// A [Config] is built once at startup from defaults, an optional YAML file and
// the process environment, validated, and then passed by pointer to every
// constructor. Nothing in the package keeps global state.
package config

import (
	"log/slog"
	"slices"
	"strings"
	"time"
)

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

// Slog returns the matching slog level. Unknown levels map to info.
func (l LogLevel) Slog() slog.Level {
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

// DefaultLanguage is the language used when none or an unknown one is set.
const DefaultLanguage = "pt"

// Config is the root configuration structure for parley.
// It is typically loaded with [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig           `yaml:"server"`
	Language     string                 `yaml:"language"`
	Voices       map[string]VoiceConfig `yaml:"voices"`
	Providers    ProvidersConfig        `yaml:"providers"`
	VAD          VADConfig              `yaml:"vad"`
	Conversation ConversationConfig     `yaml:"conversation"`
	Audio        AudioConfig            `yaml:"audio"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP API listens on (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// VoiceConfig is one row of the per-language voice table.
type VoiceConfig struct {
	// VoiceID is the TTS provider's voice identifier (e.g., "Camila").
	VoiceID string `yaml:"voice_id"`

	// TranscriptionLanguage is the hint passed to speech-to-text.
	TranscriptionLanguage string `yaml:"transcription_language"`

	// SystemPrompt is the assistant persona for this language.
	SystemPrompt string `yaml:"system_prompt"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`
	VAD ProviderEntry `yaml:"vad"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "polly").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-5-mini").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when the primary provider fails. Only
	// honoured on top-level entries.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// StringOption returns Options[key] when it is a non-empty string.
func (e ProviderEntry) StringOption(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// VADConfig holds the endpoint detector constants.
type VADConfig struct {
	// Threshold is the normalised RMS energy above which a chunk is voiced.
	Threshold float64 `yaml:"threshold"`

	// SilenceDuration of trailing silence ends an utterance.
	SilenceDuration time.Duration `yaml:"silence_duration"`

	// MaxDuration caps a single capture.
	MaxDuration time.Duration `yaml:"max_duration"`
}

// ConversationConfig tunes the orchestrator and the speech pipeline.
type ConversationConfig struct {
	// HistoryLimit is the number of messages kept between turns.
	HistoryLimit int `yaml:"history_limit"`

	// Abbreviations extends the segmenter's built-in abbreviation list.
	Abbreviations []string `yaml:"abbreviations"`

	// Temperature and MaxTokens are passed to the LLM. Zero keeps provider defaults.
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// DiscardOnShutdown drops queued sentences on exit instead of speaking them.
	DiscardOnShutdown bool `yaml:"discard_on_shutdown"`
}

// AudioConfig describes the local device format.
type AudioConfig struct {
	SampleRate    int           `yaml:"sample_rate"`
	Channels      int           `yaml:"channels"`
	ChunkDuration time.Duration `yaml:"chunk_duration"`
	BufferChunks  int           `yaml:"buffer_chunks"`
}

// DefaultVoices returns the built-in Portuguese and English voice table.
func DefaultVoices() map[string]VoiceConfig {
	return map[string]VoiceConfig{
		"pt": {
			VoiceID:               "Camila",
			TranscriptionLanguage: "pt",
			SystemPrompt:          "Você é um assistente de voz útil e rápido. Responda de forma direta e conversacional. Use frases curtas. Não use markdown ou listas.",
		},
		"en": {
			VoiceID:               "Joanna",
			TranscriptionLanguage: "en",
			SystemPrompt:          "You are a helpful and fast voice assistant. Answer directly and conversationally. Use short sentences. Do not use markdown or lists.",
		},
	}
}

// Default returns a configuration matching the stock deployment: OpenAI for
// generation, a local whisper.cpp server for transcription, Amazon Polly for
// synthesis and the energy VAD.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{ListenAddr: ":8000", LogLevel: LogInfo},
		Language: DefaultLanguage,
		Voices:   DefaultVoices(),
		Providers: ProvidersConfig{
			LLM: ProviderEntry{Name: "openai", Model: "gpt-5-mini"},
			STT: ProviderEntry{Name: "whisper", BaseURL: "http://localhost:8080", Model: "small"},
			TTS: ProviderEntry{Name: "polly", Options: map[string]any{"region": "us-east-1"}},
			VAD: ProviderEntry{Name: "energy"},
		},
		VAD: VADConfig{
			Threshold:       0.015,
			SilenceDuration: 800 * time.Millisecond,
			MaxDuration:     20 * time.Second,
		},
		Conversation: ConversationConfig{HistoryLimit: 4},
		Audio: AudioConfig{
			SampleRate:    16000,
			Channels:      1,
			ChunkDuration: 30 * time.Millisecond,
			BufferChunks:  64,
		},
	}
}

// Languages returns the configured language codes in sorted order.
func (c *Config) Languages() []string {
	langs := make([]string, 0, len(c.Voices))
	for l := range c.Voices {
		langs = append(langs, l)
	}
	slices.Sort(langs)
	return langs
}

// Voice looks up the voice table row for lang.
func (c *Config) Voice(lang string) (VoiceConfig, bool) {
	v, ok := c.Voices[strings.ToLower(lang)]
	return v, ok
}

// ActiveVoice resolves the configured language. An unknown language logs a
// warning and falls back to [DefaultLanguage].
func (c *Config) ActiveVoice() (string, VoiceConfig) {
	lang := strings.ToLower(c.Language)
	if v, ok := c.Voices[lang]; ok {
		return lang, v
	}
	slog.Warn("unsupported language, falling back", "language", c.Language, "fallback", DefaultLanguage)
	return DefaultLanguage, c.Voices[DefaultLanguage]
}
