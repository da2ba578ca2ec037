package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to reject unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"whisper", "whisper-native", "openai", "deepgram"},
	"tts": {"polly", "elevenlabs", "coqui"},
	"vad": {"energy"},
}

// Load builds a [Config] from [Default], the YAML file at path (skipped when
// path is empty) and the process environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := decode(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	ApplyEnv(cfg, os.LookupEnv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Default] and validates
// the result. The environment is not consulted. Useful in tests where configs
// are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decode(r, cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

// LoadDotEnv loads KEY=value pairs from the given files (".env" when none are
// given) into the process environment. Variables already set win. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %q: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg with the supported environment variables:
//
//	LANGUAGE              active language (lower-cased)
//	LOG_LEVEL             server.log_level (lower-cased)
//	LLM_MODEL             providers.llm.model
//	OPENAI_API_KEY        api_key of any openai provider that has none
//	WHISPER_SIZE          providers.stt.model for whisper providers
//	WHISPER_DEVICE        providers.stt.options.device
//	WHISPER_COMPUTE_TYPE  providers.stt.options.compute_type
//	AWS_REGION            providers.tts.options.region for polly
//	DEEPGRAM_API_KEY      providers.stt.api_key for deepgram
//	ELEVENLABS_API_KEY    providers.tts.api_key for elevenlabs
//
// lookup is normally [os.LookupEnv].
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("LANGUAGE"); ok {
		cfg.Language = strings.ToLower(v)
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(v))
	}
	if v, ok := get("LLM_MODEL"); ok {
		cfg.Providers.LLM.Model = v
	}

	stt := &cfg.Providers.STT
	if strings.HasPrefix(stt.Name, "whisper") {
		if v, ok := get("WHISPER_SIZE"); ok {
			stt.Model = v
		}
		if v, ok := get("WHISPER_DEVICE"); ok {
			setOption(stt, "device", v)
		}
		if v, ok := get("WHISPER_COMPUTE_TYPE"); ok {
			setOption(stt, "compute_type", v)
		}
	}
	if v, ok := get("DEEPGRAM_API_KEY"); ok && stt.Name == "deepgram" && stt.APIKey == "" {
		stt.APIKey = v
	}

	tts := &cfg.Providers.TTS
	if v, ok := get("AWS_REGION"); ok && tts.Name == "polly" {
		setOption(tts, "region", v)
	}
	if v, ok := get("ELEVENLABS_API_KEY"); ok && tts.Name == "elevenlabs" && tts.APIKey == "" {
		tts.APIKey = v
	}

	if v, ok := get("OPENAI_API_KEY"); ok {
		for _, e := range []*ProviderEntry{&cfg.Providers.LLM, stt} {
			if e.Name == "openai" && e.APIKey == "" {
				e.APIKey = v
			}
		}
	}
}

func setOption(e *ProviderEntry, key string, value any) {
	if e.Options == nil {
		e.Options = make(map[string]any)
	}
	e.Options[key] = value
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// An unknown language is not an error: it is logged and replaced with
// [DefaultLanguage].
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Voices
	if _, ok := cfg.Voices[DefaultLanguage]; !ok {
		errs = append(errs, fmt.Errorf("voices.%s is required as the fallback language", DefaultLanguage))
	}
	for lang, v := range cfg.Voices {
		if lang != strings.ToLower(lang) {
			errs = append(errs, fmt.Errorf("voices.%s: language codes must be lower-case", lang))
		}
		if v.VoiceID == "" {
			errs = append(errs, fmt.Errorf("voices.%s.voice_id is required", lang))
		}
	}
	if _, ok := cfg.Voices[cfg.Language]; !ok {
		slog.Warn("unsupported language, falling back", "language", cfg.Language, "fallback", DefaultLanguage)
		cfg.Language = DefaultLanguage
	}

	// Providers
	for kind, entry := range map[string]ProviderEntry{
		"llm": cfg.Providers.LLM,
		"stt": cfg.Providers.STT,
		"tts": cfg.Providers.TTS,
		"vad": cfg.Providers.VAD,
	} {
		if entry.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.name is required", kind))
			continue
		}
		errs = append(errs, validateProviderName(kind, entry)...)
	}

	// VAD
	if cfg.VAD.Threshold <= 0 || cfg.VAD.Threshold > 1 {
		errs = append(errs, fmt.Errorf("vad.threshold %.4f is out of range (0, 1]", cfg.VAD.Threshold))
	}
	if cfg.VAD.SilenceDuration <= 0 {
		errs = append(errs, fmt.Errorf("vad.silence_duration must be positive, got %s", cfg.VAD.SilenceDuration))
	}
	if cfg.VAD.MaxDuration <= cfg.VAD.SilenceDuration {
		errs = append(errs, fmt.Errorf("vad.max_duration %s must exceed vad.silence_duration %s", cfg.VAD.MaxDuration, cfg.VAD.SilenceDuration))
	}

	// Conversation
	if cfg.Conversation.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("conversation.history_limit must not be negative, got %d", cfg.Conversation.HistoryLimit))
	}
	if t := cfg.Conversation.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("conversation.temperature %.2f is out of range [0, 2]", t))
	}

	// Audio
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels != 1 && cfg.Audio.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio.channels must be 1 or 2, got %d", cfg.Audio.Channels))
	}

	return errors.Join(errs...)
}

// validateProviderName rejects names outside [ValidProviderNames] for the
// entry and each of its fallbacks.
func validateProviderName(kind string, entry ProviderEntry) []error {
	var errs []error
	check := func(path, name string) {
		if !slices.Contains(ValidProviderNames[kind], name) {
			errs = append(errs, fmt.Errorf("%s %q is unknown; valid values: %s", path, name, strings.Join(ValidProviderNames[kind], ", ")))
		}
	}
	check("providers."+kind+".name", entry.Name)
	for i, fb := range entry.Fallbacks {
		check(fmt.Sprintf("providers.%s.fallbacks[%d].name", kind, i), fb.Name)
		if len(fb.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d]: nested fallbacks are not supported", kind, i))
		}
	}
	return errs
}
