package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/pkg/provider/llm"
	llmmock "github.com/MrWong99/parley/pkg/provider/llm/mock"
	"github.com/MrWong99/parley/pkg/provider/stt"
	sttmock "github.com/MrWong99/parley/pkg/provider/stt/mock"
	"github.com/MrWong99/parley/pkg/provider/tts"
	ttsmock "github.com/MrWong99/parley/pkg/provider/tts/mock"
	"github.com/MrWong99/parley/pkg/provider/vad"
	vadmock "github.com/MrWong99/parley/pkg/provider/vad/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9000"
  log_level: debug

language: en

providers:
  llm:
    name: anthropic
    api_key: sk-ant-test
    model: claude-3-5-haiku-latest
    fallbacks:
      - name: openai
        model: gpt-5-mini
  stt:
    name: deepgram
    api_key: dg-test
    model: nova-2
  tts:
    name: elevenlabs
    api_key: el-test
  vad:
    name: energy

voices:
  en:
    voice_id: rachel
    transcription_language: en
    system_prompt: Be brief.

vad:
  threshold: 0.02
  silence_duration: 1s
  max_duration: 15s

conversation:
  history_limit: 6
  abbreviations: ["approx"]
  temperature: 0.7
`

// ── Defaults ─────────────────────────────────────────────────────────────────

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Default() does not validate: %v", err)
	}
	if cfg.VAD.Threshold != 0.015 {
		t.Errorf("vad.threshold: got %v, want 0.015", cfg.VAD.Threshold)
	}
	if cfg.VAD.SilenceDuration != 800*time.Millisecond {
		t.Errorf("vad.silence_duration: got %v, want 800ms", cfg.VAD.SilenceDuration)
	}
	if cfg.VAD.MaxDuration != 20*time.Second {
		t.Errorf("vad.max_duration: got %v, want 20s", cfg.VAD.MaxDuration)
	}
	if cfg.Conversation.HistoryLimit != 4 {
		t.Errorf("conversation.history_limit: got %d, want 4", cfg.Conversation.HistoryLimit)
	}
	if cfg.Providers.LLM.Model != "gpt-5-mini" {
		t.Errorf("providers.llm.model: got %q, want gpt-5-mini", cfg.Providers.LLM.Model)
	}
}

func TestDefaultVoices(t *testing.T) {
	t.Parallel()
	tests := []struct {
		lang    string
		voiceID string
	}{
		{"pt", "Camila"},
		{"en", "Joanna"},
	}
	voices := config.DefaultVoices()
	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			t.Parallel()
			v, ok := voices[tt.lang]
			if !ok {
				t.Fatalf("voice %q missing", tt.lang)
			}
			if v.VoiceID != tt.voiceID {
				t.Errorf("voice_id: got %q, want %q", v.VoiceID, tt.voiceID)
			}
			if v.TranscriptionLanguage != tt.lang {
				t.Errorf("transcription_language: got %q, want %q", v.TranscriptionLanguage, tt.lang)
			}
			if v.SystemPrompt == "" {
				t.Error("system_prompt is empty")
			}
		})
	}
}

func TestLanguages_Sorted(t *testing.T) {
	t.Parallel()
	got := config.Default().Languages()
	if strings.Join(got, ",") != "en,pt" {
		t.Errorf("Languages() = %v, want [en pt]", got)
	}
}

func TestActiveVoice(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		language string
		wantLang string
		wantID   string
	}{
		{"portuguese", "pt", "pt", "Camila"},
		{"english", "en", "en", "Joanna"},
		{"upper case", "EN", "en", "Joanna"},
		{"unknown falls back", "fr", "pt", "Camila"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			cfg.Language = tt.language
			lang, v := cfg.ActiveVoice()
			if lang != tt.wantLang || v.VoiceID != tt.wantID {
				t.Errorf("ActiveVoice() = (%q, %q), want (%q, %q)", lang, v.VoiceID, tt.wantLang, tt.wantID)
			}
		})
	}
}

func TestLogLevel(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q.IsValid() = false", l)
		}
	}
	if config.LogLevel("verbose").IsValid() {
		t.Error(`"verbose".IsValid() = true`)
	}
	if got := config.LogLevel("verbose").Slog().String(); got != "INFO" {
		t.Errorf("unknown level maps to %s, want INFO", got)
	}
	if got := config.LogDebug.Slog().String(); got != "DEBUG" {
		t.Errorf("debug maps to %s, want DEBUG", got)
	}
}

func TestStringOption(t *testing.T) {
	t.Parallel()
	e := config.ProviderEntry{Options: map[string]any{"region": "eu-west-1", "n": 3}}
	if got := e.StringOption("region"); got != "eu-west-1" {
		t.Errorf("region: got %q", got)
	}
	if got := e.StringOption("n"); got != "" {
		t.Errorf("non-string option: got %q, want empty", got)
	}
	if got := e.StringOption("missing"); got != "" {
		t.Errorf("missing option: got %q, want empty", got)
	}
}

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9000")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Language != "en" {
		t.Errorf("language: got %q, want en", cfg.Language)
	}
	if cfg.Providers.LLM.Name != "anthropic" || len(cfg.Providers.LLM.Fallbacks) != 1 {
		t.Errorf("providers.llm: got %+v", cfg.Providers.LLM)
	}
	if cfg.Providers.STT.Name != "deepgram" {
		t.Errorf("providers.stt.name: got %q, want deepgram", cfg.Providers.STT.Name)
	}
	if cfg.VAD.SilenceDuration != time.Second || cfg.VAD.MaxDuration != 15*time.Second {
		t.Errorf("vad durations: got %v / %v", cfg.VAD.SilenceDuration, cfg.VAD.MaxDuration)
	}
	if cfg.Conversation.HistoryLimit != 6 {
		t.Errorf("conversation.history_limit: got %d, want 6", cfg.Conversation.HistoryLimit)
	}
	// Voice rows merge with the defaults.
	if v, ok := cfg.Voice("en"); !ok || v.VoiceID != "rachel" {
		t.Errorf("voices.en: got %+v", v)
	}
	if _, ok := cfg.Voice("pt"); !ok {
		t.Error("voices.pt default was dropped")
	}
	// Unset sections keep their defaults.
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("audio.sample_rate: got %d, want 16000", cfg.Audio.SampleRate)
	}
}

func TestLoadFromReader_EmptyIsDefault(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error for empty config: %v", err)
	}
	if cfg.Language != config.DefaultLanguage {
		t.Errorf("language: got %q, want %q", cfg.Language, config.DefaultLanguage)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("speakers: []\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	entry := config.ProviderEntry{Name: "nonexistent"}

	tests := []struct {
		kind string
		call func() error
	}{
		{"llm", func() error { _, err := reg.CreateLLM(entry); return err }},
		{"stt", func() error { _, err := reg.CreateSTT(entry); return err }},
		{"tts", func() error { _, err := reg.CreateTTS(entry); return err }},
		{"vad", func() error { _, err := reg.CreateVAD(entry); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			err := tt.call()
			if !errors.Is(err, config.ErrProviderNotRegistered) {
				t.Fatalf("expected ErrProviderNotRegistered, got: %v", err)
			}
			if !strings.Contains(err.Error(), tt.kind+"/") {
				t.Errorf("error should name the kind %q: %v", tt.kind, err)
			}
		})
	}
}

func TestRegistry_RegisteredLLM(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	want := &llmmock.Provider{}
	var gotEntry config.ProviderEntry
	reg.RegisterLLM("stub", func(e config.ProviderEntry) (llm.Provider, error) {
		gotEntry = e
		return want, nil
	})
	got, err := reg.CreateLLM(config.ProviderEntry{Name: "stub", Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
	if gotEntry.Model != "m" {
		t.Errorf("factory received model %q, want m", gotEntry.Model)
	}
}

func TestRegistry_RegisteredSTT(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	want := &sttmock.Transcriber{}
	reg.RegisterSTT("stub", func(config.ProviderEntry) (stt.Transcriber, error) { return want, nil })
	got, err := reg.CreateSTT(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned transcriber is not the expected instance")
	}
}

func TestRegistry_RegisteredTTS(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	want := &ttsmock.Provider{}
	reg.RegisterTTS("stub", func(config.ProviderEntry) (tts.Provider, error) { return want, nil })
	got, err := reg.CreateTTS(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
}

func TestRegistry_RegisteredVAD(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	want := &vadmock.Engine{}
	reg.RegisterVAD("stub", func(config.ProviderEntry) (vad.Engine, error) { return want, nil })
	got, err := reg.CreateVAD(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned engine is not the expected instance")
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterLLM("broken", func(config.ProviderEntry) (llm.Provider, error) {
		return nil, wantErr
	})
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}
