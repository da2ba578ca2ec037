// Command parley is a real-time voice assistant: it listens on the local
// microphone, transcribes what was said, streams an LLM reply and speaks it
// sentence by sentence. It can also process a single WAV file or serve the
// transcription and synthesis HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/device"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/parley/pkg/provider/llm/openai"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/stt/deepgram"
	oastt "github.com/MrWong99/parley/pkg/provider/stt/openai"
	"github.com/MrWong99/parley/pkg/provider/stt/whisper"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/tts/coqui"
	"github.com/MrWong99/parley/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/parley/pkg/provider/tts/polly"
	"github.com/MrWong99/parley/pkg/provider/vad"
	"github.com/MrWong99/parley/pkg/provider/vad/energy"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to a YAML configuration file (defaults and environment only when empty)")
	filePath := flag.String("file", "", "process a single WAV file instead of listening on the microphone")
	outPath := flag.String("out", "", "in -file mode, write the spoken reply to this WAV file instead of the speakers")
	serve := flag.Bool("serve", false, "run the HTTP API only")
	listen := flag.String("listen", "", "also serve the HTTP API on this address next to the voice loop")
	lang := flag.String("lang", "", "override the conversation language (e.g. pt, en)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parley: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		}
		return 1
	}
	if *lang != "" {
		cfg.Language = *lang
		if err := config.Validate(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
			return 1
		}
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Server.LogLevel.Slog()})))

	slog.Info("parley starting",
		"version", version,
		"config", *configPath,
		"language", cfg.Language,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(ctx, reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, closers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Application options ───────────────────────────────────────────────────
	opts := []app.Option{
		app.WithMetrics(metrics),
		app.WithMetricsHandler(observe.MetricsHandler()),
	}
	for _, c := range closers {
		opts = append(opts, app.WithCloser(c))
	}

	switch {
	case *serve:
		opts = append(opts, app.WithServeOnly())
		if *listen != "" {
			opts = append(opts, app.WithListenAddr(*listen))
		}
	case *filePath != "":
		opts = append(opts, app.WithFile(*filePath))
		if *outPath != "" {
			opts = append(opts, app.WithSink(audio.NewWAVFileSink(*outPath, cfg.Audio.SampleRate, cfg.Audio.Channels)))
		}
	}
	if !*serve {
		if *listen != "" {
			opts = append(opts, app.WithListenAddr(*listen))
		}
		if *filePath == "" || *outPath == "" {
			dev, err := device.Open(device.Config{
				SampleRate:    cfg.Audio.SampleRate,
				Channels:      cfg.Audio.Channels,
				ChunkDuration: cfg.Audio.ChunkDuration,
				BufferChunks:  cfg.Audio.BufferChunks,
				OnDrop:        func() { metrics.DroppedChunks.Add(context.Background(), 1) },
			})
			if err != nil {
				slog.Error("failed to open audio device", "err", err)
				return 1
			}
			opts = append(opts, app.WithDevice(dev))
		}
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, providers, *serve, *filePath, *listen)

	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if application.Mode() == app.ModeLive {
		slog.Info("listening, press Ctrl+C to stop")
	}

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyllmBackends are the LLM providers served through any-llm-go.
var anyllmBackends = []string{
	"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(ctx context.Context, reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining backends share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range anyllmBackends {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		modelPath := entry.StringOption("model_path")
		if modelPath == "" {
			modelPath = entry.Model
		}
		var opts []whisper.NativeOption
		if n, ok := entry.Options["max_concurrent"].(int); ok {
			opts = append(opts, whisper.WithMaxConcurrent(n))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []oastt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		return oastt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("polly", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []polly.Option
		if engine := entry.StringOption("engine"); engine != "" {
			opts = append(opts, polly.WithEngine(engine))
		}
		return polly.New(ctx, entry.StringOption("region"), opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithEndpoint(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := entry.StringOption("language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := entry.StringOption("api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry.
// Entries with fallbacks are wrapped in resilience groups whose breaker state
// feeds the readiness probe. The returned closers release native resources.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, []func() error, error) {
	ps := &app.Providers{}
	var closers []func() error
	track := func(v any) {
		if c, ok := v.(io.Closer); ok {
			closers = append(closers, c.Close)
		}
	}
	fbCfg := func(kind string) resilience.FallbackConfig {
		return resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("circuit breaker state change", "kind", kind, "provider", name, "from", from, "to", to)
			},
		}}
	}

	// ── LLM ───────────────────────────────────────────────────────────────────
	llmEntry := cfg.Providers.LLM
	primaryLLM, err := reg.CreateLLM(llmEntry)
	if err != nil {
		return nil, nil, fmt.Errorf("create llm provider %q: %w", llmEntry.Name, err)
	}
	ps.LLM = primaryLLM
	if len(llmEntry.Fallbacks) > 0 {
		fb := resilience.NewLLMFallback(primaryLLM, llmEntry.Name, fbCfg("llm"))
		for _, e := range llmEntry.Fallbacks {
			p, err := reg.CreateLLM(e)
			if err != nil {
				return nil, nil, fmt.Errorf("create llm fallback %q: %w", e.Name, err)
			}
			fb.AddFallback(e.Name, p)
		}
		ps.LLM = fb
		ps.Checks = append(ps.Checks, health.BreakerChecker("llm", fb.Status))
	}
	slog.Info("provider created", "kind", "llm", "name", llmEntry.Name, "fallbacks", len(llmEntry.Fallbacks))

	// ── STT ───────────────────────────────────────────────────────────────────
	sttEntry := cfg.Providers.STT
	primarySTT, err := reg.CreateSTT(sttEntry)
	if err != nil {
		return nil, nil, fmt.Errorf("create stt provider %q: %w", sttEntry.Name, err)
	}
	track(primarySTT)
	ps.STT = primarySTT
	if len(sttEntry.Fallbacks) > 0 {
		fb := resilience.NewSTTFallback(primarySTT, sttEntry.Name, fbCfg("stt"))
		for _, e := range sttEntry.Fallbacks {
			p, err := reg.CreateSTT(e)
			if err != nil {
				return nil, nil, fmt.Errorf("create stt fallback %q: %w", e.Name, err)
			}
			track(p)
			fb.AddFallback(e.Name, p)
		}
		ps.STT = fb
		ps.Checks = append(ps.Checks, health.BreakerChecker("stt", fb.Status))
	}
	slog.Info("provider created", "kind", "stt", "name", sttEntry.Name, "fallbacks", len(sttEntry.Fallbacks))

	// ── TTS ───────────────────────────────────────────────────────────────────
	ttsEntry := cfg.Providers.TTS
	primaryTTS, err := reg.CreateTTS(ttsEntry)
	if err != nil {
		return nil, nil, fmt.Errorf("create tts provider %q: %w", ttsEntry.Name, err)
	}
	ps.TTS = primaryTTS
	if len(ttsEntry.Fallbacks) > 0 {
		fb := resilience.NewTTSFallback(primaryTTS, ttsEntry.Name, fbCfg("tts"))
		for _, e := range ttsEntry.Fallbacks {
			p, err := reg.CreateTTS(e)
			if err != nil {
				return nil, nil, fmt.Errorf("create tts fallback %q: %w", e.Name, err)
			}
			fb.AddFallback(e.Name, p)
		}
		ps.TTS = fb
		ps.Checks = append(ps.Checks, health.BreakerChecker("tts", fb.Status))
	}
	slog.Info("provider created", "kind", "tts", "name", ttsEntry.Name, "fallbacks", len(ttsEntry.Fallbacks))

	// ── VAD ───────────────────────────────────────────────────────────────────
	if name := cfg.Providers.VAD.Name; name != "" {
		p, err := reg.CreateVAD(cfg.Providers.VAD)
		if err != nil {
			return nil, nil, fmt.Errorf("create vad provider %q: %w", name, err)
		}
		ps.VAD = p
		slog.Info("provider created", "kind", "vad", "name", name)
	}

	return ps, closers, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, ps *app.Providers, serve bool, file, listen string) {
	lang, voice := cfg.ActiveVoice()
	mode := "live (microphone)"
	switch {
	case serve:
		mode = "serve (HTTP API)"
	case file != "":
		mode = "file"
	}

	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         parley — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Mode", mode)
	printRow("Language", lang+" / "+voice.VoiceID)
	printProvider("LLM", cfg.Providers.LLM)
	if ps != nil && ps.LLM != nil {
		printRow("Reply limit", replyLimit(cfg.Conversation.MaxTokens, ps.LLM.Capabilities()))
	}
	printProvider("STT", cfg.Providers.STT)
	printProvider("TTS", cfg.Providers.TTS)
	printProvider("VAD", cfg.Providers.VAD)
	printRow("Silence", cfg.VAD.SilenceDuration.String())
	printRow("Max capture", cfg.VAD.MaxDuration.String())
	switch {
	case serve && listen != "":
		printRow("Listen addr", listen)
	case serve:
		printRow("Listen addr", cfg.Server.ListenAddr)
	case listen != "":
		printRow("Listen addr", listen)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

// replyLimit describes the completion cap: the configured max_tokens clamped
// to the model's output limit, or the model limit alone.
func replyLimit(configured int, caps llm.ModelCapabilities) string {
	switch {
	case configured > 0 && (caps.MaxOutputTokens == 0 || configured <= caps.MaxOutputTokens):
		return fmt.Sprintf("%d tokens", configured)
	case configured > 0:
		return fmt.Sprintf("%d (clamped)", caps.MaxOutputTokens)
	case caps.MaxOutputTokens > 0:
		return fmt.Sprintf("model max %d", caps.MaxOutputTokens)
	}
	return "provider default"
}

func printProvider(kind string, entry config.ProviderEntry) {
	value := entry.Name
	if value == "" {
		value = "(not configured)"
	} else if entry.Model != "" {
		value = entry.Name + " / " + entry.Model
	}
	if n := len(entry.Fallbacks); n > 0 {
		value += fmt.Sprintf(" +%d", n)
	}
	printRow(kind, value)
}

func printRow(key, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", key, value)
}
