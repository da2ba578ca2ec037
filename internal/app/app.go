// Package app wires all parley subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the voice loop and the HTTP API, and Shutdown
// tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithDevice, WithSink, WithListener, etc.). Providers always come from the
// caller; main.go builds them through the config registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/api"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/conversation"
	"github.com/MrWong99/parley/internal/endpoint"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/segment"
	"github.com/MrWong99/parley/internal/speech"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/vad"
	"github.com/MrWong99/parley/pkg/provider/vad/energy"
)

// httpShutdownTimeout bounds the graceful stop of the HTTP server.
const httpShutdownTimeout = 5 * time.Second

// Providers holds one interface value per provider slot. Populated by main.go
// via the config registry, with fallbacks already wrapped.
type Providers struct {
	LLM llm.Provider
	STT stt.Transcriber
	TTS tts.Provider
	VAD vad.Engine

	// Checks are readiness probes for the configured providers, typically
	// [health.BreakerChecker] values over the fallback groups.
	Checks []health.Checker
}

// Mode selects what Run does.
type Mode int

const (
	// ModeLive runs the interactive loop on the audio device.
	ModeLive Mode = iota
	// ModeFile processes a single WAV file and returns.
	ModeFile
	// ModeServe runs the HTTP API only.
	ModeServe
)

// String returns the human-readable name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeLive:
		return "live"
	case ModeFile:
		return "file"
	case ModeServe:
		return "serve"
	default:
		return "unknown"
	}
}

// App owns all subsystem lifetimes and orchestrates the parley voice loop.
type App struct {
	cfg       *config.Config
	providers *Providers
	mode      Mode

	filePath   string
	listenAddr string
	listener   net.Listener

	device         audio.Device
	sink           audio.Sink
	metrics        *observe.Metrics
	metricsHandler http.Handler

	// Subsystems are initialised in New and torn down in Shutdown.
	pipeline *speech.Pipeline
	conv     *conversation.Orchestrator
	health   *health.Handler
	httpSrv  *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDevice sets the audio device used for capture and, unless WithSink is
// given, for playback. The app closes it on Shutdown.
func WithDevice(d audio.Device) Option {
	return func(a *App) { a.device = d }
}

// WithSink overrides the playback sink, e.g. with an [audio.WAVFileSink].
// Sinks implementing io.Closer are closed on Shutdown.
func WithSink(s audio.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithFile switches to single-file mode.
func WithFile(path string) Option {
	return func(a *App) {
		a.mode = ModeFile
		a.filePath = path
	}
}

// WithServeOnly runs the HTTP API without a voice loop.
func WithServeOnly() Option {
	return func(a *App) { a.mode = ModeServe }
}

// WithListenAddr serves the HTTP API on addr next to the voice loop. In
// serve-only mode it overrides server.listen_addr.
func WithListenAddr(addr string) Option {
	return func(a *App) { a.listenAddr = addr }
}

// WithListener serves the HTTP API on an existing listener. Tests use this
// with an ephemeral port.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithCloser registers fn to run during Shutdown, after the app's own
// subsystems. main.go uses it for providers that hold native resources.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	// Closers injected via options run last.
	external := a.closers
	a.closers = nil

	if err := a.validate(); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	// ── 1. Audio output ──────────────────────────────────────────────────
	if a.mode != ModeServe {
		a.initAudio()
	}

	// ── 2. Speech pipeline + orchestrator ────────────────────────────────
	if a.mode != ModeServe {
		a.initConversation(ctx)
	}

	// ── 3. HTTP API ──────────────────────────────────────────────────────
	a.initAPI()

	a.closers = append(a.closers, external...)
	return a, nil
}

// Mode reports what Run will do.
func (a *App) Mode() Mode { return a.mode }

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) validate() error {
	p := a.providers
	if p == nil {
		return errors.New("providers are required")
	}
	if p.STT == nil || p.TTS == nil {
		return errors.New("stt and tts providers are required")
	}
	if a.mode == ModeServe {
		return nil
	}
	if p.LLM == nil {
		return errors.New("an llm provider is required for the voice loop")
	}
	switch {
	case a.mode == ModeLive && a.device == nil:
		return errors.New("live mode requires an audio device")
	case a.mode == ModeFile && a.filePath == "":
		return errors.New("file mode requires a file path")
	case a.device == nil && a.sink == nil:
		return errors.New("no audio output: configure a device or an output file")
	}
	return nil
}

// initAudio picks the playback sink and registers the audio closers. The
// device is closed after the sink so that a WAV file is flushed first.
func (a *App) initAudio() {
	if a.sink == nil {
		a.sink = a.device
	} else if c, ok := a.sink.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}
	if a.device != nil {
		a.closers = append(a.closers, a.device.Close)
	}
}

func (a *App) initConversation(ctx context.Context) {
	lang, voice := a.cfg.ActiveVoice()

	var popts []speech.Option
	popts = append(popts,
		speech.WithMetrics(a.metrics),
		speech.WithProviderName(a.cfg.Providers.TTS.Name),
	)
	if a.cfg.Conversation.DiscardOnShutdown {
		popts = append(popts, speech.WithDiscardOnShutdown())
	}
	a.pipeline = speech.New(a.providers.TTS, a.sink, tts.Voice{ID: voice.VoiceID, Language: lang}, popts...)

	// Run normally shuts the pipeline down; this covers an App that never ran.
	// It is prepended so the worker stops before the sink is closed.
	a.closers = append([]func() error{func() error {
		sctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		return a.pipeline.Shutdown(sctx)
	}}, a.closers...)

	engine := a.providers.VAD
	if engine == nil {
		engine = energy.New()
	}
	endpointCfg := endpoint.Config{
		SilenceDuration: a.cfg.VAD.SilenceDuration,
		MaxDuration:     a.cfg.VAD.MaxDuration,
		VAD: vad.Config{
			SampleRate:      a.cfg.Audio.SampleRate,
			SpeechThreshold: a.cfg.VAD.Threshold,
		},
	}

	copts := []conversation.Option{
		conversation.WithHistoryLimit(a.cfg.Conversation.HistoryLimit),
		conversation.WithSegmenter(segment.New(a.cfg.Conversation.Abbreviations...)),
		conversation.WithGeneration(a.cfg.Conversation.Temperature, a.cfg.Conversation.MaxTokens),
		conversation.WithProviderNames(a.cfg.Providers.STT.Name, a.cfg.Providers.LLM.Name),
		conversation.WithMetrics(a.metrics),
		conversation.WithVAD(engine, endpointCfg),
	}

	a.conv = conversation.New(a.providers.STT, a.providers.LLM, a.pipeline, conversation.Profile{
		Language:     voice.TranscriptionLanguage,
		SystemPrompt: voice.SystemPrompt,
	}, copts...)

	observe.Logger(ctx).Info("conversation ready", "language", lang, "voice", voice.VoiceID,
		"mode", a.mode, "max_tokens", a.conv.MaxTokens())
}

func (a *App) initAPI() {
	addr := a.listenAddr
	if a.mode == ModeServe && addr == "" {
		addr = a.cfg.Server.ListenAddr
	}
	if addr == "" && a.listener == nil {
		return
	}

	checks := append([]health.Checker(nil), a.providers.Checks...)
	a.health = health.New(checks...)

	opts := []api.Option{api.WithMetrics(a.metrics), api.WithHealth(a.health)}
	if a.metricsHandler != nil {
		opts = append(opts, api.WithMetricsHandler(a.metricsHandler))
	}
	srv := api.New(a.cfg, a.providers.STT, a.providers.TTS, opts...)

	a.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the configured activities and blocks until they finish.
//
// In live mode the voice loop runs until ctx is cancelled. In file mode Run
// returns after the file's turn has been spoken, unless the HTTP API is also
// running, in which case it keeps serving until ctx is cancelled.
// Cancellation is a clean exit and yields nil.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.httpSrv != nil {
		ln := a.listener
		if ln == nil {
			var err error
			ln, err = net.Listen("tcp", a.httpSrv.Addr)
			if err != nil {
				return fmt.Errorf("app: listen on %q: %w", a.httpSrv.Addr, err)
			}
		}
		slog.Info("http api listening", "addr", ln.Addr().String())

		g.Go(func() error {
			if err := a.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: serve http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), httpShutdownTimeout)
			defer cancel()
			return a.httpSrv.Shutdown(sctx)
		})
	}

	if a.conv != nil {
		in := conversation.Input{Source: a.device}
		if a.mode == ModeFile {
			in = conversation.Input{FilePath: a.filePath}
		}
		g.Go(func() error {
			return a.conv.Run(gctx, in)
		})
	}

	slog.Info("app running", "mode", a.mode)
	return g.Wait()
}

// History exposes the orchestrator's retained history. It is empty in
// serve-only mode.
func (a *App) History() []llm.Message {
	if a.conv == nil {
		return nil
	}
	return a.conv.History()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.httpSrv != nil {
			if err := a.httpSrv.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
