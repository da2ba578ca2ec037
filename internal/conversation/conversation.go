// Package conversation runs the voice loop: capture an utterance, transcribe
// it, stream a reply from the LLM and speak it sentence by sentence.
//
// Each call to [Orchestrator.RunTurn] walks one turn through
//
//	Capture → Transcribe → Generate → AwaitPlayback → (loop | terminate)
//
// Generated text is cut into sentences as it streams in and every sentence is
// handed to the [Speaker] immediately, so the first sentence is audible while
// the model is still writing the rest. The next capture never starts before
// the speaker has drained.
//
// The orchestrator owns the conversation history. Only turns whose reply
// streamed to completion are appended, and the history is capped on every
// append.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/parley/internal/endpoint"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/segment"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/vad"
	"github.com/MrWong99/parley/pkg/provider/vad/energy"
)

// Turn failures. Returned errors wrap one of these together with the cause.
var (
	ErrCapture       = errors.New("conversation: capture failed")
	ErrTranscription = errors.New("conversation: transcription failed")
	ErrGeneration    = errors.New("conversation: generation failed")
)

const (
	// DefaultHistoryLimit is the number of messages (user and assistant
	// entries together) kept between turns.
	DefaultHistoryLimit = 4

	defaultShutdownTimeout = 30 * time.Second
)

// Speaker is the speech output the orchestrator feeds. *speech.Pipeline
// implements it.
type Speaker interface {
	Enqueue(ctx context.Context, unit string) error
	AwaitPlayback(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Profile is the language-specific persona of the assistant.
type Profile struct {
	// Language is the short language code passed to transcription.
	Language string
	// SystemPrompt is sent ahead of the history on every completion.
	SystemPrompt string
}

// Input selects where a turn's audio comes from. Exactly one field is set.
type Input struct {
	// Source is a live input; its utterances are cut by the endpoint detector.
	Source audio.Source
	// FilePath is a WAV file processed once.
	FilePath string
}

// Interactive reports whether in is a live source.
func (in Input) Interactive() bool { return in.Source != nil }

// Option is a functional option for [New].
type Option func(*Orchestrator)

// WithHistoryLimit caps the history at n messages. Defaults to
// [DefaultHistoryLimit].
func WithHistoryLimit(n int) Option {
	return func(o *Orchestrator) { o.historyLimit = n }
}

// WithSegmenter replaces the default sentence segmenter.
func WithSegmenter(s *segment.Segmenter) Option {
	return func(o *Orchestrator) { o.seg = s }
}

// WithGeneration sets the sampling temperature and token cap of completions.
// Zero values leave the provider defaults. A cap above the model's
// MaxOutputTokens is lowered to it.
func WithGeneration(temperature float64, maxTokens int) Option {
	return func(o *Orchestrator) {
		o.temperature = temperature
		o.maxTokens = maxTokens
	}
}

// WithProviderNames sets the provider labels recorded on request metrics.
func WithProviderNames(sttName, llmName string) Option {
	return func(o *Orchestrator) {
		o.sttName = sttName
		o.llmName = llmName
	}
}

// WithVAD sets the voice activity engine and detector timing used for live
// sources. Defaults to the energy engine with default timing.
func WithVAD(engine vad.Engine, cfg endpoint.Config, opts ...endpoint.Option) Option {
	return func(o *Orchestrator) {
		o.vad = engine
		o.endpointCfg = cfg
		o.endpointOpts = opts
	}
}

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithShutdownTimeout bounds the speaker shutdown performed by [Orchestrator.Run].
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.shutdownTimeout = d }
}

// WithOnReply registers a callback invoked with the user's text and the full
// reply after each completed turn.
func WithOnReply(fn func(user, assistant string)) Option {
	return func(o *Orchestrator) { o.onReply = fn }
}

// Orchestrator drives conversation turns. It is not safe for concurrent
// RunTurn calls; one orchestration goroutine owns it.
type Orchestrator struct {
	stt     stt.Transcriber
	llm     llm.Provider
	speaker Speaker
	profile Profile

	seg             *segment.Segmenter
	vad             vad.Engine
	endpointCfg     endpoint.Config
	endpointOpts    []endpoint.Option
	historyLimit    int
	temperature     float64
	maxTokens       int
	sttName         string
	llmName         string
	shutdownTimeout time.Duration
	metrics         *observe.Metrics
	onReply         func(user, assistant string)

	history []llm.Message
}

// New creates an Orchestrator.
func New(transcriber stt.Transcriber, gen llm.Provider, speaker Speaker, profile Profile, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		stt:             transcriber,
		llm:             gen,
		speaker:         speaker,
		profile:         profile,
		historyLimit:    DefaultHistoryLimit,
		sttName:         observe.UnnamedProvider,
		llmName:         observe.UnnamedProvider,
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.seg == nil {
		o.seg = segment.New()
	}
	if o.vad == nil {
		o.vad = energy.New()
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if o.llm != nil {
		if limit := o.llm.Capabilities().MaxOutputTokens; limit > 0 && o.maxTokens > limit {
			slog.Warn("conversation: max_tokens exceeds model limit, clamping",
				"requested", o.maxTokens, "limit", limit, "llm", o.llmName)
			o.maxTokens = limit
		}
	}
	return o
}

// MaxTokens returns the completion token cap sent with each request, after
// clamping to the model's output limit. Zero leaves the provider default.
func (o *Orchestrator) MaxTokens() int { return o.maxTokens }

// History returns a copy of the retained conversation history.
func (o *Orchestrator) History() []llm.Message {
	return append([]llm.Message(nil), o.history...)
}

// Run loops [Orchestrator.RunTurn] until a turn signals termination or ctx is
// done. The speaker is always shut down before Run returns, also on
// cancellation. Cancellation is a clean exit and yields nil.
func (o *Orchestrator) Run(ctx context.Context, in Input) (err error) {
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.shutdownTimeout)
		defer cancel()
		if serr := o.speaker.Shutdown(sctx); serr != nil {
			err = errors.Join(err, fmt.Errorf("conversation: shutdown speech: %w", serr))
		}
		observe.Logger(ctx).Info("conversation ended")
	}()

	for ctx.Err() == nil {
		cont, turnErr := o.RunTurn(ctx, in)
		if !cont {
			if ctx.Err() != nil {
				return nil
			}
			return turnErr
		}
	}
	return nil
}

// RunTurn runs one turn. cont reports whether the caller should run another:
// it is false after a file input has been processed and after cancellation.
// Failures of a live turn are logged and returned with cont still true.
func (o *Orchestrator) RunTurn(ctx context.Context, in Input) (cont bool, err error) {
	ctx = observe.WithTurnID(ctx, uuid.NewString())
	ctx, span := observe.StartSpan(ctx, "conversation.turn",
		trace.WithAttributes(
			attribute.Bool("interactive", in.Interactive()),
			attribute.String("language", o.profile.Language),
		),
	)
	defer span.End()
	log := observe.Logger(ctx)
	start := time.Now()

	o.metrics.ActiveTurns.Add(ctx, 1)
	defer o.metrics.ActiveTurns.Add(ctx, -1)

	outcome := observe.OutcomeCompleted
	defer func() {
		if err != nil && ctx.Err() != nil {
			outcome = observe.OutcomeCancelled
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		o.metrics.RecordTurn(ctx, outcome, time.Since(start))
	}()

	cont = in.Interactive()
	fail := func(stage string, e error) (bool, error) {
		outcome = observe.OutcomeFailed
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		log.Error("turn failed", "stage", stage, "err", e)
		return cont, e
	}

	// ── Capture ──────────────────────────────────────────────────────────────
	u, err := o.capture(ctx, in)
	if err != nil {
		return fail("capture", fmt.Errorf("%w: %w", ErrCapture, err))
	}
	if u == nil {
		outcome = observe.OutcomeNoSpeech
		log.Info("no speech captured")
		return cont, nil
	}

	// ── Transcribe ───────────────────────────────────────────────────────────
	tr, err := o.transcribe(ctx, u)
	if err != nil {
		return fail("transcribe", fmt.Errorf("%w: %w", ErrTranscription, err))
	}
	userText := strings.TrimSpace(tr.Text)
	if userText == "" {
		outcome = observe.OutcomeEmpty
		log.Info("empty transcript, nothing to answer")
		return cont, nil
	}
	log.Info("user said", "text", userText, "language", tr.Language)

	// ── Generate ─────────────────────────────────────────────────────────────
	reply, genErr := o.generate(ctx, userText)

	// ── AwaitPlayback ────────────────────────────────────────────────────────
	// Sentences enqueued before a generation failure still play out.
	if err := o.speaker.AwaitPlayback(ctx); err != nil {
		return fail("playback", fmt.Errorf("conversation: await playback: %w", err))
	}
	if genErr != nil {
		return fail("generate", genErr)
	}

	o.appendHistory(
		llm.Message{Role: llm.RoleUser, Content: userText},
		llm.Message{Role: llm.RoleAssistant, Content: reply},
	)
	log.Info("assistant replied", "text", reply)
	if o.onReply != nil {
		o.onReply(userText, reply)
	}
	return cont, nil
}

// ─── stages ──────────────────────────────────────────────────────────────────

// capture returns nil, nil when nothing usable was heard.
func (o *Orchestrator) capture(ctx context.Context, in Input) (*audio.Utterance, error) {
	if in.Interactive() {
		d := endpoint.New(in.Source, o.vad, o.endpointCfg,
			append([]endpoint.Option{endpoint.WithMetrics(o.metrics)}, o.endpointOpts...)...)
		return d.Capture(ctx)
	}
	if in.FilePath == "" {
		return nil, errors.New("no audio source or file given")
	}
	u, err := audio.ReadWAVFile(in.FilePath)
	if err != nil {
		return nil, err
	}
	if len(u.Samples) == 0 {
		return nil, nil
	}
	observe.Logger(ctx).Info("loaded audio file", "path", in.FilePath, "duration", u.Duration)
	return u, nil
}

func (o *Orchestrator) transcribe(ctx context.Context, u *audio.Utterance) (stt.Transcript, error) {
	ctx, span := observe.StartSpan(ctx, "conversation.transcribe")
	defer span.End()

	start := time.Now()
	tr, err := o.stt.Transcribe(ctx, u, o.profile.Language)
	o.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		o.metrics.RecordProviderRequest(ctx, o.sttName, observe.KindSTT, observe.StatusError)
		o.metrics.RecordProviderError(ctx, o.sttName, observe.KindSTT)
		span.RecordError(err)
		return stt.Transcript{}, err
	}
	o.metrics.RecordProviderRequest(ctx, o.sttName, observe.KindSTT, observe.StatusOK)
	return tr, nil
}

// generate streams the reply, enqueueing each sentence as soon as the
// segmenter emits it, and returns the full reply text.
func (o *Orchestrator) generate(ctx context.Context, userText string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "conversation.generate")
	defer span.End()

	msgs := make([]llm.Message, 0, len(o.history)+1)
	msgs = append(msgs, o.history...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: userText})
	req := llm.CompletionRequest{
		SystemPrompt: o.profile.SystemPrompt,
		Messages:     msgs,
		Temperature:  o.temperature,
		MaxTokens:    o.maxTokens,
	}

	start := time.Now()
	ch, err := o.llm.StreamCompletion(ctx, req)
	if err != nil {
		o.metrics.RecordProviderRequest(ctx, o.llmName, observe.KindLLM, observe.StatusError)
		o.metrics.RecordProviderError(ctx, o.llmName, observe.KindLLM)
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	var (
		st      segment.State
		reply   strings.Builder
		first   = true
		enqueue = func(units []string) error {
			for _, u := range units {
				if err := o.speaker.Enqueue(ctx, u); err != nil {
					return fmt.Errorf("%w: enqueue sentence: %w", ErrGeneration, err)
				}
			}
			return nil
		}
	)

	for done := false; !done; {
		select {
		case <-ctx.Done():
			go audio.Drain(ch)
			return "", ctx.Err()
		case c, ok := <-ch:
			if !ok {
				done = true
				break
			}
			if err := c.Err(); err != nil {
				go audio.Drain(ch)
				o.metrics.RecordProviderRequest(ctx, o.llmName, observe.KindLLM, observe.StatusError)
				o.metrics.RecordProviderError(ctx, o.llmName, observe.KindLLM)
				span.RecordError(err)
				return "", fmt.Errorf("%w: %w", ErrGeneration, err)
			}
			if c.Text == "" {
				continue
			}
			if first {
				first = false
				o.metrics.LLMTimeToFirstToken.Record(ctx, time.Since(start).Seconds())
			}
			reply.WriteString(c.Text)
			var units []string
			units, st = o.seg.Feed(st, c.Text)
			if err := enqueue(units); err != nil {
				go audio.Drain(ch)
				return "", err
			}
		}
	}
	// A provider may close the stream on cancellation without an error chunk.
	if err := ctx.Err(); err != nil {
		return "", err
	}

	units, _ := o.seg.Flush(st)
	if err := enqueue(units); err != nil {
		return "", err
	}
	o.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	o.metrics.RecordProviderRequest(ctx, o.llmName, observe.KindLLM, observe.StatusOK)
	return strings.TrimSpace(reply.String()), nil
}

// appendHistory adds msgs and keeps only the newest historyLimit entries.
func (o *Orchestrator) appendHistory(msgs ...llm.Message) {
	o.history = append(o.history, msgs...)
	if o.historyLimit >= 0 && len(o.history) > o.historyLimit {
		o.history = append([]llm.Message(nil), o.history[len(o.history)-o.historyLimit:]...)
	}
}
