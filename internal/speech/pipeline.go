// Package speech turns sentence units into audible output, one at a time.
//
// A [Pipeline] owns an unbounded FIFO and a single worker goroutine. Producers
// enqueue text units without blocking; the worker synthesises each unit to
// 16 kHz PCM and plays it on the sink before dequeuing the next, so playback
// order always equals enqueue order and no two units overlap.
//
// End markers let a producer wait until everything it enqueued so far has been
// played. Shutdown enqueues a sentinel and waits for the worker to
// acknowledge it.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// ErrClosed is returned by [Pipeline.Enqueue] after [Pipeline.Shutdown].
var ErrClosed = errors.New("speech: pipeline is shut down")

type kind int

const (
	kindUnit kind = iota
	kindMarker
	kindSentinel
)

// item is one queue entry. Markers and the sentinel carry no text.
type item struct {
	kind   kind
	text   string
	turnID string
	done   chan struct{} // closed when a marker is dequeued
}

// Option is a functional option for [New].
type Option func(*Pipeline)

// WithDiscardOnShutdown drops units still queued when Shutdown is called
// instead of speaking them first.
func WithDiscardOnShutdown() Option {
	return func(p *Pipeline) { p.discard = true }
}

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithProviderName sets the provider label recorded on synthesis metrics.
func WithProviderName(name string) Option {
	return func(p *Pipeline) { p.providerName = name }
}

// WithOnSpoken registers a callback invoked after each unit finished playing.
// It runs on the worker goroutine and must not block.
func WithOnSpoken(fn func(text string)) Option {
	return func(p *Pipeline) { p.onSpoken = fn }
}

// Pipeline is the speech output queue. All exported methods are safe for
// concurrent use; the sink is only ever touched by the worker.
type Pipeline struct {
	synth    tts.Provider
	sink     audio.Sink
	voice    tts.Voice
	discard  bool
	metrics  *observe.Metrics
	onSpoken func(string)

	providerName string

	// ctx bounds in-flight synthesis and playback. It is cancelled when a
	// Shutdown deadline expires before the worker acknowledges.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	queue  []item
	closed bool

	notify chan struct{} // signalled when an item is enqueued
	done   chan struct{} // closed by the worker on exit
}

// New creates a Pipeline that speaks through synth in voice and plays on sink.
// The worker goroutine starts immediately; call [Pipeline.Shutdown] to stop it.
func New(synth tts.Provider, sink audio.Sink, voice tts.Voice, opts ...Option) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		synth:  synth,
		sink:   sink,
		voice:  voice,
		ctx:    ctx,
		cancel: cancel,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),

		providerName: observe.UnnamedProvider,
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	go p.run()
	return p
}

// Enqueue appends a text unit. It never blocks. The turn id in ctx, if any,
// is attached to the unit's logs; ctx cancellation does not affect the unit.
func (p *Pipeline) Enqueue(ctx context.Context, unit string) error {
	if err := p.push(item{kind: kindUnit, text: unit, turnID: observe.TurnID(ctx)}); err != nil {
		return err
	}
	p.metrics.SpeechQueueDepth.Add(ctx, 1)
	return nil
}

// EnqueueEndMarker appends a marker and returns a channel that is closed once
// the worker reaches it, i.e. once every unit enqueued before it has been
// spoken or dropped. After Shutdown the returned channel is already closed.
func (p *Pipeline) EnqueueEndMarker() <-chan struct{} {
	done := make(chan struct{})
	if err := p.push(item{kind: kindMarker, done: done}); err != nil {
		close(done)
	}
	return done
}

// AwaitPlayback blocks until everything enqueued so far has been played, or
// ctx is done.
func (p *Pipeline) AwaitPlayback(ctx context.Context) error {
	select {
	case <-p.EnqueueEndMarker():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown enqueues the sentinel and waits for the worker to acknowledge it.
// Units queued earlier are spoken first unless [WithDiscardOnShutdown] was
// given. If ctx ends first, in-flight work is aborted and ctx.Err() is
// returned. Calling Shutdown more than once is safe; later calls only wait.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		if p.discard {
			p.dropQueuedLocked()
		}
		p.queue = append(p.queue, item{kind: kindSentinel})
		p.signal()
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		p.cancel()
		return fmt.Errorf("speech: shutdown: %w", ctx.Err())
	}
}

// Done is closed once the worker has exited.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// ─── queue ───────────────────────────────────────────────────────────────────

func (p *Pipeline) push(it item) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.queue = append(p.queue, it)
	p.signal()
	return nil
}

// signal wakes the worker without blocking. Callers hold p.mu.
func (p *Pipeline) signal() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// dropQueuedLocked discards pending units and releases pending markers.
func (p *Pipeline) dropQueuedLocked() {
	for _, it := range p.queue {
		switch it.kind {
		case kindUnit:
			p.metrics.SpeechQueueDepth.Add(context.Background(), -1)
			p.metrics.RecordSpeechUnit(context.Background(), observe.UnitDiscarded)
		case kindMarker:
			close(it.done)
		}
	}
	p.queue = nil
}

// next blocks until an item is available and removes it from the queue.
func (p *Pipeline) next() item {
	for {
		p.mu.Lock()
		if len(p.queue) > 0 {
			it := p.queue[0]
			p.queue[0] = item{}
			p.queue = p.queue[1:]
			p.mu.Unlock()
			return it
		}
		p.mu.Unlock()
		<-p.notify
	}
}

// ─── worker ──────────────────────────────────────────────────────────────────

func (p *Pipeline) run() {
	defer close(p.done)
	defer p.cancel()
	for {
		it := p.next()
		switch it.kind {
		case kindSentinel:
			observe.Logger(p.ctx).Debug("speech worker stopped")
			return
		case kindMarker:
			close(it.done)
		case kindUnit:
			p.metrics.SpeechQueueDepth.Add(p.ctx, -1)
			p.speak(it)
		}
	}
}

// speak synthesises and plays one unit. Failures are logged, counted and
// dropped so the worker keeps going.
func (p *Pipeline) speak(it item) {
	ctx := p.ctx
	if it.turnID != "" {
		ctx = observe.WithTurnID(ctx, it.turnID)
	}
	text := strings.TrimSpace(it.text)
	if text == "" {
		p.metrics.RecordSpeechUnit(ctx, observe.UnitSkipped)
		return
	}

	ctx, span := observe.StartSpan(ctx, "speech.unit",
		trace.WithAttributes(attribute.Int("text.length", len(text))),
	)
	defer span.End()
	log := observe.Logger(ctx)

	start := time.Now()
	pcm, err := p.synth.Synthesize(ctx, text, p.voice, tts.FormatPCM)
	p.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		p.metrics.RecordProviderRequest(ctx, p.providerName, observe.KindTTS, observe.StatusError)
		p.metrics.RecordProviderError(ctx, p.providerName, observe.KindTTS)
		p.fail(ctx, span, "synthesis", err)
		return
	}
	p.metrics.RecordProviderRequest(ctx, p.providerName, observe.KindTTS, observe.StatusOK)
	log.Debug("synthesised unit", "bytes", len(pcm), "latency", time.Since(start))

	start = time.Now()
	if err := p.sink.Play(ctx, pcm); err != nil {
		p.fail(ctx, span, "playback", err)
		return
	}
	p.metrics.PlaybackDuration.Record(ctx, time.Since(start).Seconds())
	p.metrics.RecordSpeechUnit(ctx, observe.UnitSpoken)

	if p.onSpoken != nil {
		p.onSpoken(text)
	}
}

func (p *Pipeline) fail(ctx context.Context, span trace.Span, stage string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, stage+" failed")
	p.metrics.RecordSpeechUnit(ctx, observe.UnitFailed)
	observe.Logger(ctx).Error("speech unit dropped", "stage", stage, "err", err)
}
