// Package endpoint turns a live audio stream into a finite utterance.
//
// A [Detector] reads chunks from an [audio.Source], classifies each one with a
// [vad.SessionHandle], and runs a small state machine:
//
//	Idle ──voiced──▶ Speaking ──unvoiced──▶ TrailingSilence ──(> silence)──▶ Done
//	                    ▲                          │
//	                    └──────────voiced──────────┘
//	any state ──(elapsed > max duration)──▶ Done
//
// Every chunk seen since capture started is kept, including leading silence,
// and concatenated into the resulting [audio.Utterance]. The loop is a single
// blocking pass: past chunks are never re-classified.
package endpoint

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

// Defaults for [Config].
const (
	DefaultSilenceDuration = 800 * time.Millisecond
	DefaultMaxDuration     = 20 * time.Second
)

// State is the detector's position in the capture state machine.
type State int

const (
	Idle State = iota
	Speaking
	TrailingSilence
	Done
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Speaking:
		return "speaking"
	case TrailingSilence:
		return "trailing_silence"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Reason describes why a capture finished.
type Reason string

const (
	// ReasonSilence is a clean end-of-utterance after trailing silence.
	ReasonSilence Reason = "silence"
	// ReasonMaxDuration is the forced safety stop.
	ReasonMaxDuration Reason = "max_duration"
	// ReasonSourceClosed means the source ran out of audio.
	ReasonSourceClosed Reason = "source_closed"
)

// Config holds the timing constants of the state machine.
type Config struct {
	// SilenceDuration is how long energy must stay below threshold after
	// speech before the utterance ends. Default 0.8 s.
	SilenceDuration time.Duration

	// MaxDuration caps total recording time regardless of signal. Default 20 s.
	MaxDuration time.Duration

	// VAD configures the per-capture VAD session.
	VAD vad.Config
}

// Result summarises a finished capture. It is passed to the OnEnd hook.
type Result struct {
	Reason Reason
	// SpeechDetected is true when the state machine ever left Idle.
	SpeechDetected bool
	// Chunks is the number of chunks recorded.
	Chunks int
	// Elapsed is the wall-clock capture time.
	Elapsed time.Duration
}

// Option is a functional option for [New].
type Option func(*Detector)

// WithClock replaces time.Now. Tests use this to drive the state machine
// deterministically.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// WithOnVoice registers a callback invoked once per capture when speech is
// first detected.
func WithOnVoice(fn func()) Option {
	return func(d *Detector) { d.onVoice = fn }
}

// WithOnEnd registers a callback invoked with the summary of every capture
// that produced a result (including "no speech").
func WithOnEnd(fn func(Result)) Option {
	return func(d *Detector) { d.onEnd = fn }
}

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Detector) { d.metrics = m }
}

// Detector captures utterances from a live source. It is not safe for
// concurrent Capture calls: the source delivers one stream at a time.
type Detector struct {
	src     audio.Source
	engine  vad.Engine
	cfg     Config
	now     func() time.Time
	onVoice func()
	onEnd   func(Result)
	metrics *observe.Metrics
}

// New returns a Detector reading from src and classifying with engine.
func New(src audio.Source, engine vad.Engine, cfg Config, opts ...Option) *Detector {
	if cfg.SilenceDuration <= 0 {
		cfg.SilenceDuration = DefaultSilenceDuration
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	d := &Detector{
		src:    src,
		engine: engine,
		cfg:    cfg,
		now:    time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// Capture records one utterance. It blocks until trailing silence, the max
// duration, or the end of the source.
//
// It returns nil, nil when no audio arrived or no speech was ever detected,
// so callers can treat both as "nothing heard". Cancelling ctx aborts the
// capture with ctx.Err().
func (d *Detector) Capture(ctx context.Context) (*audio.Utterance, error) {
	captureCtx, cancel := context.WithCancel(ctx)
	defer cancel() // stops the source stream

	chunks, err := d.src.Chunks(captureCtx)
	if err != nil {
		return nil, fmt.Errorf("endpoint: open source: %w", err)
	}
	// Sources close the channel once the stream is released, so waiting for
	// the close lets the next Capture reopen the same device immediately.
	defer func() {
		cancel()
		audio.Drain(chunks)
	}()

	sess, err := d.engine.NewSession(d.cfg.VAD)
	if err != nil {
		return nil, fmt.Errorf("endpoint: new vad session: %w", err)
	}
	defer sess.Close()

	log := observe.Logger(ctx)
	log.Info("listening")

	var (
		state        = Idle
		start        = d.now()
		silenceStart time.Time
		recorded     []audio.Chunk
		reason       Reason
		spoke        bool
	)

	for state != Done {
		var (
			c  audio.Chunk
			ok bool
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case c, ok = <-chunks:
		}
		if !ok {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			reason = ReasonSourceClosed
			break
		}

		recorded = append(recorded, c)
		ev, err := sess.ProcessFrame(audio.SamplesToPCM(c.Samples))
		if err != nil {
			return nil, fmt.Errorf("endpoint: classify chunk: %w", err)
		}
		now := d.now()

		switch state {
		case Idle:
			if ev.Voiced() {
				state = Speaking
				spoke = true
				log.Info("voice detected", "energy", ev.Probability)
				if d.onVoice != nil {
					d.onVoice()
				}
			}
		case Speaking:
			if !ev.Voiced() {
				state = TrailingSilence
				silenceStart = now
			}
		case TrailingSilence:
			if ev.Voiced() {
				state = Speaking
				silenceStart = time.Time{}
			} else if now.Sub(silenceStart) > d.cfg.SilenceDuration {
				state = Done
				reason = ReasonSilence
				log.Info("silence detected, stopping")
			}
		}

		if state != Done && now.Sub(start) > d.cfg.MaxDuration {
			state = Done
			reason = ReasonMaxDuration
			log.Info("max duration reached", "max", d.cfg.MaxDuration)
		}
	}

	res := Result{
		Reason:         reason,
		SpeechDetected: spoke,
		Chunks:         len(recorded),
		Elapsed:        d.now().Sub(start),
	}
	if d.onEnd != nil {
		d.onEnd(res)
	}

	if len(recorded) == 0 || !spoke {
		log.Debug("capture ended without speech", "reason", reason, "chunks", len(recorded))
		return nil, nil
	}

	u := audio.NewUtterance(recorded)
	d.metrics.RecordCapture(ctx, string(reason), u.Duration)
	log.Log(ctx, slog.LevelDebug, "utterance captured",
		"reason", reason,
		"chunks", len(recorded),
		"duration", u.Duration,
	)
	return u, nil
}
