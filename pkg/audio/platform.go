package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// Source is a live audio input that delivers fixed-duration [Chunk] values.
//
// Chunks returns a channel that emits chunks in capture order until ctx is
// cancelled or the source is exhausted, at which point the channel is closed.
// Implementations push from their own delivery goroutine (e.g. a device
// callback) into a bounded channel and must never block that goroutine; a
// chunk that does not fit is dropped.
//
// Implementations must be safe for concurrent use, but only one Chunks stream
// should be active at a time. The channel closes only after the stream has
// been released, so draining it is how a caller waits for the release.
type Source interface {
	Chunks(ctx context.Context) (<-chan Chunk, error)
}

// Sink is an audio output that plays raw PCM.
//
// Play accepts 16-bit little-endian PCM at the sink's configured format and
// blocks until the buffer has been played completely or ctx is cancelled.
// A Sink is owned by a single writer; concurrent Play calls are not supported.
type Sink interface {
	Play(ctx context.Context, pcm []byte) error
}

// Device is an audio backend that provides both capture and playback and owns
// native resources.
type Device interface {
	Source
	Sink
	Close() error
}

// ─── WAVFileSink ─────────────────────────────────────────────────────────────

// WAVFileSink is a [Sink] that appends played PCM to an in-memory buffer and
// writes it as a WAV file on Close. Play returns once the bytes are buffered,
// which makes it suitable for headless single-file runs.
type WAVFileSink struct {
	path       string
	sampleRate int
	channels   int

	mu     sync.Mutex
	pcm    []byte
	closed bool
}

// NewWAVFileSink returns a sink that writes to path on Close.
func NewWAVFileSink(path string, sampleRate, channels int) *WAVFileSink {
	return &WAVFileSink{path: path, sampleRate: sampleRate, channels: channels}
}

// Play appends pcm to the buffered output.
func (s *WAVFileSink) Play(ctx context.Context, pcm []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("audio: wav sink closed")
	}
	s.pcm = append(s.pcm, pcm...)
	return nil
}

// Duration returns the length of audio buffered so far.
func (s *WAVFileSink) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return samplesDuration(len(s.pcm)/2, s.sampleRate, s.channels)
}

// Close writes the buffered audio to disk. Calling Close more than once is
// safe and returns nil.
func (s *WAVFileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := os.WriteFile(s.path, EncodeWAV(s.pcm, s.sampleRate, s.channels), 0o644); err != nil {
		return fmt.Errorf("audio: write %q: %w", s.path, err)
	}
	return nil
}

var _ Sink = (*WAVFileSink)(nil)
