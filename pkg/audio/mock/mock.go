// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Sink] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control behaviour.
//
// Typical usage:
//
//	src := &mock.Source{ChunkList: []audio.Chunk{loud, quiet}}
//	sink := &mock.Sink{PlayDelay: 5 * time.Millisecond}
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// ─── Source ──────────────────────────────────────────────────────────────────

// ErrStreamActive is returned by an exclusive [Source] whose previous stream
// has not been released yet.
var ErrStreamActive = errors.New("mock: capture already active")

// Source is a mock implementation of [audio.Source]. Each call to Chunks
// returns a fresh channel that emits ChunkList in order and then closes,
// unless KeepOpen is set.
type Source struct {
	mu sync.Mutex

	// ChunkList is emitted in order on every Chunks call.
	ChunkList []audio.Chunk

	// Interval, if non-zero, is slept between chunks.
	Interval time.Duration

	// KeepOpen leaves the channel open after ChunkList is exhausted until ctx
	// is cancelled, emulating a live device that has gone quiet.
	KeepOpen bool

	// ChunksErr, if non-nil, is returned by Chunks instead of a channel.
	ChunksErr error

	// Exclusive makes Chunks fail with [ErrStreamActive] while an earlier
	// stream's channel is still open, like a device that allows one capture.
	Exclusive bool
	active    bool

	// CallCountChunks records how many times Chunks was called.
	CallCountChunks int
}

// Chunks implements [audio.Source].
func (s *Source) Chunks(ctx context.Context) (<-chan audio.Chunk, error) {
	s.mu.Lock()
	s.CallCountChunks++
	if s.ChunksErr != nil {
		err := s.ChunksErr
		s.mu.Unlock()
		return nil, err
	}
	if s.Exclusive && s.active {
		s.mu.Unlock()
		return nil, ErrStreamActive
	}
	s.active = true
	chunks := make([]audio.Chunk, len(s.ChunkList))
	copy(chunks, s.ChunkList)
	interval, keepOpen := s.Interval, s.KeepOpen
	s.mu.Unlock()

	ch := make(chan audio.Chunk)
	go func() {
		defer func() {
			// Release before closing, as real devices do.
			s.mu.Lock()
			s.active = false
			s.mu.Unlock()
			close(ch)
		}()
		for _, c := range chunks {
			if interval > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(interval):
				}
			}
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
		if keepOpen {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

// Calls returns the number of Chunks invocations. Thread-safe.
func (s *Source) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountChunks
}

var _ audio.Source = (*Source)(nil)

// ─── Sink ────────────────────────────────────────────────────────────────────

// Sink is a mock implementation of [audio.Sink].
type Sink struct {
	mu sync.Mutex

	// PlayDelay, if non-zero, is how long each Play call blocks, simulating
	// real-time playback.
	PlayDelay time.Duration

	// PlayErr, if non-nil, is returned by every Play call.
	PlayErr error

	// OnPlay, if set, is called with each buffer before Play returns.
	OnPlay func(pcm []byte)

	// Played records a copy of every buffer passed to Play, in order.
	Played [][]byte

	// active counts concurrent Play calls; MaxActive is its high-water mark.
	active    int
	MaxActive int
}

// Play implements [audio.Sink].
func (s *Sink) Play(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	s.active++
	s.MaxActive = max(s.MaxActive, s.active)
	delay, playErr, onPlay := s.PlayDelay, s.PlayErr, s.OnPlay
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	if playErr != nil {
		return playErr
	}
	if onPlay != nil {
		onPlay(pcm)
	}

	s.mu.Lock()
	s.Played = append(s.Played, append([]byte(nil), pcm...))
	s.mu.Unlock()
	return nil
}

// PlayedStrings returns every played buffer converted to a string. Handy when
// tests feed text as fake audio.
func (s *Sink) PlayedStrings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Played))
	for i, p := range s.Played {
		out[i] = string(p)
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Played = nil
	s.MaxActive = 0
}

var _ audio.Sink = (*Sink)(nil)

// ─── Device ──────────────────────────────────────────────────────────────────

// Device combines a [Source] and a [Sink] into an [audio.Device].
type Device struct {
	Source
	Sink

	mu sync.Mutex

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// CloseCallCount records how many times Close was called.
	CloseCallCount int
}

// Close implements [audio.Device].
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CloseCallCount++
	return d.CloseErr
}

// Closed returns the number of Close calls.
func (d *Device) Closed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CloseCallCount
}

var _ audio.Device = (*Device)(nil)
