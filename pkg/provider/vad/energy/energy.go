// Package energy provides a [vad.Engine] that classifies frames by their RMS
// energy on the normalised [-1, 1] sample scale.
//
// A session has two states. While not speaking, a frame whose energy exceeds
// SpeechThreshold starts speech. While speaking, a frame whose energy falls
// below SilenceThreshold ends it. With both thresholds equal this is a plain
// energy gate. No smoothing or noise estimation is performed.
package energy

import (
	"fmt"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

// DefaultThreshold is the normalised RMS above which a frame counts as speech.
const DefaultThreshold = 0.015

// Engine creates energy-gate sessions. The zero value is ready to use.
type Engine struct{}

// New returns an energy Engine.
func New() *Engine { return &Engine{} }

// NewSession validates cfg and returns a new session. A zero SpeechThreshold
// selects [DefaultThreshold]; a zero SilenceThreshold mirrors SpeechThreshold.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SpeechThreshold == 0 {
		cfg.SpeechThreshold = DefaultThreshold
	}
	if cfg.SilenceThreshold == 0 {
		cfg.SilenceThreshold = cfg.SpeechThreshold
	}
	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy vad: speech threshold %v out of range [0, 1]", cfg.SpeechThreshold)
	}
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy vad: silence threshold %v must be in [0, %v]", cfg.SilenceThreshold, cfg.SpeechThreshold)
	}
	if cfg.FrameSizeMs < 0 {
		return nil, fmt.Errorf("energy vad: negative frame size %d", cfg.FrameSizeMs)
	}
	return &session{cfg: cfg}, nil
}

type session struct {
	cfg vad.Config

	mu       sync.Mutex
	speaking bool
	closed   bool
}

// ProcessFrame computes the frame energy and advances the speech state.
// The session is safe for concurrent use.
func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if len(frame)%2 != 0 {
		return vad.VADEvent{}, fmt.Errorf("energy vad: odd frame length %d", len(frame))
	}
	if want := s.expectedBytes(); want > 0 && len(frame) != want {
		return vad.VADEvent{}, fmt.Errorf("energy vad: frame is %d bytes, want %d", len(frame), want)
	}

	rms := audio.RMS(audio.PCMToSamples(frame))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VADEvent{}, vad.ErrClosed
	}

	ev := vad.VADEvent{Probability: rms}
	switch {
	case !s.speaking && rms > s.cfg.SpeechThreshold:
		s.speaking = true
		ev.Type = vad.VADSpeechStart
	case s.speaking && rms < s.cfg.SilenceThreshold:
		s.speaking = false
		ev.Type = vad.VADSpeechEnd
	case s.speaking:
		ev.Type = vad.VADSpeechContinue
	default:
		ev.Type = vad.VADSilence
	}
	return ev, nil
}

func (s *session) expectedBytes() int {
	if s.cfg.FrameSizeMs == 0 || s.cfg.SampleRate == 0 {
		return 0
	}
	return s.cfg.SampleRate * s.cfg.FrameSizeMs / 1000 * 2
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaking = false
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ vad.Engine = (*Engine)(nil)
