// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech classifier (a simple energy gate, or a
// model such as Silero) and surfaces it as a stateful, per-stream session. Each
// session keeps its own state so multiple streams can be processed
// independently.
//
// VAD is synchronous: ProcessFrame returns immediately with a detection result.
// Timing decisions such as "0.8 s of trailing silence ends the utterance" belong
// to the caller, which sees the event stream (see internal/endpoint).
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import "errors"

// ErrClosed is returned by ProcessFrame after Close.
var ErrClosed = errors.New("vad: session closed")

// Config holds the parameters for a VAD session. Thresholds are expressed in
// the engine's native scale; for the energy engine this is normalised RMS in
// [0.0, 1.0].
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the PCM
	// frames passed to ProcessFrame.
	SampleRate int

	// FrameSizeMs is the expected duration of each audio frame in milliseconds.
	// Zero accepts any frame length, for engines that support it.
	FrameSizeMs int

	// SpeechThreshold is the score above which a non-speaking session starts
	// speech. Range: [0.0, 1.0].
	SpeechThreshold float64

	// SilenceThreshold is the score below which a speaking session ends speech.
	// Range: [0.0, 1.0]. Must be ≤ SpeechThreshold. Zero means "same as
	// SpeechThreshold".
	SilenceThreshold float64
}

// SessionHandle represents an active VAD session for a single audio stream.
type SessionHandle interface {
	// ProcessFrame analyses a single frame of raw little-endian 16-bit PCM and
	// returns the detection result. It must not block.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears all accumulated detection state without closing the session.
	Reset()

	// Close releases all resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	// Returns an error if the configuration is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
