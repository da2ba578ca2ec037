// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// The voice loop is turn based: the endpoint detector produces one finite
// [audio.Utterance] and a Transcriber turns it into text in a single request.
// Backends that only offer streaming recognition are out of scope here.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// ErrEmptyAudio is returned when an utterance carries no samples.
var ErrEmptyAudio = errors.New("stt: utterance has no audio")

// Transcript is the result of transcribing one utterance.
type Transcript struct {
	// Text is the transcribed speech. Multiple recognised segments are joined
	// with a single space. May be empty when nothing intelligible was said.
	Text string

	// Language is the language the backend used or detected. Empty when the
	// backend does not report it.
	Language string

	// Confidence is the overall confidence score (0.0–1.0). Zero if the
	// backend does not report confidence.
	Confidence float64

	// Duration is the length of the transcribed audio.
	Duration time.Duration
}

// Transcriber is the abstraction over any batch STT backend.
type Transcriber interface {
	// Transcribe converts u into text. lang is a short language code such as
	// "pt" or "en"; an empty string lets the backend auto-detect.
	//
	// Returns an error if the backend fails or ctx is cancelled. A successful
	// call with no recognised speech returns a Transcript with empty Text.
	Transcribe(ctx context.Context, u *audio.Utterance, lang string) (Transcript, error)
}

// Validate returns ErrEmptyAudio when u is nil or has no samples.
// Implementations call it before contacting their backend.
func Validate(u *audio.Utterance) error {
	if u == nil || len(u.Samples) == 0 {
		return ErrEmptyAudio
	}
	return nil
}
