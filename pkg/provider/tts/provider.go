// Package tts defines the Provider interface for Text-to-Speech backends.
//
// The voice loop synthesises one sentence at a time: the segmenter carves the
// streamed LLM reply into sentences and the speech pipeline hands each one to
// a Provider, then plays the returned audio before moving on. The HTTP API
// uses the same interface to serve one-shot synthesis requests.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedFormat is returned for output formats outside [Formats], and
// by providers that cannot produce a given format.
var ErrUnsupportedFormat = errors.New("tts: unsupported format")

// Format is the container/codec of synthesised audio.
type Format string

const (
	// FormatPCM is raw 16 kHz mono signed 16-bit little-endian PCM. It is
	// what the speech pipeline plays.
	FormatPCM Format = "pcm"
	// FormatMP3 is MPEG-1 Layer III.
	FormatMP3 Format = "mp3"
	// FormatOggVorbis is Vorbis in an Ogg container.
	FormatOggVorbis Format = "ogg_vorbis"
)

// PCMSampleRate is the sample rate of [FormatPCM] output.
const PCMSampleRate = 16000

// Formats returns every supported format in canonical order.
func Formats() []Format {
	return []Format{FormatPCM, FormatMP3, FormatOggVorbis}
}

// ParseFormat validates s. It returns an error wrapping
// [ErrUnsupportedFormat] for anything but "pcm", "mp3" or "ogg_vorbis".
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats() {
		if string(f) == s {
			return f, nil
		}
	}
	names := make([]string, 0, 3)
	for _, f := range Formats() {
		names = append(names, string(f))
	}
	return "", fmt.Errorf("%w: Format '%s' not supported. Options: %s", ErrUnsupportedFormat, s, strings.Join(names, ", "))
}

// MediaType returns the HTTP content type for f.
func (f Format) MediaType() string {
	switch f {
	case FormatMP3:
		return "audio/mpeg"
	case FormatOggVorbis:
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

// Voice selects the speaker for a synthesis request.
type Voice struct {
	// ID is the provider-specific voice identifier (e.g., "Camila").
	ID string

	// Language is the short language code of the text (e.g., "pt").
	Language string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text in the given voice and returns the complete
	// encoded audio. For [FormatPCM] the result is 16 kHz mono s16le.
	//
	// Returns an error wrapping [ErrUnsupportedFormat] when the backend cannot
	// produce format, or any backend error. Honours ctx cancellation.
	Synthesize(ctx context.Context, text string, voice Voice, format Format) ([]byte, error)
}
