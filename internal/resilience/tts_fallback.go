package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker.
//
// A backend that cannot produce the requested format is skipped without
// counting against its breaker, so mixing e.g. Polly with a PCM-only local
// server still serves every format at least one of them supports.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	isFailure := cfg.CircuitBreaker.IsFailure
	if isFailure == nil {
		isFailure = IsProviderFailure
	}
	cfg.CircuitBreaker.IsFailure = func(err error) bool {
		return !errors.Is(err, tts.ErrUnsupportedFormat) && isFailure(err)
	}
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Status reports the breaker state of every backend.
func (f *TTSFallback) Status() []EntryStatus { return f.group.Status() }

// Synthesize renders text with the first healthy provider that supports format.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.Voice, format tts.Format) ([]byte, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) ([]byte, error) {
		return p.Synthesize(ctx, text, voice, format)
	})
}
