package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt"
)

// STTFallback implements [stt.Transcriber] with automatic failover across
// multiple STT backends. Each backend has its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

var _ stt.Transcriber = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
// Empty-audio errors are the caller's fault and never trip a breaker.
func NewSTTFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *STTFallback {
	isFailure := cfg.CircuitBreaker.IsFailure
	if isFailure == nil {
		isFailure = IsProviderFailure
	}
	cfg.CircuitBreaker.IsFailure = func(err error) bool {
		return !errors.Is(err, stt.ErrEmptyAudio) && isFailure(err)
	}
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional transcriber as a fallback.
func (f *STTFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// Status reports the breaker state of every backend.
func (f *STTFallback) Status() []EntryStatus { return f.group.Status() }

// Transcribe runs u through the first healthy transcriber. Invalid input is
// rejected up front instead of being retried against every backend.
func (f *STTFallback) Transcribe(ctx context.Context, u *audio.Utterance, lang string) (stt.Transcript, error) {
	if err := stt.Validate(u); err != nil {
		return stt.Transcript{}, err
	}
	return ExecuteWithResult(ctx, f.group, func(t stt.Transcriber) (stt.Transcript, error) {
		return t.Transcribe(ctx, u, lang)
	})
}
