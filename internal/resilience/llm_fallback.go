package resilience

import (
	"context"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with automatic failover across multiple
// LLM backends. Each backend has its own circuit breaker.
//
// A stream whose first chunk is an error counts as a failed attempt, so a
// backend that accepts the request and then immediately errors is bypassed
// too. Once text has been forwarded the stream is committed: later errors
// reach the caller unchanged.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional LLM provider as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Status reports the breaker state of every backend.
func (f *LLMFallback) Status() []EntryStatus { return f.group.Status() }

// StreamCompletion opens a stream on the first healthy provider whose stream
// starts without an error.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		src, err := p.StreamCompletion(ctx, req)
		if err != nil {
			return nil, err
		}
		return peekStream(ctx, src)
	})
}

// Capabilities returns the capabilities of the primary. Capabilities are
// static metadata and do not participate in failover.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	return f.group.Primary().Capabilities()
}

// peekStream waits for the first chunk of src. An error chunk fails the
// attempt; anything else is replayed on the returned channel followed by the
// rest of src.
func peekStream(ctx context.Context, src <-chan llm.Chunk) (<-chan llm.Chunk, error) {
	var (
		first llm.Chunk
		ok    bool
	)
	select {
	case <-ctx.Done():
		go drain(src)
		return nil, ctx.Err()
	case first, ok = <-src:
	}

	out := make(chan llm.Chunk)
	if !ok {
		close(out)
		return out, nil
	}
	if err := first.Err(); err != nil {
		go drain(src)
		return nil, err
	}

	go func() {
		defer close(out)
		for c, more := first, true; more; c, more = <-src {
			select {
			case <-ctx.Done():
				drain(src)
				return
			case out <- c:
			}
		}
	}()
	return out, nil
}

func drain(ch <-chan llm.Chunk) {
	for range ch {
	}
}
