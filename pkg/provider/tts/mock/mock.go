// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return controlled audio and to verify the text, voice and
// format passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    Audio:   []byte{1, 2, 3, 4},
//	    ErrFor:  map[string]error{"bad sentence.": errors.New("boom")},
//	}
//	pcm, _ := p.Synthesize(ctx, "Hello.", tts.Voice{ID: "Joanna"}, tts.FormatPCM)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

// Compile-time assertion that Provider satisfies tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the voice passed to Synthesize.
	Voice tts.Voice
	// Format is the format passed to Synthesize.
	Format tts.Format
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Audio is returned by every successful Synthesize call. When nil, the
	// text bytes are returned so callers can tell sentences apart.
	Audio []byte

	// Err, if non-nil, is returned by every Synthesize call.
	Err error

	// ErrFor maps specific texts to errors, for failing one sentence of many.
	ErrFor map[string]error

	// Delay is slept before answering. A cancelled context cuts it short.
	Delay time.Duration

	// --- Recorded calls ---

	// SynthesizeCalls records each call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice, format tts.Format) ([]byte, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voice, Format: format})
	delay := p.Delay
	err := p.Err
	if e, ok := p.ErrFor[text]; ok {
		err = e
	}
	audio := p.Audio
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if audio == nil {
		return []byte(text), nil
	}
	return append([]byte(nil), audio...), nil
}

// Calls returns a copy of the recorded Synthesize calls.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SynthesizeCall(nil), p.SynthesizeCalls...)
}

// Reset clears all recorded calls. Configurable response fields are unchanged.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
}
