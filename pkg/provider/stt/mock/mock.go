// Package mock provides a test double for the stt.Transcriber interface.
//
// Use Transcriber to feed controlled Transcript values and to inspect which
// utterances and languages the caller submitted.
//
// Example:
//
//	tr := &mock.Transcriber{Result: stt.Transcript{Text: "olá mundo"}}
//	got, _ := tr.Transcribe(ctx, utterance, "pt")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// Utterance is the utterance passed to Transcribe.
	Utterance *audio.Utterance
	// Lang is the language hint passed to Transcribe.
	Lang string
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Result is returned by Transcribe when Results is exhausted. If its
	// Language is empty, the requested language is echoed back.
	Result stt.Transcript

	// Results are returned by successive Transcribe calls, in order.
	Results []stt.Transcript

	// Err, if non-nil, is returned by every Transcribe call.
	Err error

	// Calls records every call to Transcribe in order.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the next queued result or Err.
func (m *Transcriber) Transcribe(ctx context.Context, u *audio.Utterance, lang string) (stt.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, TranscribeCall{Utterance: u, Lang: lang})
	if m.Err != nil {
		return stt.Transcript{}, m.Err
	}
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, err
	}
	res := m.Result
	if len(m.Results) > 0 {
		res = m.Results[0]
		m.Results = m.Results[1:]
	}
	if res.Language == "" {
		res.Language = lang
	}
	return res, nil
}

// CallCount returns the number of Transcribe invocations. Thread-safe.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (m *Transcriber) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)
