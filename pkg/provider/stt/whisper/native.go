// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt"
)

// nativeSampleRate is the only input rate whisper.cpp accepts.
const nativeSampleRate = 16000

// Compile-time assertion that NativeProvider satisfies stt.Transcriber.
var _ stt.Transcriber = (*NativeProvider)(nil)

// NativeProvider implements stt.Transcriber using whisper.cpp Go bindings
// (CGO), eliminating HTTP overhead entirely. The model is loaded once at
// startup and shared; each call creates its own inference context.
type NativeProvider struct {
	model whisperlib.Model

	// sem bounds concurrent inferences; whisper.cpp contexts are heavy.
	sem chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*nativeConfig)

type nativeConfig struct {
	maxConcurrent int
}

// WithMaxConcurrent bounds how many inferences may run at once. Defaults to 1.
func WithMaxConcurrent(n int) NativeOption {
	return func(c *nativeConfig) { c.maxConcurrent = n }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	cfg := nativeConfig{maxConcurrent: 1}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.maxConcurrent < 1 {
		cfg.maxConcurrent = 1
	}

	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	return &NativeProvider{
		model: model,
		sem:   make(chan struct{}, cfg.maxConcurrent),
	}, nil
}

// Close releases the whisper model. Calling Close more than once is safe.
func (p *NativeProvider) Close() error {
	p.closeOnce.Do(func() {
		if p.model != nil {
			p.closeErr = p.model.Close()
		}
	})
	return p.closeErr
}

// Transcribe runs whisper.cpp inference over u and joins the recognised
// segments with a single space.
func (p *NativeProvider) Transcribe(ctx context.Context, u *audio.Utterance, lang string) (stt.Transcript, error) {
	if err := stt.Validate(u); err != nil {
		return stt.Transcript{}, err
	}

	select {
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
	case <-ctx.Done():
		return stt.Transcript{}, fmt.Errorf("whisper: %w", ctx.Err())
	}

	samples := u.Samples
	if u.Channels == 2 {
		samples = audio.PCMToSamples(audio.StereoToMono(audio.SamplesToPCM(u.Samples)))
	}
	if u.SampleRate != nativeSampleRate {
		samples = audio.PCMToSamples(audio.ResampleMono16(audio.SamplesToPCM(samples), u.SampleRate, nativeSampleRate))
	}

	text, err := p.infer(audio.Normalize(samples), lang)
	if err != nil {
		return stt.Transcript{}, err
	}
	return stt.Transcript{Text: text, Language: lang, Duration: u.Duration}, nil
}

// infer runs whisper.cpp inference using a fresh context and returns the
// concatenated text.
func (p *NativeProvider) infer(samples []float32, lang string) (string, error) {
	// Each context is NOT thread-safe, but the model can be shared across goroutines.
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	if lang != "" {
		if err := wctx.SetLanguage(lang); err != nil {
			slog.Warn("whisper: failed to set language, using default", "language", lang, "err", err)
		}
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}
