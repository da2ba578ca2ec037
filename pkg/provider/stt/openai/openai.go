// Package openai provides an STT transcriber backed by the OpenAI audio
// transcription API.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt"
)

// DefaultModel is the transcription model used when none is configured.
const DefaultModel = "whisper-1"

// Option is a functional option for Provider.
type Option func(*config)

type config struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries sets how often the SDK retries a failed request.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// Provider implements stt.Transcriber using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// New constructs a new OpenAI transcriber. An empty model selects
// [DefaultModel].
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Transcribe uploads u as audio.wav and returns the recognised text.
func (p *Provider) Transcribe(ctx context.Context, u *audio.Utterance, lang string) (stt.Transcript, error) {
	if err := stt.Validate(u); err != nil {
		return stt.Transcript{}, err
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(u.WAV()), "audio.wav", "audio/wav"),
		Model: oai.AudioModel(p.model),
	}
	if lang != "" {
		params.Language = param.NewOpt(lang)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("openai stt: transcribe: %w", err)
	}
	return stt.Transcript{
		Text:     strings.TrimSpace(resp.Text),
		Language: lang,
		Duration: u.Duration,
	}, nil
}

var _ stt.Transcriber = (*Provider)(nil)
