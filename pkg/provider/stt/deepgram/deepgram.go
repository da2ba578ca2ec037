// Package deepgram provides a Deepgram-backed STT transcriber using the
// Deepgram pre-recorded audio REST API. It implements the stt.Transcriber
// interface.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt"
)

const (
	deepgramEndpoint = "https://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithEndpoint overrides the REST endpoint. Used by tests and proxies.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Transcriber backed by the Deepgram REST API.
type Provider struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		endpoint:   deepgramEndpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// listenResponse is the subset of the Deepgram pre-recorded response we use.
type listenResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe uploads u as a WAV body and returns the first alternative of the
// first channel.
func (p *Provider) Transcribe(ctx context.Context, u *audio.Utterance, lang string) (stt.Transcript, error) {
	if err := stt.Validate(u); err != nil {
		return stt.Transcript{}, err
	}

	reqURL, err := p.buildURL(lang)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(u.WAV()))
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return stt.Transcript{}, fmt.Errorf("deepgram: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var lr listenResponse
	if err := json.Unmarshal(data, &lr); err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: parse JSON response: %w", err)
	}

	tr := stt.Transcript{Language: lang, Duration: u.Duration}
	if len(lr.Results.Channels) > 0 {
		ch := lr.Results.Channels[0]
		if ch.DetectedLanguage != "" {
			tr.Language = ch.DetectedLanguage
		}
		if len(ch.Alternatives) > 0 {
			tr.Text = strings.TrimSpace(ch.Alternatives[0].Transcript)
			tr.Confidence = ch.Alternatives[0].Confidence
		}
	}
	if lr.Metadata.Duration > 0 {
		tr.Duration = time.Duration(lr.Metadata.Duration * float64(time.Second))
	}
	return tr, nil
}

// buildURL constructs the request URL with query parameters. An empty lang
// enables Deepgram's language detection.
func (p *Provider) buildURL(lang string) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", p.model)
	q.Set("smart_format", "true")
	if lang != "" {
		q.Set("language", lang)
	} else {
		q.Set("detect_language", "true")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

var _ stt.Transcriber = (*Provider)(nil)
