// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs streaming WebSocket API. It implements the tts.Provider interface.
//
// Each Synthesize call opens one stream-input session, sends the text followed
// by an empty flush message, and collects the base64 audio frames until the
// server marks the stream final.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

const (
	defaultEndpoint = "wss://api.elevenlabs.io"
	streamPathFmt   = "/v1/text-to-speech/%s/stream-input"
	defaultModel    = "eleven_flash_v2_5"
)

// Compile-time assertion that Provider satisfies tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithEndpoint overrides the WebSocket base URL (scheme and host). Tests use
// this to point the provider at a local server.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = strings.TrimRight(endpoint, "/")
	}
}

// WithVoiceSettings sets the stability and similarity boost sent with the
// first message. Defaults to 0.5 and 0.75.
func WithVoiceSettings(stability, similarityBoost float64) Option {
	return func(p *Provider) {
		p.settings = voiceSettings{Stability: stability, SimilarityBoost: similarityBoost}
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey   string
	model    string
	endpoint string
	settings voiceSettings
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		endpoint: defaultEndpoint,
		settings: voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text string `json:"text"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded audio
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// boiMessage is used for the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

// Synthesize implements tts.Provider. Ogg Vorbis is not offered by the
// streaming API and yields tts.ErrUnsupportedFormat.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice, format tts.Format) ([]byte, error) {
	outFmt, err := outputFormat(format)
	if err != nil {
		return nil, err
	}
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice.ID must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(voice, outFmt), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(-1)

	// ElevenLabs requires a non-empty first text value.
	boi := boiMessage{Text: " ", VoiceSettings: &p.settings, XiAPIKey: p.apiKey}
	// Text must end with a space for the server to start generating; the empty
	// message flushes the buffer and ends the stream.
	for _, msg := range []any{boi, textMessage{Text: text + " "}, textMessage{Text: ""}} {
		b, _ := json.Marshal(msg)
		if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
			return nil, fmt.Errorf("elevenlabs: send: %w", err)
		}
	}

	var out bytes.Buffer
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			return nil, fmt.Errorf("elevenlabs: read: %w", err)
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("elevenlabs: server error: %s: %s", resp.Error, resp.Message)
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			out.Write(chunk)
		}
		if resp.IsFinal {
			break
		}
	}
	conn.Close(websocket.StatusNormalClosure, "done")
	return out.Bytes(), nil
}

// ---- helpers ----

// streamURL constructs the WebSocket URL for a voice and output format.
func (p *Provider) streamURL(voice tts.Voice, outFmt string) string {
	q := url.Values{}
	q.Set("model_id", p.model)
	q.Set("output_format", outFmt)
	if voice.Language != "" {
		q.Set("language_code", voice.Language)
	}
	return p.endpoint + fmt.Sprintf(streamPathFmt, url.PathEscape(voice.ID)) + "?" + q.Encode()
}

// outputFormat maps a tts.Format to the ElevenLabs output_format value.
func outputFormat(f tts.Format) (string, error) {
	switch f {
	case tts.FormatPCM:
		return "pcm_16000", nil
	case tts.FormatMP3:
		return "mp3_44100_128", nil
	default:
		return "", fmt.Errorf("elevenlabs: %w: %q", tts.ErrUnsupportedFormat, f)
	}
}
