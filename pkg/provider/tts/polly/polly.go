// Package polly provides a TTS provider backed by Amazon Polly neural voices.
//
// Credentials come from the standard AWS chain (environment, shared config,
// instance role). Every request asks for 16 kHz output so PCM results can be
// played directly by the speech pipeline.
package polly

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

// DefaultRegion is used when no region is configured.
const DefaultRegion = "us-east-1"

// sampleRate is the Polly sample rate requested for every format.
const sampleRate = "16000"

// Client is the subset of *polly.Client the provider uses.
type Client interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// Compile-time assertion that Provider satisfies tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using Amazon Polly.
type Provider struct {
	client Client
	engine types.Engine
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithClient replaces the Polly client. Tests use this to inject a fake.
func WithClient(c Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithEngine selects the Polly engine. Defaults to neural.
func WithEngine(engine string) Option {
	return func(p *Provider) { p.engine = types.Engine(engine) }
}

// New creates a Polly provider for region. When no client is injected it
// loads the default AWS configuration, which may read files and environment.
func New(ctx context.Context, region string, opts ...Option) (*Provider, error) {
	p := &Provider{engine: types.EngineNeural}
	for _, o := range opts {
		o(p)
	}
	if p.client != nil {
		return p, nil
	}
	if region == "" {
		region = DefaultRegion
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("polly: load aws config: %w", err)
	}
	p.client = polly.NewFromConfig(cfg)
	return p, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice, format tts.Format) ([]byte, error) {
	of, err := outputFormat(format)
	if err != nil {
		return nil, err
	}
	if voice.ID == "" {
		return nil, errors.New("polly: voice id must not be empty")
	}

	out, err := p.client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Text:         aws.String(text),
		OutputFormat: of,
		VoiceId:      types.VoiceId(voice.ID),
		Engine:       p.engine,
		SampleRate:   aws.String(sampleRate),
	})
	if err != nil {
		return nil, fmt.Errorf("polly: synthesize: %w", err)
	}
	if out.AudioStream == nil {
		return nil, errors.New("polly: response has no audio stream")
	}
	defer out.AudioStream.Close()

	data, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return nil, fmt.Errorf("polly: read audio stream: %w", err)
	}
	return data, nil
}

func outputFormat(f tts.Format) (types.OutputFormat, error) {
	switch f {
	case tts.FormatPCM:
		return types.OutputFormatPcm, nil
	case tts.FormatMP3:
		return types.OutputFormatMp3, nil
	case tts.FormatOggVorbis:
		return types.OutputFormatOggVorbis, nil
	default:
		return "", fmt.Errorf("polly: %w: %q", tts.ErrUnsupportedFormat, f)
	}
}
