// Package audio defines the sample-level types that flow through the voice
// loop and the Source/Sink abstractions over the audio device.
//
// Audio is 16-bit signed PCM throughout. [Chunk] is what the input device
// delivers at a fixed cadence; [Utterance] is one finalised span of captured
// speech handed to transcription exactly once.
package audio

import "time"

// Default pipeline format: 16 kHz mono, the rate every supported STT and TTS
// backend accepts natively.
const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1
)

// Chunk is a fixed-duration block of samples produced by an input device.
// A Chunk is immutable once captured; ownership transfers from the device
// callback to whoever receives it.
type Chunk struct {
	// Samples holds interleaved int16 PCM samples.
	Samples []int16

	// SampleRate in Hz (e.g., 16000).
	SampleRate int

	// Channels: 1 for mono.
	Channels int

	// Timestamp marks when this chunk was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the chunk.
func (c Chunk) Duration() time.Duration {
	return samplesDuration(len(c.Samples), c.SampleRate, c.Channels)
}

// Utterance is one finalised span of captured audio bounded by silence or a
// timeout. It is created by the endpoint detector (or read from a file) and
// consumed exactly once by transcription.
type Utterance struct {
	// Samples holds the concatenated int16 PCM samples of every captured chunk.
	Samples []int16

	// SampleRate in Hz.
	SampleRate int

	// Channels is the interleaved channel count.
	Channels int

	// Duration is the playback length of Samples.
	Duration time.Duration
}

// NewUtterance concatenates chunks in order. It returns nil when chunks is
// empty. The format is taken from the first chunk.
func NewUtterance(chunks []Chunk) *Utterance {
	if len(chunks) == 0 {
		return nil
	}
	n := 0
	for _, c := range chunks {
		n += len(c.Samples)
	}
	samples := make([]int16, 0, n)
	for _, c := range chunks {
		samples = append(samples, c.Samples...)
	}
	rate, channels := chunks[0].SampleRate, chunks[0].Channels
	return &Utterance{
		Samples:    samples,
		SampleRate: rate,
		Channels:   channels,
		Duration:   samplesDuration(len(samples), rate, channels),
	}
}

// PCM returns the utterance as 16-bit little-endian PCM bytes.
func (u *Utterance) PCM() []byte {
	return SamplesToPCM(u.Samples)
}

// WAV returns the utterance wrapped in a RIFF/WAVE container.
func (u *Utterance) WAV() []byte {
	return EncodeWAV(u.PCM(), u.SampleRate, u.Channels)
}

func samplesDuration(n, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	frames := n / channels
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}
