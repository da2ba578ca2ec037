package audio_test

import (
	"math"
	"slices"
	"testing"

	"github.com/MrWong99/parley/pkg/audio"
)

func TestSamplesRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 1234}
	got := audio.PCMToSamples(audio.SamplesToPCM(samples))
	if !slices.Equal(got, samples) {
		t.Errorf("round trip: got %v, want %v", got, samples)
	}
}

func TestPCMToSamples_OddByte(t *testing.T) {
	got := audio.PCMToSamples([]byte{0x01, 0x00, 0xff})
	if want := []int16{1}; !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRMS(t *testing.T) {
	tests := []struct {
		name    string
		samples []int16
		want    float64
	}{
		{"empty", nil, 0},
		{"silence", make([]int16, 160), 0},
		{"full scale negative", []int16{-32768, -32768}, 1},
		{"half scale square", []int16{16384, -16384, 16384, -16384}, 0.5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := audio.RMS(tc.samples); math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("RMS: got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	got := audio.Normalize([]int16{0, 16384, -32768})
	want := []float32{0, 0.5, -1}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestStereoToMono(t *testing.T) {
	// Two stereo frames: L=100,R=200 and L=-100,R=-200
	stereo := audio.SamplesToPCM([]int16{100, 200, -100, -200})
	got := audio.PCMToSamples(audio.StereoToMono(stereo))
	if want := []int16{150, -150}; !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestStereoToMono_Clamping(t *testing.T) {
	stereo := audio.SamplesToPCM([]int16{32767, 32767})
	got := audio.PCMToSamples(audio.StereoToMono(stereo))
	if want := []int16{32767}; !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResampleMono16_SameRate(t *testing.T) {
	pcm := audio.SamplesToPCM([]int16{100, 200, 300})
	out := audio.ResampleMono16(pcm, 16000, 16000)
	if len(out) != len(pcm) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(pcm))
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	// 6 samples at 48kHz → 2 samples at 16kHz (1/3x)
	pcm := audio.SamplesToPCM([]int16{100, 200, 300, 400, 500, 600})
	got := audio.PCMToSamples(audio.ResampleMono16(pcm, 48000, 16000))
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
	if got[0] != 100 {
		t.Errorf("first sample: got %d, want 100", got[0])
	}
}

func TestResampleMono16_Upsample(t *testing.T) {
	// 2 samples at 16kHz → 6 samples at 48kHz (3x)
	pcm := audio.SamplesToPCM([]int16{1000, 2000})
	got := audio.PCMToSamples(audio.ResampleMono16(pcm, 16000, 48000))
	if len(got) != 6 {
		t.Fatalf("expected 6 samples, got %d", len(got))
	}
	if got[0] != 1000 {
		t.Errorf("first sample: got %d, want 1000", got[0])
	}
	if last := got[len(got)-1]; last < 1800 || last > 2200 {
		t.Errorf("last sample: got %d, want close to 2000", last)
	}
}

func TestToPipelineFormat(t *testing.T) {
	// 4 stereo frames at 32kHz → 2 mono samples at 16kHz.
	stereo := audio.SamplesToPCM([]int16{100, 300, 100, 300, 100, 300, 100, 300})
	got := audio.PCMToSamples(audio.ToPipelineFormat(stereo, 32000, 2, 16000))
	if want := []int16{200, 200}; !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
