package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt"
	sttmock "github.com/MrWong99/parley/pkg/provider/stt/mock"
)

func testUtterance() *audio.Utterance {
	return &audio.Utterance{Samples: make([]int16, 1600), SampleRate: 16000, Channels: 1}
}

func TestSTTFallback_PrimarySuccess(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Transcriber{Result: stt.Transcript{Text: "olá"}}
	secondary := &sttmock.Transcriber{Result: stt.Transcript{Text: "secondary"}}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}})
	fb.AddFallback("secondary", secondary)

	got, err := fb.Transcribe(context.Background(), testUtterance(), "pt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != "olá" {
		t.Fatalf("text = %q, want olá", got.Text)
	}
	if secondary.CallCount() != 0 {
		t.Fatalf("secondary called %d times, want 0", secondary.CallCount())
	}
}

func TestSTTFallback_Failover(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Transcriber{Err: errors.New("primary down")}
	secondary := &sttmock.Transcriber{Result: stt.Transcript{Text: "from secondary"}}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}})
	fb.AddFallback("secondary", secondary)

	got, err := fb.Transcribe(context.Background(), testUtterance(), "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != "from secondary" {
		t.Fatalf("text = %q", got.Text)
	}
	if secondary.Calls[0].Lang != "en" {
		t.Errorf("lang = %q, want en", secondary.Calls[0].Lang)
	}
}

func TestSTTFallback_EmptyAudioRejectedOnce(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Transcriber{}
	fb := NewSTTFallback(primary, "primary", FallbackConfig{})

	_, err := fb.Transcribe(context.Background(), &audio.Utterance{}, "pt")
	if !errors.Is(err, stt.ErrEmptyAudio) {
		t.Fatalf("err = %v, want ErrEmptyAudio", err)
	}
	if primary.CallCount() != 0 {
		t.Error("backend called with empty audio")
	}
}

func TestSTTFallback_AllFail(t *testing.T) {
	t.Parallel()
	fb := NewSTTFallback(&sttmock.Transcriber{Err: errors.New("x")}, "primary", FallbackConfig{})
	fb.AddFallback("secondary", &sttmock.Transcriber{Err: errors.New("y")})

	_, err := fb.Transcribe(context.Background(), testUtterance(), "pt")
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
