package resilience

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/parley/pkg/provider/llm"
	llmmock "github.com/MrWong99/parley/pkg/provider/llm/mock"
)

func collectText(t *testing.T, ch <-chan llm.Chunk) string {
	t.Helper()
	var sb strings.Builder
	for c := range ch {
		sb.WriteString(c.Text)
	}
	return sb.String()
}

func TestLLMFallback_StreamCompletion_PrimarySuccess(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "Olá. "}, {Text: "Tudo bem?", FinishReason: "stop"}}}
	secondary := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "secondary"}}}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}})
	fb.AddFallback("secondary", secondary)

	ch, err := fb.StreamCompletion(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := collectText(t, ch); got != "Olá. Tudo bem?" {
		t.Fatalf("text = %q", got)
	}
	if len(secondary.Calls()) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.Calls()))
	}
}

func TestLLMFallback_StreamCompletion_Failover(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		primary *llmmock.Provider
	}{
		{"start error", &llmmock.Provider{StreamErr: errors.New("primary down")}},
		{"first chunk error", &llmmock.Provider{StreamChunks: []llm.Chunk{
			{Text: "rate limited", FinishReason: llm.FinishReasonError},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			secondary := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "from secondary"}}}
			fb := NewLLMFallback(tt.primary, "primary", FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}})
			fb.AddFallback("secondary", secondary)

			ch, err := fb.StreamCompletion(context.Background(), llm.CompletionRequest{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := collectText(t, ch); got != "from secondary" {
				t.Fatalf("text = %q, want from secondary", got)
			}
		})
	}
}

func TestLLMFallback_MidStreamErrorIsForwarded(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "Hello. "},
		{Text: "connection reset", FinishReason: llm.FinishReasonError},
	}}
	secondary := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "secondary"}}}
	fb := NewLLMFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	ch, err := fb.StreamCompletion(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var last llm.Chunk
	n := 0
	for c := range ch {
		last = c
		n++
	}
	if n != 2 || last.Err() == nil {
		t.Fatalf("got %d chunks, last %+v; want the error chunk forwarded", n, last)
	}
	if len(secondary.Calls()) != 0 {
		t.Error("secondary called after the stream was committed")
	}
}

func TestLLMFallback_EmptyStream(t *testing.T) {
	t.Parallel()
	fb := NewLLMFallback(&llmmock.Provider{}, "primary", FallbackConfig{})
	ch, err := fb.StreamCompletion(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := collectText(t, ch); got != "" {
		t.Fatalf("text = %q, want empty", got)
	}
}

func TestLLMFallback_AllFail(t *testing.T) {
	t.Parallel()
	fb := NewLLMFallback(&llmmock.Provider{StreamErr: errors.New("a")}, "a", FallbackConfig{})
	fb.AddFallback("b", &llmmock.Provider{StreamErr: errors.New("b")})

	_, err := fb.StreamCompletion(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestLLMFallback_CancelledWhileStreaming(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "a"}, {Text: "b"}, {Text: "c"}}}
	fb := NewLLMFallback(primary, "primary", FallbackConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := fb.StreamCompletion(ctx, llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-ch
	cancel()
	for range ch {
	}
}

func TestLLMFallback_Capabilities(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{ModelCapabilities: llm.ModelCapabilities{ContextWindow: 128000}}
	fb := NewLLMFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", &llmmock.Provider{ModelCapabilities: llm.ModelCapabilities{ContextWindow: 8000}})

	if got := fb.Capabilities().ContextWindow; got != 128000 {
		t.Fatalf("ContextWindow = %d, want 128000", got)
	}
	if got := len(fb.Status()); got != 2 {
		t.Fatalf("Status() has %d entries, want 2", got)
	}
}
