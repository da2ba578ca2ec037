package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

// TestConvertMessage checks that every supported role maps to the right SDK
// union member.
func TestConvertMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role  string
		check func(t *testing.T, role string)
	}{
		{llm.RoleSystem, func(t *testing.T, role string) {
			p, err := convertMessage(llm.Message{Role: role, Content: "x"})
			if err != nil || p.OfSystem == nil {
				t.Fatalf("system: param=%+v err=%v", p, err)
			}
		}},
		{llm.RoleUser, func(t *testing.T, role string) {
			p, err := convertMessage(llm.Message{Role: role, Content: "x"})
			if err != nil || p.OfUser == nil {
				t.Fatalf("user: param=%+v err=%v", p, err)
			}
		}},
		{llm.RoleAssistant, func(t *testing.T, role string) {
			p, err := convertMessage(llm.Message{Role: role, Content: "x"})
			if err != nil || p.OfAssistant == nil {
				t.Fatalf("assistant: param=%+v err=%v", p, err)
			}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.role, func(t *testing.T) {
			t.Parallel()
			tc.check(t, tc.role)
		})
	}
}

// TestConvertMessage_UnknownRole checks that unknown roles return an error.
func TestConvertMessage_UnknownRole(t *testing.T) {
	t.Parallel()
	if _, err := convertMessage(llm.Message{Role: "tool", Content: "test"}); err == nil {
		t.Fatal("expected error for unknown role, got nil")
	}
}

func TestModelCapabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model   string
		context int
	}{
		{"gpt-5-mini", 400_000},
		{"gpt-4o-mini", 128_000},
		{"GPT-4", 8_192},
		{"gpt-3.5-turbo", 16_385},
		{"o3-mini", 200_000},
		{"my-custom-model", 128_000},
	}
	for _, tc := range tests {
		t.Run(tc.model, func(t *testing.T) {
			t.Parallel()
			caps := modelCapabilities(tc.model)
			if caps.ContextWindow != tc.context {
				t.Errorf("ContextWindow = %d, want %d", caps.ContextWindow, tc.context)
			}
			if !caps.SupportsStreaming {
				t.Error("SupportsStreaming = false, want true")
			}
			if caps.MaxOutputTokens <= 0 {
				t.Error("MaxOutputTokens must be positive")
			}
		})
	}
}

// TestNew_MissingAPIKey ensures constructor rejects an empty API key.
func TestNew_MissingAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New("", "gpt-4o"); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

// TestNew_DefaultModel checks that an empty model falls back to the default.
func TestNew_DefaultModel(t *testing.T) {
	t.Parallel()
	p, err := New("sk-test", "", WithOrganization("org-123"), WithBaseURL("https://custom.example.com"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Model() != DefaultModel {
		t.Errorf("Model() = %q, want %q", p.Model(), DefaultModel)
	}
}

// sseServer streams the given content deltas as chat completion chunks.
func sseServer(t *testing.T, deltas []string, gotBody *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if gotBody != nil {
			_ = json.Unmarshal(body, gotBody)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for i, d := range deltas {
			finish := "null"
			if i == len(deltas)-1 {
				finish = `"stop"`
			}
			content, _ := json.Marshal(d)
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"gpt-5-mini\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%s},\"finish_reason\":%s}]}\n\n", content, finish)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestStreamCompletion(t *testing.T) {
	t.Parallel()

	var body map[string]any
	srv := sseServer(t, []string{"Hello there. ", "How are ", "you?"}, &body)
	defer srv.Close()

	p, err := New("sk-test", "gpt-5-mini", WithBaseURL(srv.URL+"/"), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ch, err := p.StreamCompletion(context.Background(), llm.CompletionRequest{
		SystemPrompt: "Be brief.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}

	var (
		text   strings.Builder
		finish string
	)
	for c := range ch {
		if err := c.Err(); err != nil {
			t.Fatalf("stream error: %v", err)
		}
		text.WriteString(c.Text)
		if c.FinishReason != "" {
			finish = c.FinishReason
		}
	}
	if got, want := text.String(), "Hello there. How are you?"; got != want {
		t.Errorf("text = %q, want %q", got, want)
	}
	if finish != "stop" {
		t.Errorf("finish = %q, want stop", finish)
	}

	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("request messages = %d, want 2 (system + user)", len(msgs))
	}
	if first, _ := msgs[0].(map[string]any); first["role"] != "system" {
		t.Errorf("first message role = %v, want system", first["role"])
	}
	if body["stream"] != true {
		t.Errorf("stream = %v, want true", body["stream"])
	}
}

func TestStreamCompletion_StartError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	p, _ := New("sk-bad", "gpt-5-mini", WithBaseURL(srv.URL+"/"), WithMaxRetries(0))
	if _, err := p.StreamCompletion(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
	}); err == nil {
		t.Fatal("expected start error for 401")
	}
}
