package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		provider string
		wantType string
	}{
		{"ollama", "*llm.ollamaProvider"},
		{"openai", "*llm.openAIProvider"},
		{"custom", "*llm.openAICompatProvider"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			cfg := Config{Provider: tt.provider, Model: "test-model"}
			p, err := NewProvider(cfg)
			if err != nil {
				t.Fatalf("NewProvider(%q) returned error: %v", tt.provider, err)
			}
			gotType := fmt.Sprintf("%T", p)
			if gotType != tt.wantType {
				t.Errorf("NewProvider(%q) type = %s, want %s", tt.provider, gotType, tt.wantType)
			}
		})
	}
}

func TestNewProviderAnthropicRequiresAPIKey(t *testing.T) {
	_, err := NewProvider(Config{Provider: "anthropic", Model: "claude-3-5-haiku-20241022"})
	if err == nil {
		t.Fatal("expected an error creating an anthropic provider without an API key")
	}
}

func TestNewProviderUnknown(t *testing.T) {
	_, err := NewProvider(Config{Provider: "doesnotexist", Model: "test-model"})
	if err == nil {
		t.Fatal("expected error for unknown provider, got nil")
	}
	want := "unknown llm provider: doesnotexist"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestNewProviderEmpty(t *testing.T) {
	_, err := NewProvider(Config{Provider: "", Model: "test-model"})
	if err == nil {
		t.Fatal("expected error for empty provider, got nil")
	}
	want := "llm provider not specified"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestNewEmbedderRejectsChatOnlyProvider(t *testing.T) {
	_, err := NewEmbedder(Config{Provider: "anthropic", Model: "claude-3-5-haiku-20241022"})
	if err == nil {
		t.Fatal("expected an error: anthropic has no embeddings capability")
	}
}

func TestNewVisionProviderRejectsEmbeddingsOnlyProvider(t *testing.T) {
	_, err := NewVisionProvider(Config{Provider: "huggingface"})
	if err == nil {
		t.Fatal("expected an error: huggingface has no vision capability")
	}
}

// TestDefaultBaseURLs verifies that when BaseURL is empty in the config,
// each provider constructor sets the correct default.
func TestDefaultBaseURLs(t *testing.T) {
	tests := []struct {
		provider string
		wantURL  string
	}{
		{"ollama", "http://localhost:11434"},
		{"openai", "https://api.openai.com"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			cfg := Config{Provider: tt.provider, Model: "test-model"}
			p, err := NewProvider(cfg)
			if err != nil {
				t.Fatalf("NewProvider(%q): %v", tt.provider, err)
			}
			gotURL := baseURLOf(t, p)
			if gotURL != tt.wantURL {
				t.Errorf("default BaseURL for %q = %q, want %q", tt.provider, gotURL, tt.wantURL)
			}
		})
	}
}

// TestCustomProviderNoDefaultURL confirms the custom provider does not
// override an empty BaseURL with a default.
func TestCustomProviderNoDefaultURL(t *testing.T) {
	p, err := NewProvider(Config{Provider: "custom", Model: "test-model"})
	if err != nil {
		t.Fatalf("NewProvider(custom): %v", err)
	}
	if got := baseURLOf(t, p); got != "" {
		t.Errorf("custom provider BaseURL = %q, want empty", got)
	}
}

// TestExplicitBaseURLPreserved verifies that a user-supplied BaseURL is not
// overwritten by the default.
func TestExplicitBaseURLPreserved(t *testing.T) {
	customURL := "http://my-server:9999"
	for _, provider := range []string{"ollama", "openai", "custom"} {
		t.Run(provider, func(t *testing.T) {
			cfg := Config{Provider: provider, Model: "test-model", BaseURL: customURL}
			p, err := NewProvider(cfg)
			if err != nil {
				t.Fatalf("NewProvider(%q): %v", provider, err)
			}
			if got := baseURLOf(t, p); got != customURL {
				t.Errorf("provider %q BaseURL = %q, want %q", provider, got, customURL)
			}
		})
	}
}

// TestProviderImplementsInterface confirms that every provider returned by
// NewProvider satisfies the Provider interface.
func TestProviderImplementsInterface(t *testing.T) {
	for _, name := range []string{"ollama", "openai", "custom"} {
		t.Run(name, func(t *testing.T) {
			p, err := NewProvider(Config{Provider: name, Model: "m"})
			if err != nil {
				t.Fatalf("NewProvider(%q): %v", name, err)
			}
			var _ Provider = p
			if p == nil {
				t.Fatal("provider is nil")
			}
		})
	}
}

func TestModelPassedThrough(t *testing.T) {
	p, err := NewProvider(Config{Provider: "ollama", Model: "llama3:latest"})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	v := reflect.ValueOf(p).Elem()
	got := v.FieldByName("base").FieldByName("cfg").FieldByName("Model").String()
	if got != "llama3:latest" {
		t.Errorf("model = %q, want %q", got, "llama3:latest")
	}
}

func TestAPIKeyPassedThrough(t *testing.T) {
	p, err := NewProvider(Config{Provider: "openai", Model: "test", APIKey: "sk-test-key-123"})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	v := reflect.ValueOf(p).Elem()
	got := v.FieldByName("base").FieldByName("cfg").FieldByName("APIKey").String()
	if got != "sk-test-key-123" {
		t.Errorf("api key = %q, want %q", got, "sk-test-key-123")
	}
}

// baseURLOf reaches base.cfg.BaseURL on a provider's concrete type via
// reflection, since every OpenAI-shaped provider embeds openAICompatClient
// the same way.
func baseURLOf(t *testing.T, p Provider) string {
	t.Helper()
	v := reflect.ValueOf(p).Elem()
	return v.FieldByName("base").FieldByName("cfg").FieldByName("BaseURL").String()
}

func TestOpenAICompatChatRetriesOnServerError(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}],"model":"m"}`))
	}))
	defer srv.Close()

	p := NewOpenAICompat(Config{BaseURL: srv.URL, Model: "m"})
	resp, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "ok" {
		t.Fatalf("content = %q, want %q", resp.Content, "ok")
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestOpenAICompatChatDoesNotRetryOnBadRequest(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer srv.Close()

	p := NewOpenAICompat(Config{BaseURL: srv.URL, Model: "m"})
	_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	if err == nil {
		t.Fatal("expected an error")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a non-retryable error, got %d", attempts)
	}
}
