// Package llm implements the uniform provider-adapter layer (spec §4.5,
// C1): a small capability interface per concern (chat, embeddings, vision,
// text-to-speech), with concrete "tagged implementations selected at call
// time from effective config" (spec §9) for openai, ollama, anthropic, and
// huggingface (embeddings only, local).
package llm

import (
	"context"
	"fmt"
)

// Provider is the interface for chat completions.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Embedder generates embeddings for a batch of texts.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VisionProvider extends Provider with image understanding.
type VisionProvider interface {
	Provider
	ChatWithImages(ctx context.Context, req VisionChatRequest) (*ChatResponse, error)
}

// TTSProvider synthesizes speech from text (spec §4.7 "TTS": synthesize,
// list_voices).
type TTSProvider interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
	ListVoices(ctx context.Context) ([]Voice, error)
}

// Voice describes one selectable TTS voice.
type Voice struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Gender string `json:"gender"`
}

// ChatRequest is a chat completion request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	// ResponseFormat can be set to "json_object" for JSON mode.
	ResponseFormat string `json:"response_format,omitempty"`
}

// VisionChatRequest is a chat request with image content.
type VisionChatRequest struct {
	Model       string          `json:"model"`
	Messages    []VisionMessage `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// VisionMessage represents a chat message that may contain images.
type VisionMessage struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart is either text or an image in a vision message.
type ContentPart struct {
	Type     string    `json:"type"` // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL contains a base64 or URL reference to an image.
type ImageURL struct {
	URL string `json:"url"`
}

// ChatResponse is the response from a chat completion.
type ChatResponse struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Config configures a provider adapter for one capability.
type Config struct {
	Provider string `json:"provider"` // openai, ollama, anthropic, huggingface, custom
	Model    string `json:"model"`
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"api_key"`

	// TimeoutSeconds overrides providerTimeout (120s default, spec §5).
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`

	// RateLimitPerSecond bounds outbound requests ahead of the retry/backoff
	// layer (spec DOMAIN STACK, x/time/rate). 0 disables limiting.
	RateLimitPerSecond float64 `json:"rate_limit_per_second,omitempty"`
	RateLimitBurst     int     `json:"rate_limit_burst,omitempty"`
}

// NewProvider creates a chat-capable LLM provider from configuration.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllama(cfg), nil
	case "openai":
		return NewOpenAI(cfg), nil
	case "anthropic":
		return NewAnthropic(cfg)
	case "custom":
		return NewOpenAICompat(cfg), nil
	case "":
		return nil, fmt.Errorf("llm provider not specified")
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}

// NewEmbedder creates an embeddings-capable provider from configuration.
func NewEmbedder(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllama(cfg), nil
	case "openai":
		return NewOpenAI(cfg), nil
	case "huggingface":
		return NewHuggingFace(cfg), nil
	case "custom":
		return NewOpenAICompat(cfg), nil
	case "":
		return nil, fmt.Errorf("embedding provider not specified")
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}

// NewVisionProvider creates a vision-capable provider from configuration.
func NewVisionProvider(cfg Config) (VisionProvider, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllama(cfg), nil
	case "openai":
		return NewOpenAI(cfg), nil
	case "":
		return nil, fmt.Errorf("vision provider not specified")
	default:
		return nil, fmt.Errorf("unknown vision provider: %s", cfg.Provider)
	}
}

// NewTTSProvider creates a text-to-speech provider from configuration.
func NewTTSProvider(cfg Config) (TTSProvider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAITTS(cfg), nil
	case "":
		return nil, fmt.Errorf("tts provider not specified")
	default:
		return nil, fmt.Errorf("unknown tts provider: %s", cfg.Provider)
	}
}
