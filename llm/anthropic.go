package llm

import (
	"context"
	"errors"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicProvider implements Provider against the Claude Messages API.
// Chat-only: Anthropic has no first-party embeddings or vision-via-chat-
// completions endpoint matching this system's shape, so NewEmbedder and
// NewVisionProvider reject this tag (spec §4.5, §9).
type anthropicProvider struct {
	client *sdk.Client
	model  string
}

// NewAnthropic creates a provider for Anthropic's Claude Messages API.
func NewAnthropic(cfg Config) (*anthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic provider requires an API key")
	}
	model := cfg.Model
	if model == "" {
		model = "claude-3-5-haiku-20241022"
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := sdk.NewClient(opts...)
	return &anthropicProvider{client: &client, model: model}, nil
}

func (p *anthropicProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	var system []sdk.TextBlockParam
	var conversation []sdk.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, sdk.TextBlockParam{Text: m.Content})
		case "assistant":
			conversation = append(conversation, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	if len(conversation) == 0 {
		return nil, errors.New("anthropic chat requires at least one user/assistant message")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  conversation,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}

	var msg *sdk.Message
	err := withRetry(ctx, nil, func() error {
		var apiErr error
		msg, apiErr = p.client.Messages.New(ctx, params)
		if apiErr != nil {
			return classifyAnthropicError(apiErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var content string
	for _, block := range msg.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &ChatResponse{
		Content:          content,
		Model:            string(msg.Model),
		FinishReason:     string(msg.StopReason),
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
		TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}, nil
}

// classifyAnthropicError wraps the SDK's error into the shared ProviderError
// taxonomy so withRetry and callers treat it like any other adapter failure.
func classifyAnthropicError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return NewProviderError(classifyStatus(apiErr.StatusCode), apiErr.Error(), err)
	}
	return NewProviderError(ProviderErrNetwork, "anthropic request failed", err)
}
