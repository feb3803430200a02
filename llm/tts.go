package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// openAITTSProvider implements TTSProvider against OpenAI's
// /v1/audio/speech endpoint (spec §4.7 "TTS": synthesize, list_voices).
type openAITTSProvider struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
}

// openAIVoices is OpenAI's fixed voice catalogue; the API has no
// voices-listing endpoint, so this mirrors what their docs publish.
var openAIVoices = []Voice{
	{ID: "alloy", Name: "Alloy", Gender: "neutral"},
	{ID: "echo", Name: "Echo", Gender: "male"},
	{ID: "fable", Name: "Fable", Gender: "male"},
	{ID: "onyx", Name: "Onyx", Gender: "male"},
	{ID: "nova", Name: "Nova", Gender: "female"},
	{ID: "shimmer", Name: "Shimmer", Gender: "female"},
}

// NewOpenAITTS creates a TTS provider for OpenAI.
func NewOpenAITTS(cfg Config) *openAITTSProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "tts-1"
	}
	timeout := providerTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &openAITTSProvider{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		limiter: newLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
	}
}

func (p *openAITTSProvider) ListVoices(ctx context.Context) ([]Voice, error) {
	return openAIVoices, nil
}

func (p *openAITTSProvider) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if voice == "" {
		voice = "alloy"
	}
	body := struct {
		Model string `json:"model"`
		Input string `json:"input"`
		Voice string `json:"voice"`
	}{Model: p.cfg.Model, Input: text, Voice: voice}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	url := p.cfg.BaseURL + "/v1/audio/speech"

	var audio []byte
	err = withRetry(ctx, p.limiter, func() error {
		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if p.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
		}

		resp, doErr := p.client.Do(req)
		if doErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return NewProviderError(ProviderErrNetwork, fmt.Sprintf("request to %s failed", url), doErr)
		}
		defer resp.Body.Close()

		b, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return NewProviderError(ProviderErrNetwork, "reading tts response body", readErr)
		}
		if resp.StatusCode != http.StatusOK {
			return NewProviderError(classifyStatus(resp.StatusCode),
				fmt.Sprintf("tts API error %d: %s", resp.StatusCode, string(b)), nil)
		}
		audio = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return audio, nil
}
