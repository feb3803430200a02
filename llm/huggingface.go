package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// huggingFaceProvider implements Embedder against a local text-embeddings-
// inference server (https://github.com/huggingface/text-embeddings-inference),
// selected when the effective embedding provider is "huggingface" (spec §9,
// "local" embedding deployments alongside openai/ollama). It has no chat or
// vision capability; NewProvider/NewVisionProvider reject this tag.
type huggingFaceProvider struct {
	base openAICompatClient
}

// NewHuggingFace creates an embeddings-only provider against a local
// text-embeddings-inference (TEI) server.
func NewHuggingFace(cfg Config) *huggingFaceProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}
	return &huggingFaceProvider{base: newOpenAICompatClientPrefix(cfg, "")}
}

// Embed posts to TEI's /embed endpoint, which returns a bare JSON array of
// float arrays rather than the OpenAI {data:[{embedding,index}]} envelope.
func (p *huggingFaceProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	body := struct {
		Inputs []string `json:"inputs"`
	}{Inputs: texts}

	respBody, err := p.base.doPost(ctx, "/embed", body)
	if err != nil {
		return nil, err
	}

	var out [][]float32
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decoding huggingface embed response: %w", err)
	}
	return out, nil
}
