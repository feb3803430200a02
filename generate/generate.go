// Package generate implements the artifact generator suite (spec §4.8, C8):
// retrieve supporting context for a topic, ask the LLM for JSON matching a
// per-kind schema, validate and retry before giving up, then cache the
// result.
package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/arborist-labs/scholaria/llm"
	"github.com/arborist-labs/scholaria/retrieval"
	"github.com/arborist-labs/scholaria/settings"
	"github.com/arborist-labs/scholaria/store"
)

// GenerationError signals that the LLM failed to produce schema-valid
// structured output after retries (spec §4.8 step 4, §7). Owned here for the
// same import-cycle reason as retrieval.IncompatibleEmbeddingsError: the
// root package aliases it.
type GenerationError struct {
	Kind    string
	Message string
	Cause   error
}

func (e *GenerationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("generate: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("generate: %s: %s", e.Kind, e.Message)
}

func (e *GenerationError) Unwrap() error { return e.Cause }

// maxAttempts is one initial attempt plus two retries (spec §4.8 step 4:
// "retried up to 2 times on schema-validation failure").
const maxAttempts = 3

// Config controls retrieval depth for the context gathered ahead of
// generation (spec §4.8 step 1).
type Config struct {
	RetrievalK int
}

// DefaultConfig mirrors the spec's default (k=12).
func DefaultConfig() Config {
	return Config{RetrievalK: 12}
}

func (c Config) withDefaults() Config {
	if c.RetrievalK <= 0 {
		c.RetrievalK = 12
	}
	return c
}

// Generator produces and caches the five artifact kinds (spec §4.8).
type Generator struct {
	store     *store.Store
	retriever *retrieval.Retriever
	settings  *settings.Service
	cfg       Config
	schemas   map[string]*jsonschema.Schema
}

// New wires a Generator and compiles every kind's JSON schema once up front,
// so a malformed schema fails fast at startup rather than on first use.
func New(st *store.Store, r *retrieval.Retriever, svc *settings.Service, cfg Config) (*Generator, error) {
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	return &Generator{store: st, retriever: r, settings: svc, cfg: cfg.withDefaults(), schemas: schemas}, nil
}

func compileSchemas() (map[string]*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	out := make(map[string]*jsonschema.Schema, len(schemaSource))
	for kind, raw := range schemaSource {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("generate: decoding %s schema: %w", kind, err)
		}
		url := "mem://scholaria/" + kind + ".json"
		if err := compiler.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("generate: registering %s schema: %w", kind, err)
		}
		sch, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("generate: compiling %s schema: %w", kind, err)
		}
		out[kind] = sch
	}
	return out, nil
}

// GetExisting returns every cached artifact for (workspaceID, topic), keyed
// by kind (spec §4.8 get_existing).
func (g *Generator) GetExisting(ctx context.Context, workspaceID int64, topic string) (map[string]store.Artifact, error) {
	return g.store.ExistingArtifacts(ctx, workspaceID, topic)
}

// Generate retrieves context for topic, asks the LLM for kind's JSON shape,
// validates the result against that kind's schema (retrying on failure),
// caches it, and returns the raw JSON payload (spec §4.8 steps 1-4). podType
// is only consulted for store.KindPodcastScript, where it distinguishes a
// "single" narrator script (one speaker) from a "duo" conversation (at least
// two); every other kind ignores it.
func (g *Generator) Generate(ctx context.Context, workspaceID int64, topic, kind string, podType ...string) (string, error) {
	schema, ok := g.schemas[kind]
	if !ok {
		return "", &GenerationError{Kind: kind, Message: fmt.Sprintf("unknown artifact kind %q", kind)}
	}

	chunks, err := g.retriever.Retrieve(ctx, workspaceID, topic, g.cfg.RetrievalK)
	if err != nil {
		return "", err
	}

	ws, err := g.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return "", fmt.Errorf("generate: loading workspace %d: %w", workspaceID, err)
	}
	eff, err := g.settings.Effective(ctx, ws)
	if err != nil {
		return "", fmt.Errorf("generate: resolving effective settings: %w", err)
	}
	if err := eff.RequireLLM(); err != nil {
		return "", err
	}

	provider, err := llm.NewProvider(llm.Config{
		Provider: eff.LLMProvider,
		Model:    eff.OpenAIModel,
		BaseURL:  eff.OllamaBaseURL,
		APIKey:   eff.OpenAIAPIKey,
	})
	if err != nil {
		return "", fmt.Errorf("generate: building provider: %w", err)
	}

	// Default to "duo" when the caller omits podType, matching every
	// non-podcast kind's behavior (which ignores the flag entirely).
	duo := len(podType) == 0 || podType[0] != "single"

	messages := buildPrompt(kind, topic, chunks, duo)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			messages = append(messages, llm.Message{
				Role:    "user",
				Content: fmt.Sprintf("Your previous response was invalid: %v. Reply again with corrected JSON only, matching the schema exactly.", lastErr),
			})
		}

		resp, err := provider.Chat(ctx, llm.ChatRequest{Messages: messages, Temperature: 0.3, ResponseFormat: "json_object"})
		if err != nil {
			return "", err
		}

		payload := extractJSON(resp.Content)
		var doc any
		if err := json.Unmarshal([]byte(payload), &doc); err != nil {
			lastErr = fmt.Errorf("invalid JSON: %w", err)
			continue
		}
		if err := schema.Validate(doc); err != nil {
			lastErr = err
			continue
		}
		if err := validateSemantics(kind, doc, duo); err != nil {
			lastErr = err
			continue
		}

		if _, err := g.persist(ctx, workspaceID, topic, kind, payload); err != nil {
			return "", fmt.Errorf("generate: caching %s artifact: %w", kind, err)
		}
		return payload, nil
	}

	return "", &GenerationError{Kind: kind, Message: "LLM did not produce schema-valid output after retries", Cause: lastErr}
}

func (g *Generator) persist(ctx context.Context, workspaceID int64, topic, kind, payload string) (int64, error) {
	if kind == store.KindPodcastScript {
		return g.store.InsertPodcastScript(ctx, workspaceID, topic, payload)
	}
	return g.store.UpsertArtifact(ctx, workspaceID, topic, kind, payload)
}

// extractJSON strips Markdown code fences some models wrap JSON output in,
// even under json_object response format.
func extractJSON(content string) string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
