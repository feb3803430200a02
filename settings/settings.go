// Package settings implements the effective-configuration resolver (spec
// §4.4, C3): the Settings singleton read and written through the store, workspace
// override merging, a startup runtime probe, and model-download progress
// streamed through the same task.Event shape as ingestion (spec §4.3, §4.4).
package settings

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/arborist-labs/scholaria/store"
	"github.com/arborist-labs/scholaria/task"
)

// ConfigurationError signals a missing or invalid required provider setting
// (spec §4.4, §7 "ConfigurationError — missing required provider setting").
// Owned here (rather than the root package) because settings.Service is
// imported by ingest/chat/generate/podcast, none of which may import the root
// package without creating an import cycle; the root package aliases this
// type, mirroring how llm.ProviderError is aliased there.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("settings: configuration error (%s): %s", e.Field, e.Message)
}

func missing(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Effective is the resolved configuration for one operation: workspace
// overrides merged over the global Settings row (spec §4.4).
type Effective struct {
	LLMProvider            string
	OpenAIAPIKey           string
	OpenAIModel            string
	OllamaBaseURL          string
	EmbeddingProvider      string
	EmbeddingModel         string
	EnableVisionProcessing bool
	VisionProvider         string
	OllamaVisionModel      string
}

// RuntimeInfo is the once-per-process hardware probe (spec §4.4 "Runtime
// probe exposes device ∈ {cpu, cuda}, cuda_device_name?").
type RuntimeInfo struct {
	Device         string `json:"device"`
	CUDADeviceName string `json:"cuda_device_name,omitempty"`
}

// Service wraps the Settings singleton row and resolves effective
// per-workspace configuration. It holds no lock of its own: Get, Update and
// Effective go straight to the store, where each read or write of the row is
// a single SQL statement.
type Service struct {
	store   *store.Store
	bus     *task.Bus
	runtime RuntimeInfo
}

// New creates a Service backed by st, probing the runtime once at startup
// (spec §4.4 "Runtime probe ... read once at startup").
func New(st *store.Store, bus *task.Bus) *Service {
	return &Service{store: st, bus: bus, runtime: probeRuntime()}
}

// probeRuntime reads SCHOLARIA_DEVICE to pin the HuggingFace device,
// following the teacher's environment-override convention (config.go /
// cmd/server main.go); everything else defaults to "cpu" since no actual GPU
// enumeration is in scope here.
func probeRuntime() RuntimeInfo {
	if dev := os.Getenv("SCHOLARIA_DEVICE"); dev == "cuda" {
		name := os.Getenv("SCHOLARIA_CUDA_DEVICE_NAME")
		if name == "" {
			name = "cuda:0"
		}
		return RuntimeInfo{Device: "cuda", CUDADeviceName: name}
	}
	return RuntimeInfo{Device: "cpu"}
}

// RuntimeInfo returns the cached runtime probe result.
func (s *Service) RuntimeInfo() RuntimeInfo { return s.runtime }

// Get returns the current global settings row, read in one statement
// straight from the store; no lock is taken here or in Update.
func (s *Service) Get(ctx context.Context) (*store.Settings, error) {
	return s.store.GetSettings(ctx)
}

// Update validates and writes through the global settings row (spec §4.4,
// §7 "Settings writes are transactional").
func (s *Service) Update(ctx context.Context, st store.Settings) error {
	if err := validateSettings(st); err != nil {
		return err
	}
	return s.store.UpdateSettings(ctx, st)
}

// Effective resolves the per-operation configuration for a workspace,
// merging workspace overrides over the global row (spec §4.4: "workspace.
// <field> ?? settings.<field>").
func (s *Service) Effective(ctx context.Context, ws *store.Workspace) (Effective, error) {
	global, err := s.store.GetSettings(ctx)
	if err != nil {
		return Effective{}, fmt.Errorf("settings: loading global settings: %w", err)
	}

	eff := Effective{
		LLMProvider:            coalesce(ws.LLMProvider, global.LLMProvider),
		OpenAIAPIKey:           coalesce(ws.OpenAIAPIKey, global.OpenAIAPIKey),
		OpenAIModel:            coalesce(ws.OpenAIModel, global.OpenAIModel),
		OllamaBaseURL:          coalesce(ws.OllamaBaseURL, global.OllamaBaseURL),
		EmbeddingProvider:      coalesce(ws.EmbeddingProvider, global.EmbeddingProvider),
		EmbeddingModel:         coalesce(ws.EmbeddingModel, global.EmbeddingModel),
		EnableVisionProcessing: global.EnableVisionProcessing,
		VisionProvider:         coalesce(ws.VisionProvider, global.VisionProvider),
		OllamaVisionModel:      coalesce(ws.OllamaVisionModel, global.OllamaVisionModel),
	}
	if ws.EnableVisionProcessing.Valid {
		eff.EnableVisionProcessing = ws.EnableVisionProcessing.Bool
	}
	return eff, nil
}

// RequireLLM validates that eff carries everything a chat completion call
// needs (spec §4.4).
func (e Effective) RequireLLM() error {
	if e.LLMProvider == "" {
		return missing("llm_provider", "no LLM provider configured")
	}
	switch e.LLMProvider {
	case "openai":
		if e.OpenAIAPIKey == "" {
			return missing("openai_api_key", "openai provider requires an API key")
		}
	case "ollama":
		if e.OllamaBaseURL == "" {
			return missing("ollama_base_url", "ollama provider requires a base URL")
		}
	}
	return nil
}

// RequireEmbedding validates that eff carries everything an embedding call
// needs (spec §4.4).
func (e Effective) RequireEmbedding() error {
	if e.EmbeddingProvider == "" {
		return missing("embedding_provider", "no embedding provider configured")
	}
	switch e.EmbeddingProvider {
	case "openai":
		if e.OpenAIAPIKey == "" {
			return missing("openai_api_key", "openai embedding provider requires an API key")
		}
	case "huggingface":
		if e.EmbeddingModel == "" {
			return missing("embedding_model", "huggingface embedding provider requires a local model name")
		}
	}
	return nil
}

// RequireVision validates that eff carries a vision provider when vision
// processing is enabled (spec §4.4 "Vision is optional; when disabled,
// ingestion skips phase 2").
func (e Effective) RequireVision() error {
	if !e.EnableVisionProcessing {
		return nil
	}
	if e.VisionProvider == "" {
		return missing("vision_provider", "vision processing enabled but no vision provider configured")
	}
	return nil
}

// RequireTTS validates that eff carries an OpenAI API key, the only TTS
// provider wired (spec §4.7 "TTS"; no local/ollama TTS adapter exists).
func (e Effective) RequireTTS() error {
	if e.OpenAIAPIKey == "" {
		return missing("openai_api_key", "text-to-speech requires an OpenAI API key")
	}
	return nil
}

// VisionModel returns the model name to use for captioning, chosen per
// provider since openai reuses the chat model and ollama has a dedicated
// vision model field (spec §3 Workspace/Settings).
func (e Effective) VisionModel() string {
	switch e.VisionProvider {
	case "ollama":
		return e.OllamaVisionModel
	case "openai":
		return e.OpenAIModel
	default:
		return ""
	}
}

func validateSettings(st store.Settings) error {
	eff := Effective{
		LLMProvider:       st.LLMProvider,
		OpenAIAPIKey:      st.OpenAIAPIKey,
		OllamaBaseURL:     st.OllamaBaseURL,
		EmbeddingProvider: st.EmbeddingProvider,
		EmbeddingModel:    st.EmbeddingModel,
	}
	if eff.LLMProvider != "" {
		if err := eff.RequireLLM(); err != nil {
			return err
		}
	}
	if eff.EmbeddingProvider != "" {
		if err := eff.RequireEmbedding(); err != nil {
			return err
		}
	}
	return nil
}

// coalesce resolves a workspace override against the global fallback (spec
// §4.4: "workspace.<field> ?? settings.<field>"). An unset or empty override
// falls through to fallback.
func coalesce(override sql.NullString, fallback string) string {
	if override.Valid && override.String != "" {
		return override.String
	}
	return fallback
}

// --- model download progress (spec §4.4 "Model download") ---

// DownloadModel simulates pulling a local model, streaming progress through
// the shared task.Bus keyed by a generated download id (spec §4.4: "streams a
// progress event sequence {status, progress, message}"). Real model-fetch
// plumbing (e.g. an Ollama pull) is out of scope for this exercise; the event
// sequence and cancellation contract are what downstream SSE handlers depend
// on.
func (s *Service) DownloadModel(ctx context.Context, downloadID, provider, model string) {
	steps := []task.Status{task.StatusDownloading, task.StatusPulling}
	for i, st := range steps {
		select {
		case <-ctx.Done():
			s.bus.Publish(downloadID, task.Event{Status: task.StatusError, Message: "cancelled"})
			return
		case <-time.After(50 * time.Millisecond):
		}
		progress := (i + 1) * 100 / (len(steps) + 1)
		s.bus.Publish(downloadID, task.Event{
			Status:   st,
			Progress: progress,
			Message:  fmt.Sprintf("%s %s/%s", st, provider, model),
		})
	}
	s.bus.Publish(downloadID, task.Event{Status: task.StatusCompleted, Progress: 100})
}

// Bus exposes the shared progress bus so HTTP handlers can subscribe to a
// download id's stream.
func (s *Service) Bus() *task.Bus { return s.bus }
