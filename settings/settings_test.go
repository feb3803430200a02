package settings

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/arborist-labs/scholaria/store"
	"github.com/arborist-labs/scholaria/task"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestEffectiveFallsBackToGlobalSettings(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := New(st, task.NewBus())

	if err := svc.Update(ctx, store.Settings{
		LLMProvider:       "openai",
		OpenAIAPIKey:      "sk-global",
		EmbeddingProvider: "openai",
		EmbeddingModel:    "text-embedding-3-small",
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	wsID, err := st.CreateWorkspace(ctx, "acme")
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	ws, err := st.GetWorkspace(ctx, wsID)
	if err != nil {
		t.Fatalf("get workspace: %v", err)
	}

	eff, err := svc.Effective(ctx, ws)
	if err != nil {
		t.Fatalf("effective: %v", err)
	}
	if eff.LLMProvider != "openai" || eff.OpenAIAPIKey != "sk-global" {
		t.Errorf("expected global fallback, got %+v", eff)
	}
	if err := eff.RequireLLM(); err != nil {
		t.Errorf("RequireLLM: %v", err)
	}
}

func TestEffectivePrefersWorkspaceOverride(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := New(st, task.NewBus())

	if err := svc.Update(ctx, store.Settings{
		LLMProvider:  "openai",
		OpenAIAPIKey: "sk-global",
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	wsID, err := st.CreateWorkspace(ctx, "acme")
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	if err := st.UpdateWorkspaceSettings(ctx, wsID, store.WorkspaceSettingsUpdate{
		LLMProvider:  strPtr("ollama"),
		OllamaBaseURL: strPtr("http://localhost:11434"),
	}); err != nil {
		t.Fatalf("update workspace settings: %v", err)
	}

	ws, err := st.GetWorkspace(ctx, wsID)
	if err != nil {
		t.Fatalf("get workspace: %v", err)
	}

	eff, err := svc.Effective(ctx, ws)
	if err != nil {
		t.Fatalf("effective: %v", err)
	}
	if eff.LLMProvider != "ollama" {
		t.Errorf("expected workspace override 'ollama', got %q", eff.LLMProvider)
	}
	if eff.OllamaBaseURL != "http://localhost:11434" {
		t.Errorf("expected workspace ollama base url, got %q", eff.OllamaBaseURL)
	}
}

func TestRequireLLMMissingAPIKey(t *testing.T) {
	eff := Effective{LLMProvider: "openai"}
	err := eff.RequireLLM()
	if err == nil {
		t.Fatal("expected error for missing openai api key")
	}
	var cfgErr *ConfigurationError
	if !errorsAs(err, &cfgErr) {
		t.Fatalf("expected *ConfigurationError, got %T", err)
	}
	if cfgErr.Field != "openai_api_key" {
		t.Errorf("field = %q, want openai_api_key", cfgErr.Field)
	}
}

func TestRequireEmbeddingMissingModel(t *testing.T) {
	eff := Effective{EmbeddingProvider: "huggingface"}
	if err := eff.RequireEmbedding(); err == nil {
		t.Fatal("expected error for missing embedding model")
	}
}

func TestUpdateRejectsIncompleteProvider(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := New(st, task.NewBus())

	err := svc.Update(ctx, store.Settings{LLMProvider: "openai"})
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestProbeRuntimeDefaultsToCPU(t *testing.T) {
	info := probeRuntime()
	if info.Device != "cpu" {
		t.Errorf("expected default device cpu, got %q", info.Device)
	}
}

func TestDownloadModelPublishesCompletion(t *testing.T) {
	bus := task.NewBus()
	svc := New(newTestStore(t), bus)

	ch, cancel := bus.Subscribe("dl-1")
	defer cancel()

	ctx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	svc.DownloadModel(ctx, "dl-1", "huggingface", "all-MiniLM-L6-v2")

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Status == task.StatusCompleted {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for download completion event")
		}
	}
}

func strPtr(s string) *string { return &s }

func errorsAs(err error, target **ConfigurationError) bool {
	ce, ok := err.(*ConfigurationError)
	if !ok {
		return false
	}
	*target = ce
	return true
}
