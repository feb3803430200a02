package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/arborist-labs/scholaria/retrieval"
	"github.com/arborist-labs/scholaria/settings"
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

// fakeProviderServer answers both the embed and chat-completions endpoints so
// a single Ollama-shaped config drives both retrieval and chat.
func fakeProviderServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		embeddings := make([][]float64, len(req.Input))
		for i := range req.Input {
			embeddings[i] = []float64{0.1, 0.2, 0.3, 0.4}
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": embeddings})
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"model": "llama3",
			"choices": []map[string]any{
				{"message": map[string]string{"content": reply}, "finish_reason": "stop"},
			},
		}
		json.NewEncoder(w).Encode(resp)
	})
	return httptest.NewServer(mux)
}

func seedCompletedDocument(t *testing.T, st *store.Store, wsID int64) {
	t.Helper()
	ctx := context.Background()
	docID, err := st.CreateDocument(ctx, store.Document{
		WorkspaceID: wsID, Title: "handbook.pdf", FileType: "pdf", FilePath: "/tmp/handbook.pdf",
	})
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	if err := st.InsertChunks(ctx, []store.Chunk{
		{DocumentID: docID, WorkspaceID: wsID, Ordinal: 0, Content: "fire extinguishers are located by every exit", EmbeddingDim: 4, Embedding: []float32{0.1, 0.2, 0.3, 0.4}},
	}); err != nil {
		t.Fatalf("insert chunks: %v", err)
	}
	if err := st.SetDocumentFingerprint(ctx, docID, "ollama", "nomic-embed-text"); err != nil {
		t.Fatalf("set fingerprint: %v", err)
	}
	if err := st.UpdateDocumentStatus(ctx, docID, store.StatusCompleted, nil); err != nil {
		t.Fatalf("update status: %v", err)
	}
}

func TestChatAppendsHistoryAndReturnsAnswer(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := settings.New(st, task.NewBus())

	srv := fakeProviderServer(t, "Fire extinguishers are located by every exit.")
	defer srv.Close()

	if err := svc.Update(ctx, store.Settings{
		LLMProvider:       "ollama",
		OllamaBaseURL:     srv.URL,
		EmbeddingProvider: "ollama",
		EmbeddingModel:    "nomic-embed-text",
	}); err != nil {
		t.Fatalf("update settings: %v", err)
	}

	wsID, err := st.CreateWorkspace(ctx, "acme")
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	seedCompletedDocument(t, st, wsID)

	retriever := retrieval.New(st, svc)
	engine := New(st, retriever, svc, DefaultConfig())

	answer, err := engine.Chat(ctx, wsID, "where are the fire extinguishers?")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if answer != "Fire extinguishers are located by every exit." {
		t.Errorf("unexpected answer: %q", answer)
	}

	history, err := st.ChatHistory(ctx, wsID)
	if err != nil {
		t.Fatalf("chat history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[0].Role != "user" || history[1].Role != "assistant" {
		t.Errorf("unexpected role ordering: %+v", history)
	}
}

func TestChatSurfacesIncompatibleEmbeddings(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := settings.New(st, task.NewBus())

	srv := fakeProviderServer(t, "irrelevant")
	defer srv.Close()

	if err := svc.Update(ctx, store.Settings{
		LLMProvider:       "ollama",
		OllamaBaseURL:     srv.URL,
		EmbeddingProvider: "ollama",
		EmbeddingModel:    "a-new-model",
	}); err != nil {
		t.Fatalf("update settings: %v", err)
	}

	wsID, err := st.CreateWorkspace(ctx, "acme")
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	docID, err := st.CreateDocument(ctx, store.Document{
		WorkspaceID: wsID, Title: "handbook.pdf", FileType: "pdf", FilePath: "/tmp/handbook.pdf",
	})
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	if err := st.SetDocumentFingerprint(ctx, docID, "ollama", "an-old-model"); err != nil {
		t.Fatalf("set fingerprint: %v", err)
	}
	if err := st.UpdateDocumentStatus(ctx, docID, store.StatusCompleted, nil); err != nil {
		t.Fatalf("update status: %v", err)
	}

	retriever := retrieval.New(st, svc)
	engine := New(st, retriever, svc, DefaultConfig())

	_, err = engine.Chat(ctx, wsID, "anything")
	if err == nil {
		t.Fatal("expected error for incompatible embeddings")
	}
	if _, ok := err.(*retrieval.IncompatibleEmbeddingsError); !ok {
		t.Errorf("expected *retrieval.IncompatibleEmbeddingsError, got %T", err)
	}

	history, err := st.ChatHistory(ctx, wsID)
	if err != nil {
		t.Fatalf("chat history: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("expected user message to still be recorded even on retrieval failure, got %d messages", len(history))
	}
}

func TestRecentMemoryExcludesJustAppendedTurnAndBoundsWindow(t *testing.T) {
	history := make([]store.ChatMessage, 0, 12)
	for i := 0; i < 11; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		history = append(history, store.ChatMessage{ID: int64(i), Role: role})
	}
	// Simulate history where the last entry is the just-appended user turn.
	mem := recentMemory(history, 10)
	if len(mem) != 10 {
		t.Fatalf("expected window of 10, got %d", len(mem))
	}
	if mem[len(mem)-1].ID == history[len(history)-1].ID {
		t.Error("expected just-appended message to be excluded from memory")
	}
}
