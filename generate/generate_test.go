package generate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
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

// fakeServer answers embeddings unconditionally and answers chat completions
// with replies in order, repeating the last reply once the list is used up.
func fakeServer(t *testing.T, replies ...string) *httptest.Server {
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
	call := 0
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		reply := replies[call]
		if call < len(replies)-1 {
			call++
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model": "llama3",
			"choices": []map[string]any{
				{"message": map[string]string{"content": reply}, "finish_reason": "stop"},
			},
		})
	})
	return httptest.NewServer(mux)
}

func seedWorkspace(t *testing.T, st *store.Store) int64 {
	t.Helper()
	ctx := context.Background()
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
	if err := st.InsertChunks(ctx, []store.Chunk{
		{DocumentID: docID, WorkspaceID: wsID, Ordinal: 0, Content: "photosynthesis converts light into chemical energy", EmbeddingDim: 4, Embedding: []float32{0.1, 0.2, 0.3, 0.4}},
	}); err != nil {
		t.Fatalf("insert chunks: %v", err)
	}
	if err := st.SetDocumentFingerprint(ctx, docID, "ollama", "nomic-embed-text"); err != nil {
		t.Fatalf("set fingerprint: %v", err)
	}
	if err := st.UpdateDocumentStatus(ctx, docID, store.StatusCompleted, nil); err != nil {
		t.Fatalf("update status: %v", err)
	}
	return wsID
}

func newGenerator(t *testing.T, srv *httptest.Server) (*Generator, *store.Store, int64) {
	t.Helper()
	ctx := context.Background()
	st := newTestStore(t)
	svc := settings.New(st, task.NewBus())
	if err := svc.Update(ctx, store.Settings{
		LLMProvider:       "ollama",
		OllamaBaseURL:     srv.URL,
		EmbeddingProvider: "ollama",
		EmbeddingModel:    "nomic-embed-text",
	}); err != nil {
		t.Fatalf("update settings: %v", err)
	}
	wsID := seedWorkspace(t, st)
	retriever := retrieval.New(st, svc)
	gen, err := New(st, retriever, svc, DefaultConfig())
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	return gen, st, wsID
}

const validLesson = `{"topic":"photosynthesis","sections":[{"title":"Overview","content":"Plants convert light into energy.","key_points":["light","energy"]}]}`

func tenCards() string {
	var b strings.Builder
	b.WriteString(`{"topic":"photosynthesis","cards":[`)
	for i := 0; i < 10; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(`{"front":"q","back":"a"}`)
	}
	b.WriteString(`]}`)
	return b.String()
}

func TestGenerateLessonSucceedsAndCaches(t *testing.T) {
	srv := fakeServer(t, validLesson)
	defer srv.Close()
	gen, st, wsID := newGenerator(t, srv)

	payload, err := gen.Generate(context.Background(), wsID, "photosynthesis", store.KindLesson)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(payload, "Overview") {
		t.Errorf("unexpected payload: %s", payload)
	}

	existing, err := gen.GetExisting(context.Background(), wsID, "photosynthesis")
	if err != nil {
		t.Fatalf("get existing: %v", err)
	}
	if _, ok := existing[store.KindLesson]; !ok {
		t.Error("expected lesson to be cached")
	}

	art, err := st.GetArtifact(context.Background(), wsID, "photosynthesis", store.KindLesson)
	if err != nil {
		t.Fatalf("get artifact: %v", err)
	}
	if art.Payload != payload {
		t.Error("expected cached payload to match returned payload")
	}
}

func TestGenerateFlashcardsValidatesCardCount(t *testing.T) {
	srv := fakeServer(t, tenCards())
	defer srv.Close()
	gen, _, wsID := newGenerator(t, srv)

	_, err := gen.Generate(context.Background(), wsID, "photosynthesis", store.KindFlashcards)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
}

func TestGenerateRetriesOnInvalidJSONThenSucceeds(t *testing.T) {
	srv := fakeServer(t, "not json at all", validLesson)
	defer srv.Close()
	gen, _, wsID := newGenerator(t, srv)

	payload, err := gen.Generate(context.Background(), wsID, "photosynthesis", store.KindLesson)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(payload, "Overview") {
		t.Errorf("unexpected payload: %s", payload)
	}
}

func TestGenerateFailsAfterExhaustingRetries(t *testing.T) {
	srv := fakeServer(t, "not json", "still not json", "nope")
	defer srv.Close()
	gen, _, wsID := newGenerator(t, srv)

	_, err := gen.Generate(context.Background(), wsID, "photosynthesis", store.KindLesson)
	if err == nil {
		t.Fatal("expected generation error")
	}
	if _, ok := err.(*GenerationError); !ok {
		t.Errorf("expected *GenerationError, got %T: %v", err, err)
	}
}

func TestValidateMindmapRejectsCycle(t *testing.T) {
	doc := map[string]any{
		"nodes": []any{
			map[string]any{"id": "a", "label": "A", "type": "input"},
			map[string]any{"id": "b", "label": "B", "type": "default"},
		},
		"edges": []any{
			map[string]any{"source": "a", "target": "b"},
			map[string]any{"source": "b", "target": "a"},
		},
	}
	if err := validateMindmap(doc); err == nil {
		t.Fatal("expected cycle to be rejected")
	}
}

func TestValidateMindmapRejectsUnknownEdgeTarget(t *testing.T) {
	doc := map[string]any{
		"nodes": []any{
			map[string]any{"id": "a", "label": "A", "type": "input"},
		},
		"edges": []any{
			map[string]any{"source": "a", "target": "ghost"},
		},
	}
	if err := validateMindmap(doc); err == nil {
		t.Fatal("expected unknown target to be rejected")
	}
}

func TestValidatePodcastScriptRequiresTwoSpeakersForDuo(t *testing.T) {
	doc := map[string]any{
		"topic": "x",
		"script": []any{
			map[string]any{"speaker": "Alex", "voice": "v1", "text": "hi"},
		},
	}
	if err := validatePodcastScript(doc, true); err == nil {
		t.Fatal("expected single-speaker script to be rejected for a duo podcast")
	}
	if err := validatePodcastScript(doc, false); err != nil {
		t.Fatalf("expected single-speaker script to be accepted for a single podcast: %v", err)
	}
}
