package ingest

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/arborist-labs/scholaria/parser"
	"github.com/arborist-labs/scholaria/settings"
	"github.com/arborist-labs/scholaria/store"
	"github.com/arborist-labs/scholaria/task"
)

func writeTestPNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 100, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating png: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encoding png: %v", err)
	}
}

// fakeOllamaServer serves both the chat-completions endpoint (used for
// captioning) and the native /api/embed endpoint, mimicking an Ollama
// instance closely enough to exercise the whole pipeline end to end.
func fakeOllamaServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"model": "llava",
			"choices": []map[string]any{
				{
					"message":       map[string]string{"content": "A gradient-colored test image with no readable text."},
					"finish_reason": "stop",
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		embeddings := make([][]float64, len(req.Input))
		for i := range req.Input {
			vec := make([]float64, 8)
			for j := range vec {
				vec[j] = float64(i+j) / 10
			}
			embeddings[i] = vec
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": embeddings})
	})
	return httptest.NewServer(mux)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestPipelineRunEndToEndWithVision(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := settings.New(st, task.NewBus())

	srv := fakeOllamaServer(t)
	defer srv.Close()

	if err := svc.Update(ctx, store.Settings{
		LLMProvider:            "ollama",
		OllamaBaseURL:          srv.URL,
		EmbeddingProvider:      "ollama",
		EmbeddingModel:         "nomic-embed-text",
		EnableVisionProcessing: true,
		VisionProvider:         "ollama",
		OllamaVisionModel:      "llava",
	}); err != nil {
		t.Fatalf("update settings: %v", err)
	}

	wsID, err := st.CreateWorkspace(ctx, "acme")
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}

	imgPath := filepath.Join(t.TempDir(), "diagram.png")
	writeTestPNG(t, imgPath)

	docID, err := st.CreateDocument(ctx, store.Document{
		WorkspaceID: wsID,
		Title:       "diagram.png",
		FileType:    "png",
		FilePath:    imgPath,
	})
	if err != nil {
		t.Fatalf("create document: %v", err)
	}

	pipeline := New(st, parser.NewRegistry(), svc, DefaultConfig())

	var events []task.Event
	emit := func(ev task.Event) { events = append(events, ev) }
	notCancelled := func() bool { return false }

	if err := pipeline.Run(ctx, docID, emit, notCancelled); err != nil {
		t.Fatalf("pipeline run: %v", err)
	}

	doc, err := st.GetDocument(ctx, docID)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if doc.Status != store.StatusCompleted {
		t.Errorf("status = %q, want %q", doc.Status, store.StatusCompleted)
	}
	if doc.EmbeddingProvider == nil || *doc.EmbeddingProvider != "ollama" {
		t.Errorf("expected fingerprint provider ollama, got %+v", doc.EmbeddingProvider)
	}

	results, err := st.Search(ctx, wsID, make([]float32, 8), 8, 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one persisted chunk to be searchable")
	}
	if len(events) == 0 {
		t.Fatal("expected progress events to have been emitted")
	}
}

func TestPipelineRunFailsOnMissingEmbeddingConfig(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := settings.New(st, task.NewBus())

	wsID, err := st.CreateWorkspace(ctx, "acme")
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	docID, err := st.CreateDocument(ctx, store.Document{
		WorkspaceID: wsID,
		Title:       "empty.png",
		FileType:    "png",
		FilePath:    "/nonexistent.png",
	})
	if err != nil {
		t.Fatalf("create document: %v", err)
	}

	pipeline := New(st, parser.NewRegistry(), svc, DefaultConfig())
	err = pipeline.Run(ctx, docID, func(task.Event) {}, func() bool { return false })
	if err == nil {
		t.Fatal("expected error for unconfigured embedding provider")
	}

	doc, getErr := st.GetDocument(ctx, docID)
	if getErr != nil {
		t.Fatalf("get document: %v", getErr)
	}
	if doc.Status != store.StatusFailed {
		t.Errorf("status = %q, want %q", doc.Status, store.StatusFailed)
	}
}

func TestPipelineRunHonorsCancellation(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := settings.New(st, task.NewBus())

	srv := fakeOllamaServer(t)
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
	imgPath := filepath.Join(t.TempDir(), "diagram.png")
	writeTestPNG(t, imgPath)

	docID, err := st.CreateDocument(ctx, store.Document{
		WorkspaceID: wsID,
		Title:       "diagram.png",
		FileType:    "png",
		FilePath:    imgPath,
	})
	if err != nil {
		t.Fatalf("create document: %v", err)
	}

	pipeline := New(st, parser.NewRegistry(), svc, DefaultConfig())
	alwaysCancelled := func() bool { return true }

	err = pipeline.Run(ctx, docID, func(task.Event) {}, alwaysCancelled)
	if err != ErrCancelled {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}

	doc, getErr := st.GetDocument(ctx, docID)
	if getErr != nil {
		t.Fatalf("get document: %v", getErr)
	}
	if doc.Status != store.StatusFailed {
		t.Errorf("status = %q, want %q", doc.Status, store.StatusFailed)
	}
}
