package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/arborist-labs/scholaria"
)

func newTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	tmp := t.TempDir()
	cfg := scholaria.DefaultConfig()
	cfg.DBPath = filepath.Join(tmp, "test.db")
	cfg.UploadsDir = filepath.Join(tmp, "uploads")
	cfg.AudioDir = filepath.Join(tmp, "audio")
	cfg.Settings = scholaria.SettingsConfig{}

	engine, err := scholaria.New(cfg)
	if err != nil {
		t.Fatalf("scholaria.New: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(recoveryMiddleware())
	newHandler(engine).register(r)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	r := newTestServer(t)
	w := doJSON(t, r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestCreateAndGetWorkspace(t *testing.T) {
	r := newTestServer(t)

	w := doJSON(t, r, http.MethodPost, "/workspaces", map[string]string{"name": "acme"})
	if w.Code != http.StatusOK {
		t.Fatalf("create status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var ws struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &ws); err != nil {
		t.Fatalf("decoding response: %v", err)
	}

	w = doJSON(t, r, http.MethodGet, "/workspaces/"+strconv.FormatInt(ws.ID, 10), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200: %s", w.Code, w.Body.String())
	}
}

func TestCreateWorkspaceRejectsEmptyName(t *testing.T) {
	r := newTestServer(t)
	w := doJSON(t, r, http.MethodPost, "/workspaces", map[string]string{"name": ""})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
	}
}

func TestGetWorkspaceNotFound(t *testing.T) {
	r := newTestServer(t)
	w := doJSON(t, r, http.MethodGet, "/workspaces/999", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404: %s", w.Code, w.Body.String())
	}
}

func TestChatRequiresCompletedDocuments(t *testing.T) {
	r := newTestServer(t)
	w := doJSON(t, r, http.MethodPost, "/workspaces", map[string]string{"name": "acme"})
	var ws struct {
		ID int64 `json:"id"`
	}
	json.Unmarshal(w.Body.Bytes(), &ws)

	w = doJSON(t, r, http.MethodPost, "/chat", map[string]any{"workspace_id": ws.ID, "message": "hello"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404: %s", w.Code, w.Body.String())
	}
}

func TestGenerateRejectsUnsupportedKind(t *testing.T) {
	r := newTestServer(t)
	w := doJSON(t, r, http.MethodPost, "/generate/essay", map[string]any{"workspace_id": 1, "topic": "intro"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
	}
}
