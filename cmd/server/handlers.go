package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arborist-labs/scholaria"
	"github.com/arborist-labs/scholaria/store"
	"github.com/arborist-labs/scholaria/task"
)

type handler struct {
	engine *scholaria.Engine
}

func newHandler(e *scholaria.Engine) *handler {
	return &handler{engine: e}
}

func (h *handler) register(r *gin.Engine) {
	r.GET("/health", h.handleHealth)

	r.GET("/workspaces", h.handleListWorkspaces)
	r.POST("/workspaces", h.handleCreateWorkspace)
	r.GET("/workspaces/:id", h.handleGetWorkspace)
	r.POST("/workspaces/:id/upload", h.handleUpload)

	r.GET("/documents/:id", h.handleGetDocument)
	r.DELETE("/documents/:id", h.handleDeleteDocument)
	r.POST("/documents/:id/reprocess", h.handleReprocessDocument)

	r.POST("/chat", h.handleChat)
	r.GET("/chat/history/:workspace_id", h.handleChatHistory)

	r.POST("/generate/:kind", h.handleGenerate)
	r.GET("/generate/existing", h.handleExistingArtifacts)
	r.POST("/generate/podcast", h.handleGeneratePodcast)
	r.POST("/generate/podcast/resynthesize", h.handleResynthesizePodcast)
	r.GET("/generate/narration", h.handleNarration)

	r.GET("/podcasts/versions", h.handleListPodcastVersions)
	r.GET("/podcasts/:version_id", h.handleGetPodcastVersion)
	r.DELETE("/podcasts/:version_id", h.handleDeletePodcastVersion)
	r.GET("/podcast/synthesis/progress/:version_id", h.handlePodcastProgress)

	r.GET("/settings", h.handleGetSettings)
	r.POST("/settings", h.handleUpdateSettings)
	r.POST("/settings/download-model", h.handleDownloadModel)
	r.POST("/settings/cancel-download", h.handleCancelDownload)

	r.GET("/files/:filename", h.handleFile(h.engine.UploadsDir()))
	r.GET("/audio/:filename", h.handleFile(h.engine.AudioDir()))

	r.GET("/tts/voices", h.handleListVoices)
}

func (h *handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- Workspaces & documents ---

func (h *handler) handleListWorkspaces(c *gin.Context) {
	ws, err := h.engine.ListWorkspaces(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ws)
}

func (h *handler) handleCreateWorkspace(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, scholaria.NewValidationError("invalid JSON body"))
		return
	}
	ws, err := h.engine.CreateWorkspace(c.Request.Context(), req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ws)
}

func (h *handler) handleGetWorkspace(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		writeError(c, err)
		return
	}
	ws, err := h.engine.GetWorkspace(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	docs, err := h.engine.ListDocuments(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":         ws.ID,
		"name":       ws.Name,
		"created_at": ws.CreatedAt,
		"documents":  docs,
	})
}

func (h *handler) handleUpload(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		writeError(c, err)
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		writeError(c, scholaria.NewValidationError("multipart field 'file' is required"))
		return
	}
	f, err := fh.Open()
	if err != nil {
		writeError(c, fmt.Errorf("opening uploaded file: %w", err))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		writeError(c, fmt.Errorf("reading uploaded file: %w", err))
		return
	}

	doc, err := h.engine.UploadDocument(c.Request.Context(), id, fh.Filename, data)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *handler) handleGetDocument(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		writeError(c, err)
		return
	}
	doc, err := h.engine.GetDocument(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *handler) handleDeleteDocument(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.engine.DeleteDocument(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) handleReprocessDocument(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.engine.ReprocessDocument(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// --- Chat ---

func (h *handler) handleChat(c *gin.Context) {
	var req struct {
		WorkspaceID int64  `json:"workspace_id"`
		Message     string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, scholaria.NewValidationError("invalid JSON body"))
		return
	}
	answer, err := h.engine.Chat(c.Request.Context(), req.WorkspaceID, req.Message)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"answer": answer})
}

func (h *handler) handleChatHistory(c *gin.Context) {
	id, err := parseID(c, "workspace_id")
	if err != nil {
		writeError(c, err)
		return
	}
	history, err := h.engine.ChatHistory(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

// --- Generation ---

var generatableKinds = map[string]bool{
	store.KindLesson:     true,
	store.KindFlashcards: true,
	store.KindQuiz:       true,
	store.KindMindmap:    true,
}

func (h *handler) handleGenerate(c *gin.Context) {
	kind := c.Param("kind")
	if !generatableKinds[kind] {
		writeError(c, scholaria.NewValidationError("unsupported artifact kind %q", kind))
		return
	}
	var req struct {
		WorkspaceID int64  `json:"workspace_id"`
		Topic       string `json:"topic"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, scholaria.NewValidationError("invalid JSON body"))
		return
	}
	payload, err := h.engine.Generate(c.Request.Context(), req.WorkspaceID, req.Topic, kind)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", []byte(payload))
}

func (h *handler) handleExistingArtifacts(c *gin.Context) {
	workspaceID, err := parseIDQuery(c, "workspace_id")
	if err != nil {
		writeError(c, err)
		return
	}
	topic := c.Query("topic")
	artifacts, err := h.engine.ExistingArtifacts(c.Request.Context(), workspaceID, topic)
	if err != nil {
		writeError(c, err)
		return
	}
	out := gin.H{}
	for kind, a := range artifacts {
		out[kind] = json.RawMessage(a.Payload)
	}
	c.JSON(http.StatusOK, out)
}

func (h *handler) handleGeneratePodcast(c *gin.Context) {
	podType := c.DefaultQuery("type", "single")
	var req struct {
		WorkspaceID int64   `json:"workspace_id"`
		Topic       string  `json:"topic"`
		VoiceA      string  `json:"voice_a"`
		VoiceAName  string  `json:"voice_a_name"`
		VoiceB      *string `json:"voice_b,omitempty"`
		VoiceBName  *string `json:"voice_b_name,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, scholaria.NewValidationError("invalid JSON body"))
		return
	}
	v, err := h.engine.GeneratePodcastVersion(c.Request.Context(), req.WorkspaceID, req.Topic, podType, req.VoiceA, req.VoiceAName, req.VoiceB, req.VoiceBName)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *handler) handleResynthesizePodcast(c *gin.Context) {
	podType := c.DefaultQuery("type", "single")
	var req struct {
		WorkspaceID int64   `json:"workspace_id"`
		Topic       string  `json:"topic"`
		VoiceA      string  `json:"voice_a"`
		VoiceAName  string  `json:"voice_a_name"`
		VoiceB      *string `json:"voice_b,omitempty"`
		VoiceBName  *string `json:"voice_b_name,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, scholaria.NewValidationError("invalid JSON body"))
		return
	}
	if _, err := h.engine.ResynthesizePodcast(c.Request.Context(), req.WorkspaceID, req.Topic, podType, req.VoiceA, req.VoiceAName, req.VoiceB, req.VoiceBName); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *handler) handleListPodcastVersions(c *gin.Context) {
	workspaceID, err := parseIDQuery(c, "workspace_id")
	if err != nil {
		writeError(c, err)
		return
	}
	topic := c.Query("topic")
	podType := c.Query("type")
	versions, err := h.engine.ListPodcastVersions(c.Request.Context(), workspaceID, topic, podType)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions, "max_versions": scholaria.DefaultConfig().MaxPodcastVersions})
}

func (h *handler) handleGetPodcastVersion(c *gin.Context) {
	id, err := parseID(c, "version_id")
	if err != nil {
		writeError(c, err)
		return
	}
	v, err := h.engine.GetPodcastVersion(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *handler) handleDeletePodcastVersion(c *gin.Context) {
	id, err := parseID(c, "version_id")
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.engine.DeletePodcastVersion(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) handlePodcastProgress(c *gin.Context) {
	id, err := parseID(c, "version_id")
	if err != nil {
		writeError(c, err)
		return
	}
	ch, cancel := h.engine.SubscribePodcastProgress(id)
	streamProgress(c, ch, cancel)
}

func (h *handler) handleNarration(c *gin.Context) {
	text := c.Query("text")
	voice := c.Query("voice")
	audio, err := h.engine.SynthesizeNarration(c.Request.Context(), text, voice)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "audio/mpeg", audio)
}

func (h *handler) handleListVoices(c *gin.Context) {
	voices, err := h.engine.ListVoices(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	ids := make([]string, len(voices))
	for i, v := range voices {
		ids[i] = v.ID
	}
	c.JSON(http.StatusOK, gin.H{"voices": ids, "voices_info": voices})
}

// --- Settings & runtime ---

func (h *handler) handleGetSettings(c *gin.Context) {
	st, runtime, err := h.engine.GetSettings(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"settings":     st,
		"runtime_info": runtime,
	})
}

func (h *handler) handleUpdateSettings(c *gin.Context) {
	var st store.Settings
	if err := c.ShouldBindJSON(&st); err != nil {
		writeError(c, scholaria.NewValidationError("invalid JSON body"))
		return
	}
	if err := h.engine.UpdateSettings(c.Request.Context(), st); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *handler) handleDownloadModel(c *gin.Context) {
	var req struct {
		Provider      string `json:"provider"`
		ModelName     string `json:"model_name"`
		OllamaBaseURL string `json:"ollama_base_url,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, scholaria.NewValidationError("invalid JSON body"))
		return
	}
	if req.Provider == "" || req.ModelName == "" {
		writeError(c, scholaria.NewValidationError("provider and model_name are required"))
		return
	}
	downloadID := h.engine.DownloadModel(req.Provider, req.ModelName)
	ch, cancel := h.engine.SubscribeProgress(downloadID)
	streamProgress(c, ch, cancel)
}

func (h *handler) handleCancelDownload(c *gin.Context) {
	h.engine.CancelDownload()
	c.Status(http.StatusNoContent)
}

// --- Static assets ---

func (h *handler) handleFile(root string) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := filepath.Base(c.Param("filename"))
		c.File(filepath.Join(root, name))
	}
}

// --- helpers ---

func parseID(c *gin.Context, param string) (int64, error) {
	return parseIDString(c.Param(param))
}

func parseIDQuery(c *gin.Context, param string) (int64, error) {
	return parseIDString(c.Query(param))
}

func parseIDString(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, scholaria.NewValidationError("invalid id %q", s)
	}
	return id, nil
}

// streamProgress drives an SSE response from a task.Event channel until the
// stream terminates (completed/failed) or the client disconnects.
func streamProgress(c *gin.Context, ch <-chan task.Event, cancel func()) {
	defer cancel()
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				return false
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			return !isTerminal(ev.Status)
		case <-c.Request.Context().Done():
			return false
		case <-time.After(30 * time.Second):
			fmt.Fprint(w, ": keep-alive\n\n")
			return true
		}
	})
}

// isTerminal reports whether status ends a progress stream: ingestion/task
// and download streams terminate on "completed"/"failed"/"error", while the
// podcast synthesis stream uses its own "complete" success value.
func isTerminal(status task.Status) bool {
	switch status {
	case task.StatusCompleted, task.StatusComplete, task.StatusFailed, task.StatusError:
		return true
	default:
		return false
	}
}
