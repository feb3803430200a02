// Package scholaria wires the chunk store, task runner, settings resolver,
// and the ingestion/retrieval/chat/generation/podcast components into a
// single Engine, the facade the HTTP surface (cmd/server) drives.
package scholaria

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/arborist-labs/scholaria/chat"
	"github.com/arborist-labs/scholaria/generate"
	"github.com/arborist-labs/scholaria/ingest"
	"github.com/arborist-labs/scholaria/llm"
	"github.com/arborist-labs/scholaria/parser"
	"github.com/arborist-labs/scholaria/podcast"
	"github.com/arborist-labs/scholaria/retrieval"
	"github.com/arborist-labs/scholaria/settings"
	"github.com/arborist-labs/scholaria/store"
	"github.com/arborist-labs/scholaria/task"
)

// Engine is the process-wide facade over every component (spec §2 System
// Overview): one Store, one Bus, one ingestion worker, wired collaborators
// for chat/retrieval/generation/podcast synthesis.
type Engine struct {
	cfg Config

	store       *store.Store
	parsers     *parser.Registry
	settingsSvc *settings.Service
	bus         *task.Bus

	ingestRunner *task.Runner

	retriever *retrieval.Retriever
	chatEng   *chat.Engine
	generator *generate.Generator
	podcasts  *podcast.Synthesizer

	uploadsDir string
	audioDir   string

	cancelMu       sync.Mutex
	podcastCancel  map[int64]context.CancelFunc
	downloadCancel context.CancelFunc
}

// New builds an Engine from cfg: opens the store, seeds the settings
// singleton on first run, ensures the upload/audio directories exist,
// reconciles any audio files orphaned by a prior crash, and wires every
// component (spec §5 "Shared resources").
func New(cfg Config) (*Engine, error) {
	dbPath := cfg.resolveDBPath()
	st, err := store.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("scholaria: opening store: %w", err)
	}

	if err := os.MkdirAll(cfg.UploadsDir, 0o755); err != nil {
		st.Close()
		return nil, fmt.Errorf("scholaria: creating uploads dir: %w", err)
	}
	if err := os.MkdirAll(cfg.AudioDir, 0o755); err != nil {
		st.Close()
		return nil, fmt.Errorf("scholaria: creating audio dir: %w", err)
	}

	bus := task.NewBus()
	svc := settings.New(st, bus)

	if err := seedSettings(context.Background(), svc, cfg.Settings); err != nil {
		st.Close()
		return nil, fmt.Errorf("scholaria: seeding settings: %w", err)
	}

	parsers := parser.NewRegistry()
	pipeline := ingest.New(st, parsers, svc, ingest.Config{
		MaxChars:           cfg.ChunkSize,
		Overlap:            cfg.ChunkOverlap,
		EmbeddingBatchSize: cfg.EmbeddingBatchSize,
	})

	var ingestRunner *task.Runner
	handler := func(ctx context.Context, t task.Task, emit func(task.Event)) error {
		documentID, ok := t.Payload.(int64)
		if !ok {
			return fmt.Errorf("ingest: task %s carries no document id", t.ID)
		}
		return pipeline.Run(ctx, documentID, emit, func() bool { return ingestRunner.Cancelled(t.ID) })
	}
	ingestRunner = task.NewRunner(task.NewMemQueue(64), bus, handler)
	go ingestRunner.Run(context.Background())

	retriever := retrieval.New(st, svc)
	chatEng := chat.New(st, retriever, svc, chat.Config{RetrievalK: cfg.RetrievalKChat, MemoryWindow: cfg.ChatMemoryWindow})
	generator, err := generate.New(st, retriever, svc, generate.Config{RetrievalK: cfg.RetrievalKGenerate})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("scholaria: building generator: %w", err)
	}
	podcasts := podcast.New(st, svc, bus, cfg.AudioDir, cfg.MaxPodcastVersions)

	if err := st.ReconcileAudioFiles(context.Background()); err != nil {
		slog.Warn("scholaria: audio reconciliation failed", "error", err)
	}

	return &Engine{
		cfg:           cfg,
		store:         st,
		parsers:       parsers,
		settingsSvc:   svc,
		bus:           bus,
		ingestRunner:  ingestRunner,
		retriever:     retriever,
		chatEng:       chatEng,
		generator:     generator,
		podcasts:      podcasts,
		uploadsDir:    cfg.UploadsDir,
		audioDir:      cfg.AudioDir,
		podcastCancel: make(map[int64]context.CancelFunc),
	}, nil
}

// seedSettings writes cfg's defaults into the singleton row the first time
// the database is opened (an already-configured provider is left untouched).
func seedSettings(ctx context.Context, svc *settings.Service, cfg SettingsConfig) error {
	cur, err := svc.Get(ctx)
	if err != nil {
		return err
	}
	if cur.LLMProvider != "" || cur.EmbeddingProvider != "" {
		return nil
	}
	return svc.Update(ctx, store.Settings{
		LLMProvider:            cfg.LLMProvider,
		OpenAIAPIKey:           cfg.OpenAIAPIKey,
		OpenAIModel:            cfg.OpenAIModel,
		OllamaBaseURL:          cfg.OllamaBaseURL,
		EmbeddingProvider:      cfg.EmbeddingProvider,
		EmbeddingModel:         cfg.EmbeddingModel,
		EnableVisionProcessing: cfg.EnableVisionProcessing,
		VisionProvider:         cfg.VisionProvider,
		OllamaVisionModel:      cfg.OllamaVisionModel,
	})
}

// Close releases the underlying database connection.
func (e *Engine) Close() error { return e.store.Close() }

// Store exposes the underlying persistence layer for read-only HTTP handlers
// (listing, lookups) that don't warrant a dedicated Engine method.
func (e *Engine) Store() *store.Store { return e.store }

// Bus exposes the shared progress bus so the HTTP surface can subscribe to
// ingestion/podcast/download progress streams.
func (e *Engine) Bus() *task.Bus { return e.bus }

// UploadsDir and AudioDir expose the configured storage roots (spec §6
// "Persisted state layout").
func (e *Engine) UploadsDir() string { return e.uploadsDir }
func (e *Engine) AudioDir() string   { return e.audioDir }

// --- Workspaces & documents ---

// CreateWorkspace creates a new workspace.
func (e *Engine) CreateWorkspace(ctx context.Context, name string) (*store.Workspace, error) {
	if name == "" {
		return nil, NewValidationError("name is required")
	}
	id, err := e.store.CreateWorkspace(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("scholaria: creating workspace: %w", err)
	}
	return e.store.GetWorkspace(ctx, id)
}

// ListWorkspaces returns every workspace.
func (e *Engine) ListWorkspaces(ctx context.Context) ([]store.Workspace, error) {
	return e.store.ListWorkspaces(ctx)
}

// GetWorkspace loads one workspace, wrapping a missing row as NotFoundError.
func (e *Engine) GetWorkspace(ctx context.Context, id int64) (*store.Workspace, error) {
	ws, err := e.store.GetWorkspace(ctx, id)
	if err != nil {
		return nil, NewNotFoundError("workspace %d not found", id)
	}
	return ws, nil
}

// ListDocuments returns every document in a workspace.
func (e *Engine) ListDocuments(ctx context.Context, workspaceID int64) ([]store.Document, error) {
	return e.store.ListDocumentsByWorkspace(ctx, workspaceID)
}

// GetDocument loads one document, wrapping a missing row as NotFoundError.
func (e *Engine) GetDocument(ctx context.Context, id int64) (*store.Document, error) {
	d, err := e.store.GetDocument(ctx, id)
	if err != nil {
		return nil, NewNotFoundError("document %d not found", id)
	}
	return d, nil
}

// UploadDocument saves an uploaded file under uploadsDir/<workspace_id>/,
// creates its document stub (status=pending), and submits an ingestion task
// (spec §6 "POST /workspaces/{id}/upload", §4.2, §4.3).
func (e *Engine) UploadDocument(ctx context.Context, workspaceID int64, filename string, data []byte) (*store.Document, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if _, err := e.GetWorkspace(ctx, workspaceID); err != nil {
		return nil, err
	}

	fileType := fileTypeFromName(filename)
	if _, err := e.parsers.Get(fileType); err != nil {
		return nil, ErrUnsupportedFormat
	}

	dir := filepath.Join(e.uploadsDir, strconv.FormatInt(workspaceID, 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("scholaria: creating upload dir: %w", err)
	}
	path := filepath.Join(dir, filepath.Base(filename))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("scholaria: saving upload: %w", err)
	}

	docID, err := e.store.CreateDocument(ctx, store.Document{
		WorkspaceID: workspaceID,
		Title:       filepath.Base(filename),
		FileType:    fileType,
		FilePath:    path,
	})
	if err != nil {
		return nil, fmt.Errorf("scholaria: creating document: %w", err)
	}

	if err := e.submitIngest(ctx, docID); err != nil {
		return nil, err
	}
	return e.store.GetDocument(ctx, docID)
}

// ReprocessDocument resets a document to pending and resubmits ingestion
// (spec §6 "POST /documents/{id}/reprocess").
func (e *Engine) ReprocessDocument(ctx context.Context, documentID int64) error {
	if _, err := e.GetDocument(ctx, documentID); err != nil {
		return err
	}
	if err := e.store.UpdateDocumentStatus(ctx, documentID, store.StatusPending, nil); err != nil {
		return fmt.Errorf("scholaria: resetting document status: %w", err)
	}
	return e.submitIngest(ctx, documentID)
}

func (e *Engine) submitIngest(ctx context.Context, documentID int64) error {
	dedupeKey := "document:" + strconv.FormatInt(documentID, 10)
	_, err := e.ingestRunner.Submit(ctx, "ingest", dedupeKey, documentID)
	if err != nil {
		return fmt.Errorf("scholaria: submitting ingestion task: %w", err)
	}
	return nil
}

// DeleteDocument removes a document and cascades its chunks (spec §6 "DELETE
// /documents/{id}").
func (e *Engine) DeleteDocument(ctx context.Context, documentID int64) error {
	if _, err := e.GetDocument(ctx, documentID); err != nil {
		return err
	}
	if err := e.store.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("scholaria: deleting document: %w", err)
	}
	return nil
}

func fileTypeFromName(filename string) string {
	ext := filepath.Ext(filename)
	if len(ext) > 0 && ext[0] == '.' {
		ext = ext[1:]
	}
	return ext
}

// --- Chat ---

// Chat drives one chat turn for a workspace (spec §4.7, §6 "POST /chat").
func (e *Engine) Chat(ctx context.Context, workspaceID int64, message string) (string, error) {
	if message == "" {
		return "", NewValidationError("message is required")
	}
	if err := e.requireCompletedDocuments(ctx, workspaceID); err != nil {
		return "", err
	}
	return e.chatEng.Chat(ctx, workspaceID, message)
}

// ChatHistory returns the full chat transcript for a workspace (spec §6 "GET
// /chat/history/{workspace_id}").
func (e *Engine) ChatHistory(ctx context.Context, workspaceID int64) ([]store.ChatMessage, error) {
	return e.store.ChatHistory(ctx, workspaceID)
}

func (e *Engine) requireCompletedDocuments(ctx context.Context, workspaceID int64) error {
	docs, err := e.store.ListDocumentsByWorkspace(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("scholaria: listing documents: %w", err)
	}
	for _, d := range docs {
		if d.Status == store.StatusCompleted {
			return nil
		}
	}
	return ErrNoCompletedDocuments
}

// --- Generation ---

// Generate produces (or replaces) one artifact for a workspace/topic (spec
// §4.8, §6 "POST /generate/{kind}").
func (e *Engine) Generate(ctx context.Context, workspaceID int64, topic, kind string) (string, error) {
	if topic == "" {
		return "", NewValidationError("topic is required")
	}
	if err := e.requireCompletedDocuments(ctx, workspaceID); err != nil {
		return "", err
	}
	return e.generator.Generate(ctx, workspaceID, topic, kind)
}

// ExistingArtifacts returns every cached artifact for a workspace/topic
// (spec §6 "GET /generate/existing").
func (e *Engine) ExistingArtifacts(ctx context.Context, workspaceID int64, topic string) (map[string]store.Artifact, error) {
	return e.generator.GetExisting(ctx, workspaceID, topic)
}

// --- Podcasts ---

// GeneratePodcastVersion generates a new podcast script artifact (every call
// produces a fresh script), creates a version row, and starts synthesis in the background
// (spec §4.8 podcast_script, §4.9 steps 1-3, §6 "POST /generate/podcast").
func (e *Engine) GeneratePodcastVersion(ctx context.Context, workspaceID int64, topic, podType, voiceA, voiceAName string, voiceB, voiceBName *string) (*store.PodcastVersion, error) {
	if topic == "" {
		return nil, NewValidationError("topic is required")
	}
	if podType != "single" && podType != "duo" {
		return nil, NewValidationError("type must be 'single' or 'duo'")
	}
	if err := e.requireCompletedDocuments(ctx, workspaceID); err != nil {
		return nil, err
	}

	payload, err := e.generator.Generate(ctx, workspaceID, topic, store.KindPodcastScript, podType)
	if err != nil {
		return nil, err
	}
	scriptArtifact, err := e.store.GetArtifact(ctx, workspaceID, topic, store.KindPodcastScript)
	if err != nil {
		return nil, fmt.Errorf("scholaria: loading cached podcast script: %w", err)
	}

	script, err := decodePodcastScript(payload)
	if err != nil {
		return nil, err
	}
	if podType == "duo" {
		if err := requireTwoVoices(script); err != nil {
			return nil, err
		}
	}

	versionID, err := e.podcasts.CreateVersion(ctx, store.PodcastVersion{
		WorkspaceID: workspaceID,
		Topic:       topic,
		Type:        podType,
		VoiceA:      voiceA,
		VoiceB:      voiceB,
		VoiceAName:  voiceAName,
		VoiceBName:  voiceBName,
		ScriptRef:   scriptArtifact.ID,
	})
	if err != nil {
		return nil, err
	}

	e.startSynthesis(workspaceID, versionID, script.Script)
	return e.store.GetPodcastVersion(ctx, versionID)
}

// ResynthesizePodcast regenerates the audio for the newest version of
// (workspace, topic, type) in place, recasting the script with a new voice
// pair (spec §4.9 "Re-synthesis: replaces audio in place on the same
// version", §6 "POST /generate/podcast/resynthesize?type=duo" body
// {workspace_id, topic, voice_a, voice_b}).
func (e *Engine) ResynthesizePodcast(ctx context.Context, workspaceID int64, topic, podType, voiceA, voiceAName string, voiceB, voiceBName *string) (*store.PodcastVersion, error) {
	if topic == "" {
		return nil, NewValidationError("topic is required")
	}
	if podType != "single" && podType != "duo" {
		return nil, NewValidationError("type must be 'single' or 'duo'")
	}

	versions, err := e.store.ListPodcastVersions(ctx, workspaceID, topic, podType)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, NewNotFoundError("no %s podcast version for %q in workspace %d", podType, topic, workspaceID)
	}
	v := versions[0] // newest first (store.ListPodcastVersions orders by created_at desc)

	artifact, err := e.store.GetArtifactByID(ctx, v.ScriptRef)
	if err != nil {
		return nil, fmt.Errorf("scholaria: loading script for version %d: %w", v.ID, err)
	}
	script, err := decodePodcastScript(artifact.Payload)
	if err != nil {
		return nil, err
	}
	if podType == "duo" {
		if err := requireTwoVoices(script); err != nil {
			return nil, err
		}
	}
	turns := recastVoices(script, voiceA, voiceB)

	if err := e.store.UpdatePodcastVersionVoices(ctx, v.ID, voiceA, voiceAName, voiceB, voiceBName); err != nil {
		return nil, fmt.Errorf("scholaria: updating version %d voices: %w", v.ID, err)
	}

	ctx2, cancel := context.WithCancel(context.Background())
	e.cancelMu.Lock()
	e.podcastCancel[v.ID] = cancel
	e.cancelMu.Unlock()

	go func() {
		defer func() {
			e.cancelMu.Lock()
			delete(e.podcastCancel, v.ID)
			e.cancelMu.Unlock()
			cancel()
		}()
		if err := e.podcasts.Resynthesize(ctx2, v.ID, turns, func() bool { return ctx2.Err() != nil }); err != nil {
			slog.Warn("scholaria: podcast resynthesis failed", "version_id", v.ID, "error", err)
		}
	}()
	return e.store.GetPodcastVersion(ctx, v.ID)
}

// recastVoices rebuilds a script's turns under a new voice pair: the first
// speaker encountered takes voiceA, the second takes voiceB (falling back to
// voiceA for a single-voice script or any further speaker).
func recastVoices(script *podcast.Script, voiceA string, voiceB *string) []podcast.ScriptTurn {
	cast := make(map[string]string, 2)
	turns := make([]podcast.ScriptTurn, len(script.Script))
	for i, t := range script.Script {
		voice, assigned := cast[t.Speaker]
		if !assigned {
			switch {
			case len(cast) == 0:
				voice = voiceA
			case len(cast) == 1 && voiceB != nil:
				voice = *voiceB
			default:
				voice = voiceA
			}
			cast[t.Speaker] = voice
		}
		turns[i] = podcast.ScriptTurn{Speaker: t.Speaker, Voice: voice, Text: t.Text}
	}
	return turns
}

func (e *Engine) startSynthesis(workspaceID, versionID int64, turns []podcast.ScriptTurn) {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancelMu.Lock()
	e.podcastCancel[versionID] = cancel
	e.cancelMu.Unlock()

	go func() {
		defer func() {
			e.cancelMu.Lock()
			delete(e.podcastCancel, versionID)
			e.cancelMu.Unlock()
			cancel()
		}()
		if err := e.podcasts.Synthesize(ctx, workspaceID, versionID, turns, func() bool { return ctx.Err() != nil }); err != nil {
			slog.Warn("scholaria: podcast synthesis failed", "version_id", versionID, "error", err)
		}
	}()
}

// CancelPodcastSynthesis requests cancellation of an in-flight synthesis.
func (e *Engine) CancelPodcastSynthesis(versionID int64) {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	if cancel, ok := e.podcastCancel[versionID]; ok {
		cancel()
	}
}

// SubscribePodcastProgress exposes the SSE progress stream for a podcast
// version (spec §6 "GET /podcast/synthesis/progress/{version_id}").
func (e *Engine) SubscribePodcastProgress(versionID int64) (<-chan task.Event, func()) {
	return e.podcasts.Subscribe(versionID)
}

// ListPodcastVersions lists every retained version for (workspace, topic,
// type) (spec §6 "GET /podcasts/versions").
func (e *Engine) ListPodcastVersions(ctx context.Context, workspaceID int64, topic, podType string) ([]store.PodcastVersion, error) {
	return e.store.ListPodcastVersions(ctx, workspaceID, topic, podType)
}

// GetPodcastVersion loads one version, wrapping a missing row as NotFoundError.
func (e *Engine) GetPodcastVersion(ctx context.Context, versionID int64) (*store.PodcastVersion, error) {
	v, err := e.store.GetPodcastVersion(ctx, versionID)
	if err != nil {
		return nil, NewNotFoundError("podcast version %d not found", versionID)
	}
	return v, nil
}

// DeletePodcastVersion removes a version row and its audio file.
func (e *Engine) DeletePodcastVersion(ctx context.Context, versionID int64) error {
	v, err := e.GetPodcastVersion(ctx, versionID)
	if err != nil {
		return err
	}
	if err := e.store.DeletePodcastVersion(ctx, versionID); err != nil {
		return fmt.Errorf("scholaria: deleting podcast version: %w", err)
	}
	if v.AudioPath != nil {
		_ = os.Remove(*v.AudioPath)
	}
	return nil
}

// ListVoices returns the TTS voice catalogue for the global settings
// (spec §6 "GET /tts/voices" carries no workspace scope).
func (e *Engine) ListVoices(ctx context.Context) ([]llmVoice, error) {
	provider, err := e.globalTTSProvider(ctx)
	if err != nil {
		return nil, err
	}
	voices, err := provider.ListVoices(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]llmVoice, len(voices))
	for i, v := range voices {
		out[i] = llmVoice{ID: v.ID, Name: v.Name, Gender: v.Gender}
	}
	return out, nil
}

// SynthesizeNarration synthesizes a one-off audio clip for UI previews
// (spec §6 "GET /generate/narration?text=&voice="), bypassing podcast
// versioning entirely.
func (e *Engine) SynthesizeNarration(ctx context.Context, text, voice string) ([]byte, error) {
	if text == "" {
		return nil, NewValidationError("text is required")
	}
	provider, err := e.globalTTSProvider(ctx)
	if err != nil {
		return nil, err
	}
	return provider.Synthesize(ctx, text, voice)
}

func (e *Engine) globalTTSProvider(ctx context.Context) (llm.TTSProvider, error) {
	st, err := e.settingsSvc.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("scholaria: loading settings: %w", err)
	}
	eff := settings.Effective{OpenAIAPIKey: st.OpenAIAPIKey}
	if err := eff.RequireTTS(); err != nil {
		return nil, err
	}
	return llm.NewTTSProvider(llm.Config{Provider: "openai", APIKey: eff.OpenAIAPIKey})
}

// llmVoice mirrors llm.Voice so cmd/server doesn't need to import llm
// directly for JSON encoding.
type llmVoice struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Gender string `json:"gender,omitempty"`
}

func decodePodcastScript(payload string) (*podcast.Script, error) {
	var script podcast.Script
	if err := json.Unmarshal([]byte(payload), &script); err != nil {
		return nil, fmt.Errorf("scholaria: decoding podcast script: %w", err)
	}
	return &script, nil
}

func requireTwoVoices(script *podcast.Script) error {
	speakers := make(map[string]struct{})
	for _, t := range script.Script {
		speakers[t.Speaker] = struct{}{}
	}
	if len(speakers) < 2 {
		return NewValidationError("duo podcast requires a script with at least two distinct speakers")
	}
	return nil
}

// --- Settings & runtime ---

// GetSettings returns the current global settings row and the cached
// runtime probe (spec §6 "GET /settings").
func (e *Engine) GetSettings(ctx context.Context) (*store.Settings, settings.RuntimeInfo, error) {
	st, err := e.settingsSvc.Get(ctx)
	if err != nil {
		return nil, settings.RuntimeInfo{}, fmt.Errorf("scholaria: loading settings: %w", err)
	}
	return st, e.settingsSvc.RuntimeInfo(), nil
}

// UpdateSettings validates and writes the global settings row (spec §6
// "POST /settings").
func (e *Engine) UpdateSettings(ctx context.Context, st store.Settings) error {
	return e.settingsSvc.Update(ctx, st)
}

// UpdateWorkspaceSettings applies per-workspace provider overrides.
func (e *Engine) UpdateWorkspaceSettings(ctx context.Context, workspaceID int64, upd store.WorkspaceSettingsUpdate) error {
	if _, err := e.GetWorkspace(ctx, workspaceID); err != nil {
		return err
	}
	return e.store.UpdateWorkspaceSettings(ctx, workspaceID, upd)
}

// DownloadModel starts a cancellable, progress-streaming model download
// (spec §4.4 "Model download", §6 "POST /settings/download-model"). Only one
// download may run at a time; a second call cancels the first.
func (e *Engine) DownloadModel(provider, model string) string {
	e.cancelMu.Lock()
	if e.downloadCancel != nil {
		e.downloadCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.downloadCancel = cancel
	e.cancelMu.Unlock()

	downloadID := "download:" + provider + ":" + model
	go func() {
		defer func() {
			e.cancelMu.Lock()
			// A cancelled ctx means a later call or CancelDownload already
			// replaced or cleared the slot; leave it to them.
			if ctx.Err() == nil {
				e.downloadCancel = nil
			}
			e.cancelMu.Unlock()
			cancel()
		}()
		e.settingsSvc.DownloadModel(ctx, downloadID, provider, model)
	}()
	return downloadID
}

// CancelDownload cancels the in-flight model download, if any (spec §6
// "POST /settings/cancel-download").
func (e *Engine) CancelDownload() {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	if e.downloadCancel != nil {
		e.downloadCancel()
		e.downloadCancel = nil
	}
}

// SubscribeProgress exposes the progress stream for any id minted by this
// engine (ingestion task id or model-download id).
func (e *Engine) SubscribeProgress(id string) (<-chan task.Event, func()) {
	return e.bus.Subscribe(id)
}
