// Package store implements the transactional persistence layer (spec §3,
// C2 Chunk Store): workspaces, documents, chunks with per-dimension vector
// embeddings, chat history, generated artifacts, and podcast versions, all
// backed by SQLite with the sqlite-vec extension for k-NN search.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Workspace represents a row in the workspaces table, including nullable
// per-workspace overrides merged over the global Settings singleton by the
// effective-config resolver (spec §4.4).
type Workspace struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`

	LLMProvider            sql.NullString `json:"-"`
	OpenAIAPIKey           sql.NullString `json:"-"`
	OpenAIModel            sql.NullString `json:"-"`
	OllamaBaseURL          sql.NullString `json:"-"`
	EmbeddingProvider      sql.NullString `json:"-"`
	EmbeddingModel         sql.NullString `json:"-"`
	EnableVisionProcessing sql.NullBool   `json:"-"`
	VisionProvider         sql.NullString `json:"-"`
	OllamaVisionModel      sql.NullString `json:"-"`
}

// Document is a row in the documents table (spec §3 Document).
type Document struct {
	ID                int64   `json:"id"`
	WorkspaceID       int64   `json:"workspace_id"`
	Title             string  `json:"title"`
	FileType          string  `json:"file_type"`
	FilePath          string  `json:"file_path"`
	Status            string  `json:"status"`
	ErrorMessage      *string `json:"error_message,omitempty"`
	EmbeddingProvider *string `json:"embedding_provider,omitempty"`
	EmbeddingModel    *string `json:"embedding_model,omitempty"`
	CreatedAt         string  `json:"created_at"`
}

// Fingerprint status values (spec §3 Document invariants).
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Chunk is a row in the chunks table (spec §3 Chunk).
type Chunk struct {
	ID           int64  `json:"id"`
	DocumentID   int64  `json:"document_id"`
	WorkspaceID  int64  `json:"workspace_id"`
	Ordinal      int    `json:"ordinal"`
	Content      string `json:"content"`
	Metadata     string `json:"metadata,omitempty"` // opaque JSON
	EmbeddingDim int    `json:"-"`
	Embedding    []float32 `json:"-"`
}

// ChatMessage is a row in the chat_messages table (spec §3 ChatMessage).
type ChatMessage struct {
	ID          int64  `json:"id"`
	WorkspaceID int64  `json:"workspace_id"`
	Role        string `json:"role"` // "user" | "assistant"
	Content     string `json:"content"`
	CreatedAt   string `json:"created_at"`
}

// Artifact kinds (spec §3 Artifact, §4.8).
const (
	KindLesson        = "lesson"
	KindFlashcards    = "flashcards"
	KindQuiz          = "quiz"
	KindMindmap       = "mindmap"
	KindPodcastScript = "podcast_script"
)

// Artifact is a row in the artifacts table (spec §3 Artifact).
type Artifact struct {
	ID          int64  `json:"id"`
	WorkspaceID int64  `json:"workspace_id"`
	Topic       string `json:"topic"`
	Kind        string `json:"kind"`
	Payload     string `json:"payload"` // opaque JSON conforming to the per-kind schema
	CreatedAt   string `json:"created_at"`
}

// PodcastVersion is a row in the podcast_versions table (spec §3 PodcastVersion).
type PodcastVersion struct {
	ID          int64   `json:"id"`
	WorkspaceID int64   `json:"workspace_id"`
	Topic       string  `json:"topic"`
	Type        string  `json:"type"` // "single" | "duo"
	VoiceA      string  `json:"voice_a"`
	VoiceB      *string `json:"voice_b,omitempty"`
	VoiceAName  string  `json:"voice_a_name"`
	VoiceBName  *string `json:"voice_b_name,omitempty"`
	ScriptRef   int64   `json:"script_ref"`
	AudioPath   *string `json:"audio_path,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

// Settings is the process-wide singleton row (spec §3 Settings).
type Settings struct {
	LLMProvider            string `json:"llm_provider"`
	OpenAIAPIKey           string `json:"openai_api_key"`
	OpenAIModel            string `json:"openai_model"`
	OllamaBaseURL          string `json:"ollama_base_url"`
	EmbeddingProvider      string `json:"embedding_provider"`
	EmbeddingModel         string `json:"embedding_model"`
	EnableVisionProcessing bool   `json:"enable_vision_processing"`
	VisionProvider         string `json:"vision_provider"`
	OllamaVisionModel      string `json:"ollama_vision_model"`
}

// Fingerprint identifies the (provider, model) pair that determines a
// chunk's embedding dimension and distance semantics (spec Glossary).
type Fingerprint struct {
	Provider string
	Model    string
}

// SearchResult pairs a chunk with its retrieval score (spec §4.1 search).
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// Store wraps the SQLite database for all persistence (spec §3, §4.1).
type Store struct {
	db *sql.DB

	vecTablesMu sync.RWMutex
	vecTables   map[int]bool

	audioDirsMu sync.Mutex
	audioDirs   []string
}

// New opens (or creates) a SQLite database at the given path and
// initializes the base schema plus sqlite-vec support.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// SQLite tolerates only one writer at a time; keep the pool small and
	// let callers serialize through the connection, consistent with spec
	// §5's "connections are short-lived acquisitions" guidance.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, vecTables: make(map[int]bool)}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// DB returns the underlying *sql.DB for advanced/diagnostic queries.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// --- Workspace operations ---

// CreateWorkspace inserts a new workspace and returns its ID.
func (s *Store) CreateWorkspace(ctx context.Context, name string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "INSERT INTO workspaces (name) VALUES (?)", name)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetWorkspace retrieves a workspace by ID.
func (s *Store) GetWorkspace(ctx context.Context, id int64) (*Workspace, error) {
	w := &Workspace{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, llm_provider, openai_api_key, openai_model, ollama_base_url,
			embedding_provider, embedding_model, enable_vision_processing,
			vision_provider, ollama_vision_model, created_at
		FROM workspaces WHERE id = ?
	`, id).Scan(&w.ID, &w.Name, &w.LLMProvider, &w.OpenAIAPIKey, &w.OpenAIModel, &w.OllamaBaseURL,
		&w.EmbeddingProvider, &w.EmbeddingModel, &w.EnableVisionProcessing,
		&w.VisionProvider, &w.OllamaVisionModel, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// WorkspaceSettingsUpdate carries the per-workspace provider overrides (spec
// §4.4 "workspace.<field> ?? settings.<field>"); nil fields are left
// untouched.
type WorkspaceSettingsUpdate struct {
	LLMProvider            *string
	OpenAIAPIKey           *string
	OpenAIModel            *string
	OllamaBaseURL          *string
	EmbeddingProvider      *string
	EmbeddingModel         *string
	EnableVisionProcessing *bool
	VisionProvider         *string
	OllamaVisionModel      *string
}

// UpdateWorkspaceSettings applies the given overrides to a workspace. Fields
// left nil in upd retain their current value.
func (s *Store) UpdateWorkspaceSettings(ctx context.Context, id int64, upd WorkspaceSettingsUpdate) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workspaces SET
			llm_provider = COALESCE(?, llm_provider),
			openai_api_key = COALESCE(?, openai_api_key),
			openai_model = COALESCE(?, openai_model),
			ollama_base_url = COALESCE(?, ollama_base_url),
			embedding_provider = COALESCE(?, embedding_provider),
			embedding_model = COALESCE(?, embedding_model),
			enable_vision_processing = COALESCE(?, enable_vision_processing),
			vision_provider = COALESCE(?, vision_provider),
			ollama_vision_model = COALESCE(?, ollama_vision_model)
		WHERE id = ?
	`, upd.LLMProvider, upd.OpenAIAPIKey, upd.OpenAIModel, upd.OllamaBaseURL,
		upd.EmbeddingProvider, upd.EmbeddingModel, upd.EnableVisionProcessing,
		upd.VisionProvider, upd.OllamaVisionModel, id)
	return err
}

// ListWorkspaces returns all workspaces ordered by creation time descending.
func (s *Store) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, llm_provider, openai_api_key, openai_model, ollama_base_url,
			embedding_provider, embedding_model, enable_vision_processing,
			vision_provider, ollama_vision_model, created_at
		FROM workspaces ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Workspace
	for rows.Next() {
		var w Workspace
		if err := rows.Scan(&w.ID, &w.Name, &w.LLMProvider, &w.OpenAIAPIKey, &w.OpenAIModel, &w.OllamaBaseURL,
			&w.EmbeddingProvider, &w.EmbeddingModel, &w.EnableVisionProcessing,
			&w.VisionProvider, &w.OllamaVisionModel, &w.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// --- Document operations ---

// CreateDocument inserts a pending document and returns its ID.
func (s *Store) CreateDocument(ctx context.Context, d Document) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (workspace_id, title, file_type, file_path, status)
		VALUES (?, ?, ?, ?, ?)
	`, d.WorkspaceID, d.Title, d.FileType, d.FilePath, StatusPending)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id int64) (*Document, error) {
	d := &Document{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, title, file_type, file_path, status,
			error_message, embedding_provider, embedding_model, created_at
		FROM documents WHERE id = ?
	`, id).Scan(&d.ID, &d.WorkspaceID, &d.Title, &d.FileType, &d.FilePath, &d.Status,
		&d.ErrorMessage, &d.EmbeddingProvider, &d.EmbeddingModel, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ListDocumentsByWorkspace returns documents for a workspace, newest first.
func (s *Store) ListDocumentsByWorkspace(ctx context.Context, workspaceID int64) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, title, file_type, file_path, status,
			error_message, embedding_provider, embedding_model, created_at
		FROM documents WHERE workspace_id = ? ORDER BY created_at DESC
	`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.WorkspaceID, &d.Title, &d.FileType, &d.FilePath, &d.Status,
			&d.ErrorMessage, &d.EmbeddingProvider, &d.EmbeddingModel, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateDocumentStatus sets status and, for failures, an error message.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id int64, status string, errMsg *string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE documents SET status = ?, error_message = ? WHERE id = ?",
		status, errMsg, id)
	return err
}

// SetDocumentFingerprint records the (provider, model) fingerprint that
// produced the document's chunks (spec §3: "set when ingestion writes the
// first chunk").
func (s *Store) SetDocumentFingerprint(ctx context.Context, id int64, provider, model string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE documents SET embedding_provider = ?, embedding_model = ? WHERE id = ?",
		provider, model, id)
	return err
}

// DeleteDocument removes a document; FK cascade removes its chunks and
// embeddings (spec §3: "delete cascades").
func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	return err
}

// DocumentFingerprints returns the set of distinct (provider, model)
// fingerprints across a workspace's completed documents (spec §4.1).
func (s *Store) DocumentFingerprints(ctx context.Context, workspaceID int64) (map[Fingerprint][]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, title, file_type, file_path, status,
			error_message, embedding_provider, embedding_model, created_at
		FROM documents WHERE workspace_id = ? AND status = ? AND embedding_provider IS NOT NULL
	`, workspaceID, StatusCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[Fingerprint][]Document)
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.WorkspaceID, &d.Title, &d.FileType, &d.FilePath, &d.Status,
			&d.ErrorMessage, &d.EmbeddingProvider, &d.EmbeddingModel, &d.CreatedAt); err != nil {
			return nil, err
		}
		if d.EmbeddingProvider == nil || d.EmbeddingModel == nil {
			continue
		}
		fp := Fingerprint{Provider: *d.EmbeddingProvider, Model: *d.EmbeddingModel}
		out[fp] = append(out[fp], d)
	}
	return out, rows.Err()
}

// --- Chunk + embedding operations ---

// ensureVecTable lazily creates the per-dimension vec0 virtual table used
// for k-NN search (spec §3 Chunk: "store MUST permit different d across
// chunks"). Configured with cosine distance so MATCH ordering and the
// 1-distance score both read as cosine similarity (spec §4.1 "ranked by
// cosine similarity descending").
func (s *Store) ensureVecTable(ctx context.Context, dim int) error {
	s.vecTablesMu.RLock()
	ok := s.vecTables[dim]
	s.vecTablesMu.RUnlock()
	if ok {
		return nil
	}

	s.vecTablesMu.Lock()
	defer s.vecTablesMu.Unlock()
	if s.vecTables[dim] {
		return nil
	}

	stmt := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(chunk_id INTEGER PRIMARY KEY, embedding float[%d] distance_metric=cosine)`,
		vecTableName(dim), dim)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("creating vec table for dim %d: %w", dim, err)
	}
	s.vecTables[dim] = true
	return nil
}

func vecTableName(dim int) string { return fmt.Sprintf("vec_chunks_%d", dim) }

// InsertChunks atomically inserts a batch of chunks and their embeddings for
// one document (spec §4.1 insert_chunks: "all-or-nothing").
func (s *Store) InsertChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	dims := make(map[int]bool)
	for _, c := range chunks {
		dims[c.EmbeddingDim] = true
	}
	for d := range dims {
		if err := s.ensureVecTable(ctx, d); err != nil {
			return err
		}
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (document_id, workspace_id, ordinal, content, metadata, embedding_dim)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range chunks {
			res, err := stmt.ExecContext(ctx, c.DocumentID, c.WorkspaceID, c.Ordinal, c.Content, c.Metadata, c.EmbeddingDim)
			if err != nil {
				return err
			}
			chunkID, err := res.LastInsertId()
			if err != nil {
				return err
			}

			vecStmt := fmt.Sprintf("INSERT INTO %s (chunk_id, embedding) VALUES (?, ?)", vecTableName(c.EmbeddingDim))
			if _, err := tx.ExecContext(ctx, vecStmt, chunkID, serializeFloat32(c.Embedding)); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteChunks atomically removes all chunks (and their embeddings) for a
// document (spec §4.1 delete_chunks).
func (s *Store) DeleteChunks(ctx context.Context, documentID int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT id, embedding_dim FROM chunks WHERE document_id = ?", documentID)
		if err != nil {
			return err
		}
		dims := make(map[int]bool)
		for rows.Next() {
			var id int64
			var dim int
			if err := rows.Scan(&id, &dim); err != nil {
				rows.Close()
				return err
			}
			dims[dim] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for dim := range dims {
			if !tableExistsAfterEnsure(ctx, tx, vecTableName(dim)) {
				continue
			}
			del := fmt.Sprintf("DELETE FROM %s WHERE chunk_id IN (SELECT id FROM chunks WHERE document_id = ?)", vecTableName(dim))
			if _, err := tx.ExecContext(ctx, del, documentID); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID)
		return err
	})
}

func tableExistsAfterEnsure(ctx context.Context, tx *sql.Tx, name string) bool {
	var n int
	_ = tx.QueryRowContext(ctx, "SELECT count(*) FROM sqlite_master WHERE name = ?", name).Scan(&n)
	return n > 0
}

// searchOverfetchFactor and searchOverfetchCap bound how many candidates we
// pull from the dimension-specific vec0 table before filtering to one
// workspace. sqlite-vec's vec0 MATCH...k clause returns its k nearest
// neighbors across the whole table; since the table is not partitioned by
// workspace, we overfetch then filter+re-limit in SQL so workspace
// isolation (spec invariant 3) never shrinks a small workspace's results
// below k just because other workspaces' chunks are nearer in distance.
const (
	searchOverfetchFactor = 20
	searchOverfetchCap    = 2000
)

// Search returns the top-k chunks in a workspace whose embedding dimension
// equals dim, ranked by cosine similarity descending, ties broken by
// (document_id, ordinal) ascending (spec §4.1 search).
func (s *Store) Search(ctx context.Context, workspaceID int64, queryEmbedding []float32, dim, k int) ([]SearchResult, error) {
	if err := s.ensureVecTable(ctx, dim); err != nil {
		return nil, err
	}

	overfetch := k * searchOverfetchFactor
	if overfetch < k {
		overfetch = k
	}
	if overfetch > searchOverfetchCap {
		overfetch = searchOverfetchCap
	}

	q := fmt.Sprintf(`
		SELECT c.id, c.document_id, c.workspace_id, c.ordinal, c.content, c.metadata, c.embedding_dim, sub.distance
		FROM (
			SELECT chunk_id, distance FROM %s WHERE embedding MATCH ? AND k = ?
		) sub
		JOIN chunks c ON c.id = sub.chunk_id
		WHERE c.workspace_id = ?
		ORDER BY sub.distance ASC, c.document_id ASC, c.ordinal ASC
		LIMIT ?
	`, vecTableName(dim))

	rows, err := s.db.QueryContext(ctx, q, serializeFloat32(queryEmbedding), overfetch, workspaceID, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var c Chunk
		var distance float64
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.WorkspaceID, &c.Ordinal, &c.Content, &c.Metadata, &c.EmbeddingDim, &distance); err != nil {
			return nil, err
		}
		out = append(out, SearchResult{Chunk: c, Score: 1.0 - distance})
	}
	return out, rows.Err()
}

// --- Chat message operations ---

// AppendChatMessage inserts a chat message and returns its ID (spec §3
// ChatMessage: "append-only").
func (s *Store) AppendChatMessage(ctx context.Context, workspaceID int64, role, content string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO chat_messages (workspace_id, role, content) VALUES (?, ?, ?)",
		workspaceID, role, content)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ChatHistory returns a workspace's messages oldest-first (spec §3 ChatMessage).
func (s *Store) ChatHistory(ctx context.Context, workspaceID int64) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, role, content, created_at
		FROM chat_messages WHERE workspace_id = ? ORDER BY id ASC
	`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.WorkspaceID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Artifact operations ---

// UpsertArtifact inserts or replaces the cached artifact for
// (workspace_id, topic, kind). Not valid for KindPodcastScript, which is
// versioned; use InsertPodcastScript instead (spec §3 Artifact).
func (s *Store) UpsertArtifact(ctx context.Context, workspaceID int64, topic, kind, payload string) (int64, error) {
	if kind == KindPodcastScript {
		return 0, fmt.Errorf("store: use InsertPodcastScript for kind %q", KindPodcastScript)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (workspace_id, topic, kind, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(workspace_id, topic, kind) WHERE kind != 'podcast_script' DO UPDATE SET
			payload = excluded.payload,
			created_at = CURRENT_TIMESTAMP
	`, workspaceID, topic, kind, payload)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if id == 0 {
		row := s.db.QueryRowContext(ctx,
			"SELECT id FROM artifacts WHERE workspace_id = ? AND topic = ? AND kind = ?",
			workspaceID, topic, kind)
		if err := row.Scan(&id); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// InsertPodcastScript always inserts a new artifact row for a podcast
// script generation (spec §3: "versioned"; each podcast version owns its
// own script artifact).
func (s *Store) InsertPodcastScript(ctx context.Context, workspaceID int64, topic, payload string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO artifacts (workspace_id, topic, kind, payload) VALUES (?, ?, ?, ?)",
		workspaceID, topic, KindPodcastScript, payload)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetArtifact returns the newest artifact for (workspace_id, topic, kind),
// or sql.ErrNoRows if absent.
func (s *Store) GetArtifact(ctx context.Context, workspaceID int64, topic, kind string) (*Artifact, error) {
	a := &Artifact{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, topic, kind, payload, created_at
		FROM artifacts WHERE workspace_id = ? AND topic = ? AND kind = ?
		ORDER BY id DESC LIMIT 1
	`, workspaceID, topic, kind).Scan(&a.ID, &a.WorkspaceID, &a.Topic, &a.Kind, &a.Payload, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetArtifactByID retrieves an artifact by its primary key (used to resolve
// a PodcastVersion.ScriptRef).
func (s *Store) GetArtifactByID(ctx context.Context, id int64) (*Artifact, error) {
	a := &Artifact{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, topic, kind, payload, created_at
		FROM artifacts WHERE id = ?
	`, id).Scan(&a.ID, &a.WorkspaceID, &a.Topic, &a.Kind, &a.Payload, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ExistingArtifacts returns every cached non-podcast-script artifact for a
// (workspace, topic), keyed by kind (spec §4.8 get_existing).
func (s *Store) ExistingArtifacts(ctx context.Context, workspaceID int64, topic string) (map[string]Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, topic, kind, payload, created_at
		FROM artifacts WHERE workspace_id = ? AND topic = ? AND kind != ?
	`, workspaceID, topic, KindPodcastScript)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Artifact)
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.ID, &a.WorkspaceID, &a.Topic, &a.Kind, &a.Payload, &a.CreatedAt); err != nil {
			return nil, err
		}
		out[a.Kind] = a
	}
	return out, rows.Err()
}

// --- Podcast version operations ---

// CreatePodcastVersion inserts a new version row with audio_path unset
// (spec §4.9 step 1).
func (s *Store) CreatePodcastVersion(ctx context.Context, v PodcastVersion) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO podcast_versions (workspace_id, topic, type, voice_a, voice_b, voice_a_name, voice_b_name, script_ref, audio_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`, v.WorkspaceID, v.Topic, v.Type, v.VoiceA, v.VoiceB, v.VoiceAName, v.VoiceBName, v.ScriptRef)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// SetPodcastAudioPath records the finished audio file for a version (spec
// §4.9 step 4), or clears it back to NULL for re-synthesis in place.
func (s *Store) SetPodcastAudioPath(ctx context.Context, versionID int64, path *string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE podcast_versions SET audio_path = ? WHERE id = ?", path, versionID)
	return err
}

// UpdatePodcastVersionVoices overwrites the voice assignment on an existing
// version in place, for re-synthesis with a new cast (spec §6 "POST
// /generate/podcast/resynthesize").
func (s *Store) UpdatePodcastVersionVoices(ctx context.Context, versionID int64, voiceA, voiceAName string, voiceB, voiceBName *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE podcast_versions SET voice_a = ?, voice_a_name = ?, voice_b = ?, voice_b_name = ?
		WHERE id = ?
	`, voiceA, voiceAName, voiceB, voiceBName, versionID)
	return err
}

// GetPodcastVersion retrieves a podcast version by ID.
func (s *Store) GetPodcastVersion(ctx context.Context, id int64) (*PodcastVersion, error) {
	v := &PodcastVersion{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, topic, type, voice_a, voice_b, voice_a_name, voice_b_name, script_ref, audio_path, created_at
		FROM podcast_versions WHERE id = ?
	`, id).Scan(&v.ID, &v.WorkspaceID, &v.Topic, &v.Type, &v.VoiceA, &v.VoiceB, &v.VoiceAName, &v.VoiceBName, &v.ScriptRef, &v.AudioPath, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// ListPodcastVersions returns versions for (workspace, topic, type), newest
// first (spec §6 GET /podcasts/versions).
func (s *Store) ListPodcastVersions(ctx context.Context, workspaceID int64, topic, typ string) ([]PodcastVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, topic, type, voice_a, voice_b, voice_a_name, voice_b_name, script_ref, audio_path, created_at
		FROM podcast_versions WHERE workspace_id = ? AND topic = ? AND type = ?
		ORDER BY created_at DESC, id DESC
	`, workspaceID, topic, typ)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PodcastVersion
	for rows.Next() {
		var v PodcastVersion
		if err := rows.Scan(&v.ID, &v.WorkspaceID, &v.Topic, &v.Type, &v.VoiceA, &v.VoiceB, &v.VoiceAName, &v.VoiceBName, &v.ScriptRef, &v.AudioPath, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// DeletePodcastVersion removes a version row (caller deletes the audio file
// separately, since the store has no filesystem access).
func (s *Store) DeletePodcastVersion(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM podcast_versions WHERE id = ?", id)
	return err
}

// EvictOldestPodcastVersions deletes the oldest versions of (workspace,
// topic, type) beyond maxVersions and returns the evicted rows so the
// caller can remove their audio files (spec §3 PodcastVersion, §4.9 step 2).
func (s *Store) EvictOldestPodcastVersions(ctx context.Context, workspaceID int64, topic, typ string, maxVersions int) ([]PodcastVersion, error) {
	all, err := s.ListPodcastVersions(ctx, workspaceID, topic, typ)
	if err != nil {
		return nil, err
	}
	if len(all) <= maxVersions {
		return nil, nil
	}

	evicted := all[maxVersions:] // ListPodcastVersions is newest-first
	for _, v := range evicted {
		if err := s.DeletePodcastVersion(ctx, v.ID); err != nil {
			return nil, err
		}
	}
	return evicted, nil
}

// --- Settings operations ---

// GetSettings returns the singleton settings row, creating it with zero
// values if absent.
func (s *Store) GetSettings(ctx context.Context) (*Settings, error) {
	st := &Settings{}
	var visionInt int
	err := s.db.QueryRowContext(ctx, `
		SELECT llm_provider, openai_api_key, openai_model, ollama_base_url,
			embedding_provider, embedding_model, enable_vision_processing,
			vision_provider, ollama_vision_model
		FROM settings WHERE id = 1
	`).Scan(&st.LLMProvider, &st.OpenAIAPIKey, &st.OpenAIModel, &st.OllamaBaseURL,
		&st.EmbeddingProvider, &st.EmbeddingModel, &visionInt,
		&st.VisionProvider, &st.OllamaVisionModel)
	if err == sql.ErrNoRows {
		if _, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO settings (id) VALUES (1)"); err != nil {
			return nil, err
		}
		return s.GetSettings(ctx)
	}
	if err != nil {
		return nil, err
	}
	st.EnableVisionProcessing = visionInt != 0
	return st, nil
}

// UpdateSettings writes through the singleton settings row in one UPDATE
// statement. Neither the store nor settings.Service takes a lock around it.
func (s *Store) UpdateSettings(ctx context.Context, st Settings) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE settings SET llm_provider = ?, openai_api_key = ?, openai_model = ?, ollama_base_url = ?,
			embedding_provider = ?, embedding_model = ?, enable_vision_processing = ?,
			vision_provider = ?, ollama_vision_model = ?
		WHERE id = 1
	`, st.LLMProvider, st.OpenAIAPIKey, st.OpenAIModel, st.OllamaBaseURL,
		st.EmbeddingProvider, st.EmbeddingModel, st.EnableVisionProcessing,
		st.VisionProvider, st.OllamaVisionModel)
	return err
}

// --- filesystem reconciliation (spec §5 "Shared resources") ---

// RegisterAudioDir tells the store where synthesized audio files live so
// reconcileAudioFiles can sweep orphans left behind by a crash between file
// write and row deletion (spec §5: "may briefly leak files on crash — a
// startup sweep reconciles").
func (s *Store) RegisterAudioDir(dir string) {
	s.audioDirsMu.Lock()
	defer s.audioDirsMu.Unlock()
	s.audioDirs = append(s.audioDirs, dir)
}

// ReconcileAudioFiles sweeps every registered audio directory and removes
// any file not referenced by a podcast_versions row, recovering from a crash
// between writing a file and committing its row (spec §5).
func (s *Store) ReconcileAudioFiles(ctx context.Context) error {
	s.audioDirsMu.Lock()
	dirs := append([]string(nil), s.audioDirs...)
	s.audioDirsMu.Unlock()
	if len(dirs) == 0 {
		return nil
	}
	rows, err := s.db.QueryContext(ctx, "SELECT audio_path FROM podcast_versions WHERE audio_path IS NOT NULL")
	if err != nil {
		return err
	}
	known := make(map[string]bool)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return err
		}
		known[p] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue // directory may not exist yet
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			full := filepath.Join(dir, e.Name())
			if !known[full] {
				os.Remove(full)
			}
		}
	}
	return nil
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
