package store

// schemaSQL is the DDL for every base table. Vector embedding tables are
// created lazily, one per distinct dimension (see ensureVecTable), since
// chunks across documents may carry different (provider, model)
// fingerprints and therefore different dimensions (spec §3 Chunk).
const schemaSQL = `
CREATE TABLE IF NOT EXISTS workspaces (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    llm_provider TEXT,
    openai_api_key TEXT,
    openai_model TEXT,
    ollama_base_url TEXT,
    embedding_provider TEXT,
    embedding_model TEXT,
    enable_vision_processing INTEGER,
    vision_provider TEXT,
    ollama_vision_model TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS documents (
    id INTEGER PRIMARY KEY,
    workspace_id INTEGER NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
    title TEXT NOT NULL,
    file_type TEXT NOT NULL,
    file_path TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    error_message TEXT,
    embedding_provider TEXT,
    embedding_model TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chunks (
    id INTEGER PRIMARY KEY,
    document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    workspace_id INTEGER NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
    ordinal INTEGER NOT NULL,
    content TEXT NOT NULL,
    metadata JSON,
    embedding_dim INTEGER NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chat_messages (
    id INTEGER PRIMARY KEY,
    workspace_id INTEGER NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS artifacts (
    id INTEGER PRIMARY KEY,
    workspace_id INTEGER NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
    topic TEXT NOT NULL,
    kind TEXT NOT NULL,
    payload JSON NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- One artifact per (workspace, topic, kind) for every kind except
-- podcast_script, which is versioned through podcast_versions instead.
CREATE UNIQUE INDEX IF NOT EXISTS idx_artifacts_unique_key
    ON artifacts(workspace_id, topic, kind) WHERE kind != 'podcast_script';

CREATE TABLE IF NOT EXISTS podcast_versions (
    id INTEGER PRIMARY KEY,
    workspace_id INTEGER NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
    topic TEXT NOT NULL,
    type TEXT NOT NULL,
    voice_a TEXT NOT NULL,
    voice_b TEXT,
    voice_a_name TEXT NOT NULL,
    voice_b_name TEXT,
    script_ref INTEGER NOT NULL REFERENCES artifacts(id) ON DELETE CASCADE,
    audio_path TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS settings (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    llm_provider TEXT NOT NULL DEFAULT '',
    openai_api_key TEXT NOT NULL DEFAULT '',
    openai_model TEXT NOT NULL DEFAULT '',
    ollama_base_url TEXT NOT NULL DEFAULT '',
    embedding_provider TEXT NOT NULL DEFAULT '',
    embedding_model TEXT NOT NULL DEFAULT '',
    enable_vision_processing INTEGER NOT NULL DEFAULT 0,
    vision_provider TEXT NOT NULL DEFAULT '',
    ollama_vision_model TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_documents_workspace ON documents(workspace_id);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_workspace ON chunks(workspace_id);
CREATE INDEX IF NOT EXISTS idx_chat_messages_workspace ON chat_messages(workspace_id, id);
CREATE INDEX IF NOT EXISTS idx_artifacts_workspace_topic ON artifacts(workspace_id, topic);
CREATE INDEX IF NOT EXISTS idx_podcast_versions_key ON podcast_versions(workspace_id, topic, type, created_at);
`
