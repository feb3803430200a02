package scholaria

import (
	"os"
	"path/filepath"
)

// Config holds process-wide configuration for the Scholaria engine. It seeds
// the mutable Settings singleton (§4.4, C3) at startup and controls storage
// locations and chunking defaults that are not caller-mutable at runtime.
type Config struct {
	// DBPath is the full path to the SQLite database file. If empty,
	// defaults to ~/.scholaria/<DBName>.db.
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName names the database file when DBPath is not set.
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database and storage tree live when
	// DBPath is not explicit. "home" (default) uses ~/.scholaria/, "local"
	// uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// UploadsDir and AudioDir are the filesystem roots for uploaded source
	// files and synthesized podcast audio (spec §6, "Persisted state layout").
	UploadsDir string `json:"uploads_dir" yaml:"uploads_dir"`
	AudioDir   string `json:"audio_dir" yaml:"audio_dir"`

	// Settings seeds the mutable Settings singleton (spec §3, §4.4).
	Settings SettingsConfig `json:"settings" yaml:"settings"`

	// Chunking (spec §4.2 phase 3, Open Question (a)).
	ChunkSize    int `json:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap" yaml:"chunk_overlap"`

	// EmbeddingBatchSize bounds embedding calls per batch (spec §4.2 phase 4).
	EmbeddingBatchSize int `json:"embedding_batch_size" yaml:"embedding_batch_size"`

	// RetrievalK{Chat,Generate} fix retrieval depth per call site (spec §9,
	// Open Question (b)).
	RetrievalKChat     int `json:"retrieval_k_chat" yaml:"retrieval_k_chat"`
	RetrievalKGenerate int `json:"retrieval_k_generate" yaml:"retrieval_k_generate"`

	// ChatMemoryWindow bounds how many prior messages are replayed into the
	// chat prompt (spec §4.7 step 3).
	ChatMemoryWindow int `json:"chat_memory_window" yaml:"chat_memory_window"`

	// MaxPodcastVersions is the per-(workspace,topic,type) LRU cap (spec §3).
	MaxPodcastVersions int `json:"max_podcast_versions" yaml:"max_podcast_versions"`

	// ProviderTimeout bounds every outbound LLM/embedding/vision/TTS call
	// (spec §5, "Cancellation & timeouts").
	ProviderTimeoutSeconds int `json:"provider_timeout_seconds" yaml:"provider_timeout_seconds"`
}

// SettingsConfig seeds the Settings singleton (spec §3 Settings entity).
type SettingsConfig struct {
	LLMProvider           string `json:"llm_provider" yaml:"llm_provider"`
	OpenAIAPIKey          string `json:"openai_api_key" yaml:"openai_api_key"`
	OpenAIModel           string `json:"openai_model" yaml:"openai_model"`
	OllamaBaseURL         string `json:"ollama_base_url" yaml:"ollama_base_url"`
	EmbeddingProvider     string `json:"embedding_provider" yaml:"embedding_provider"`
	EmbeddingModel        string `json:"embedding_model" yaml:"embedding_model"`
	EnableVisionProcessing bool  `json:"enable_vision_processing" yaml:"enable_vision_processing"`
	VisionProvider        string `json:"vision_provider" yaml:"vision_provider"`
	OllamaVisionModel      string `json:"ollama_vision_model" yaml:"ollama_vision_model"`
}

// DefaultConfig returns a Config with sensible defaults for local inference,
// mirroring the spec's defaults (1000/200 chunking, k=6/12 retrieval,
// MAX_VERSIONS=3).
func DefaultConfig() Config {
	return Config{
		DBName:             "scholaria",
		StorageDir:         "home",
		UploadsDir:         "storage/uploads",
		AudioDir:           "storage/audio",
		ChunkSize:          1000,
		ChunkOverlap:       200,
		EmbeddingBatchSize: 64,
		RetrievalKChat:     6,
		RetrievalKGenerate: 12,
		ChatMemoryWindow:   10,
		MaxPodcastVersions: 3,
		ProviderTimeoutSeconds: 120,
		Settings: SettingsConfig{
			LLMProvider:       "ollama",
			OpenAIModel:       "gpt-4o-mini",
			OllamaBaseURL:     "http://localhost:11434",
			EmbeddingProvider: "ollama",
			EmbeddingModel:    "nomic-embed-text",
			VisionProvider:    "ollama",
			OllamaVisionModel: "llama3.2-vision",
		},
	}
}

// resolveDBPath computes the final database path from config fields,
// following the teacher's home-vs-local storage-dir convention.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "scholaria"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db"
		}
		return filepath.Join(home, ".scholaria", name+".db")
	}
}
