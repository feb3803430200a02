package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arborist-labs/scholaria"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := scholaria.DefaultConfig()
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			slog.Error("opening config", "error", err)
			os.Exit(1)
		}
		if err := json.NewDecoder(f).Decode(&cfg); err != nil {
			f.Close()
			slog.Error("parsing config", "error", err)
			os.Exit(1)
		}
		f.Close()
	}

	if v := os.Getenv("SCHOLARIA_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("SCHOLARIA_STORAGE_DIR"); v != "" {
		cfg.StorageDir = v
	}
	if v := os.Getenv("SCHOLARIA_UPLOADS_DIR"); v != "" {
		cfg.UploadsDir = v
	}
	if v := os.Getenv("SCHOLARIA_AUDIO_DIR"); v != "" {
		cfg.AudioDir = v
	}
	if v := os.Getenv("SCHOLARIA_LLM_PROVIDER"); v != "" {
		cfg.Settings.LLMProvider = v
	}
	if v := os.Getenv("SCHOLARIA_OPENAI_MODEL"); v != "" {
		cfg.Settings.OpenAIModel = v
	}
	if v := os.Getenv("SCHOLARIA_OLLAMA_BASE_URL"); v != "" {
		cfg.Settings.OllamaBaseURL = v
	}
	if v := os.Getenv("SCHOLARIA_EMBEDDING_PROVIDER"); v != "" {
		cfg.Settings.EmbeddingProvider = v
	}
	if v := os.Getenv("SCHOLARIA_EMBEDDING_MODEL"); v != "" {
		cfg.Settings.EmbeddingModel = v
	}
	if v := os.Getenv("SCHOLARIA_VISION_PROVIDER"); v != "" {
		cfg.Settings.VisionProvider = v
	}

	// Fallback: check well-known provider env vars for the API key.
	if cfg.Settings.OpenAIAPIKey == "" {
		cfg.Settings.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	}

	apiKey := os.Getenv("SCHOLARIA_API_KEY")
	corsOrigins := os.Getenv("SCHOLARIA_CORS_ORIGINS")

	engine, err := scholaria.New(cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	shutdownTracing := setupTracing()
	defer shutdownTracing(context.Background())

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	// Middleware chain: recovery -> cors -> auth -> tracing -> logging -> mux
	r.Use(recoveryMiddleware(), corsMiddleware(corsOrigins), authMiddleware(apiKey), tracingMiddleware(), logMiddleware())

	h := newHandler(engine)
	h.register(r)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses (SSE, narration can be long)
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
