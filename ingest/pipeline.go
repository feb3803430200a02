// Package ingest drives the five-phase document ingestion pipeline (spec
// §4.2, C4): extract, caption, chunk, embed, persist, run sequentially per
// document and resumable from phase 1 on retry.
package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/arborist-labs/scholaria/chunker"
	"github.com/arborist-labs/scholaria/llm"
	"github.com/arborist-labs/scholaria/parser"
	"github.com/arborist-labs/scholaria/settings"
	"github.com/arborist-labs/scholaria/store"
	"github.com/arborist-labs/scholaria/task"
)

// ErrCancelled is returned when a cooperative cancellation request is
// observed between phases (spec §4.3 "Cancellation").
var ErrCancelled = errors.New("ingest: cancelled")

// Config controls chunking and embedding-batch parameters (spec §4.2 phase
// 3/4, Open Question (a)).
type Config struct {
	MaxChars           int
	Overlap            int
	EmbeddingBatchSize int
}

// DefaultConfig mirrors the spec's defaults (1,000/200 chunking, batches of 64).
func DefaultConfig() Config {
	return Config{
		MaxChars:           chunker.DefaultMaxChars,
		Overlap:            chunker.DefaultOverlap,
		EmbeddingBatchSize: 64,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxChars <= 0 {
		c.MaxChars = chunker.DefaultMaxChars
	}
	if c.Overlap <= 0 {
		c.Overlap = chunker.DefaultOverlap
	}
	if c.EmbeddingBatchSize <= 0 {
		c.EmbeddingBatchSize = 64
	}
	return c
}

// Pipeline orchestrates extract→caption→chunk→embed→persist for one document
// at a time (spec §4.2).
type Pipeline struct {
	store    *store.Store
	parsers  *parser.Registry
	settings *settings.Service
	cfg      Config
}

// New wires a Pipeline from its collaborators.
func New(st *store.Store, parsers *parser.Registry, svc *settings.Service, cfg Config) *Pipeline {
	return &Pipeline{store: st, parsers: parsers, settings: svc, cfg: cfg.withDefaults()}
}

// Run executes all five phases for documentID, reporting progress through
// emit and polling cancelled between phases. The embedding fingerprint is
// resolved once at the start and used for every chunk regardless of
// mid-ingestion settings changes (spec §4.2 phase 4).
func (p *Pipeline) Run(ctx context.Context, documentID int64, emit func(task.Event), cancelled func() bool) error {
	doc, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("ingest: loading document %d: %w", documentID, err)
	}

	ws, err := p.store.GetWorkspace(ctx, doc.WorkspaceID)
	if err != nil {
		return fmt.Errorf("ingest: loading workspace %d: %w", doc.WorkspaceID, err)
	}

	eff, err := p.settings.Effective(ctx, ws)
	if err != nil {
		return p.fail(ctx, documentID, err)
	}
	if err := eff.RequireEmbedding(); err != nil {
		return p.fail(ctx, documentID, err)
	}
	if err := eff.RequireVision(); err != nil {
		return p.fail(ctx, documentID, err)
	}

	if err := p.store.UpdateDocumentStatus(ctx, documentID, store.StatusProcessing, nil); err != nil {
		return fmt.Errorf("ingest: marking processing: %w", err)
	}

	slog.Info("ingest: starting", "document_id", documentID, "title", doc.Title, "file_type", doc.FileType)
	start := time.Now()

	emit(task.Event{Status: task.StatusProcessing, Progress: 5, Message: "extracting"})
	items, err := p.extract(ctx, doc, eff)
	if err != nil {
		return p.fail(ctx, documentID, err)
	}
	if cancelled() {
		return p.cancel(ctx, documentID)
	}

	if eff.EnableVisionProcessing {
		emit(task.Event{Status: task.StatusProcessing, Progress: 25, Message: "captioning images"})
		items, err = p.caption(ctx, items, eff)
		if err != nil {
			return p.fail(ctx, documentID, err)
		}
	}
	if cancelled() {
		return p.cancel(ctx, documentID)
	}

	emit(task.Event{Status: task.StatusProcessing, Progress: 45, Message: "chunking"})
	texts := chunker.New(chunker.Config{MaxChars: p.cfg.MaxChars, Overlap: p.cfg.Overlap}).Chunk(items)
	if len(texts) == 0 {
		return p.fail(ctx, documentID, fmt.Errorf("ingest: document produced no chunkable text"))
	}
	if cancelled() {
		return p.cancel(ctx, documentID)
	}

	emit(task.Event{Status: task.StatusProcessing, Progress: 55, Message: "embedding"})
	embedder, err := llm.NewEmbedder(llm.Config{
		Provider: eff.EmbeddingProvider,
		Model:    eff.EmbeddingModel,
		BaseURL:  eff.OllamaBaseURL,
		APIKey:   eff.OpenAIAPIKey,
	})
	if err != nil {
		return p.fail(ctx, documentID, fmt.Errorf("ingest: building embedder: %w", err))
	}
	vectors, err := p.embedAll(ctx, embedder, texts)
	if err != nil {
		return p.fail(ctx, documentID, err)
	}
	if cancelled() {
		return p.cancel(ctx, documentID)
	}

	emit(task.Event{Status: task.StatusProcessing, Progress: 85, Message: "persisting"})
	if err := p.persist(ctx, doc, eff, texts, vectors); err != nil {
		return p.fail(ctx, documentID, err)
	}

	if err := p.store.UpdateDocumentStatus(ctx, documentID, store.StatusCompleted, nil); err != nil {
		return fmt.Errorf("ingest: marking completed: %w", err)
	}

	slog.Info("ingest: completed", "document_id", documentID, "chunks", len(texts),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// extract runs phase 1 through the registry's format dispatch.
func (p *Pipeline) extract(ctx context.Context, doc *store.Document, eff settings.Effective) ([]parser.Item, error) {
	pr, err := p.parsers.Get(doc.FileType)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	res, err := pr.Parse(ctx, doc.FilePath, parser.ParseOptions{ExtractImages: eff.EnableVisionProcessing})
	if err != nil {
		return nil, fmt.Errorf("ingest: extracting %s: %w", doc.FilePath, err)
	}
	return res.Items, nil
}

// caption runs phase 2, replacing each image_ref item in place with a text
// caption or the "[image: unreadable]" placeholder on per-image failure
// (spec §4.2 phase 2: "Failures for a single image ... are not fatal").
func (p *Pipeline) caption(ctx context.Context, items []parser.Item, eff settings.Effective) ([]parser.Item, error) {
	vision, err := llm.NewVisionProvider(llm.Config{
		Provider: eff.VisionProvider,
		Model:    eff.VisionModel(),
		BaseURL:  eff.OllamaBaseURL,
		APIKey:   eff.OpenAIAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: building vision provider: %w", err)
	}

	out := make([]parser.Item, len(items))
	for i, it := range items {
		if it.Kind != parser.ItemImage {
			out[i] = it
			continue
		}
		caption, err := captionImage(ctx, vision, it.Image)
		if err != nil {
			slog.Warn("ingest: image caption failed, using placeholder", "page", it.PageIndex, "error", err)
			caption = "[image: unreadable]"
		}
		out[i] = parser.Item{PageIndex: it.PageIndex, Kind: parser.ItemText, Text: caption}
	}
	return out, nil
}

func captionImage(ctx context.Context, vision llm.VisionProvider, img *parser.ExtractedImage) (string, error) {
	if img == nil {
		return "", fmt.Errorf("ingest: image item missing payload")
	}
	encoded := base64.StdEncoding.EncodeToString(img.Data)
	req := llm.VisionChatRequest{
		Messages: []llm.VisionMessage{
			{
				Role: "user",
				Content: []llm.ContentPart{
					{Type: "text", Text: "Describe this image in one or two sentences, focused on any text, diagrams, or data it contains."},
					{Type: "image_url", ImageURL: &llm.ImageURL{URL: fmt.Sprintf("data:%s;base64,%s", img.MIMEType, encoded)}},
				},
			},
		},
	}
	resp, err := vision.ChatWithImages(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// embedAll runs phase 4: batched embedding calls with per-text fallback when
// a batch fails, so one oversized input doesn't lose the whole batch
// (grounded on the teacher's embedChunks retry shape).
func (p *Pipeline) embedAll(ctx context.Context, embedder llm.Embedder, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	batchSize := p.cfg.EmbeddingBatchSize

	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		vecs, err := embedder.Embed(ctx, batch)
		if err == nil && len(vecs) == len(batch) {
			copy(out[start:end], vecs)
			continue
		}

		slog.Warn("ingest: embedding batch failed, falling back to per-text", "start", start, "end", end, "error", err)
		for i, text := range batch {
			vec, err := embedder.Embed(ctx, []string{text})
			if err != nil || len(vec) != 1 {
				return nil, fmt.Errorf("ingest: embedding chunk %d: %w", start+i, err)
			}
			out[start+i] = vec[0]
		}
	}
	return out, nil
}

// persist runs phase 5: delete-then-insert for idempotent retry, then records
// the fingerprint (spec §4.2 phase 5).
func (p *Pipeline) persist(ctx context.Context, doc *store.Document, eff settings.Effective, texts []string, vectors [][]float32) error {
	if err := p.store.DeleteChunks(ctx, doc.ID); err != nil {
		return fmt.Errorf("ingest: deleting old chunks: %w", err)
	}

	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}

	chunks := make([]store.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = store.Chunk{
			DocumentID:   doc.ID,
			WorkspaceID:  doc.WorkspaceID,
			Ordinal:      i,
			Content:      text,
			EmbeddingDim: dim,
			Embedding:    vectors[i],
		}
	}
	if err := p.store.InsertChunks(ctx, chunks); err != nil {
		return fmt.Errorf("ingest: inserting chunks: %w", err)
	}
	if err := p.store.SetDocumentFingerprint(ctx, doc.ID, eff.EmbeddingProvider, eff.EmbeddingModel); err != nil {
		return fmt.Errorf("ingest: setting fingerprint: %w", err)
	}
	return nil
}

func (p *Pipeline) fail(ctx context.Context, documentID int64, err error) error {
	msg := err.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}
	if uerr := p.store.UpdateDocumentStatus(ctx, documentID, store.StatusFailed, &msg); uerr != nil {
		slog.Warn("ingest: failed to record failure status", "document_id", documentID, "error", uerr)
	}
	slog.Warn("ingest: failed", "document_id", documentID, "error", err)
	return err
}

func (p *Pipeline) cancel(ctx context.Context, documentID int64) error {
	if err := p.store.DeleteChunks(ctx, documentID); err != nil {
		slog.Warn("ingest: cleanup after cancellation failed", "document_id", documentID, "error", err)
	}
	msg := "cancelled"
	if err := p.store.UpdateDocumentStatus(ctx, documentID, store.StatusFailed, &msg); err != nil {
		slog.Warn("ingest: failed to record cancellation status", "document_id", documentID, "error", err)
	}
	return ErrCancelled
}
