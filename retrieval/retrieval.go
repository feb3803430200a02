// Package retrieval implements the single-fingerprint vector retriever (spec
// §4.6, C6): resolve effective embedding config, refuse workspaces with a
// completed document whose embedding fingerprint differs from the active one,
// embed the query, then search.
package retrieval

import (
	"context"
	"fmt"

	"github.com/arborist-labs/scholaria/llm"
	"github.com/arborist-labs/scholaria/settings"
	"github.com/arborist-labs/scholaria/store"
)

// IncompatibleEmbeddingsError signals that some of a workspace's completed
// documents were ingested under an (embedding_provider, embedding_model)
// fingerprint other than the active one (spec §4.6 step 3, §7). Owned here for the same import-cycle
// reason as settings.ConfigurationError: the root package aliases it.
type IncompatibleEmbeddingsError struct {
	WorkspaceID int64
	Documents   []IncompatibleDocument
}

// IncompatibleDocument names one document contributing to a fingerprint
// mismatch.
type IncompatibleDocument struct {
	DocumentID        int64
	Title             string
	EmbeddingProvider string
	EmbeddingModel    string
}

func (e *IncompatibleEmbeddingsError) Error() string {
	return fmt.Sprintf("retrieval: workspace %d has documents with incompatible embedding fingerprints (%d affected)",
		e.WorkspaceID, len(e.Documents))
}

// Result pairs a chunk's content with its originating document and retrieval
// score (spec §4.6 step 4: "return the content strings with document/ordinal
// metadata attached").
type Result struct {
	DocumentID int64
	Title      string
	Ordinal    int
	Content    string
	Score      float64
}

// Retriever performs fingerprint-checked vector search for one workspace at
// a time (spec §4.6).
type Retriever struct {
	store    *store.Store
	settings *settings.Service
}

// New wires a Retriever from its collaborators.
func New(st *store.Store, svc *settings.Service) *Retriever {
	return &Retriever{store: st, settings: svc}
}

// Retrieve resolves the effective embedding fingerprint, verifies the
// workspace carries no other fingerprint among its completed documents,
// embeds query under it, and returns the top-k chunks by cosine similarity
// (spec §4.6 steps 1-4).
func (r *Retriever) Retrieve(ctx context.Context, workspaceID int64, query string, k int) ([]Result, error) {
	ws, err := r.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("retrieval: loading workspace %d: %w", workspaceID, err)
	}

	eff, err := r.settings.Effective(ctx, ws)
	if err != nil {
		return nil, fmt.Errorf("retrieval: resolving effective settings: %w", err)
	}
	if err := eff.RequireEmbedding(); err != nil {
		return nil, err
	}

	fingerprints, err := r.store.DocumentFingerprints(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("retrieval: loading document fingerprints: %w", err)
	}
	active := store.Fingerprint{Provider: eff.EmbeddingProvider, Model: eff.EmbeddingModel}
	if mismatch := findMismatch(fingerprints, active); mismatch != nil {
		return nil, mismatch
	}

	embedder, err := llm.NewEmbedder(llm.Config{
		Provider: eff.EmbeddingProvider,
		Model:    eff.EmbeddingModel,
		BaseURL:  eff.OllamaBaseURL,
		APIKey:   eff.OpenAIAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval: building embedder: %w", err)
	}

	vecs, err := embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("retrieval: embedding query: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("retrieval: embedder returned no vector for query")
	}
	dim := len(vecs[0])

	hits, err := r.store.Search(ctx, workspaceID, vecs[0], dim, k)
	if err != nil {
		return nil, fmt.Errorf("retrieval: searching: %w", err)
	}

	titles := make(map[int64]string)
	results := make([]Result, len(hits))
	for i, h := range hits {
		title, ok := titles[h.Chunk.DocumentID]
		if !ok {
			doc, err := r.store.GetDocument(ctx, h.Chunk.DocumentID)
			if err == nil {
				title = doc.Title
			}
			titles[h.Chunk.DocumentID] = title
		}
		results[i] = Result{
			DocumentID: h.Chunk.DocumentID,
			Title:      title,
			Ordinal:    h.Chunk.Ordinal,
			Content:    h.Chunk.Content,
			Score:      h.Score,
		}
	}
	return results, nil
}

// findMismatch reports an IncompatibleEmbeddingsError naming every document
// whose fingerprint differs from active, or nil if fingerprints contains at
// most the active one.
func findMismatch(fingerprints map[store.Fingerprint][]store.Document, active store.Fingerprint) *IncompatibleEmbeddingsError {
	var offenders []IncompatibleDocument
	for fp, docs := range fingerprints {
		if fp == active {
			continue
		}
		for _, d := range docs {
			offenders = append(offenders, IncompatibleDocument{
				DocumentID:        d.ID,
				Title:             d.Title,
				EmbeddingProvider: fp.Provider,
				EmbeddingModel:    fp.Model,
			})
		}
	}
	if len(offenders) == 0 {
		return nil
	}
	var workspaceID int64
	for _, docs := range fingerprints {
		if len(docs) > 0 {
			workspaceID = docs[0].WorkspaceID
			break
		}
	}
	return &IncompatibleEmbeddingsError{WorkspaceID: workspaceID, Documents: offenders}
}
