// Package chat implements the context-grounded conversational engine (spec
// §4.7, C7): append the user turn, retrieve supporting context, replay
// recent memory, and constrain the model to answer only from what was
// retrieved.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/arborist-labs/scholaria/llm"
	"github.com/arborist-labs/scholaria/retrieval"
	"github.com/arborist-labs/scholaria/settings"
	"github.com/arborist-labs/scholaria/store"
)

// fallbackPhrase is what the assistant must say when context does not
// support an answer (spec §4.7 step 4).
const fallbackPhrase = "I don't find that in the provided materials."

const systemInstruction = `You are a study assistant that answers questions strictly using the material provided below in the CONTEXT block. Do not use outside knowledge. If the context does not contain the answer, reply exactly: "` + fallbackPhrase + `"`

// Config controls retrieval depth and memory window (spec §4.7 steps 2-3,
// Open Question (b)).
type Config struct {
	RetrievalK   int
	MemoryWindow int
}

// DefaultConfig mirrors the spec's defaults (k=6, last 10 messages).
func DefaultConfig() Config {
	return Config{RetrievalK: 6, MemoryWindow: 10}
}

func (c Config) withDefaults() Config {
	if c.RetrievalK <= 0 {
		c.RetrievalK = 6
	}
	if c.MemoryWindow <= 0 {
		c.MemoryWindow = 10
	}
	return c
}

// Engine drives one workspace's chat turns (spec §4.7).
type Engine struct {
	store     *store.Store
	retriever *retrieval.Retriever
	settings  *settings.Service
	cfg       Config
}

// New wires an Engine from its collaborators.
func New(st *store.Store, r *retrieval.Retriever, svc *settings.Service, cfg Config) *Engine {
	return &Engine{store: st, retriever: r, settings: svc, cfg: cfg.withDefaults()}
}

// Chat appends message to the workspace's history, retrieves supporting
// context, replays recent memory, calls the LLM under a grounding-only
// system instruction, appends the assistant's reply, and returns it (spec
// §4.7 steps 1-5).
func (e *Engine) Chat(ctx context.Context, workspaceID int64, message string) (string, error) {
	if _, err := e.store.AppendChatMessage(ctx, workspaceID, "user", message); err != nil {
		return "", fmt.Errorf("chat: appending user message: %w", err)
	}

	retrieved, err := e.retriever.Retrieve(ctx, workspaceID, message, e.cfg.RetrievalK)
	if err != nil {
		return "", err
	}

	history, err := e.store.ChatHistory(ctx, workspaceID)
	if err != nil {
		return "", fmt.Errorf("chat: loading history: %w", err)
	}
	memory := recentMemory(history, e.cfg.MemoryWindow)

	ws, err := e.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return "", fmt.Errorf("chat: loading workspace %d: %w", workspaceID, err)
	}
	eff, err := e.settings.Effective(ctx, ws)
	if err != nil {
		return "", fmt.Errorf("chat: resolving effective settings: %w", err)
	}
	if err := eff.RequireLLM(); err != nil {
		return "", err
	}

	provider, err := llm.NewProvider(llm.Config{
		Provider: eff.LLMProvider,
		Model:    eff.OpenAIModel,
		BaseURL:  eff.OllamaBaseURL,
		APIKey:   eff.OpenAIAPIKey,
	})
	if err != nil {
		return "", fmt.Errorf("chat: building provider: %w", err)
	}

	messages := buildMessages(retrieved, memory, message)
	resp, err := provider.Chat(ctx, llm.ChatRequest{Messages: messages, Temperature: 0.2})
	if err != nil {
		return "", err
	}

	if _, err := e.store.AppendChatMessage(ctx, workspaceID, "assistant", resp.Content); err != nil {
		return "", fmt.Errorf("chat: appending assistant message: %w", err)
	}
	return resp.Content, nil
}

// recentMemory returns the last n messages, oldest-first, excluding the
// most recently appended message (the just-appended user turn — spec §4.7
// step 3: "excluding the just-appended user turn").
func recentMemory(history []store.ChatMessage, n int) []store.ChatMessage {
	if len(history) == 0 {
		return nil
	}
	prior := history[:len(history)-1]
	if len(prior) <= n {
		return prior
	}
	return prior[len(prior)-n:]
}

func buildMessages(retrieved []retrieval.Result, memory []store.ChatMessage, userMessage string) []llm.Message {
	messages := []llm.Message{{Role: "system", Content: systemInstruction}}

	var ctxBlock strings.Builder
	ctxBlock.WriteString("CONTEXT:\n")
	if len(retrieved) == 0 {
		ctxBlock.WriteString("(no supporting material found)\n")
	}
	for _, r := range retrieved {
		fmt.Fprintf(&ctxBlock, "- [%s #%d] %s\n", r.Title, r.Ordinal, r.Content)
	}
	messages = append(messages, llm.Message{Role: "system", Content: ctxBlock.String()})

	for _, m := range memory {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}

	messages = append(messages, llm.Message{Role: "user", Content: userMessage})
	return messages
}
