package generate

import (
	"fmt"
	"strings"

	"github.com/arborist-labs/scholaria/llm"
	"github.com/arborist-labs/scholaria/retrieval"
	"github.com/arborist-labs/scholaria/store"
)

// kindInstructions gives the per-kind shape instruction appended to the
// shared system prompt (spec §4.8's five JSON shapes).
var kindInstructions = map[string]string{
	store.KindLesson: `Produce a JSON object: {"topic": string, "sections": [{"title": string, "content": string, "key_points": [string]}]}. Write 3-6 sections covering the topic in depth, each with 2-5 key points.`,

	store.KindFlashcards: `Produce a JSON object: {"topic": string, "cards": [{"front": string, "back": string}]}. Produce between 10 and 20 cards, each testing one discrete fact or concept.`,

	store.KindQuiz: `Produce a JSON object: {"title": string, "questions": [{"question": string, "options": [string, string, string, string], "correct_answer_index": 0-3, "explanation": string}]}. Every question must have exactly 4 options and exactly one correct answer.`,

	store.KindMindmap: `Produce a JSON object: {"nodes": [{"id": string, "label": string, "type": "input"|"default"|"output"}], "edges": [{"source": string, "target": string, "label": string}]}. Exactly one node has type "input" (the root topic). Every edge's source and target must name an id present in nodes. The graph must be acyclic.`,

	store.KindPodcastScript: `Produce a JSON object: {"topic": string, "script": [{"speaker": string, "voice": string, "text": string}]}.`,
}

// podcastScriptShape picks the speaker-count instruction for a podcast
// script: a duo conversation alternates between two named speakers, while a
// single-narrator script sticks to one (spec §4.8 podcast_script: speaker
// count depends on type).
func podcastScriptShape(duo bool) string {
	if duo {
		return "Use at least two distinct speaker names, alternating naturally as a conversation."
	}
	return "Use exactly one speaker name throughout, as a single narrator."
}

// buildPrompt constructs the chat messages for one generation attempt: a
// shared system instruction, the per-kind shape, and a CONTEXT block built
// from retrieved chunks (spec §4.8 step 2). duo only affects
// store.KindPodcastScript.
func buildPrompt(kind, topic string, chunks []retrieval.Result, duo bool) []llm.Message {
	var ctxBlock strings.Builder
	ctxBlock.WriteString("CONTEXT:\n")
	if len(chunks) == 0 {
		ctxBlock.WriteString("(no supporting material found)\n")
	}
	for _, c := range chunks {
		fmt.Fprintf(&ctxBlock, "- [%s #%d] %s\n", c.Title, c.Ordinal, c.Content)
	}

	shape := kindInstructions[kind]
	if kind == store.KindPodcastScript {
		shape = shape + " " + podcastScriptShape(duo)
	}

	system := fmt.Sprintf(
		"You generate structured study material strictly from the material in the CONTEXT block below. Do not invent facts absent from it. Respond with JSON only, no prose, no Markdown code fences.\n\n%s",
		shape,
	)

	return []llm.Message{
		{Role: "system", Content: system},
		{Role: "system", Content: ctxBlock.String()},
		{Role: "user", Content: fmt.Sprintf("Topic: %s", topic)},
	}
}

// validateSemantics enforces the cross-field invariants JSON Schema cannot
// express on its own: mindmap edges must reference existing node ids and the
// graph must be acyclic, and a duo podcast script must use more than one
// speaker (spec §4.8's mindmap and podcast_script shapes). duo is ignored
// outside store.KindPodcastScript.
func validateSemantics(kind string, doc any, duo bool) error {
	switch kind {
	case store.KindMindmap:
		return validateMindmap(doc)
	case store.KindPodcastScript:
		return validatePodcastScript(doc, duo)
	default:
		return nil
	}
}

func validateMindmap(doc any) error {
	obj, ok := doc.(map[string]any)
	if !ok {
		return fmt.Errorf("mindmap: expected a JSON object")
	}
	nodes, _ := obj["nodes"].([]any)
	edges, _ := obj["edges"].([]any)

	ids := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		node, ok := n.(map[string]any)
		if !ok {
			continue
		}
		id, _ := node["id"].(string)
		ids[id] = true
	}

	adjacency := make(map[string][]string)
	for _, e := range edges {
		edge, ok := e.(map[string]any)
		if !ok {
			continue
		}
		src, _ := edge["source"].(string)
		dst, _ := edge["target"].(string)
		if !ids[src] {
			return fmt.Errorf("mindmap: edge source %q does not reference a known node", src)
		}
		if !ids[dst] {
			return fmt.Errorf("mindmap: edge target %q does not reference a known node", dst)
		}
		adjacency[src] = append(adjacency[src], dst)
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(ids))
	var visit func(string) bool
	visit = func(id string) bool {
		switch state[id] {
		case visiting:
			return true
		case done:
			return false
		}
		state[id] = visiting
		for _, next := range adjacency[id] {
			if visit(next) {
				return true
			}
		}
		state[id] = done
		return false
	}
	for id := range ids {
		if visit(id) {
			return fmt.Errorf("mindmap: graph contains a cycle reachable from node %q", id)
		}
	}
	return nil
}

func validatePodcastScript(doc any, duo bool) error {
	obj, ok := doc.(map[string]any)
	if !ok {
		return fmt.Errorf("podcast_script: expected a JSON object")
	}
	turns, _ := obj["script"].([]any)
	speakers := make(map[string]bool)
	for _, t := range turns {
		turn, ok := t.(map[string]any)
		if !ok {
			continue
		}
		if speaker, ok := turn["speaker"].(string); ok {
			speakers[speaker] = true
		}
	}
	if len(speakers) == 0 {
		return fmt.Errorf("podcast_script: expected at least 1 speaker, got 0")
	}
	if duo && len(speakers) < 2 {
		return fmt.Errorf("podcast_script: expected at least 2 distinct speakers for a duo podcast, got %d", len(speakers))
	}
	return nil
}
