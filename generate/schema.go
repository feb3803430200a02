package generate

import "github.com/arborist-labs/scholaria/store"

// schemaSource holds the JSON Schema text for each artifact kind (spec
// §4.8). Keyed by the same string constants store.go uses for Artifact.Kind.
var schemaSource = map[string]string{
	store.KindLesson: `{
		"type": "object",
		"required": ["topic", "sections"],
		"properties": {
			"topic": {"type": "string", "minLength": 1},
			"sections": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["title", "content", "key_points"],
					"properties": {
						"title": {"type": "string", "minLength": 1},
						"content": {"type": "string", "minLength": 1},
						"key_points": {"type": "array", "items": {"type": "string"}}
					}
				}
			}
		}
	}`,

	store.KindFlashcards: `{
		"type": "object",
		"required": ["topic", "cards"],
		"properties": {
			"topic": {"type": "string", "minLength": 1},
			"cards": {
				"type": "array",
				"minItems": 10,
				"maxItems": 20,
				"items": {
					"type": "object",
					"required": ["front", "back"],
					"properties": {
						"front": {"type": "string", "minLength": 1},
						"back": {"type": "string", "minLength": 1}
					}
				}
			}
		}
	}`,

	store.KindQuiz: `{
		"type": "object",
		"required": ["title", "questions"],
		"properties": {
			"title": {"type": "string", "minLength": 1},
			"questions": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["question", "options", "correct_answer_index", "explanation"],
					"properties": {
						"question": {"type": "string", "minLength": 1},
						"options": {
							"type": "array",
							"minItems": 4,
							"maxItems": 4,
							"items": {"type": "string", "minLength": 1}
						},
						"correct_answer_index": {"type": "integer", "minimum": 0, "maximum": 3},
						"explanation": {"type": "string", "minLength": 1}
					}
				}
			}
		}
	}`,

	store.KindMindmap: `{
		"type": "object",
		"required": ["nodes", "edges"],
		"properties": {
			"nodes": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["id", "label", "type"],
					"properties": {
						"id": {"type": "string", "minLength": 1},
						"label": {"type": "string", "minLength": 1},
						"type": {"type": "string", "enum": ["input", "default", "output"]}
					}
				}
			},
			"edges": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["source", "target"],
					"properties": {
						"source": {"type": "string"},
						"target": {"type": "string"},
						"label": {"type": "string"}
					}
				}
			}
		}
	}`,

	store.KindPodcastScript: `{
		"type": "object",
		"required": ["topic", "script"],
		"properties": {
			"topic": {"type": "string", "minLength": 1},
			"script": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["speaker", "voice", "text"],
					"properties": {
						"speaker": {"type": "string", "minLength": 1},
						"voice": {"type": "string", "minLength": 1},
						"text": {"type": "string", "minLength": 1}
					}
				}
			}
		}
	}`,
}
