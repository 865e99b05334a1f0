package catalog

import "github.com/flowzap/flowzap/pkg/models"

// builtinSchemas returns the JSON schema of every supported node kind's
// configuration payload. Semantic rules that JSON schema cannot express
// (unique option ids, for example) live in validateSemantics.
func builtinSchemas() map[models.NodeKind]map[string]any {
	return map[models.NodeKind]map[string]any{
		models.NodeKindTrigger: {
			"type": "object",
			"properties": map[string]any{
				"keyword": map[string]any{
					"type":        "string",
					"description": "Inbound keyword to match; empty matches any message",
				},
			},
		},
		models.NodeKindMessage: {
			"type":     "object",
			"required": []any{"text"},
			"properties": map[string]any{
				"text": map[string]any{
					"type":        "string",
					"minLength":   1,
					"description": "Outbound message text; may reference session variables",
				},
			},
		},
		models.NodeKindMedia: {
			"type":     "object",
			"required": []any{"url"},
			"properties": map[string]any{
				"url": map[string]any{
					"type":      "string",
					"minLength": 1,
				},
			},
		},
		models.NodeKindCondition: {
			"type":     "object",
			"required": []any{"options"},
			"properties": map[string]any{
				"options": map[string]any{
					"type":     "array",
					"minItems": 1,
					"items": map[string]any{
						"type":     "object",
						"required": []any{"id", "label"},
						"properties": map[string]any{
							"id":    map[string]any{"type": "string"},
							"label": map[string]any{"type": "string"},
						},
					},
				},
			},
		},
		models.NodeKindHTTP: {
			"type":     "object",
			"required": []any{"url", "method"},
			"properties": map[string]any{
				"url": map[string]any{
					"type":      "string",
					"minLength": 1,
				},
				"method": map[string]any{
					"type": "string",
					"enum": []any{"GET", "POST", "PUT", "DELETE"},
				},
				"payload": map[string]any{
					"type":        "string",
					"description": "JSON payload template",
				},
				"response_var": map[string]any{
					"type":        "string",
					"description": "Session variable receiving the response body",
				},
			},
		},
		models.NodeKindVariable: {
			"type":     "object",
			"required": []any{"name"},
			"properties": map[string]any{
				"name":  map[string]any{"type": "string", "minLength": 1},
				"value": map[string]any{"type": "string"},
			},
		},
		models.NodeKindWait: {
			"type":     "object",
			"required": []any{"seconds"},
			"properties": map[string]any{
				"seconds": map[string]any{
					"type":    "integer",
					"minimum": 1,
				},
			},
		},
		models.NodeKindHuman: {
			"type": "object",
			"properties": map[string]any{
				"instruction": map[string]any{
					"type":        "string",
					"description": "Instruction shown to the live operator",
				},
			},
		},
	}
}
