package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
)

// ToolHandler executes one named tool and returns a JSON string for the
// model to read.
type ToolHandler func(ctx context.Context, userID string, args json.RawMessage) (string, error)

// ToolRegistry is the name->handler dispatch used inside the deep tier's
// tool-calling loop.
type ToolRegistry struct {
	handlers map[string]ToolHandler
	defs     []ToolDef
}

func NewToolRegistry(db *sql.DB) *ToolRegistry {
	r := &ToolRegistry{handlers: make(map[string]ToolHandler)}

	r.register("check_personal_dictionary",
		"Check whether a word is in the writer's personal dictionary and should not be flagged.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"word": map[string]any{"type": "string"},
			},
			"required": []string{"word"},
		},
		func(ctx context.Context, userID string, args json.RawMessage) (string, error) {
			var in struct {
				Word string `json:"word"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return "", fmt.Errorf("bad arguments: %w", err)
			}
			found, err := InDictionary(db, userID, in.Word)
			if err != nil {
				return "", err
			}
			return marshalToolResult(map[string]any{"word": in.Word, "in_dictionary": found})
		})

	r.register("get_confusion_pairs",
		"List word pairs this writer habitually confuses.",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(ctx context.Context, userID string, args json.RawMessage) (string, error) {
			pairs, err := GetConfusionPairs(db, userID)
			if err != nil {
				return "", err
			}
			out := make([]map[string]any, 0, len(pairs))
			for _, p := range pairs {
				out = append(out, map[string]any{
					"word_a": p.WordA, "word_b": p.WordB, "count": p.ConfusionCount,
				})
			}
			return marshalToolResult(out)
		})

	r.register("get_error_patterns",
		"List this writer's most frequent error patterns.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"limit": map[string]any{"type": "integer"},
			},
		},
		func(ctx context.Context, userID string, args json.RawMessage) (string, error) {
			var in struct {
				Limit int `json:"limit"`
			}
			_ = json.Unmarshal(args, &in)
			if in.Limit <= 0 || in.Limit > 50 {
				in.Limit = 10
			}
			patterns, err := GetPatternsByUser(db, userID)
			if err != nil {
				return "", err
			}
			if len(patterns) > in.Limit {
				patterns = patterns[:in.Limit]
			}
			out := make([]map[string]any, 0, len(patterns))
			for _, p := range patterns {
				out = append(out, map[string]any{
					"misspelling": p.Misspelling, "correction": p.Correction,
					"type": p.ErrorType, "frequency": p.Frequency,
				})
			}
			return marshalToolResult(out)
		})

	return r
}

func (r *ToolRegistry) register(name, description string, params map[string]any, h ToolHandler) {
	r.handlers[name] = h
	r.defs = append(r.defs, ToolDef{
		Type: "function",
		Function: ToolDefFunction{
			Name:        name,
			Description: description,
			Parameters:  params,
		},
	})
}

// Definitions returns the tool schemas to embed in a chat request.
func (r *ToolRegistry) Definitions() []ToolDef {
	return r.defs
}

// Execute dispatches one tool call. Failures come back as a JSON error
// payload so the conversation can continue instead of crashing the loop.
func (r *ToolRegistry) Execute(ctx context.Context, name, userID string, args json.RawMessage) string {
	h, ok := r.handlers[name]
	if !ok {
		return fmt.Sprintf(`{"error": "unknown tool %q"}`, name)
	}
	result, err := h(ctx, userID, args)
	if err != nil {
		log.Printf("tool %s failed user=%s: %v", name, userID, err)
		payload, _ := json.Marshal(map[string]string{"error": err.Error()})
		return string(payload)
	}
	return result
}

func marshalToolResult(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
