package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/voassist/vo/internal/channels"
	"github.com/voassist/vo/internal/tools"
)

// Tools returns the scratch-space tools. The channel resolver supplies the
// channel the current turn is running on, so saved memories pick up the
// right visibility scope.
func (s *Store) Tools(currentChannel func(ctx context.Context) channels.Channel) []tools.Tool {
	return []tools.Tool{
		{
			Name:        "store_memory",
			Description: "Store a fact for later recall. Reusing a key overwrites the previous value.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"key": map[string]any{
						"type":        "string",
						"description": "Short identifier for the fact.",
					},
					"value": map[string]any{
						"type":        "string",
						"description": "The fact to remember.",
					},
					"tags": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Optional tags for filtering.",
					},
					"priority": map[string]any{
						"type":        "string",
						"enum":        []any{"high", "medium", "low"},
						"description": "How strongly this memory should surface. Defaults to medium.",
					},
				},
				"required": []any{"key", "value"},
			},
			Run: func(ctx context.Context, args map[string]any) (string, error) {
				m := Memory{
					Key:      tools.StringArg(args, "key"),
					Value:    tools.StringArg(args, "value"),
					Tags:     tools.StringSliceArg(args, "tags"),
					Priority: tools.StringArg(args, "priority"),
				}
				if err := s.Save(ctx, m, currentChannel(ctx)); err != nil {
					return "", err
				}
				return fmt.Sprintf("Remembered %q.", m.Key), nil
			},
		},
		{
			Name:        "search_memory",
			Description: "Search stored memories by relevance.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "What to look for.",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum results. Defaults to 6.",
					},
				},
				"required": []any{"query"},
			},
			Run: func(ctx context.Context, args map[string]any) (string, error) {
				hits, err := s.Retrieve(ctx,
					tools.StringArg(args, "query"),
					currentChannel(ctx),
					tools.IntArg(args, "limit", 6))
				if err != nil {
					return "", err
				}
				if len(hits) == 0 {
					return "No matching memories.", nil
				}
				var b strings.Builder
				for _, h := range hits {
					fmt.Fprintf(&b, "- %s: %s\n", h.Key, h.Value)
				}
				return b.String(), nil
			},
		},
		{
			Name:        "list_memories",
			Description: "List all stored memory keys.",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
			Run: func(ctx context.Context, _ map[string]any) (string, error) {
				ms, err := s.List(ctx)
				if err != nil {
					return "", err
				}
				if len(ms) == 0 {
					return "No memories are stored.", nil
				}
				var b strings.Builder
				for _, m := range ms {
					fmt.Fprintf(&b, "- %s (%s)\n", m.Key, m.Priority)
				}
				return b.String(), nil
			},
		},
		{
			Name:        "remove_memory",
			Description: "Delete a stored memory by key.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"key": map[string]any{"type": "string", "description": "Key to delete."},
				},
				"required": []any{"key"},
			},
			Run: func(ctx context.Context, args map[string]any) (string, error) {
				key := tools.StringArg(args, "key")
				removed, err := s.Remove(ctx, key)
				if err != nil {
					return "", err
				}
				if !removed {
					return fmt.Sprintf("No memory with key %q exists.", key), nil
				}
				return fmt.Sprintf("Forgot %q.", key), nil
			},
		},
	}
}
