package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/voassist/vo/internal/bus"
	"github.com/voassist/vo/internal/tools"
)

// ManagementTools returns the tools that let the model inspect and rewire
// the event plumbing. All of them return human-readable text; the model
// relays it rather than parsing it.
func (r *Registry) ManagementTools() []tools.Tool {
	return []tools.Tool{
		{
			Name:        "list_channels",
			Description: "List the channels the assistant can send messages to, with their ids.",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
			Run:         r.runListChannels,
		},
		{
			Name:        "list_event_types",
			Description: "List the event types that can trigger the assistant.",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
			Run:         r.runListEventTypes,
		},
		{
			Name:        "list_event_handlers",
			Description: "List the configured event handlers with their prompts and subscriptions.",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
			Run:         r.runListHandlers,
		},
		{
			Name:        "add_event_handler",
			Description: "Create or replace an event handler that runs a prompt when any of the given event types fires.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": map[string]any{
						"type":        "string",
						"description": "Handler id. Omit to generate one. Reusing an id replaces that handler.",
					},
					"prompt": map[string]any{
						"type":        "string",
						"description": "Instructions run when the handler fires.",
					},
					"event_types": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Event type names this handler subscribes to.",
					},
					"channel_id": map[string]any{
						"type":        "string",
						"description": "Channel to respond on for events that carry no channel of their own.",
					},
				},
				"required": []any{"prompt", "event_types"},
			},
			Run: r.runAddHandler,
		},
		{
			Name:        "remove_event_handler",
			Description: "Delete an event handler by id.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": map[string]any{"type": "string", "description": "Handler id to remove."},
				},
				"required": []any{"id"},
			},
			Run: r.runRemoveHandler,
		},
	}
}

func (r *Registry) runListChannels(ctx context.Context, _ map[string]any) (string, error) {
	chs, err := r.Channels(ctx)
	if err != nil {
		return "", err
	}
	if len(chs) == 0 {
		return "No channels are connected.", nil
	}

	var b strings.Builder
	for _, ch := range chs {
		fmt.Fprintf(&b, "- %s (%s", ch.ID, ch.TypeName)
		if ch.IsGroup {
			b.WriteString(", group")
		}
		if ch.IsPrivate {
			b.WriteString(", private")
		}
		b.WriteString(")\n")
	}
	return b.String(), nil
}

func (r *Registry) runListEventTypes(ctx context.Context, _ map[string]any) (string, error) {
	ets, err := r.EventTypes(ctx)
	if err != nil {
		return "", err
	}
	if len(ets) == 0 {
		return "No event types are registered.", nil
	}

	var b strings.Builder
	for _, et := range ets {
		fmt.Fprintf(&b, "- %s: %s\n", et.Name, et.Description)
	}
	return b.String(), nil
}

func (r *Registry) runListHandlers(ctx context.Context, _ map[string]any) (string, error) {
	hs, err := r.Handlers(ctx)
	if err != nil {
		return "", err
	}
	if len(hs) == 0 {
		return "No event handlers are configured.", nil
	}

	var b strings.Builder
	for _, h := range hs {
		fmt.Fprintf(&b, "- %s\n  events: %s\n", h.ID, strings.Join(h.EventTypes, ", "))
		if h.ChannelID != "" {
			fmt.Fprintf(&b, "  channel: %s\n", h.ChannelID)
		}
		fmt.Fprintf(&b, "  prompt: %s\n", h.Prompt)
	}
	return b.String(), nil
}

func (r *Registry) runAddHandler(ctx context.Context, args map[string]any) (string, error) {
	h := bus.HandlerSpec{
		ID:         tools.StringArg(args, "id"),
		Prompt:     tools.StringArg(args, "prompt"),
		ChannelID:  tools.StringArg(args, "channel_id"),
		EventTypes: tools.StringSliceArg(args, "event_types"),
	}
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if len(h.EventTypes) == 0 {
		return "At least one event type is required.", nil
	}

	for _, et := range h.EventTypes {
		ok, err := r.EventTypeExists(ctx, et)
		if err != nil {
			return "", err
		}
		if !ok {
			return fmt.Sprintf("Unknown event type %q. Use list_event_types to see what exists.", et), nil
		}
	}
	if h.ChannelID != "" {
		ok, err := r.ChannelExists(ctx, h.ChannelID)
		if err != nil {
			return "", err
		}
		if !ok {
			return fmt.Sprintf("Unknown channel %q. Use list_channels to see what is connected.", h.ChannelID), nil
		}
	}

	if err := r.UpsertHandler(ctx, h); err != nil {
		return "", err
	}
	return fmt.Sprintf("Handler %s now runs on: %s", h.ID, strings.Join(h.EventTypes, ", ")), nil
}

func (r *Registry) runRemoveHandler(ctx context.Context, args map[string]any) (string, error) {
	id := tools.StringArg(args, "id")
	removed, err := r.RemoveHandler(ctx, id)
	if err != nil {
		return "", err
	}
	if !removed {
		return fmt.Sprintf("No handler with id %q exists.", id), nil
	}
	return fmt.Sprintf("Handler %s removed.", id), nil
}
