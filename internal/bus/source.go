package bus

import (
	"context"

	"github.com/voassist/vo/internal/channels"
	"github.com/voassist/vo/internal/tools"
)

// EventType describes one kind of event a source can emit. Descriptions are
// shown to the model by the handler management tools.
type EventType struct {
	Name        string
	Description string
}

// HandlerSpec binds a set of event types to a prompt and an optional fixed
// output channel. ID doubles as the default session key for events without
// one of their own.
type HandlerSpec struct {
	ID         string
	Prompt     string
	ChannelID  string
	EventTypes []string
}

// EventSource is a pluggable producer: it declares the event types, default
// handlers, and tools it contributes, then pumps events into the queue from
// Start until ctx is done.
type EventSource interface {
	// Name identifies the source for logs.
	Name() string

	// EventTypes lists the event types this source emits.
	EventTypes() []EventType

	// Handlers lists default handlers seeded at startup.
	Handlers() []HandlerSpec

	// Tools lists tools this source contributes to the agent.
	Tools() []tools.Tool

	// Start registers channels and begins producing events. It must not
	// block; long-running work belongs in goroutines tied to ctx.
	Start(ctx context.Context, q *Queue, reg *channels.Registry) error

	// Stop releases source resources.
	Stop() error
}

// BaseSource is an embeddable no-op EventSource. Concrete sources override
// what they need.
type BaseSource struct{}

func (BaseSource) EventTypes() []EventType { return nil }
func (BaseSource) Handlers() []HandlerSpec { return nil }
func (BaseSource) Tools() []tools.Tool     { return nil }
func (BaseSource) Stop() error             { return nil }
