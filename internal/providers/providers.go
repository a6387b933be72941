// Package providers adapts LLM backends to one streaming interface. Each
// backend's wire protocol is normalized into the StreamEvent sequence the
// agent loop consumes, so the loop never sees provider-specific shapes.
package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/voassist/vo/internal/session"
)

// StopReason is the normalized reason a model stopped producing output.
type StopReason string

const (
	StopEnd           StopReason = "stop"
	StopToolCalls     StopReason = "tool_calls"
	StopLength        StopReason = "length"
	StopContentFilter StopReason = "content_filter"
	StopSafety        StopReason = "safety"
	StopError         StopReason = "error"
	StopOther         StopReason = "other"
)

// StreamEventKind discriminates StreamEvent.
type StreamEventKind int

const (
	// TurnStart opens a model turn.
	TurnStart StreamEventKind = iota
	// MessageStart opens one assistant message within the turn.
	MessageStart
	// TextDelta carries a visible text fragment.
	TextDelta
	// ReasoningDelta carries a thinking fragment.
	ReasoningDelta
	// ToolArgDelta carries a partial tool argument JSON fragment.
	ToolArgDelta
	// OutputItemDone closes one output item; for tool calls it carries the
	// finalized call.
	OutputItemDone
	// MessageEnd closes the assistant message.
	MessageEnd
	// TurnEnd closes the turn with the final stop reason.
	TurnEnd
	// StreamError reports a mid-stream provider error.
	StreamError
)

// StreamEvent is one normalized streaming occurrence.
type StreamEvent struct {
	Kind StreamEventKind
	// Text holds the fragment for TextDelta, ReasoningDelta and ToolArgDelta,
	// and the message for StreamError.
	Text string
	// ToolCall is set on OutputItemDone when the item was a tool call.
	ToolCall *session.ToolCall
	// Stop is set on TurnEnd.
	Stop StopReason
}

// ToolDef is a tool schema in provider-neutral form.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is one model call.
type Request struct {
	System      string
	Messages    []session.Message
	Tools       []ToolDef
	Model       string
	MaxTokens   int
	Temperature float64
}

// Response is the complete result after a stream finishes.
type Response struct {
	ID        string
	Content   string
	Reasoning string
	ToolCalls []session.ToolCall
	Stop      StopReason
	Usage     session.Usage
}

// Provider streams one model turn, emitting normalized events as they
// arrive and returning the assembled response at the end.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request, onEvent func(StreamEvent)) (*Response, error)
}

// New builds a provider by name. Unknown names are treated as
// OpenAI-compatible, which covers most gateways.
func New(name, apiKey, baseURL, model string) (Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("providers: no API key for %q", name)
	}
	switch strings.ToLower(name) {
	case "anthropic":
		return NewAnthropic(apiKey, baseURL, model), nil
	case "", "openai":
		return NewOpenAI("openai", apiKey, baseURL, model), nil
	default:
		return NewOpenAI(strings.ToLower(name), apiKey, baseURL, model), nil
	}
}

func emit(onEvent func(StreamEvent), ev StreamEvent) {
	if onEvent != nil {
		onEvent(ev)
	}
}
