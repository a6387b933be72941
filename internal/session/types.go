// Package session implements the append-only conversation log and the
// in-memory state projection rebuilt from it.
package session

import "time"

// MessageType discriminates the message variants in a session transcript.
type MessageType string

const (
	MessageUser       MessageType = "user"
	MessageAssistant  MessageType = "assistant"
	MessageToolResult MessageType = "tool_result"
)

// ToolCall is a tool invocation requested by the model. Arguments is the
// raw JSON object string as accumulated from the provider stream.
type ToolCall struct {
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one transcript message, tagged by Type.
//
//	user:        Content
//	assistant:   Content, Reasoning, ToolCalls
//	tool_result: CallID, Content, IsError
type Message struct {
	Type      MessageType `json:"type"`
	Content   string      `json:"content,omitempty"`
	Reasoning string      `json:"reasoning,omitempty"`
	ToolCalls []ToolCall  `json:"tool_calls,omitempty"`
	CallID    string      `json:"call_id,omitempty"`
	IsError   bool        `json:"is_error,omitempty"`
}

// UserMessage builds a user message.
func UserMessage(content string) Message {
	return Message{Type: MessageUser, Content: content}
}

// ToolResultMessage builds a tool_result message.
func ToolResultMessage(callID, output string, isErr bool) Message {
	return Message{Type: MessageToolResult, CallID: callID, Content: output, IsError: isErr}
}

// Usage counts tokens, additive across turns.
type Usage struct {
	Input      int `json:"input"`
	Output     int `json:"output"`
	CacheRead  int `json:"cache_read"`
	CacheWrite int `json:"cache_write"`
	Total      int `json:"total"`
}

// Add accumulates another usage sample.
func (u *Usage) Add(o Usage) {
	u.Input += o.Input
	u.Output += o.Output
	u.CacheRead += o.CacheRead
	u.CacheWrite += o.CacheWrite
	u.Total += o.Total
}

// PendingToolCall is a tool invocation blocked on user approval. It lives in
// the persisted state only while an approval decision is outstanding.
type PendingToolCall struct {
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Entry is one row of the append-only session log: a completed turn or a
// compaction summary that supersedes everything before it.
type Entry struct {
	ID           int64             `json:"id"`
	SessionID    string            `json:"session_id"`
	CreatedAt    time.Time         `json:"created_at"`
	Messages     []Message         `json:"messages"`
	ResponseID   string            `json:"response_id,omitempty"`
	Usage        Usage             `json:"usage"`
	Pending      []PendingToolCall `json:"pending,omitempty"`
	IsCompaction bool              `json:"is_compaction,omitempty"`
	UserID       string            `json:"user_id,omitempty"`
	PostID       string            `json:"post_id,omitempty"`
	Deleted      bool              `json:"deleted,omitempty"`
}

// AgentState is the fold of all entries of one session, in insertion order.
type AgentState struct {
	Messages   []Message
	ResponseID string
	Usage      Usage
	Pending    []PendingToolCall
}

// Apply folds one entry into the state. Folding entries in insertion order
// is deterministic: same log, same state.
func Apply(state AgentState, e Entry) AgentState {
	if e.IsCompaction {
		state.Messages = append([]Message(nil), e.Messages...)
	} else {
		state.Messages = append(state.Messages, e.Messages...)
	}
	if e.ResponseID != "" {
		state.ResponseID = e.ResponseID
	}
	state.Usage.Add(e.Usage)
	// Pending approval state is carried by the most recent entry: a later
	// entry with tool results (or none pending) clears it.
	state.Pending = append([]PendingToolCall(nil), e.Pending...)
	return state
}
