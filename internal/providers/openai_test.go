package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/voassist/vo/internal/session"
)

func TestOpenAIStreamText(t *testing.T) {
	srv := sseServer(t, strings.Join([]string{
		`data: {"id":"chatcmpl-1","choices":[{"delta":{"content":"Hi"}}]}`,
		``,
		`data: {"choices":[{"delta":{"content":" there"}}]}`,
		``,
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		``,
		`data: {"choices":[],"usage":{"prompt_tokens":7,"completion_tokens":2}}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n"))

	p := NewOpenAI("openai", "test-key", srv.URL, "gpt-test")
	var deltas []string
	resp, err := p.Stream(context.Background(), Request{
		Messages: []session.Message{session.UserMessage("hi")},
	}, func(ev StreamEvent) {
		if ev.Kind == TextDelta {
			deltas = append(deltas, ev.Text)
		}
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	if resp.ID != "chatcmpl-1" {
		t.Fatalf("id = %q", resp.ID)
	}
	if resp.Content != "Hi there" {
		t.Fatalf("content = %q", resp.Content)
	}
	if resp.Stop != StopEnd {
		t.Fatalf("stop = %q", resp.Stop)
	}
	if resp.Usage.Input != 7 || resp.Usage.Output != 2 || resp.Usage.Total != 9 {
		t.Fatalf("usage = %+v", resp.Usage)
	}
	if got := strings.Join(deltas, "|"); got != "Hi| there" {
		t.Fatalf("deltas = %q", got)
	}
}

// Tool calls arrive fragmented across chunks, keyed by index; the stream
// never sets a finish reason here, so the stop must be forced once calls
// exist.
func TestOpenAIStreamAccumulatesToolCalls(t *testing.T) {
	srv := sseServer(t, strings.Join([]string{
		`data: {"id":"chatcmpl-2","choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a","function":{"name":"echo"}}]}}]}`,
		``,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"text\":"}},{"index":1,"id":"call_b","function":{"name":"ping"}}]}}]}`,
		``,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"hi\"}"}}]}}]}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n"))

	p := NewOpenAI("openai", "test-key", srv.URL, "gpt-test")
	resp, err := p.Stream(context.Background(), Request{
		Messages: []session.Message{session.UserMessage("hi")},
	}, nil)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	if resp.Stop != StopToolCalls {
		t.Fatalf("stop = %q, want forced tool_calls", resp.Stop)
	}
	if len(resp.ToolCalls) != 2 {
		t.Fatalf("got %d tool calls, want 2", len(resp.ToolCalls))
	}
	first := resp.ToolCalls[0]
	if first.CallID != "call_a" || first.Name != "echo" || first.Arguments != `{"text":"hi"}` {
		t.Fatalf("first call = %+v", first)
	}
	second := resp.ToolCalls[1]
	if second.CallID != "call_b" || second.Arguments != "{}" {
		t.Fatalf("second call = %+v", second)
	}
}

func TestOpenAIRequestShape(t *testing.T) {
	var (
		gotBody map[string]any
		gotAuth string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewOpenAI("openai", "test-key", srv.URL, "gpt-test")
	_, err := p.Stream(context.Background(), Request{
		System: "Be terse.",
		Messages: []session.Message{
			session.UserMessage("run it"),
			session.ToolResultMessage("call_a", "ok", false),
		},
		Tools: []ToolDef{{Name: "echo", Parameters: map[string]any{"type": "object"}}},
	}, nil)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Fatalf("auth = %q", gotAuth)
	}
	messages := gotBody["messages"].([]any)
	if len(messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(messages))
	}
	if m := messages[0].(map[string]any); m["role"] != "system" || m["content"] != "Be terse." {
		t.Fatalf("system message = %v", m)
	}
	if m := messages[2].(map[string]any); m["role"] != "tool" || m["tool_call_id"] != "call_a" {
		t.Fatalf("tool message = %v", m)
	}
	if gotBody["stream"] != true || gotBody["stream_options"] == nil {
		t.Fatalf("streaming not requested: %v", gotBody)
	}
}

func TestMapOpenAIStop(t *testing.T) {
	tests := []struct {
		in   string
		want StopReason
	}{
		{"stop", StopEnd},
		{"tool_calls", StopToolCalls},
		{"function_call", StopToolCalls},
		{"length", StopLength},
		{"content_filter", StopContentFilter},
		{"weird", StopOther},
	}
	for _, tt := range tests {
		if got := mapOpenAIStop(tt.in); got != tt.want {
			t.Errorf("mapOpenAIStop(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMapAnthropicStop(t *testing.T) {
	tests := []struct {
		in   string
		want StopReason
	}{
		{"end_turn", StopEnd},
		{"stop_sequence", StopEnd},
		{"tool_use", StopToolCalls},
		{"max_tokens", StopLength},
		{"refusal", StopSafety},
		{"weird", StopOther},
	}
	for _, tt := range tests {
		if got := mapAnthropicStop(tt.in); got != tt.want {
			t.Errorf("mapAnthropicStop(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
