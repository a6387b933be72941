package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voassist/vo/internal/session"
)

const (
	anthropicAPIBase    = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
	defaultClaudeModel  = "claude-sonnet-4-5"
)

// Anthropic streams against the Anthropic Messages API via net/http.
type Anthropic struct {
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
	retry        RetryConfig
}

// NewAnthropic returns an Anthropic provider. Empty baseURL and model fall
// back to the public API and a current default model.
func NewAnthropic(apiKey, baseURL, model string) *Anthropic {
	if baseURL == "" {
		baseURL = anthropicAPIBase
	}
	if model == "" {
		model = defaultClaudeModel
	}
	return &Anthropic{
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultModel: model,
		client:       &http.Client{Timeout: 300 * time.Second},
		retry:        DefaultRetryConfig(),
	}
}

func (p *Anthropic) Name() string { return "anthropic" }

// Stream sends one turn and translates the SSE event stream into
// normalized events. The connection phase retries; an open stream does not.
func (p *Anthropic) Stream(ctx context.Context, req Request, onEvent func(StreamEvent)) (*Response, error) {
	body := p.buildBody(req)

	respBody, err := RetryDo(ctx, p.retry, func() (io.ReadCloser, error) {
		return p.doRequest(ctx, body)
	})
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	emit(onEvent, StreamEvent{Kind: TurnStart})

	result := &Response{Stop: StopEnd}
	var (
		currentEvent string
		blockType    string
		argJSON      strings.Builder
		pendingCall  *session.ToolCall
	)

	scanner := bufio.NewScanner(respBody)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			currentEvent = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		switch currentEvent {
		case "message_start":
			var ev anthropicMessageStartEvent
			if err := json.Unmarshal([]byte(data), &ev); err == nil {
				result.ID = ev.Message.ID
				result.Usage.Input = ev.Message.Usage.InputTokens
				result.Usage.CacheWrite = ev.Message.Usage.CacheCreationInputTokens
				result.Usage.CacheRead = ev.Message.Usage.CacheReadInputTokens
			}
			emit(onEvent, StreamEvent{Kind: MessageStart})

		case "content_block_start":
			var ev anthropicContentBlockStartEvent
			if err := json.Unmarshal([]byte(data), &ev); err == nil {
				blockType = ev.ContentBlock.Type
				if blockType == "tool_use" {
					pendingCall = &session.ToolCall{
						CallID: ev.ContentBlock.ID,
						Name:   strings.TrimSpace(ev.ContentBlock.Name),
					}
					argJSON.Reset()
				}
			}

		case "content_block_delta":
			var ev anthropicContentBlockDeltaEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}
			switch ev.Delta.Type {
			case "text_delta":
				result.Content += ev.Delta.Text
				emit(onEvent, StreamEvent{Kind: TextDelta, Text: ev.Delta.Text})
			case "thinking_delta":
				result.Reasoning += ev.Delta.Thinking
				emit(onEvent, StreamEvent{Kind: ReasoningDelta, Text: ev.Delta.Thinking})
			case "input_json_delta":
				argJSON.WriteString(ev.Delta.PartialJSON)
				emit(onEvent, StreamEvent{Kind: ToolArgDelta, Text: ev.Delta.PartialJSON})
			}

		case "content_block_stop":
			if blockType == "tool_use" && pendingCall != nil {
				pendingCall.Arguments = finalizeArgs(argJSON.String())
				result.ToolCalls = append(result.ToolCalls, *pendingCall)
				emit(onEvent, StreamEvent{Kind: OutputItemDone, ToolCall: pendingCall})
				pendingCall = nil
			} else {
				emit(onEvent, StreamEvent{Kind: OutputItemDone})
			}
			blockType = ""

		case "message_delta":
			var ev anthropicMessageDeltaEvent
			if err := json.Unmarshal([]byte(data), &ev); err == nil {
				if ev.Delta.StopReason != "" {
					result.Stop = mapAnthropicStop(ev.Delta.StopReason)
				}
				if ev.Usage.OutputTokens > 0 {
					result.Usage.Output = ev.Usage.OutputTokens
				}
			}

		case "message_stop":
			emit(onEvent, StreamEvent{Kind: MessageEnd})

		case "error":
			var ev anthropicErrorEvent
			if err := json.Unmarshal([]byte(data), &ev); err == nil {
				msg := fmt.Sprintf("%s: %s", ev.Error.Type, ev.Error.Message)
				emit(onEvent, StreamEvent{Kind: StreamError, Text: msg})
				return nil, fmt.Errorf("anthropic stream error: %s", msg)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("anthropic: read stream: %w", err)
	}

	result.Usage.Total = result.Usage.Input + result.Usage.Output
	emit(onEvent, StreamEvent{Kind: TurnEnd, Stop: result.Stop})
	return result, nil
}

func mapAnthropicStop(s string) StopReason {
	switch s {
	case "end_turn", "stop_sequence":
		return StopEnd
	case "tool_use":
		return StopToolCalls
	case "max_tokens":
		return StopLength
	case "refusal":
		return StopSafety
	default:
		return StopOther
	}
}

func (p *Anthropic) buildBody(req Request) map[string]any {
	var messages []map[string]any
	for _, msg := range req.Messages {
		switch msg.Type {
		case session.MessageUser:
			messages = append(messages, map[string]any{
				"role":    "user",
				"content": msg.Content,
			})

		case session.MessageAssistant:
			var blocks []map[string]any
			if msg.Content != "" {
				blocks = append(blocks, map[string]any{"type": "text", "text": msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, map[string]any{
					"type":  "tool_use",
					"id":    tc.CallID,
					"name":  tc.Name,
					"input": json.RawMessage(finalizeArgs(tc.Arguments)),
				})
			}
			if len(blocks) > 0 {
				messages = append(messages, map[string]any{"role": "assistant", "content": blocks})
			}

		case session.MessageToolResult:
			messages = append(messages, map[string]any{
				"role": "user",
				"content": []map[string]any{{
					"type":        "tool_result",
					"tool_use_id": msg.CallID,
					"content":     msg.Content,
					"is_error":    msg.IsError,
				}},
			})
		}
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	body := map[string]any{
		"model":      model,
		"max_tokens": maxTokens,
		"messages":   messages,
		"stream":     true,
	}
	if req.System != "" {
		body["system"] = []map[string]any{{
			"type":          "text",
			"text":          req.System,
			"cache_control": map[string]any{"type": "ephemeral"},
		}}
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	if len(req.Tools) > 0 {
		var defs []map[string]any
		for _, t := range req.Tools {
			defs = append(defs, map[string]any{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": t.Parameters,
			})
		}
		body["tools"] = defs
	}
	return body
}

func (p *Anthropic) doRequest(ctx context.Context, body map[string]any) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("anthropic: %s", string(respBody)),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return resp.Body, nil
}

// finalizeArgs guarantees a tool call always carries a JSON object, even
// when the model streamed no argument bytes at all.
func finalizeArgs(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "{}"
	}
	return raw
}

// --- wire event types ---

type anthropicUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

type anthropicMessageStartEvent struct {
	Message struct {
		ID    string         `json:"id"`
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
}

type anthropicContentBlockStartEvent struct {
	Index        int `json:"index"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id,omitempty"`
		Name string `json:"name,omitempty"`
	} `json:"content_block"`
}

type anthropicContentBlockDeltaEvent struct {
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text,omitempty"`
		Thinking    string `json:"thinking,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
	} `json:"delta"`
}

type anthropicMessageDeltaEvent struct {
	Delta struct {
		StopReason string `json:"stop_reason,omitempty"`
	} `json:"delta"`
	Usage anthropicUsage `json:"usage"`
}

type anthropicErrorEvent struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
