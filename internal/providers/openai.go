package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/voassist/vo/internal/session"
)

// OpenAI streams against any chat-completions compatible API: OpenAI
// itself, OpenRouter, Groq, DeepSeek, local gateways.
type OpenAI struct {
	name         string
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
	retry        RetryConfig
}

// NewOpenAI returns an OpenAI-compatible provider named for logging.
func NewOpenAI(name, apiKey, baseURL, model string) *OpenAI {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAI{
		name:         name,
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultModel: model,
		client:       &http.Client{Timeout: 300 * time.Second},
		retry:        DefaultRetryConfig(),
	}
}

func (p *OpenAI) Name() string { return p.name }

// Stream sends one turn and translates the chat-completions SSE stream
// into normalized events. Tool calls arrive fragmented by index and are
// accumulated until the stream closes.
func (p *OpenAI) Stream(ctx context.Context, req Request, onEvent func(StreamEvent)) (*Response, error) {
	body := p.buildBody(req)

	respBody, err := RetryDo(ctx, p.retry, func() (io.ReadCloser, error) {
		return p.doRequest(ctx, body)
	})
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	emit(onEvent, StreamEvent{Kind: TurnStart})
	emit(onEvent, StreamEvent{Kind: MessageStart})

	result := &Response{Stop: StopEnd}
	accs := make(map[int]*session.ToolCall)
	argBufs := make(map[int]*strings.Builder)

	scanner := bufio.NewScanner(respBody)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.ID != "" {
			result.ID = chunk.ID
		}
		if chunk.Usage != nil {
			result.Usage.Input = chunk.Usage.PromptTokens
			result.Usage.Output = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.ReasoningContent != "" {
			result.Reasoning += choice.Delta.ReasoningContent
			emit(onEvent, StreamEvent{Kind: ReasoningDelta, Text: choice.Delta.ReasoningContent})
		}
		if choice.Delta.Content != "" {
			result.Content += choice.Delta.Content
			emit(onEvent, StreamEvent{Kind: TextDelta, Text: choice.Delta.Content})
		}
		for _, tc := range choice.Delta.ToolCalls {
			acc, ok := accs[tc.Index]
			if !ok {
				acc = &session.ToolCall{}
				accs[tc.Index] = acc
				argBufs[tc.Index] = &strings.Builder{}
			}
			if tc.ID != "" {
				acc.CallID = tc.ID
			}
			if tc.Function.Name != "" {
				acc.Name = strings.TrimSpace(tc.Function.Name)
			}
			if tc.Function.Arguments != "" {
				argBufs[tc.Index].WriteString(tc.Function.Arguments)
				emit(onEvent, StreamEvent{Kind: ToolArgDelta, Text: tc.Function.Arguments})
			}
		}
		if choice.FinishReason != "" {
			result.Stop = mapOpenAIStop(choice.FinishReason)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: read stream: %w", p.name, err)
	}

	// Finalize accumulated tool calls in index order.
	indexes := make([]int, 0, len(accs))
	for i := range accs {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		call := accs[i]
		call.Arguments = finalizeArgs(argBufs[i].String())
		result.ToolCalls = append(result.ToolCalls, *call)
		emit(onEvent, StreamEvent{Kind: OutputItemDone, ToolCall: call})
	}
	if len(result.ToolCalls) > 0 && result.Stop == StopEnd {
		result.Stop = StopToolCalls
	}

	result.Usage.Total = result.Usage.Input + result.Usage.Output
	emit(onEvent, StreamEvent{Kind: MessageEnd})
	emit(onEvent, StreamEvent{Kind: TurnEnd, Stop: result.Stop})
	return result, nil
}

func mapOpenAIStop(s string) StopReason {
	switch s {
	case "stop":
		return StopEnd
	case "tool_calls", "function_call":
		return StopToolCalls
	case "length":
		return StopLength
	case "content_filter":
		return StopContentFilter
	default:
		return StopOther
	}
}

func (p *OpenAI) buildBody(req Request) map[string]any {
	var messages []map[string]any
	if req.System != "" {
		messages = append(messages, map[string]any{"role": "system", "content": req.System})
	}
	for _, msg := range req.Messages {
		switch msg.Type {
		case session.MessageUser:
			messages = append(messages, map[string]any{"role": "user", "content": msg.Content})

		case session.MessageAssistant:
			m := map[string]any{"role": "assistant", "content": msg.Content}
			if len(msg.ToolCalls) > 0 {
				var calls []map[string]any
				for _, tc := range msg.ToolCalls {
					calls = append(calls, map[string]any{
						"id":   tc.CallID,
						"type": "function",
						"function": map[string]any{
							"name":      tc.Name,
							"arguments": finalizeArgs(tc.Arguments),
						},
					})
				}
				m["tool_calls"] = calls
			}
			messages = append(messages, m)

		case session.MessageToolResult:
			messages = append(messages, map[string]any{
				"role":         "tool",
				"tool_call_id": msg.CallID,
				"content":      msg.Content,
			})
		}
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	body := map[string]any{
		"model":    model,
		"messages": messages,
		"stream":   true,
		"stream_options": map[string]any{
			"include_usage": true,
		},
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	if len(req.Tools) > 0 {
		var defs []map[string]any
		for _, t := range req.Tools {
			defs = append(defs, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  t.Parameters,
				},
			})
		}
		body["tools"] = defs
	}
	return body
}

func (p *OpenAI) doRequest(ctx context.Context, body map[string]any) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", p.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("%s: %s", p.name, string(respBody)),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return resp.Body, nil
}

// --- wire chunk types ---

type openAIStreamChunk struct {
	ID      string `json:"id"`
	Choices []struct {
		Delta struct {
			Content          string `json:"content,omitempty"`
			ReasoningContent string `json:"reasoning_content,omitempty"`
			ToolCalls        []struct {
				Index    int    `json:"index"`
				ID       string `json:"id,omitempty"`
				Function struct {
					Name      string `json:"name,omitempty"`
					Arguments string `json:"arguments,omitempty"`
				} `json:"function"`
			} `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
}
