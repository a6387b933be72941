// Package agent runs the model turn loop: prompt assembly, provider
// streaming, tool execution, approval gating, and group-chat output
// guarding. One Run call is one full agent turn, which may span several
// model iterations when tools are involved.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/voassist/vo/internal/channels"
	"github.com/voassist/vo/internal/memory"
	"github.com/voassist/vo/internal/providers"
	"github.com/voassist/vo/internal/session"
	"github.com/voassist/vo/internal/tools"
)

// ErrGuardrailRejected aborts a turn before any model call.
var ErrGuardrailRejected = errors.New("agent: input rejected by guardrail")

// Guardrail screens user input. Returning false aborts the turn.
type Guardrail func(ctx context.Context, input string) (bool, error)

// Skills supplies an optional prompt section assembled elsewhere.
type Skills interface {
	PromptSection() string
}

// Agent drives turns against one provider with one tool registry.
type Agent struct {
	provider    providers.Provider
	model       string
	maxTokens   int
	temperature float64
	maxTurns    int
	basePrompt  string
	botName     string

	store     *session.Store
	tools     *tools.Registry
	approvals *tools.ApprovalCache
	memory    *memory.Store
	memLimit  int
	queryCap  int
	skills    Skills
	guardrail Guardrail
	tracer    trace.Tracer
}

// Config assembles an Agent. Store, Tools, and Provider are required;
// Memory, Skills, and Guardrail are optional collaborators.
type Config struct {
	Provider    providers.Provider
	Model       string
	MaxTokens   int
	Temperature float64
	MaxTurns    int
	Prompt      string
	BotName     string

	Store       *session.Store
	Tools       *tools.Registry
	Approvals   *tools.ApprovalCache
	Memory      *memory.Store
	MemoryLimit int
	QueryChars  int
	Skills      Skills
	Guardrail   Guardrail
}

// New returns an Agent with defaults filled in.
func New(cfg Config) *Agent {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 20
	}
	if cfg.MemoryLimit <= 0 {
		cfg.MemoryLimit = 6
	}
	if cfg.QueryChars <= 0 {
		cfg.QueryChars = 500
	}
	if cfg.Approvals == nil {
		cfg.Approvals = tools.NewApprovalCache()
	}
	return &Agent{
		provider:    cfg.Provider,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		maxTurns:    cfg.MaxTurns,
		basePrompt:  cfg.Prompt,
		botName:     cfg.BotName,
		store:       cfg.Store,
		tools:       cfg.Tools,
		approvals:   cfg.Approvals,
		memory:      cfg.Memory,
		memLimit:    cfg.MemoryLimit,
		queryCap:    cfg.QueryChars,
		skills:      cfg.Skills,
		guardrail:   cfg.Guardrail,
		tracer:      otel.Tracer("vo/agent"),
	}
}

// Approvals exposes the shared decision cache so UIs can record decisions.
func (a *Agent) Approvals() *tools.ApprovalCache { return a.approvals }

// TurnInput is one invocation of the turn loop. Exactly one of Text and
// ToolResults carries the input; TriggerPrompt and Bridge feed the system
// prompt when present.
type TurnInput struct {
	SessionID     string
	Channel       channels.Channel
	Text          string
	ToolResults   []session.Message
	TriggerPrompt string
	Bridge        string
	PostID        string
}

// Run executes one agent turn: preamble, prompt build, model iterations
// with tool execution, persistence, and delivery.
func (a *Agent) Run(ctx context.Context, in TurnInput) error {
	ctx, span := a.tracer.Start(ctx, "agent.turn",
		trace.WithAttributes(attribute.String("session.id", in.SessionID)))
	defer span.End()

	// Tools resolve the turn's channel from the context.
	ctx = channels.NewContext(ctx, in.Channel)

	state, err := a.store.Load(ctx, in.SessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", in.SessionID, err)
	}

	var current []session.Message

	// A plain text input while tool calls await approval means the user
	// moved on: reject every pending call so the transcript stays legal for
	// providers that validate tool_use/tool_result pairing.
	if len(state.Pending) > 0 && in.Text != "" {
		for _, pc := range state.Pending {
			current = append(current, session.ToolResultMessage(pc.CallID, tools.RejectionMessage, true))
			a.approvals.Forget(pc.CallID)
		}
		state.Pending = nil
	}

	if len(in.ToolResults) > 0 {
		current = append(current, in.ToolResults...)
	} else {
		current = append(current, session.UserMessage(in.Text))
	}

	// Guardrail and memory retrieval run in parallel; both must settle
	// before the first model call.
	var memSection string
	g, gctx := errgroup.WithContext(ctx)
	if a.guardrail != nil && in.Text != "" {
		text := in.Text
		g.Go(func() error {
			ok, err := a.guardrail(gctx, text)
			if err != nil {
				return fmt.Errorf("guardrail: %w", err)
			}
			if !ok {
				return ErrGuardrailRejected
			}
			return nil
		})
	}
	if a.memory != nil {
		g.Go(func() error {
			query := recentUserText(state.Messages, in.Text, a.queryCap)
			hits, err := a.memory.Retrieve(gctx, query, in.Channel, a.memLimit)
			if err != nil {
				slog.Debug("memory retrieval failed", "error", err)
				return nil
			}
			memSection = memory.RenderSection(hits)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		slog.Warn("turn aborted before model call", "session", in.SessionID, "error", err)
		return err
	}

	isGroup := in.Channel != nil && in.Channel.IsGroup()
	var skillSection string
	if a.skills != nil {
		skillSection = a.skills.PromptSection()
	}
	system := buildSystemPrompt(promptSections{
		Base:     a.basePrompt,
		Skills:   skillSection,
		IsGroup:  isGroup,
		BotName:  a.botName,
		Memories: memSection,
		Bridge:   in.Bridge,
		Trigger:  in.TriggerPrompt,
	})

	var userID string
	if in.Channel != nil {
		if u := in.Channel.CurrentUser(); u != nil {
			userID = u.ID
		}
	}

	lastContent := ""
	defs := a.toolDefs()

	for turn := 0; turn < a.maxTurns; turn++ {
		resp, err := a.streamOnce(ctx, providers.Request{
			System:      system,
			Messages:    append(append([]session.Message(nil), state.Messages...), current...),
			Tools:       defs,
			Model:       a.model,
			MaxTokens:   a.maxTokens,
			Temperature: a.temperature,
		}, in.Channel, isGroup)
		if err != nil {
			// Partial text survives the error: the entry is appended so the
			// transcript reflects what the user may have already seen.
			if resp != nil && resp.Content != "" {
				a.persistTurn(ctx, in, &state, append(current,
					assistantMessage(resp)), resp, nil, userID)
			}
			slog.Error("provider stream failed", "session", in.SessionID, "error", err)
			return fmt.Errorf("stream: %w", err)
		}

		assistant := assistantMessage(resp)
		if assistant.Content != "" {
			lastContent = assistant.Content
		}

		var pending []session.PendingToolCall
		for _, tc := range resp.ToolCalls {
			if t, ok := a.tools.Get(tc.Name); ok && t.RequiresApproval {
				if _, decided := a.approvals.Decision(tc.CallID); !decided {
					pending = append(pending, session.PendingToolCall(tc))
				}
			}
		}

		entryMessages := append(append([]session.Message(nil), current...), assistant)
		a.persistTurn(ctx, in, &state, entryMessages, resp, pending, userID)

		if len(pending) > 0 {
			slog.Info("turn paused for approval",
				"session", in.SessionID, "calls", len(pending))
			break
		}
		if len(resp.ToolCalls) == 0 {
			break
		}

		current = a.executeTools(ctx, resp.ToolCalls)
	}

	return a.deliver(ctx, in, isGroup, lastContent)
}

// ResumeApprovals continues a paused turn after the user has recorded
// decisions: approved calls execute, the rest are rejected. A session with
// nothing pending is a no-op.
func (a *Agent) ResumeApprovals(ctx context.Context, sessionID string, ch channels.Channel) error {
	ctx = channels.NewContext(ctx, ch)
	state, err := a.store.Load(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if len(state.Pending) == 0 {
		return nil
	}

	results := make([]session.Message, 0, len(state.Pending))
	for _, pc := range state.Pending {
		approved, _ := a.approvals.Decision(pc.CallID)
		a.approvals.Forget(pc.CallID)
		if !approved {
			results = append(results, session.ToolResultMessage(pc.CallID, tools.RejectionMessage, true))
			continue
		}
		res := a.tools.Invoke(ctx, pc.CallID, pc.Name, pc.Arguments)
		results = append(results, session.ToolResultMessage(res.CallID, res.Output, res.IsError))
	}
	return a.Run(ctx, TurnInput{SessionID: sessionID, Channel: ch, ToolResults: results})
}

// streamOnce drives one provider call, streaming deltas live to direct
// channels. Group channels get nothing until the output guard has run.
func (a *Agent) streamOnce(ctx context.Context, req providers.Request, ch channels.Channel, isGroup bool) (*providers.Response, error) {
	live := ch != nil && !isGroup
	streaming := false
	var partial strings.Builder

	resp, err := a.provider.Stream(ctx, req, func(ev providers.StreamEvent) {
		switch ev.Kind {
		case providers.TextDelta:
			partial.WriteString(ev.Text)
			if live {
				if !streaming {
					streaming = true
					if err := ch.StartStreaming(ctx); err != nil {
						slog.Debug("start streaming failed", "channel", ch.ID(), "error", err)
					}
				}
				if err := ch.AppendToStream(ctx, ev.Text); err != nil {
					slog.Debug("append to stream failed", "channel", ch.ID(), "error", err)
				}
			}
		case providers.MessageEnd:
			if streaming {
				streaming = false
				if err := ch.FinishStreaming(ctx); err != nil {
					slog.Debug("finish streaming failed", "channel", ch.ID(), "error", err)
				}
			}
		}
	})
	if streaming {
		_ = ch.FinishStreaming(ctx)
	}
	if err != nil && partial.Len() > 0 {
		// Surface what was produced before the stream died.
		return &providers.Response{Content: partial.String(), Stop: providers.StopError}, err
	}
	return resp, err
}

func assistantMessage(resp *providers.Response) session.Message {
	return session.Message{
		Type:      session.MessageAssistant,
		Content:   SanitizeAssistantContent(resp.Content),
		Reasoning: resp.Reasoning,
		ToolCalls: resp.ToolCalls,
	}
}

// persistTurn appends one entry and advances the in-memory state the same
// way a fresh fold would.
func (a *Agent) persistTurn(ctx context.Context, in TurnInput, state *session.AgentState,
	entryMessages []session.Message, resp *providers.Response, pending []session.PendingToolCall, userID string) {

	entry := session.Entry{
		Messages:   entryMessages,
		ResponseID: resp.ID,
		Usage:      resp.Usage,
		Pending:    pending,
		UserID:     userID,
		PostID:     in.PostID,
	}
	if _, err := a.store.AppendEntry(ctx, in.SessionID, entry); err != nil {
		slog.Error("append entry failed", "session", in.SessionID, "error", err)
	}
	state.Messages = append(state.Messages, entryMessages...)
	state.Pending = pending
}

// executeTools runs every call concurrently; the results slice keeps the
// declared call order so indexes align with the request.
func (a *Agent) executeTools(ctx context.Context, calls []session.ToolCall) []session.Message {
	results := make([]session.Message, len(calls))
	var g errgroup.Group
	for i, tc := range calls {
		g.Go(func() error {
			res := a.tools.Invoke(ctx, tc.CallID, tc.Name, tc.Arguments)
			results[i] = session.ToolResultMessage(res.CallID, res.Output, res.IsError)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// deliver applies the group output guard. Direct channels already received
// the text via streaming.
func (a *Agent) deliver(ctx context.Context, in TurnInput, isGroup bool, content string) error {
	if !isGroup || in.Channel == nil || content == "" {
		return nil
	}

	addressed := MentionsBot(in.Text, a.botName)
	if IsSilentReply(content) && !addressed {
		slog.Info("group reply suppressed", "channel", in.Channel.ID())
		return nil
	}
	if err := in.Channel.SendMessage(ctx, content); err != nil {
		return fmt.Errorf("send to %s: %w", in.Channel.ID(), err)
	}
	return nil
}

func (a *Agent) toolDefs() []providers.ToolDef {
	list := a.tools.List()
	defs := make([]providers.ToolDef, 0, len(list))
	for _, t := range list {
		defs = append(defs, providers.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return defs
}

// recentUserText concatenates the newest user messages, newest last,
// capped at max characters for the retrieval query.
func recentUserText(history []session.Message, currentInput string, max int) string {
	parts := []string{currentInput}
	total := len(currentInput)
	for i := len(history) - 1; i >= 0 && total < max; i-- {
		if history[i].Type != session.MessageUser {
			continue
		}
		parts = append([]string{history[i].Content}, parts...)
		total += len(history[i].Content)
	}
	joined := strings.TrimSpace(strings.Join(parts, "\n"))
	if len(joined) > max {
		cut := len(joined) - max
		// Never slice mid-rune.
		for cut < len(joined) && !utf8.RuneStart(joined[cut]) {
			cut++
		}
		joined = joined[cut:]
	}
	return joined
}
