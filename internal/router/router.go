// Package router is the single consumer of the event queue: it matches
// events to persisted handlers, resolves a channel and session for each,
// and spawns one agent turn per matched handler.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/voassist/vo/internal/agent"
	"github.com/voassist/vo/internal/bus"
	"github.com/voassist/vo/internal/channels"
	"github.com/voassist/vo/internal/registry"
	"github.com/voassist/vo/internal/session"
)

// Router dispatches queue events to handler turns.
type Router struct {
	queue    *bus.Queue
	registry *registry.Registry
	channels *channels.Registry
	sessions *session.Store
	agent    *agent.Agent
}

// New wires a router over its collaborators.
func New(q *bus.Queue, reg *registry.Registry, chs *channels.Registry, sess *session.Store, ag *agent.Agent) *Router {
	return &Router{queue: q, registry: reg, channels: chs, sessions: sess, agent: ag}
}

// Run consumes the queue until ctx is done or the queue closes. Handler
// turns run in their own goroutines; the consumer never blocks on them.
func (r *Router) Run(ctx context.Context) {
	slog.Info("router: running")
	for {
		ev, err := r.queue.Next(ctx)
		if err != nil {
			slog.Info("router: stopped", "reason", err)
			return
		}
		if ev == nil {
			slog.Info("router: queue closed")
			return
		}
		r.Dispatch(ctx, ev)
	}
}

// Dispatch fans one event out to every subscribed handler. Dispatches
// start in handler insert order but the spawned turns race; per-session
// ordering comes from the append-only log, not from here.
func (r *Router) Dispatch(ctx context.Context, ev bus.Event) {
	handlers, err := r.registry.HandlersFor(ctx, ev.Type())
	if err != nil {
		slog.Error("router: handler lookup failed", "event", ev.Type(), "error", err)
		r.finish(ev)
		return
	}
	if len(handlers) == 0 {
		slog.Debug("router: no handlers", "event", ev.Type())
		r.finish(ev)
		return
	}

	var wg sync.WaitGroup
	for _, h := range handlers {
		ch, ok := r.resolveChannel(ev, h)
		if !ok {
			slog.Warn("router: no channel resolves",
				"event", ev.Type(), "handler", h.ID, "channel_id", h.ChannelID)
			continue
		}

		input := composeInput(h.Prompt, ev.Content())
		key := sessionKey(ev, h)

		isGroup, isPrivate := false, false
		if ch != nil {
			isGroup, isPrivate = ch.IsGroup(), ch.IsPrivate()
		}
		res, err := r.sessions.Resolve(ctx, key, isGroup, isPrivate)
		if err != nil {
			slog.Error("router: session resolve failed",
				"handler", h.ID, "session_key", key, "error", err)
			continue
		}

		wg.Add(1)
		go func(h bus.HandlerSpec, ch channels.Channel, res session.Resolution) {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					slog.Error("router: handler panicked", "handler", h.ID, "panic", fmt.Sprint(p))
				}
			}()
			if err := r.agent.Run(ctx, agent.TurnInput{
				SessionID: res.SessionID,
				Channel:   ch,
				Text:      input,
				Bridge:    res.Bridge,
			}); err != nil {
				slog.Error("router: handler turn failed", "handler", h.ID, "error", err)
			}
		}(h, ch, res)
	}

	// Events that carry a completion signal are finished once every
	// handler turn returns, without blocking the consumer loop.
	if c, ok := ev.(bus.Completer); ok {
		go func() {
			wg.Wait()
			c.Finish()
		}()
	}
}

func (r *Router) finish(ev bus.Event) {
	if c, ok := ev.(bus.Completer); ok {
		c.Finish()
	}
}

// resolveChannel prefers the event's own channel, then the handler's
// configured one. A handler that resolves to no channel at all is skipped.
func (r *Router) resolveChannel(ev bus.Event, h bus.HandlerSpec) (channels.Channel, bool) {
	if ch := ev.Channel(); ch != nil {
		return ch, true
	}
	if h.ChannelID == "" {
		return nil, false
	}
	return r.channels.Get(h.ChannelID)
}

// composeInput merges the handler prompt with the event content.
func composeInput(prompt, content string) string {
	switch {
	case prompt == "":
		return content
	case content == "":
		return prompt
	default:
		return prompt + "\n\nEvent content:\n\n" + content
	}
}

// sessionKey picks the session key: the event's own, else the id of the
// channel the event itself arrived on, else the handler id. Synthetic
// events carry no channel, so their turns stay in a handler-keyed session
// even when the handler delivers output to a configured channel.
func sessionKey(ev bus.Event, h bus.HandlerSpec) string {
	if k := ev.SessionKey(); k != "" {
		return k
	}
	if ch := ev.Channel(); ch != nil {
		return ch.ID()
	}
	return h.ID
}
