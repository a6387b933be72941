// Package assistant assembles the runtime: database, search index,
// session store, registries, scheduler, agent, and router, wired from
// one Config and driven by a set of event sources.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/voassist/vo/internal/agent"
	"github.com/voassist/vo/internal/bus"
	"github.com/voassist/vo/internal/channels"
	"github.com/voassist/vo/internal/config"
	"github.com/voassist/vo/internal/db"
	"github.com/voassist/vo/internal/mcptools"
	"github.com/voassist/vo/internal/memory"
	"github.com/voassist/vo/internal/providers"
	"github.com/voassist/vo/internal/registry"
	"github.com/voassist/vo/internal/router"
	"github.com/voassist/vo/internal/scheduler"
	"github.com/voassist/vo/internal/search"
	"github.com/voassist/vo/internal/session"
	"github.com/voassist/vo/internal/skills"
	"github.com/voassist/vo/internal/telemetry"
	"github.com/voassist/vo/internal/tools"
)

// Runtime is the assembled assistant. Init builds it, Run drives it, and
// Close tears it down in reverse order.
type Runtime struct {
	cfg *config.Config

	db        *db.DB
	queue     *bus.Queue
	channels  *channels.Registry
	sessions  *session.Store
	registry  *registry.Registry
	scheduler *scheduler.Scheduler
	tools     *tools.Registry
	skills    *skills.Loader
	mcp       *mcptools.Bridge
	agent     *agent.Agent
	router    *router.Router

	sources       []bus.EventSource
	stopTelemetry func(context.Context) error
}

// Init validates cfg and wires every collaborator. Nothing is started;
// Run does that.
func Init(ctx context.Context, cfg *config.Config, version string) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	stopTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry, version)
	if err != nil {
		return nil, err
	}

	d, err := db.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	if err := d.Migrate(ctx); err != nil {
		d.Close()
		return nil, err
	}

	index, err := search.NewIndex(ctx, d)
	if err != nil {
		d.Close()
		return nil, err
	}

	sessions := session.NewStore(d, index,
		session.WithStaleAfter(time.Duration(cfg.Sessions.StaleAfterSecs)*time.Second),
		session.WithBridgeEntries(cfg.Sessions.BridgeEntries))
	memories := memory.NewStore(d, index)

	reg := registry.New(d)
	queue := bus.NewQueue()
	chans := channels.NewRegistry()
	sched := scheduler.New(d, reg, queue)

	provider, err := providers.New(cfg.Agent.Provider, cfg.Agent.APIKey, cfg.Agent.BaseURL, cfg.Agent.Model)
	if err != nil {
		d.Close()
		return nil, err
	}

	loader := skills.NewLoader(cfg.Skills.Dir)
	if err := loader.Load(); err != nil {
		slog.Warn("assistant: skills load failed", "error", err)
	}

	toolReg := tools.NewRegistry()
	for _, t := range reg.ManagementTools() {
		toolReg.MustRegister(t)
	}
	for _, t := range sched.Tools() {
		toolReg.MustRegister(t)
	}
	for _, t := range memories.Tools(channels.FromContext) {
		toolReg.MustRegister(t)
	}

	bridge := mcptools.NewBridge()
	bridge.Connect(ctx, cfg.MCP, toolReg)

	ag := agent.New(agent.Config{
		Provider:    provider,
		Model:       cfg.Agent.Model,
		MaxTokens:   cfg.Agent.MaxTokens,
		Temperature: cfg.Agent.Temperature,
		MaxTurns:    cfg.Agent.MaxTurns,
		Prompt:      cfg.Agent.Prompt,
		BotName:     cfg.Agent.BotName,
		Store:       sessions,
		Tools:       toolReg,
		Memory:      memories,
		MemoryLimit: cfg.Memory.ContextLimit,
		QueryChars:  cfg.Memory.QueryChars,
		Skills:      loader,
	})

	return &Runtime{
		cfg:           cfg,
		db:            d,
		queue:         queue,
		channels:      chans,
		sessions:      sessions,
		registry:      reg,
		scheduler:     sched,
		tools:         toolReg,
		skills:        loader,
		mcp:           bridge,
		agent:         ag,
		router:        router.New(queue, reg, chans, sessions, ag),
		stopTelemetry: stopTelemetry,
	}, nil
}

// Agent exposes the turn loop, e.g. for approval UIs.
func (r *Runtime) Agent() *agent.Agent { return r.agent }

// Queue exposes the event queue for external producers.
func (r *Runtime) Queue() *bus.Queue { return r.queue }

// Channels exposes the live channel registry.
func (r *Runtime) Channels() *channels.Registry { return r.channels }

// Run starts the sources, seeds the registry from their declarations,
// and consumes the queue until ctx is done or the queue closes.
func (r *Runtime) Run(ctx context.Context, sources ...bus.EventSource) error {
	if err := r.skills.Watch(ctx); err != nil {
		slog.Warn("assistant: skills watch failed", "error", err)
	}

	for _, src := range sources {
		for _, t := range src.Tools() {
			if err := r.tools.Register(t); err != nil {
				slog.Warn("assistant: source tool rejected",
					"source", src.Name(), "tool", t.Name, "error", err)
			}
		}
	}

	for _, src := range sources {
		if err := src.Start(ctx, r.queue, r.channels); err != nil {
			return fmt.Errorf("start source %s: %w", src.Name(), err)
		}
		r.sources = append(r.sources, src)
		slog.Info("assistant: source started", "source", src.Name())
	}

	if err := r.seedRegistry(ctx, sources); err != nil {
		return err
	}
	if err := r.registry.SyncChannels(ctx, r.channels.List()); err != nil {
		return fmt.Errorf("sync channels: %w", err)
	}

	go r.scheduler.Run(ctx)

	slog.Info("assistant: running", "bot", r.cfg.Agent.BotName, "sources", len(sources))
	r.router.Run(ctx)
	return nil
}

// seedRegistry merges each source's declared event types and default
// handlers into the durable registry.
func (r *Runtime) seedRegistry(ctx context.Context, sources []bus.EventSource) error {
	for _, src := range sources {
		for _, et := range src.EventTypes() {
			if err := r.registry.UpsertEventType(ctx, et); err != nil {
				return fmt.Errorf("seed event type %s: %w", et.Name, err)
			}
		}
		for _, h := range src.Handlers() {
			if err := r.registry.UpsertHandler(ctx, h); err != nil {
				return fmt.Errorf("seed handler %s: %w", h.ID, err)
			}
		}
	}
	return nil
}

// Close stops sources and releases every resource. Safe after a Run that
// already returned.
func (r *Runtime) Close(ctx context.Context) error {
	for _, src := range r.sources {
		if err := src.Stop(); err != nil {
			slog.Warn("assistant: source stop failed", "source", src.Name(), "error", err)
		}
	}
	r.queue.Close()
	r.mcp.Close()
	r.channels.CloseAll()
	_ = r.skills.Close()
	if err := r.db.Close(); err != nil {
		slog.Warn("assistant: db close failed", "error", err)
	}
	if r.stopTelemetry != nil {
		return r.stopTelemetry(ctx)
	}
	return nil
}
