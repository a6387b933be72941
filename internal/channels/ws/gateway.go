// Package ws is the WebSocket gateway event source: each connected client
// is a channel, and every inbound frame becomes a gateway event.
package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/voassist/vo/internal/bus"
	"github.com/voassist/vo/internal/channels"
)

// EventType is the event name gateway messages fire under.
const EventType = "gateway_message"

// Frame is the JSON wire format in both directions.
type Frame struct {
	Type      string `json:"type"` // "hello", "message", "stream_start", "delta", "stream_end"
	ChannelID string `json:"channel_id,omitempty"`
	Content   string `json:"content,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	UserName  string `json:"user_name,omitempty"`
	Group     bool   `json:"group,omitempty"`
	Private   bool   `json:"private,omitempty"`
}

// Config shapes the gateway listener.
type Config struct {
	Host           string
	Port           int
	SendRatePerMin int
	Prompt         string
}

// Source runs the HTTP listener and manages client connections.
type Source struct {
	bus.BaseSource
	cfg    Config
	server *http.Server
	ln     net.Listener

	mu    sync.Mutex
	conns map[string]*conn
}

// NewSource returns a gateway source.
func NewSource(cfg Config) *Source {
	return &Source{cfg: cfg, conns: make(map[string]*conn)}
}

func (s *Source) Name() string { return "gateway" }

func (s *Source) EventTypes() []bus.EventType {
	return []bus.EventType{{
		Name:        EventType,
		Description: "A message received over the WebSocket gateway.",
	}}
}

func (s *Source) Handlers() []bus.HandlerSpec {
	return []bus.HandlerSpec{{
		ID:         "gateway_default",
		Prompt:     s.cfg.Prompt,
		EventTypes: []string{EventType},
	}}
}

// Start binds the listener and serves connections until ctx is done.
func (s *Source) Start(ctx context.Context, q *bus.Queue, reg *channels.Registry) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		s.handle(ctx, w, r, q, reg)
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", addr, err)
	}
	s.ln = ln
	s.server = &http.Server{Handler: mux}

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("gateway: serve failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(sctx)
	}()

	slog.Info("gateway: listening", "addr", addr)
	return nil
}

// Addr returns the bound listen address, valid after Start. Useful when
// the configured port is 0.
func (s *Source) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop closes the listener.
func (s *Source) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Source) handle(ctx context.Context, w http.ResponseWriter, r *http.Request, q *bus.Queue, reg *channels.Registry) {
	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		slog.Warn("gateway: accept failed", "error", err)
		return
	}

	// The first frame may be a hello naming the channel; otherwise the
	// connection gets a generated id.
	c := &conn{
		id:   "ws:" + uuid.NewString()[:8],
		sock: sock,
	}

	s.readLoop(ctx, c, q, reg)
}

func (s *Source) readLoop(ctx context.Context, c *conn, q *bus.Queue, reg *channels.Registry) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, c.id)
		s.mu.Unlock()
		_ = c.sock.Close(websocket.StatusNormalClosure, "bye")
		slog.Info("gateway: client disconnected", "channel", c.id)
	}()

	registered := false
	for {
		var f Frame
		if err := wsjson.Read(ctx, c.sock, &f); err != nil {
			return
		}

		switch f.Type {
		case "hello":
			if f.ChannelID != "" {
				c.id = "ws:" + f.ChannelID
			}
			c.group = f.Group
			c.private = f.Private
			c.setUser(f)

		case "message":
			c.setUser(f)
			if !registered {
				registered = true
				var ch channels.Channel = c
				if s.cfg.SendRatePerMin > 0 {
					ch = channels.WithRateLimit(c, s.cfg.SendRatePerMin)
				}
				c.wrapped = ch
				reg.Register(ch)
				s.mu.Lock()
				s.conns[c.id] = c
				s.mu.Unlock()
				slog.Info("gateway: client connected", "channel", c.id)
			}
			q.Push(&bus.ChannelEvent{
				EventType: EventType,
				Body:      f.Content,
				Source:    c.wrapped,
			})

		default:
			slog.Debug("gateway: unknown frame", "type", f.Type)
		}
	}
}

// conn is one connected client exposed as a channel.
type conn struct {
	id      string
	group   bool
	private bool
	sock    *websocket.Conn
	wrapped channels.Channel

	mu   sync.Mutex
	user *channels.User
}

func (c *conn) ID() string       { return c.id }
func (c *conn) TypeName() string { return "gateway" }
func (c *conn) IsGroup() bool    { return c.group }
func (c *conn) IsPrivate() bool  { return c.private }

func (c *conn) StartStreaming(ctx context.Context) error {
	return c.write(ctx, Frame{Type: "stream_start", ChannelID: c.id})
}

func (c *conn) AppendToStream(ctx context.Context, delta string) error {
	return c.write(ctx, Frame{Type: "delta", ChannelID: c.id, Content: delta})
}

func (c *conn) FinishStreaming(ctx context.Context) error {
	return c.write(ctx, Frame{Type: "stream_end", ChannelID: c.id})
}

func (c *conn) SendMessage(ctx context.Context, text string) error {
	return c.write(ctx, Frame{Type: "message", ChannelID: c.id, Content: text})
}

func (c *conn) write(ctx context.Context, f Frame) error {
	return wsjson.Write(ctx, c.sock, f)
}

func (c *conn) setUser(f Frame) {
	if f.UserID == "" {
		return
	}
	c.mu.Lock()
	c.user = &channels.User{ID: f.UserID, Name: f.UserName}
	c.mu.Unlock()
}

func (c *conn) CurrentUser() *channels.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

func (c *conn) Close() error {
	return c.sock.Close(websocket.StatusNormalClosure, "shutdown")
}
