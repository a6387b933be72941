package ws

import (
	"context"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/voassist/vo/internal/bus"
	"github.com/voassist/vo/internal/channels"
)

func startGateway(t *testing.T, cfg Config) (*Source, *bus.Queue, *channels.Registry) {
	t.Helper()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	s := NewSource(cfg)
	q := bus.NewQueue()
	reg := channels.NewRegistry()
	if err := s.Start(context.Background(), q, reg); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s, q, reg
}

func dial(t *testing.T, s *Source) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sock, _, err := websocket.Dial(ctx, "ws://"+s.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = sock.Close(websocket.StatusNormalClosure, "done") })
	return sock
}

func TestGatewayMessageBecomesEvent(t *testing.T) {
	ctx := context.Background()
	s, q, reg := startGateway(t, Config{})
	sock := dial(t, s)

	if err := wsjson.Write(ctx, sock, Frame{
		Type: "hello", ChannelID: "client1", Private: true,
		UserID: "u1", UserName: "Ada",
	}); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	if err := wsjson.Write(ctx, sock, Frame{Type: "message", Content: "hi there"}); err != nil {
		t.Fatalf("write message: %v", err)
	}

	nctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ev, err := q.Next(nctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.Type() != EventType || ev.Content() != "hi there" {
		t.Fatalf("event = %q %q", ev.Type(), ev.Content())
	}

	ch := ev.Channel()
	if ch == nil || ch.ID() != "ws:client1" {
		t.Fatalf("channel = %v", ch)
	}
	if ch.IsGroup() || !ch.IsPrivate() {
		t.Fatal("hello flags lost")
	}
	u := ch.CurrentUser()
	if u == nil || u.ID != "u1" || u.Name != "Ada" {
		t.Fatalf("user = %+v", u)
	}
	if _, ok := reg.Get("ws:client1"); !ok {
		t.Fatal("channel not registered")
	}
}

func TestGatewayOutboundFrames(t *testing.T) {
	ctx := context.Background()
	s, q, _ := startGateway(t, Config{})
	sock := dial(t, s)

	if err := wsjson.Write(ctx, sock, Frame{Type: "message", Content: "ping"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	nctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ev, err := q.Next(nctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	ch := ev.Channel()

	if err := ch.StartStreaming(ctx); err != nil {
		t.Fatalf("start streaming: %v", err)
	}
	if err := ch.AppendToStream(ctx, "Hel"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := ch.FinishStreaming(ctx); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := ch.SendMessage(ctx, "whole"); err != nil {
		t.Fatalf("send: %v", err)
	}

	wantTypes := []string{"stream_start", "delta", "stream_end", "message"}
	for _, want := range wantTypes {
		var f Frame
		rctx, rcancel := context.WithTimeout(ctx, 5*time.Second)
		if err := wsjson.Read(rctx, sock, &f); err != nil {
			rcancel()
			t.Fatalf("read %s frame: %v", want, err)
		}
		rcancel()
		if f.Type != want {
			t.Fatalf("frame type = %q, want %q", f.Type, want)
		}
		switch f.Type {
		case "delta":
			if f.Content != "Hel" {
				t.Fatalf("delta content = %q", f.Content)
			}
		case "message":
			if f.Content != "whole" {
				t.Fatalf("message content = %q", f.Content)
			}
		}
	}
}

// Without a hello frame the connection still works under a generated id.
func TestGatewayAnonymousClientGetsGeneratedID(t *testing.T) {
	ctx := context.Background()
	s, q, _ := startGateway(t, Config{})
	sock := dial(t, s)

	if err := wsjson.Write(ctx, sock, Frame{Type: "message", Content: "hi"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	nctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ev, err := q.Next(nctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	ch := ev.Channel()
	if ch == nil || len(ch.ID()) < len("ws:")+1 {
		t.Fatalf("channel id = %v", ch)
	}
	if ch.ID()[:3] != "ws:" {
		t.Fatalf("id missing prefix: %q", ch.ID())
	}
}

func TestGatewayDeclaresDefaults(t *testing.T) {
	s := NewSource(Config{Prompt: "greet"})
	if s.Name() != "gateway" {
		t.Fatalf("name = %q", s.Name())
	}
	ets := s.EventTypes()
	if len(ets) != 1 || ets[0].Name != EventType {
		t.Fatalf("event types = %+v", ets)
	}
	hs := s.Handlers()
	if len(hs) != 1 || hs[0].Prompt != "greet" {
		t.Fatalf("handlers = %+v", hs)
	}
}
