package channels

import (
	"context"
	"testing"
	"time"
)

type stubChannel struct {
	id   string
	sent []string
}

func (c *stubChannel) ID() string                                   { return c.id }
func (c *stubChannel) TypeName() string                             { return "stub" }
func (c *stubChannel) IsGroup() bool                                { return false }
func (c *stubChannel) IsPrivate() bool                              { return true }
func (c *stubChannel) StartStreaming(context.Context) error         { return nil }
func (c *stubChannel) AppendToStream(context.Context, string) error { return nil }
func (c *stubChannel) FinishStreaming(context.Context) error        { return nil }
func (c *stubChannel) SendMessage(_ context.Context, text string) error {
	c.sent = append(c.sent, text)
	return nil
}
func (c *stubChannel) CurrentUser() *User { return nil }
func (c *stubChannel) Close() error       { return nil }

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	a := &stubChannel{id: "a"}
	r.Register(a)
	r.Register(&stubChannel{id: "b"})

	got, ok := r.Get("a")
	if !ok || got.ID() != "a" {
		t.Fatalf("get a: (%v, %v)", got, ok)
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatal("unknown id resolved")
	}

	// Re-registering an id replaces the channel.
	a2 := &stubChannel{id: "a"}
	r.Register(a2)
	got, _ = r.Get("a")
	if got != Channel(a2) {
		t.Fatal("re-register did not replace")
	}

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("got %d channels, want 2", len(list))
	}
}

func TestWithRateLimitDisabled(t *testing.T) {
	ch := &stubChannel{id: "a"}
	if got := WithRateLimit(ch, 0); got != Channel(ch) {
		t.Fatal("zero rate wrapped the channel")
	}
	if got := WithRateLimit(ch, -5); got != Channel(ch) {
		t.Fatal("negative rate wrapped the channel")
	}
}

func TestRateLimitedSendMessage(t *testing.T) {
	ctx := context.Background()
	ch := &stubChannel{id: "a"}
	limited := WithRateLimit(ch, 1)

	// The burst allowance covers the first send.
	if err := limited.SendMessage(ctx, "one"); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if len(ch.sent) != 1 {
		t.Fatalf("sent = %v", ch.sent)
	}

	// The second send would wait most of a minute; a short deadline turns
	// that into an error without delivering.
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := limited.SendMessage(short, "two"); err == nil {
		t.Fatal("over-limit send succeeded")
	}
	if len(ch.sent) != 1 {
		t.Fatalf("throttled message delivered: %v", ch.sent)
	}
}

func TestRateLimitedKeepsStreamingUnthrottled(t *testing.T) {
	ctx := context.Background()
	limited := WithRateLimit(&stubChannel{id: "a"}, 1)
	for range 10 {
		if err := limited.AppendToStream(ctx, "x"); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
}

func TestContextCarriesChannel(t *testing.T) {
	if got := FromContext(context.Background()); got != nil {
		t.Fatalf("empty context returned %v", got)
	}
	ch := &stubChannel{id: "a"}
	ctx := NewContext(context.Background(), ch)
	if got := FromContext(ctx); got != Channel(ch) {
		t.Fatalf("got %v", got)
	}
}
