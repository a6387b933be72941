package repl

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/voassist/vo/internal/bus"
	"github.com/voassist/vo/internal/channels"
)

func TestWrapKeepsShortLines(t *testing.T) {
	in := "short line\nanother"
	if got := wrap(in, 100); got != in {
		t.Fatalf("got %q", got)
	}
}

func TestWrapBreaksAtWords(t *testing.T) {
	got := wrap("one two three four", 9)
	want := "one two\nthree\nfour"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

// Wide runes count two display cells, so the same word count wraps earlier
// for CJK text than for ASCII.
func TestWrapCountsWideRunes(t *testing.T) {
	if got := wrap("aa aa aa", 9); got != "aa aa aa" {
		t.Fatalf("ascii wrapped early: %q", got)
	}
	got := wrap("字字 字字 字字", 9)
	if strings.Count(got, "\n") != 1 {
		t.Fatalf("cjk not wrapped by display width: %q", got)
	}
}

func TestChannelIdentity(t *testing.T) {
	c := NewChannel(&bytes.Buffer{})
	if c.ID() != "repl" || c.TypeName() != "repl" {
		t.Fatalf("identity: %s/%s", c.ID(), c.TypeName())
	}
	if c.IsGroup() || !c.IsPrivate() {
		t.Fatal("repl must be a private direct channel")
	}
}

func TestChannelStreamingWritesThrough(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer
	c := NewChannel(&out)

	if err := c.StartStreaming(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.AppendToStream(ctx, "Hel"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := c.AppendToStream(ctx, "lo"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := c.FinishStreaming(ctx); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if out.String() != "Hello\n" {
		t.Fatalf("output = %q", out.String())
	}
}

func TestSourceDeclaresDefaults(t *testing.T) {
	s := NewSource()
	if s.Name() != "repl" {
		t.Fatalf("name = %q", s.Name())
	}
	ets := s.EventTypes()
	if len(ets) != 1 || ets[0].Name != EventType {
		t.Fatalf("event types = %+v", ets)
	}
	hs := s.Handlers()
	if len(hs) != 1 || hs[0].EventTypes[0] != EventType {
		t.Fatalf("handlers = %+v", hs)
	}
}

// The read loop pushes one blocking event per non-empty line and ends on
// the exit command, closing Done.
func TestReadLoopPushesAndBlocks(t *testing.T) {
	ctx := context.Background()
	in := strings.NewReader("hello world\n\nexit\n")
	s := NewSourceWith(in, &bytes.Buffer{})
	q := bus.NewQueue()
	reg := channels.NewRegistry()

	if err := s.Start(ctx, q, reg); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, ok := reg.Get("repl"); !ok {
		t.Fatal("terminal channel not registered")
	}

	ev, err := q.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.Type() != EventType || ev.Content() != "hello world" {
		t.Fatalf("event = %q %q", ev.Type(), ev.Content())
	}

	// The loop is parked on this event until the turn completes.
	select {
	case <-s.Done():
		t.Fatal("read loop advanced before Finish")
	case <-time.After(20 * time.Millisecond):
	}

	ev.(bus.Completer).Finish()

	// Blank line skipped, then "exit" ends the loop.
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not exit")
	}
	if q.Len() != 0 {
		t.Fatalf("stray events queued: %d", q.Len())
	}
}
