// Package repl is the interactive terminal event source: one line in, one
// agent turn out, with the prompt blocked until the turn finishes.
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/user"
	"strings"
	"sync"

	"github.com/mattn/go-runewidth"

	"github.com/voassist/vo/internal/bus"
	"github.com/voassist/vo/internal/channels"
)

// EventType is the event name REPL input fires under.
const EventType = "repl_input"

// wrapWidth bounds whole-message output lines in the terminal.
const wrapWidth = 100

// Channel writes assistant output to the terminal. Streaming deltas print
// as they arrive; whole messages are word-wrapped by display width.
type Channel struct {
	out  io.Writer
	mu   sync.Mutex
	user *channels.User
}

// NewChannel returns a terminal channel writing to out.
func NewChannel(out io.Writer) *Channel {
	var u *channels.User
	if cur, err := user.Current(); err == nil {
		u = &channels.User{ID: cur.Uid, Name: cur.Username}
	}
	return &Channel{out: out, user: u}
}

func (c *Channel) ID() string       { return "repl" }
func (c *Channel) TypeName() string { return "repl" }
func (c *Channel) IsGroup() bool    { return false }
func (c *Channel) IsPrivate() bool  { return true }

func (c *Channel) StartStreaming(context.Context) error { return nil }

func (c *Channel) AppendToStream(_ context.Context, delta string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.WriteString(c.out, delta)
	return err
}

func (c *Channel) FinishStreaming(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.WriteString(c.out, "\n")
	return err
}

func (c *Channel) SendMessage(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.out, wrap(text, wrapWidth))
	return err
}

func (c *Channel) CurrentUser() *channels.User { return c.user }
func (c *Channel) Close() error                { return nil }

// wrap breaks text into lines no wider than width display cells, keeping
// words intact. Wide runes count double, so CJK output wraps correctly.
func wrap(text string, width int) string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if runewidth.StringWidth(line) <= width {
			out = append(out, line)
			continue
		}
		var cur string
		for _, word := range strings.Fields(line) {
			if cur == "" {
				cur = word
				continue
			}
			if runewidth.StringWidth(cur)+1+runewidth.StringWidth(word) > width {
				out = append(out, cur)
				cur = word
				continue
			}
			cur += " " + word
		}
		if cur != "" {
			out = append(out, cur)
		}
	}
	return strings.Join(out, "\n")
}

// Source reads terminal lines and pushes them as completion-signalled
// events, so the prompt only returns after the turn finished.
type Source struct {
	bus.BaseSource
	in   io.Reader
	out  io.Writer
	ch   *Channel
	done chan struct{}
}

// NewSource returns a REPL source over stdin/stdout.
func NewSource() *Source {
	return NewSourceWith(os.Stdin, os.Stdout)
}

// NewSourceWith returns a REPL source over explicit streams, for tests.
func NewSourceWith(in io.Reader, out io.Writer) *Source {
	return &Source{in: in, out: out, done: make(chan struct{})}
}

// Done is closed when the read loop ends, either on EOF or an explicit
// exit command. Callers use it to shut the process down.
func (s *Source) Done() <-chan struct{} { return s.done }

func (s *Source) Name() string { return "repl" }

func (s *Source) EventTypes() []bus.EventType {
	return []bus.EventType{{
		Name:        EventType,
		Description: "A line typed at the interactive terminal.",
	}}
}

func (s *Source) Handlers() []bus.HandlerSpec {
	return []bus.HandlerSpec{{
		ID:         "repl_default",
		EventTypes: []string{EventType},
	}}
}

// Start registers the terminal channel and begins the read loop.
func (s *Source) Start(ctx context.Context, q *bus.Queue, reg *channels.Registry) error {
	s.ch = NewChannel(s.out)
	reg.Register(s.ch)

	go s.readLoop(ctx, q)
	return nil
}

func (s *Source) readLoop(ctx context.Context, q *bus.Queue) {
	defer close(s.done)
	scanner := bufio.NewScanner(s.in)
	for {
		fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return
		}

		ev := &bus.ReplInputEvent{
			ChannelEvent: bus.ChannelEvent{
				EventType: EventType,
				Body:      line,
				Source:    s.ch,
			},
			Done: make(chan struct{}),
		}
		q.Push(ev)

		select {
		case <-ctx.Done():
			return
		case <-ev.Done:
		}
	}
}

