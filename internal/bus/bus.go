// Package bus carries events from sources to the router: the event variants,
// the unbounded in-process queue, and the registration types sources use to
// describe themselves.
package bus

import (
	"context"
	"sync"

	"github.com/voassist/vo/internal/channels"
)

// Event is anything the router can dispatch. Type names the event type the
// handler subscriptions are matched against; Content is the payload text
// composed into the handler's prompt.
type Event interface {
	// Type returns the event type name.
	Type() string

	// Content returns the payload text.
	Content() string

	// Channel returns the originating channel, nil for synthetic events.
	Channel() channels.Channel

	// SessionKey returns an explicit session key, empty to key the session
	// on the matched handler.
	SessionKey() string
}

// ChannelEvent is an inbound message from a live channel.
type ChannelEvent struct {
	EventType string
	Body      string
	Source    channels.Channel
	// Session overrides the default handler-keyed session, used by channel
	// sources that want per-conversation sessions.
	Session string
}

func (e *ChannelEvent) Type() string              { return e.EventType }
func (e *ChannelEvent) Content() string           { return e.Body }
func (e *ChannelEvent) Channel() channels.Channel { return e.Source }
func (e *ChannelEvent) SessionKey() string        { return e.Session }

// ScheduledEvent is a synthetic event emitted by the scheduler when a cron
// expression fires. It carries no channel; the matched handler supplies one.
type ScheduledEvent struct {
	EventType string
	Body      string
}

func (e *ScheduledEvent) Type() string              { return e.EventType }
func (e *ScheduledEvent) Content() string           { return e.Body }
func (e *ScheduledEvent) Channel() channels.Channel { return nil }
func (e *ScheduledEvent) SessionKey() string        { return "" }

// ReplInputEvent is a ChannelEvent whose producer blocks until the turn it
// triggered has finished, keeping the prompt/response cadence of a terminal.
type ReplInputEvent struct {
	ChannelEvent
	// Done is closed by the router when the handler goroutine returns.
	Done chan struct{}
}

// Finish signals the waiting producer. Safe to call once.
func (e *ReplInputEvent) Finish() {
	if e.Done != nil {
		close(e.Done)
	}
}

// Completer is implemented by events that need to know when their dispatch
// has fully finished.
type Completer interface {
	Finish()
}

// Queue is an unbounded FIFO event queue. Producers never block; the single
// consumer waits in Next.
type Queue struct {
	mu     sync.Mutex
	items  []Event
	signal chan struct{}
	closed bool
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{signal: make(chan struct{}, 1)}
}

// Push appends an event. Pushing to a closed queue drops the event.
func (q *Queue) Push(e Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, e)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Next blocks until an event is available, the queue is closed, or ctx is
// done. A closed and drained queue returns (nil, nil).
func (q *Queue) Next(ctx context.Context) (Event, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			e := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return e, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.signal:
		}
	}
}

// Len reports how many events are waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the queue. Queued events remain drainable.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}
