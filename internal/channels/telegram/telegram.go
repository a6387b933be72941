// Package telegram is the Telegram event source, long-polling the Bot
// API and registering each chat the bot participates in as a channel.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/voassist/vo/internal/bus"
	"github.com/voassist/vo/internal/channels"
	"github.com/voassist/vo/internal/config"
)

// EventType is the event name Telegram messages fire under.
const EventType = "telegram_message"

// maxMessageLen is Telegram's hard cap per message.
const maxMessageLen = 4096

// Source connects to Telegram via long polling and feeds inbound
// messages to the queue.
type Source struct {
	bus.BaseSource
	cfg config.TelegramConfig
	bot *telego.Bot

	pollCancel context.CancelFunc
	pollDone   chan struct{}

	mu    sync.Mutex
	chans map[int64]*Channel
}

// NewSource returns a Telegram source from config.
func NewSource(cfg config.TelegramConfig) *Source {
	return &Source{cfg: cfg, chans: make(map[int64]*Channel)}
}

func (s *Source) Name() string { return "telegram" }

func (s *Source) EventTypes() []bus.EventType {
	return []bus.EventType{{
		Name:        EventType,
		Description: "A message received on a Telegram chat.",
	}}
}

func (s *Source) Handlers() []bus.HandlerSpec {
	return []bus.HandlerSpec{{
		ID:         "telegram_default",
		EventTypes: []string{EventType},
	}}
}

// Start begins long polling for updates.
func (s *Source) Start(ctx context.Context, q *bus.Queue, reg *channels.Registry) error {
	bot, err := telego.NewBot(s.cfg.Token)
	if err != nil {
		return fmt.Errorf("telegram: create bot: %w", err)
	}
	s.bot = bot

	pollCtx, cancel := context.WithCancel(ctx)
	s.pollCancel = cancel
	s.pollDone = make(chan struct{})

	updates, err := bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("telegram: start long polling: %w", err)
	}

	slog.Info("telegram: connected", "username", bot.Username())

	go func() {
		defer close(s.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil {
					s.onMessage(update.Message, q, reg)
				}
			}
		}
	}()

	return nil
}

// Stop cancels long polling and waits for the poll goroutine, so
// Telegram releases the getUpdates lock before a new instance starts.
func (s *Source) Stop() error {
	if s.pollCancel != nil {
		s.pollCancel()
	}
	if s.pollDone != nil {
		select {
		case <-s.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram: poll goroutine did not exit within timeout")
		}
	}
	return nil
}

func (s *Source) onMessage(m *telego.Message, q *bus.Queue, reg *channels.Registry) {
	if m.From != nil && m.From.IsBot {
		return
	}
	if strings.TrimSpace(m.Text) == "" {
		return
	}

	ch := s.channelFor(m.Chat, reg)
	if m.From != nil {
		ch.setUser(&channels.User{
			ID:   strconv.FormatInt(m.From.ID, 10),
			Name: senderName(m.From),
		})
	}

	q.Push(&bus.ChannelEvent{
		EventType: EventType,
		Body:      m.Text,
		Source:    ch,
	})
}

// channelFor returns the channel for a Telegram chat, registering it on
// first sight.
func (s *Source) channelFor(chat telego.Chat, reg *channels.Registry) *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.chans[chat.ID]; ok {
		return ch
	}
	ch := &Channel{
		bot:    s.bot,
		chatID: chat.ID,
		group:  chat.Type == "group" || chat.Type == "supergroup",
	}
	s.chans[chat.ID] = ch
	reg.Register(ch)
	return ch
}

func senderName(u *telego.User) string {
	if u.Username != "" {
		return u.Username
	}
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	return name
}

// Channel delivers assistant output to one Telegram chat. Streaming is
// buffered and flushed as whole messages to stay within the Bot API's
// edit rate limits.
type Channel struct {
	bot    *telego.Bot
	chatID int64
	group  bool

	mu     sync.Mutex
	user   *channels.User
	stream strings.Builder
}

func (c *Channel) ID() string       { return "telegram:" + strconv.FormatInt(c.chatID, 10) }
func (c *Channel) TypeName() string { return "telegram" }
func (c *Channel) IsGroup() bool    { return c.group }
func (c *Channel) IsPrivate() bool  { return !c.group }

func (c *Channel) StartStreaming(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stream.Reset()
	return nil
}

func (c *Channel) AppendToStream(_ context.Context, delta string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stream.WriteString(delta)
	return nil
}

func (c *Channel) FinishStreaming(ctx context.Context) error {
	c.mu.Lock()
	text := c.stream.String()
	c.stream.Reset()
	c.mu.Unlock()
	if text == "" {
		return nil
	}
	return c.SendMessage(ctx, text)
}

func (c *Channel) SendMessage(ctx context.Context, text string) error {
	for _, chunk := range splitMessage(text, maxMessageLen) {
		msg := tu.Message(tu.ID(c.chatID), chunk)
		if _, err := c.bot.SendMessage(ctx, msg); err != nil {
			return fmt.Errorf("telegram: send to %d: %w", c.chatID, err)
		}
	}
	return nil
}

func (c *Channel) setUser(u *channels.User) {
	c.mu.Lock()
	c.user = u
	c.mu.Unlock()
}

func (c *Channel) CurrentUser() *channels.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

func (c *Channel) Close() error { return nil }

// splitMessage breaks text into chunks no longer than limit bytes,
// preferring newline boundaries.
func splitMessage(text string, limit int) []string {
	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n")
		if cut <= 0 {
			cut = limit
		}
		chunks = append(chunks, strings.TrimRight(text[:cut], "\n"))
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
