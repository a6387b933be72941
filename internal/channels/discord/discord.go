// Package discord is the Discord event source: gateway messages become
// bus events, and each Discord channel the bot sees is registered as an
// addressable channel.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/voassist/vo/internal/bus"
	"github.com/voassist/vo/internal/channels"
	"github.com/voassist/vo/internal/config"
)

// EventType is the event name Discord messages fire under.
const EventType = "discord_message"

// maxMessageLen is Discord's hard cap per message.
const maxMessageLen = 2000

// Source connects to the Discord gateway and feeds inbound messages to
// the queue.
type Source struct {
	bus.BaseSource
	cfg       config.DiscordConfig
	session   *discordgo.Session
	botUserID string

	mu    sync.Mutex
	chans map[string]*Channel
}

// NewSource returns a Discord source from config.
func NewSource(cfg config.DiscordConfig) *Source {
	return &Source{cfg: cfg, chans: make(map[string]*Channel)}
}

func (s *Source) Name() string { return "discord" }

func (s *Source) EventTypes() []bus.EventType {
	return []bus.EventType{{
		Name:        EventType,
		Description: "A message received on a Discord channel or DM.",
	}}
}

func (s *Source) Handlers() []bus.HandlerSpec {
	return []bus.HandlerSpec{{
		ID:         "discord_default",
		EventTypes: []string{EventType},
	}}
}

// Start opens the gateway connection and begins receiving events.
func (s *Source) Start(ctx context.Context, q *bus.Queue, reg *channels.Registry) error {
	session, err := discordgo.New("Bot " + s.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(func(ds *discordgo.Session, m *discordgo.MessageCreate) {
		s.onMessage(ctx, m, q, reg)
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}
	s.session = session

	me, err := session.User("@me")
	if err != nil {
		_ = session.Close()
		return fmt.Errorf("discord: fetch bot identity: %w", err)
	}
	s.botUserID = me.ID

	slog.Info("discord: connected", "username", me.Username, "id", me.ID)
	return nil
}

// Stop closes the gateway connection.
func (s *Source) Stop() error {
	if s.session == nil {
		return nil
	}
	return s.session.Close()
}

func (s *Source) onMessage(ctx context.Context, m *discordgo.MessageCreate, q *bus.Queue, reg *channels.Registry) {
	if m.Author == nil || m.Author.ID == s.botUserID || m.Author.Bot {
		return
	}
	if strings.TrimSpace(m.Content) == "" {
		return
	}

	isDM := m.GuildID == ""
	ch := s.channelFor(m.ChannelID, isDM, reg)
	ch.setUser(&channels.User{ID: m.Author.ID, Name: displayName(m)})

	q.Push(&bus.ChannelEvent{
		EventType: EventType,
		Body:      m.Content,
		Source:    ch,
	})
}

// channelFor returns the channel for a Discord channel ID, registering it
// on first sight.
func (s *Source) channelFor(channelID string, isDM bool, reg *channels.Registry) *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.chans[channelID]; ok {
		return ch
	}
	ch := &Channel{
		session:   s.session,
		channelID: channelID,
		dm:        isDM,
	}
	s.chans[channelID] = ch
	reg.Register(ch)
	return ch
}

func displayName(m *discordgo.MessageCreate) string {
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

// Channel delivers assistant output to one Discord channel. Streaming is
// buffered and flushed as whole messages; Discord has no delta edit cheap
// enough for token-rate updates.
type Channel struct {
	session   *discordgo.Session
	channelID string
	dm        bool

	mu     sync.Mutex
	user   *channels.User
	stream strings.Builder
}

func (c *Channel) ID() string       { return "discord:" + c.channelID }
func (c *Channel) TypeName() string { return "discord" }
func (c *Channel) IsGroup() bool    { return !c.dm }
func (c *Channel) IsPrivate() bool  { return c.dm }

func (c *Channel) StartStreaming(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stream.Reset()
	_ = c.session.ChannelTyping(c.channelID)
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

func (c *Channel) SendMessage(_ context.Context, text string) error {
	for _, chunk := range splitMessage(text, maxMessageLen) {
		if _, err := c.session.ChannelMessageSend(c.channelID, chunk); err != nil {
			return fmt.Errorf("discord: send to %s: %w", c.channelID, err)
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
// preferring newline boundaries so code blocks and paragraphs survive.
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
