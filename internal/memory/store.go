// Package memory is the agent's durable scratch space: tagged key-value
// rows in SQLite mirrored into the search index for relevance retrieval.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/voassist/vo/internal/channels"
	"github.com/voassist/vo/internal/db"
	"github.com/voassist/vo/internal/search"
)

// Priority weights applied to search scores at retrieval time.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Visibility tags scope cross-channel retrieval. Public memories are
// retrievable everywhere; channel-scoped ones only from their channel.
const (
	TagPublic        = "agent_data:public"
	channelTagPrefix = "agent_data:ch:"
)

// docID namespaces memory documents in the shared search index.
func docID(key string) string { return "agent_data:" + key }

// ChannelTag returns the visibility tag for a private channel.
func ChannelTag(channelID string) string { return channelTagPrefix + channelID }

// Memory is one scratch entry.
type Memory struct {
	Key       string
	Value     string
	Tags      []string
	Priority  string
	ChannelID string
	UserID    string
	PostID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists memories and keeps the search index in sync.
type Store struct {
	db    *db.DB
	index *search.Index
	now   func() time.Time
}

// Option adjusts store behavior.
type Option func(*Store)

// WithNow substitutes the clock.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore returns a memory store over d and idx.
func NewStore(d *db.DB, idx *search.Index, opts ...Option) *Store {
	s := &Store{db: d, index: idx, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// visibilityTag picks the auto-assigned scope tag. Memories written from a
// private channel stay in that channel; everything else is public.
func visibilityTag(ch channels.Channel) string {
	if ch != nil && ch.IsPrivate() {
		return ChannelTag(ch.ID())
	}
	return TagPublic
}

// Save upserts a memory. The originating channel decides visibility; the
// search index is refreshed with the user tags plus the visibility tag.
// Index failures never fail the save.
func (s *Store) Save(ctx context.Context, m Memory, ch channels.Channel) error {
	if m.Key == "" {
		return fmt.Errorf("memory: empty key")
	}
	switch m.Priority {
	case "":
		m.Priority = PriorityMedium
	case PriorityHigh, PriorityMedium, PriorityLow:
	default:
		return fmt.Errorf("memory: invalid priority %q", m.Priority)
	}

	if ch != nil {
		m.ChannelID = ch.ID()
		if u := ch.CurrentUser(); u != nil {
			m.UserID = u.ID
		}
	}

	tagsJSON, err := json.Marshal(append([]string{}, m.Tags...))
	if err != nil {
		return fmt.Errorf("memory: marshal tags: %w", err)
	}

	now := s.now().Unix()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_data (key, value, created_at, updated_at, tags, channel_id, user_id, post_id, priority)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value, updated_at = excluded.updated_at,
			tags = excluded.tags, channel_id = excluded.channel_id,
			user_id = excluded.user_id, post_id = excluded.post_id,
			priority = excluded.priority`,
		m.Key, m.Value, now, now, string(tagsJSON),
		nullable(m.ChannelID), nullable(m.UserID), nullable(m.PostID), m.Priority)
	if err != nil {
		return fmt.Errorf("memory: save %s: %w", m.Key, err)
	}

	indexTags := append(append([]string{}, m.Tags...), visibilityTag(ch))
	if err := s.index.Load(ctx, docID(m.Key), m.Value, m.Key, indexTags); err != nil {
		slog.Debug("memory: index failed", "key", m.Key, "error", err)
	}
	return nil
}

// Get returns one memory by key.
func (s *Store) Get(ctx context.Context, key string) (*Memory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, value, created_at, updated_at, tags, channel_id, user_id, post_id, priority
		FROM agent_data WHERE key = ?`, key)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory: get %s: %w", key, err)
	}
	return m, nil
}

// List returns all memories sorted by key.
func (s *Store) List(ctx context.Context) ([]Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value, created_at, updated_at, tags, channel_id, user_id, post_id, priority
		FROM agent_data ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("memory: list: %w", err)
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// Remove deletes a memory and its search document. Returns false when the
// key did not exist.
func (s *Store) Remove(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agent_data WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("memory: remove %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if err := s.index.Delete(ctx, docID(key)); err != nil {
		slog.Debug("memory: index delete failed", "key", key, "error", err)
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*Memory, error) {
	var (
		m                      Memory
		created, updated       int64
		tagsJSON               string
		channelID, userID, pid sql.NullString
	)
	if err := row.Scan(&m.Key, &m.Value, &created, &updated, &tagsJSON,
		&channelID, &userID, &pid, &m.Priority); err != nil {
		return nil, err
	}
	m.CreatedAt = time.Unix(created, 0)
	m.UpdatedAt = time.Unix(updated, 0)
	m.ChannelID = channelID.String
	m.UserID = userID.String
	m.PostID = pid.String
	if err := json.Unmarshal([]byte(tagsJSON), &m.Tags); err != nil {
		m.Tags = nil
	}
	return &m, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
