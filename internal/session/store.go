package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/voassist/vo/internal/db"
	"github.com/voassist/vo/internal/search"
)

// Store persists session entries and the session-key → session-id mapping.
// Entries are append-only; the database rowid is the insertion order.
type Store struct {
	db    *db.DB
	index *search.Index

	staleAfter    time.Duration
	bridgeEntries int
	now           func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithStaleAfter overrides the inactivity window that rotates a session.
func WithStaleAfter(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// WithBridgeEntries overrides how many tail entries feed the bridge context.
func WithBridgeEntries(n int) StoreOption {
	return func(s *Store) {
		if n >= 0 {
			s.bridgeEntries = n
		}
	}
}

// NewStore creates a session store over the shared database. index may be
// nil; indexing is then skipped entirely.
func NewStore(d *db.DB, index *search.Index, opts ...StoreOption) *Store {
	s := &Store{
		db:            d,
		index:         index,
		staleAfter:    time.Hour,
		bridgeEntries: 3,
		now:           time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AppendEntry writes one entry to the log and indexes its flattened text.
// The SQLite row is authoritative: an indexing failure is debug-logged and
// never fails the append.
func (s *Store) AppendEntry(ctx context.Context, sessionID string, e Entry) (int64, error) {
	messages, err := json.Marshal(e.Messages)
	if err != nil {
		return 0, fmt.Errorf("session: marshal messages: %w", err)
	}
	usage, err := json.Marshal(e.Usage)
	if err != nil {
		return 0, err
	}
	pending := []byte("[]")
	if len(e.Pending) > 0 {
		if pending, err = json.Marshal(e.Pending); err != nil {
			return 0, err
		}
	}

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO session_entries
		   (session_id, created_at, messages, response_id, usage, pending, is_compaction, user_id, post_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, createdAt.UnixMilli(), string(messages), e.ResponseID, string(usage),
		string(pending), boolInt(e.IsCompaction), nullable(e.UserID), nullable(e.PostID))
	if err != nil {
		return 0, fmt.Errorf("session: append: %w", err)
	}
	entryID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if s.index != nil {
		docID := fmt.Sprintf("session:%s:%d", sessionID, entryID)
		text := flattenMessages(e.Messages)
		if text != "" {
			if err := s.index.Load(ctx, docID, text, sessionID, []string{"session"}); err != nil {
				slog.Debug("session: index append failed", "doc", docID, "error", err)
			}
		}
	}
	return entryID, nil
}

// Entries returns entries for a session in insertion order, starting at the
// 1-based position start, at most limit rows (limit <= 0 means all).
func (s *Store) Entries(ctx context.Context, sessionID string, start, limit int) ([]Entry, error) {
	if start < 1 {
		start = 1
	}
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, created_at, messages, response_id, usage, pending,
		        is_compaction, user_id, post_id, deleted
		 FROM session_entries
		 WHERE session_id = ?
		 ORDER BY id
		 LIMIT ? OFFSET ?`, sessionID, limit, start-1)
	if err != nil {
		return nil, fmt.Errorf("session: entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// EntryCount returns the number of log rows for a session, scrubbed rows
// included.
func (s *Store) EntryCount(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM session_entries WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// Load rebuilds the agent state by folding all entries in insertion order.
func (s *Store) Load(ctx context.Context, sessionID string) (AgentState, error) {
	entries, err := s.Entries(ctx, sessionID, 1, 0)
	if err != nil {
		return AgentState{}, err
	}
	var state AgentState
	for _, e := range entries {
		state = Apply(state, e)
	}
	state.Messages = RepairMessages(state.Messages, state.Pending)
	return state, nil
}

// Resolution is the result of mapping a session key to a session id.
type Resolution struct {
	SessionID string
	Rotated   bool
	// Bridge is the "Previous Session Context" text, set only on the
	// resolve call that performed the rotation.
	Bridge string
}

// Resolve maps a channel-scoped session key to its session id, minting a
// fresh id when the previous one has gone stale. The check-then-write runs
// inside one transaction; SQLite's serialized writer makes the
// read-modify-write race-safe.
func (s *Store) Resolve(ctx context.Context, sessionKey string, isGroup, isPrivate bool) (Resolution, error) {
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Resolution{}, err
	}
	defer tx.Rollback()

	var (
		current      string
		lastActivity int64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT session_id, last_activity FROM session_keys WHERE session_key = ?`,
		sessionKey).Scan(&current, &lastActivity)

	switch {
	case err == sql.ErrNoRows:
		id := uuid.NewString()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_keys (session_key, session_id, last_activity, is_group, is_private)
			 VALUES (?, ?, ?, ?, ?)`,
			sessionKey, id, now.UnixMilli(), boolInt(isGroup), boolInt(isPrivate)); err != nil {
			return Resolution{}, err
		}
		if err := tx.Commit(); err != nil {
			return Resolution{}, err
		}
		return Resolution{SessionID: id}, nil

	case err != nil:
		return Resolution{}, fmt.Errorf("session: resolve: %w", err)
	}

	if now.Sub(time.UnixMilli(lastActivity)) <= s.staleAfter {
		if _, err := tx.ExecContext(ctx,
			`UPDATE session_keys SET last_activity = ?, is_group = ?, is_private = ? WHERE session_key = ?`,
			now.UnixMilli(), boolInt(isGroup), boolInt(isPrivate), sessionKey); err != nil {
			return Resolution{}, err
		}
		if err := tx.Commit(); err != nil {
			return Resolution{}, err
		}
		return Resolution{SessionID: current}, nil
	}

	// Stale: rotate to a fresh id, keeping a pointer to the predecessor.
	id := uuid.NewString()
	if _, err := tx.ExecContext(ctx,
		`UPDATE session_keys
		 SET session_id = ?, prev_session_id = ?, last_activity = ?, is_group = ?, is_private = ?
		 WHERE session_key = ?`,
		id, current, now.UnixMilli(), boolInt(isGroup), boolInt(isPrivate), sessionKey); err != nil {
		return Resolution{}, err
	}
	if err := tx.Commit(); err != nil {
		return Resolution{}, err
	}

	bridge, err := s.bridgeContext(ctx, current)
	if err != nil {
		slog.Warn("session: bridge context failed", "prev", current, "error", err)
		bridge = ""
	}
	slog.Info("session: rotated", "key", sessionKey, "prev", current, "new", id)
	return Resolution{SessionID: id, Rotated: true, Bridge: bridge}, nil
}

// bridgeContext flattens the tail entries of the predecessor session into
// the text injected under "## Previous Session Context".
func (s *Store) bridgeContext(ctx context.Context, prevSessionID string) (string, error) {
	if s.bridgeEntries == 0 || prevSessionID == "" {
		return "", nil
	}
	count, err := s.EntryCount(ctx, prevSessionID)
	if err != nil {
		return "", err
	}
	start := count - s.bridgeEntries + 1
	if start < 1 {
		start = 1
	}
	entries, err := s.Entries(ctx, prevSessionID, start, s.bridgeEntries)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, e := range entries {
		if e.Deleted {
			continue
		}
		if text := flattenMessages(e.Messages); text != "" {
			b.WriteString(text)
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(b.String()), nil
}

// AccessibleSessions returns the session ids reachable from a channel: its
// own session plus every session on a public (non-private) channel.
func (s *Store) AccessibleSessions(ctx context.Context, currentChannelID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id FROM session_keys WHERE session_key = ? OR is_private = 0`,
		currentChannelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Scrub removes every trace of a post id: agent-data rows (and their search
// documents) are hard-deleted; session entries are soft-marked so the log
// prefix stays intact for providers that cache by prefix.
func (s *Store) Scrub(ctx context.Context, postID string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE session_entries SET deleted = 1 WHERE post_id = ?`, postID); err != nil {
		return fmt.Errorf("session: scrub entries: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM agent_data WHERE post_id = ?`, postID)
	if err != nil {
		return err
	}
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			rows.Close()
			return err
		}
		keys = append(keys, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM agent_data WHERE post_id = ?`, postID); err != nil {
		return fmt.Errorf("session: scrub agent data: %w", err)
	}
	if s.index != nil {
		for _, k := range keys {
			if err := s.index.Delete(ctx, "agent_data:"+k); err != nil {
				slog.Debug("session: scrub index delete failed", "key", k, "error", err)
			}
		}
	}
	slog.Info("session: scrubbed", "post_id", postID, "agent_data_keys", len(keys))
	return nil
}

// flattenMessages renders a transcript slice as plain text for indexing and
// bridge context.
func flattenMessages(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		switch m.Type {
		case MessageUser:
			fmt.Fprintf(&b, "user: %s\n", m.Content)
		case MessageAssistant:
			if m.Content != "" {
				fmt.Fprintf(&b, "assistant: %s\n", m.Content)
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e            Entry
		createdAt    int64
		messages     string
		usage        string
		pending      string
		isCompaction int
		userID       sql.NullString
		postID       sql.NullString
		deleted      int
	)
	if err := rows.Scan(&e.ID, &e.SessionID, &createdAt, &messages, &e.ResponseID,
		&usage, &pending, &isCompaction, &userID, &postID, &deleted); err != nil {
		return Entry{}, err
	}
	e.CreatedAt = time.UnixMilli(createdAt)
	if err := json.Unmarshal([]byte(messages), &e.Messages); err != nil {
		return Entry{}, fmt.Errorf("session: entry %d messages: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(usage), &e.Usage); err != nil {
		return Entry{}, err
	}
	if err := json.Unmarshal([]byte(pending), &e.Pending); err != nil {
		return Entry{}, err
	}
	e.IsCompaction = isCompaction != 0
	e.UserID = userID.String
	e.PostID = postID.String
	e.Deleted = deleted != 0
	return e, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
