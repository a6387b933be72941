// Package registry persists event types and event handlers and exposes the
// management tools the model uses to rewire them at runtime.
package registry

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/voassist/vo/internal/bus"
	"github.com/voassist/vo/internal/channels"
	"github.com/voassist/vo/internal/db"
)

// Registry is the durable handler/event-type table set. All mutation goes
// through SQL so restarts see the same wiring the model last left behind.
type Registry struct {
	db *db.DB
}

// New returns a registry over d. Migrate must have run already.
func New(d *db.DB) *Registry {
	return &Registry{db: d}
}

// UpsertEventType records an event type, updating the description when the
// name already exists.
func (r *Registry) UpsertEventType(ctx context.Context, et bus.EventType) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO event_types (name, description) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET description = excluded.description`,
		et.Name, et.Description)
	if err != nil {
		return fmt.Errorf("upsert event type %s: %w", et.Name, err)
	}
	return nil
}

// EventTypes returns all known event types sorted by name.
func (r *Registry) EventTypes(ctx context.Context) ([]bus.EventType, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, description FROM event_types ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list event types: %w", err)
	}
	defer rows.Close()

	var out []bus.EventType
	for rows.Next() {
		var et bus.EventType
		if err := rows.Scan(&et.Name, &et.Description); err != nil {
			return nil, err
		}
		out = append(out, et)
	}
	return out, rows.Err()
}

// EventTypeExists reports whether name is a registered event type.
func (r *Registry) EventTypeExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_types WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RemoveEventType deletes an event type and its handler subscriptions.
func (r *Registry) RemoveEventType(ctx context.Context, name string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM handler_event_types WHERE event_type_name = ?`, name); err != nil {
		return fmt.Errorf("remove event type %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM event_types WHERE name = ?`, name); err != nil {
		return fmt.Errorf("remove event type %s: %w", name, err)
	}
	return tx.Commit()
}

// UpsertHandler writes a handler and replaces its event type subscriptions
// in one transaction, so a crash can never leave half a subscription list.
func (r *Registry) UpsertHandler(ctx context.Context, h bus.HandlerSpec) error {
	if h.ID == "" {
		return fmt.Errorf("upsert handler: empty id")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO event_handlers (id, prompt, channel_id) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET prompt = excluded.prompt, channel_id = excluded.channel_id`,
		h.ID, h.Prompt, nullable(h.ChannelID))
	if err != nil {
		return fmt.Errorf("upsert handler %s: %w", h.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM handler_event_types WHERE handler_id = ?`, h.ID); err != nil {
		return fmt.Errorf("clear subscriptions %s: %w", h.ID, err)
	}
	for _, et := range h.EventTypes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO handler_event_types (handler_id, event_type_name) VALUES (?, ?)`,
			h.ID, et); err != nil {
			return fmt.Errorf("subscribe %s to %s: %w", h.ID, et, err)
		}
	}
	return tx.Commit()
}

// RemoveHandler deletes a handler. Subscriptions go with it via the cascade.
// Returns false when no handler had that id.
func (r *Registry) RemoveHandler(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM event_handlers WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("remove handler %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Handlers returns all handlers with their subscriptions, sorted by id.
func (r *Registry) Handlers(ctx context.Context) ([]bus.HandlerSpec, error) {
	return r.queryHandlers(ctx, `
		SELECT id, prompt, channel_id FROM event_handlers ORDER BY id`)
}

// HandlersFor returns the handlers subscribed to the given event type.
func (r *Registry) HandlersFor(ctx context.Context, eventType string) ([]bus.HandlerSpec, error) {
	return r.queryHandlers(ctx, `
		SELECT h.id, h.prompt, h.channel_id
		FROM event_handlers h
		JOIN handler_event_types s ON s.handler_id = h.id
		WHERE s.event_type_name = ?
		ORDER BY h.id`, eventType)
}

func (r *Registry) queryHandlers(ctx context.Context, query string, args ...any) ([]bus.HandlerSpec, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query handlers: %w", err)
	}
	defer rows.Close()

	var out []bus.HandlerSpec
	for rows.Next() {
		var (
			h  bus.HandlerSpec
			ch sql.NullString
		)
		if err := rows.Scan(&h.ID, &h.Prompt, &ch); err != nil {
			return nil, err
		}
		h.ChannelID = ch.String
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		ets, err := r.subscriptions(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].EventTypes = ets
	}
	return out, nil
}

func (r *Registry) subscriptions(ctx context.Context, handlerID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT event_type_name FROM handler_event_types
		WHERE handler_id = ? ORDER BY event_type_name`, handlerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var et string
		if err := rows.Scan(&et); err != nil {
			return nil, err
		}
		out = append(out, et)
	}
	return out, rows.Err()
}

// ChannelInfo is the durable snapshot of a live channel, kept so the model
// can address channels by id through the management tools.
type ChannelInfo struct {
	ID        string
	TypeName  string
	IsGroup   bool
	IsPrivate bool
}

// SyncChannels replaces the channels table with the currently registered
// channels. The table is ephemeral; it only reflects this process run.
func (r *Registry) SyncChannels(ctx context.Context, chs []channels.Channel) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM channels`); err != nil {
		return fmt.Errorf("clear channels: %w", err)
	}
	for _, ch := range chs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO channels (id, type_name, is_group, is_private) VALUES (?, ?, ?, ?)`,
			ch.ID(), ch.TypeName(), boolInt(ch.IsGroup()), boolInt(ch.IsPrivate())); err != nil {
			return fmt.Errorf("insert channel %s: %w", ch.ID(), err)
		}
	}
	return tx.Commit()
}

// Channels returns the channel snapshot sorted by id.
func (r *Registry) Channels(ctx context.Context) ([]ChannelInfo, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, type_name, is_group, is_private FROM channels ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var out []ChannelInfo
	for rows.Next() {
		var (
			ci          ChannelInfo
			group, priv int
		)
		if err := rows.Scan(&ci.ID, &ci.TypeName, &group, &priv); err != nil {
			return nil, err
		}
		ci.IsGroup = group != 0
		ci.IsPrivate = priv != 0
		out = append(out, ci)
	}
	return out, rows.Err()
}

// ChannelExists reports whether id is a known channel.
func (r *Registry) ChannelExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM channels WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
