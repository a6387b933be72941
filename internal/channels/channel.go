// Package channels defines the uniform streaming/send surface over
// heterogeneous chat backends and the process-wide channel registry.
package channels

import "context"

// User identifies the person currently speaking on a channel.
type User struct {
	ID   string
	Name string
}

// Channel is an addressable sink/source with a stable string id. Direct
// channels receive live streaming; group channels get whole messages after
// the output guard has run.
type Channel interface {
	// ID returns the stable channel identifier.
	ID() string

	// TypeName names the backing platform (e.g. "repl", "discord").
	TypeName() string

	// IsGroup reports whether the channel is multi-party.
	IsGroup() bool

	// IsPrivate reports whether the channel is a DM or private channel.
	IsPrivate() bool

	// StartStreaming begins an incremental delivery.
	StartStreaming(ctx context.Context) error

	// AppendToStream delivers one response fragment.
	AppendToStream(ctx context.Context, delta string) error

	// FinishStreaming completes an incremental delivery.
	FinishStreaming(ctx context.Context) error

	// SendMessage delivers one whole message atomically.
	SendMessage(ctx context.Context, text string) error

	// CurrentUser returns the active user, nil when unknown.
	CurrentUser() *User

	// Close releases platform resources.
	Close() error
}
