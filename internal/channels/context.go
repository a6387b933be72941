package channels

import "context"

type ctxKey struct{}

// NewContext returns ctx carrying the channel the current turn runs on.
func NewContext(ctx context.Context, ch Channel) context.Context {
	return context.WithValue(ctx, ctxKey{}, ch)
}

// FromContext returns the turn's channel, nil when none is attached.
func FromContext(ctx context.Context) Channel {
	ch, _ := ctx.Value(ctxKey{}).(Channel)
	return ch
}
