package channels

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited wraps a channel so outbound sends respect a per-minute cap.
// Streaming fragments are not throttled; platforms that need fragment
// pacing do it in their own adapter.
type RateLimited struct {
	Channel
	limiter *rate.Limiter
}

// WithRateLimit decorates ch with a sends-per-minute limiter. perMin <= 0
// returns ch unchanged.
func WithRateLimit(ch Channel, perMin int) Channel {
	if perMin <= 0 {
		return ch
	}
	return &RateLimited{
		Channel: ch,
		limiter: rate.NewLimiter(rate.Limit(float64(perMin)/60.0), perMin),
	}
}

// SendMessage waits for limiter headroom before delegating.
func (r *RateLimited) SendMessage(ctx context.Context, text string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.Channel.SendMessage(ctx, text)
}
