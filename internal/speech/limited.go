package speech

import (
	"context"

	"golang.org/x/time/rate"
)

// Limited throttles calls to an underlying Gateway that makes one provider
// request per call.
type Limited struct {
	next    Gateway
	limiter *rate.Limiter
}

// NewLimited allows perMinute provider requests per minute with the given
// burst. Gateways that split long text are charged per chunk request and
// returned as is. perMinute <= 0 returns next unchanged.
func NewLimited(next Gateway, perMinute, burst int) Gateway {
	if perMinute <= 0 {
		return next
	}
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst)
	if t, ok := next.(chunkThrottler); ok {
		t.throttle(limiter.Wait)
		return next
	}
	return &Limited{next: next, limiter: limiter}
}

func (l *Limited) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, &SynthesisError{Provider: "ratelimit", Err: err}
	}
	return l.next.Synthesize(ctx, text, voice)
}
