package embedding

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited throttles calls to a remote embedding provider.
type RateLimited struct {
	inner   Embedder
	limiter *rate.Limiter
}

// NewRateLimited allows rps requests per second with a burst of one second's worth.
func NewRateLimited(inner Embedder, rps float64) *RateLimited {
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{inner: inner, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *RateLimited) Embed(ctx context.Context, text string) (Vector, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Embed(ctx, text)
}

func (r *RateLimited) Dims() int { return r.inner.Dims() }
