package model

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/hupe1980/agentweave/core"
)

// RateLimited throttles calls to a ChatModel with a token bucket. Waiting
// honors the caller's context, so a root timeout also bounds the wait.
type RateLimited struct {
	ChatModel
	limiter *rate.Limiter
}

// NewRateLimited allows r calls per second to m with bursts of up to burst.
func NewRateLimited(m ChatModel, r rate.Limit, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}

	return &RateLimited{ChatModel: m, limiter: rate.NewLimiter(r, burst)}
}

// Process waits for a token, then delegates.
func (r *RateLimited) Process(ctx context.Context, req Request) (core.Stream, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, fmt.Errorf("rate limiter %s: %w", r.Info().Name, err)
	}

	return r.ChatModel.Process(ctx, req)
}
