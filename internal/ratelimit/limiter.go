// Package ratelimit implements the token-bucket stores behind the gateway's
// rate-limiting filter. Buckets refill at a fixed rate and allow bursts up to
// their capacity; the partition key is supplied by the caller.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed   bool
	Limit     int           // bucket capacity
	Remaining int           // tokens left after this check
	RetryAfter time.Duration // time until one token is available; zero when allowed
}

// Limiter answers whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}
