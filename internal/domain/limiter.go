package domain

import (
	"context"
	"time"
)

// RateLimiter gates request admission. Allow reports whether the caller
// identified by key may proceed, given a budget of limit requests per window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
