package rate_limiter

import (
	"context"
	"time"
)

type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type Storer interface {
	CheckAndUpdateTokenBucket(ctx context.Context, key string, capacity int, window time.Duration, expiresIn time.Duration) (bool, error)
}
