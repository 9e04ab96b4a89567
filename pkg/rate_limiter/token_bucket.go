package rate_limiter

import (
	"context"
	"fmt"
)

type TokenBucket struct {
	Policy  Policy
	storage Storer
}

func NewTokenBucket(storage Storer, policy Policy) *TokenBucket {
	return &TokenBucket{
		Policy:  policy,
		storage: storage,
	}
}

func (tb *TokenBucket) Allow(ctx context.Context, key string) (bool, error) {
	return tb.storage.CheckAndUpdateTokenBucket(
		ctx,
		fmt.Sprintf("%s:%s", tb.Policy.ID, key),
		tb.Policy.MaxRequests,
		tb.Policy.Window,
		tb.Policy.IdleExpiration(),
	)
}
