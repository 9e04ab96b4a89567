package rate_limiter

import (
	"context"
	"github.com/martinmaurice/erpgate/pkg/config"
	"log/slog"
	"time"
)

type Servicer interface {
	CheckRateLimit(ctx context.Context, key string, rateLimiterID string) Decision
}

type Client struct {
	rateStorage  Storer
	rateLimiters map[string]*TokenBucket
}

// New builds one token bucket per configured policy, all sharing storage.
func New(cfg *config.Config, storage Storer) *Client {
	c := &Client{
		rateStorage:  storage,
		rateLimiters: make(map[string]*TokenBucket),
	}
	for _, id := range cfg.RateLimiterIDs() {
		rl := cfg.RateLimiters[id]
		c.rateLimiters[id] = NewTokenBucket(storage, Policy{
			ID:          rl.ID,
			Window:      rl.Window,
			MaxRequests: rl.MaxRequests,
		})
	}
	return c
}

func (c *Client) Policy(rateLimiterID string) (Policy, bool) {
	tb, ok := c.rateLimiters[rateLimiterID]
	if !ok {
		return Policy{}, false
	}
	return tb.Policy, true
}

// CheckRateLimit consumes one permit for key under the given policy. Storage
// errors reject the request.
func (c *Client) CheckRateLimit(ctx context.Context, key, rateLimiterID string) Decision {
	tb, ok := c.rateLimiters[rateLimiterID]
	if key == "" || !ok {
		return Decision{Allowed: true, PolicyID: rateLimiterID}
	}

	allowed, err := tb.Allow(ctx, key)
	if err != nil {
		slog.Error("unexpected error happened while checking rate limit", "key", key, "rate_limiter_id", rateLimiterID, "error", err)
		allowed = false
	}

	if allowed {
		return Decision{Allowed: true, PolicyID: rateLimiterID}
	}

	return Decision{
		Allowed:    false,
		PolicyID:   rateLimiterID,
		RetryAfter: time.Duration(tb.Policy.RetryAfterSeconds()) * time.Second,
	}
}
