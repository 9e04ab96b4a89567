package rate_limiter

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"
)

const DefaultSweepInterval = 5 * time.Minute

type MemoryStorage struct {
	mu            *sync.Mutex
	db            map[string]tokenBucket
	requestCost   float64
	sweepInterval time.Duration
	lastSweep     time.Time
	now           func() time.Time
}

type tokenBucket struct {
	lastRefill time.Time
	tokens     float64
	expiresIn  time.Duration
}

type MemoryStorageOption func(*MemoryStorage)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) MemoryStorageOption {
	return func(m *MemoryStorage) {
		m.now = now
	}
}

func WithSweepInterval(interval time.Duration) MemoryStorageOption {
	return func(m *MemoryStorage) {
		m.sweepInterval = interval
	}
}

func NewMemoryStorage(opts ...MemoryStorageOption) *MemoryStorage {
	m := &MemoryStorage{
		mu:            &sync.Mutex{},
		db:            make(map[string]tokenBucket),
		requestCost:   1.0,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.lastSweep = m.now()
	return m
}

// sweep drops buckets idle for longer than their expiration. Callers hold mu.
func (m *MemoryStorage) sweep(now time.Time) {
	if now.Sub(m.lastSweep) <= m.sweepInterval {
		return
	}
	m.lastSweep = now

	removed := 0
	for key, bucket := range m.db {
		if now.Sub(bucket.lastRefill) > bucket.expiresIn {
			delete(m.db, key)
			removed++
		}
	}
	slog.Debug("swept idle token buckets", "removed", removed, "remaining", len(m.db))
}

func (m *MemoryStorage) CheckAndUpdateTokenBucket(_ context.Context, key string, capacity int, window time.Duration, expiresIn time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweep(now)

	updateTokenBucket := func(newTokens float64) {
		m.db[key] = tokenBucket{
			lastRefill: now,
			tokens:     newTokens,
			expiresIn:  expiresIn,
		}
	}

	match, ok := m.db[key]
	if !ok { // first request of this key is already paid for
		newTokens := float64(capacity) - m.requestCost
		slog.Debug("Creating new token bucket", "key", key, "tokens", newTokens)
		updateTokenBucket(newTokens)
		return true, nil
	}

	elapsed := now.Sub(match.lastRefill)
	if elapsed < 0 {
		elapsed = 0
	}
	tokensToRefill := float64(elapsed) / float64(window) * float64(capacity)
	newTokens := math.Min(float64(capacity), match.tokens+tokensToRefill)

	if newTokens >= m.requestCost {
		slog.Debug("Refilling token bucket", "key", key, "tokens", newTokens)
		updateTokenBucket(newTokens - m.requestCost)
		return true, nil
	}

	updateTokenBucket(newTokens)
	return false, nil
}

// Len reports how many buckets are currently tracked.
func (m *MemoryStorage) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.db)
}
