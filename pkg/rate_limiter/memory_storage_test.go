package rate_limiter

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"math/rand"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestMemoryStorage(clock *fakeClock) *MemoryStorage {
	return NewMemoryStorage(WithClock(clock.Now))
}

func TestMemoryStorage_CheckAndUpdateTokenBucket(t *testing.T) {
	var (
		capacity  = 2
		window    = time.Second
		expiresIn = 2 * time.Second
	)

	clock := newFakeClock()

	tests := []struct {
		id   string
		key  string
		db   map[string]tokenBucket
		want bool
	}{
		{
			id:   "Allow request because the bucket does not exist",
			key:  "proxy:10.0.0.1",
			db:   make(map[string]tokenBucket),
			want: true,
		},
		{
			id:  "Allow request because the bucket is not empty yet",
			key: "proxy:10.0.0.1",
			db: map[string]tokenBucket{
				"proxy:10.0.0.1": {lastRefill: clock.Now(), tokens: 1, expiresIn: expiresIn},
			},
			want: true,
		},
		{
			id:  "Disallow request because the bucket is empty",
			key: "proxy:10.0.0.1",
			db: map[string]tokenBucket{
				"proxy:10.0.0.1": {lastRefill: clock.Now(), tokens: 0, expiresIn: expiresIn},
			},
			want: false,
		},
		{
			id:  "Disallow request because less than one token was refilled",
			key: "proxy:10.0.0.1",
			db: map[string]tokenBucket{
				"proxy:10.0.0.1": {lastRefill: clock.Now().Add(-400 * time.Millisecond), tokens: 0, expiresIn: expiresIn},
			},
			want: false,
		},
		{
			id:  "Allow request because the bucket has been refilled due to elapsed time",
			key: "proxy:10.0.0.1",
			db: map[string]tokenBucket{
				"proxy:10.0.0.1": {lastRefill: clock.Now().Add(-500 * time.Millisecond), tokens: 0, expiresIn: expiresIn},
			},
			want: true,
		},
	}

	for _, tt := range tests {
		storage := newTestMemoryStorage(clock)
		storage.db = tt.db

		t.Run(tt.id, func(t *testing.T) {
			ok, err := storage.CheckAndUpdateTokenBucket(context.Background(), tt.key, capacity, window, expiresIn)
			require.NoError(t, err)
			require.Equal(t, tt.want, ok)
		})
	}
}

func TestMemoryStorage_TokenBucket_EdgeCases(t *testing.T) {
	t.Run("First request seeds the bucket with capacity minus one", func(t *testing.T) {
		clock := newFakeClock()
		storage := newTestMemoryStorage(clock)

		ok, err := storage.CheckAndUpdateTokenBucket(context.Background(), "k", 100, time.Minute, 2*time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 99.0, storage.db["k"].tokens)
	})

	t.Run("Exact boundary - exactly one token left", func(t *testing.T) {
		clock := newFakeClock()
		storage := newTestMemoryStorage(clock)
		storage.db["k"] = tokenBucket{lastRefill: clock.Now(), tokens: 1.0, expiresIn: time.Minute}

		ok, err := storage.CheckAndUpdateTokenBucket(context.Background(), "k", 10, time.Minute, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "one token is enough for one request")
		assert.Equal(t, 0.0, storage.db["k"].tokens)
	})

	t.Run("Burst of capacity plus one admits exactly capacity", func(t *testing.T) {
		clock := newFakeClock()
		storage := newTestMemoryStorage(clock)
		capacity := 100

		admitted := 0
		for i := 0; i < capacity+1; i++ {
			ok, err := storage.CheckAndUpdateTokenBucket(context.Background(), "burst", capacity, time.Minute, 2*time.Minute)
			require.NoError(t, err)
			if ok {
				admitted++
			}
		}
		assert.Equal(t, capacity, admitted)
	})

	t.Run("Rejection does not consume", func(t *testing.T) {
		clock := newFakeClock()
		storage := newTestMemoryStorage(clock)
		storage.db["k"] = tokenBucket{lastRefill: clock.Now(), tokens: 0.5, expiresIn: time.Minute}

		ok, err := storage.CheckAndUpdateTokenBucket(context.Background(), "k", 10, time.Minute, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 0.5, storage.db["k"].tokens)
	})

	t.Run("Refill does not exceed capacity", func(t *testing.T) {
		clock := newFakeClock()
		storage := newTestMemoryStorage(clock)
		storage.db["k"] = tokenBucket{lastRefill: clock.Now().Add(-time.Hour), tokens: 5.0, expiresIn: 3 * time.Hour}

		ok, err := storage.CheckAndUpdateTokenBucket(context.Background(), "k", 10, time.Second, 3*time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 9.0, storage.db["k"].tokens)
	})

	t.Run("Clock going backwards refills nothing", func(t *testing.T) {
		clock := newFakeClock()
		storage := newTestMemoryStorage(clock)
		storage.db["k"] = tokenBucket{lastRefill: clock.Now().Add(time.Second), tokens: 0, expiresIn: time.Minute}

		ok, err := storage.CheckAndUpdateTokenBucket(context.Background(), "k", 10, time.Second, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestMemoryStorage_TokensStayWithinBounds(t *testing.T) {
	clock := newFakeClock()
	storage := newTestMemoryStorage(clock)
	capacity := 10
	window := time.Second
	rnd := rand.New(rand.NewSource(42))

	for i := 0; i < 2000; i++ {
		clock.Advance(time.Duration(rnd.Intn(200)) * time.Millisecond)
		_, err := storage.CheckAndUpdateTokenBucket(context.Background(), "bounded", capacity, window, 2*window)
		require.NoError(t, err)

		tokens := storage.db["bounded"].tokens
		require.GreaterOrEqual(t, tokens, 0.0)
		require.LessOrEqual(t, tokens, float64(capacity))
	}
}

func TestMemoryStorage_RefillIsBoundedByElapsedTime(t *testing.T) {
	clock := newFakeClock()
	storage := newTestMemoryStorage(clock)
	capacity := 60
	window := time.Minute

	storage.db["k"] = tokenBucket{lastRefill: clock.Now(), tokens: 10, expiresIn: 2 * window}
	delta := 5 * time.Second
	clock.Advance(delta)

	ok, err := storage.CheckAndUpdateTokenBucket(context.Background(), "k", capacity, window, 2*window)
	require.NoError(t, err)
	require.True(t, ok)

	maxRefill := float64(capacity) * delta.Seconds() / window.Seconds()
	// one token was consumed by the check itself
	assert.InDelta(t, 10+maxRefill-1, storage.db["k"].tokens, 1e-9)
}

func TestMemoryStorage_Sweep(t *testing.T) {
	clock := newFakeClock()
	storage := newTestMemoryStorage(clock)
	window := time.Minute

	for i := 0; i < 100; i++ {
		_, err := storage.CheckAndUpdateTokenBucket(context.Background(), "idle", 100, window, 2*window)
		require.NoError(t, err)
	}
	ok, err := storage.CheckAndUpdateTokenBucket(context.Background(), "idle", 100, window, 2*window)
	require.NoError(t, err)
	require.False(t, ok, "bucket is exhausted")

	t.Run("No sweep before the sweep interval", func(t *testing.T) {
		clock.Advance(3 * window)
		_, err := storage.CheckAndUpdateTokenBucket(context.Background(), "other", 100, window, 2*window)
		require.NoError(t, err)
		assert.Equal(t, 2, storage.Len())
	})

	t.Run("Idle bucket is removed once the sweep interval elapsed", func(t *testing.T) {
		clock.Advance(DefaultSweepInterval)
		_, err := storage.CheckAndUpdateTokenBucket(context.Background(), "fresh", 100, window, 2*window)
		require.NoError(t, err)
		_, exists := storage.db["idle"]
		assert.False(t, exists)
		assert.Equal(t, 1, storage.Len())
	})

	t.Run("Swept key is treated as first seen", func(t *testing.T) {
		ok, err := storage.CheckAndUpdateTokenBucket(context.Background(), "idle", 100, window, 2*window)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 99.0, storage.db["idle"].tokens)
	})
}

func TestMemoryStorage_ConcurrentSafe(t *testing.T) {
	clock := newFakeClock()
	storage := newTestMemoryStorage(clock)
	capacity := 100

	var wg sync.WaitGroup
	for i := 0; i < capacity; i++ {
		wg.Go(func() {
			_, _ = storage.CheckAndUpdateTokenBucket(context.Background(), "shared", capacity, time.Second, 2*time.Second)
		})
	}
	wg.Wait()

	ok, err := storage.CheckAndUpdateTokenBucket(context.Background(), "shared", capacity, time.Second, 2*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "bucket should be exhausted after capacity concurrent requests")
}
