package rate_limiter

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"github.com/martinmaurice/erpgate/pkg/env"
	"github.com/redis/go-redis/v9"
	"log/slog"
	"time"
)

const (
	tokensRedisFieldName     = "tokens"
	lastRefillRedisFieldName = "last_refill_ms"
)

//go:embed token_bucket.lua
var tokenBucketScriptSource string

var tokenBucketScript = redis.NewScript(tokenBucketScriptSource)

type RedisStorage struct {
	dB          *redis.Client
	requestCost float64
	now         func() time.Time
}

func NewRedis() *RedisStorage {
	envObj := env.GetEnv()
	return NewRedisStorage(redis.NewClient(&redis.Options{
		Addr:     envObj.RedisAddr,
		Password: envObj.RedisPassword,
		DB:       envObj.RedisDb,
		PoolSize: envObj.RedisPoolSize,
	}))
}

func NewRedisStorage(client *redis.Client) *RedisStorage {
	return &RedisStorage{
		dB:          client,
		requestCost: 1.0,
		now:         time.Now,
	}
}

func (r *RedisStorage) Ping(ctx context.Context) error {
	return r.dB.Ping(ctx).Err()
}

func (r *RedisStorage) Close() error {
	return r.dB.Close()
}

func (r *RedisStorage) CheckAndUpdateTokenBucket(ctx context.Context, key string, capacity int, window time.Duration, expiresIn time.Duration) (bool, error) {
	if window <= 0 {
		return false, errors.New("token bucket window must be greater than zero")
	}

	result, err := tokenBucketScript.Run(
		ctx,
		r.dB,
		[]string{key},
		capacity,
		window.Milliseconds(),
		r.now().UnixMilli(),
		r.requestCost,
		expiresIn.Milliseconds(),
	).Result()
	if err != nil {
		return false, fmt.Errorf("token bucket script: %w", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return false, errors.New("invalid lua response format")
	}

	allowed, _ := values[0].(int64)
	slog.Debug("token bucket checked", "key", key, "allowed", allowed, "tokens", values[1])
	return allowed == 1, nil
}
