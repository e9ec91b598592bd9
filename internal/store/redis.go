package store

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"ratelimitd/internal/models"
)

//go:embed token_bucket.lua
var tokenBucketSrc string

//go:embed sliding_window.lua
var slidingWindowSrc string

var (
	tokenBucketScript   = redis.NewScript(tokenBucketSrc)
	slidingWindowScript = redis.NewScript(slidingWindowSrc)
)

// RedisStore keeps counter state in redis hashes and runs the decision math
// server-side in Lua. Redis executes each script as a single atomic unit, so
// the read-compute-write cycle cannot interleave with other clients even
// though the state lives outside this process. Idle keys expire via PEXPIRE
// rather than an external sweeper.
type RedisStore struct {
	client      *redis.Client
	prefix      string
	ttlMultiple int
}

// NewRedisStore connects to redis and verifies it is reachable.
func NewRedisStore(cfg models.RedisConfig, ttlMultiple int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: connecting to redis at %s: %v", ErrUnavailable, cfg.Addr, err)
	}

	return &RedisStore{
		client:      client,
		prefix:      cfg.KeyPrefix,
		ttlMultiple: ttlMultiple,
	}, nil
}

func (s *RedisStore) Apply(ctx context.Context, key string, policy models.Policy, now time.Time, cost int64) (models.CounterState, bool, error) {
	rkey := s.prefix + key
	ttlMs := idleTTL(policy, s.ttlMultiple).Milliseconds()

	switch policy.Algorithm {
	case models.AlgorithmTokenBucket:
		return s.applyTokenBucket(ctx, rkey, policy, now, cost, ttlMs)
	case models.AlgorithmSlidingWindow:
		return s.applySlidingWindow(ctx, rkey, policy, now, cost, ttlMs)
	default:
		return models.CounterState{}, false, fmt.Errorf("no script registered for algorithm %q", policy.Algorithm)
	}
}

func (s *RedisStore) applyTokenBucket(ctx context.Context, rkey string, policy models.Policy, now time.Time, cost, ttlMs int64) (models.CounterState, bool, error) {
	nowSec := float64(now.UnixNano()) / float64(time.Second)
	res, err := tokenBucketScript.Run(ctx, s.client, []string{rkey},
		policy.RefillRate(), policy.Burst, nowSec, cost, ttlMs).Result()
	if err != nil {
		return models.CounterState{}, false, fmt.Errorf("%w: token bucket script: %v", ErrUnavailable, err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return models.CounterState{}, false, fmt.Errorf("%w: unexpected token bucket reply %v", ErrUnavailable, res)
	}
	allowed, _ := values[0].(int64)
	tokensStr, _ := values[1].(string)
	tokens, err := strconv.ParseFloat(tokensStr, 64)
	if err != nil {
		return models.CounterState{}, false, fmt.Errorf("%w: parsing token balance %q: %v", ErrUnavailable, tokensStr, err)
	}

	state := models.CounterState{
		Tokens:     tokens,
		LastRefill: now,
	}
	return state, allowed == 1, nil
}

func (s *RedisStore) applySlidingWindow(ctx context.Context, rkey string, policy models.Policy, now time.Time, cost, ttlMs int64) (models.CounterState, bool, error) {
	res, err := slidingWindowScript.Run(ctx, s.client, []string{rkey},
		policy.Limit, policy.Window.Milliseconds(), now.UnixMilli(), cost, ttlMs).Result()
	if err != nil {
		return models.CounterState{}, false, fmt.Errorf("%w: sliding window script: %v", ErrUnavailable, err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 4 {
		return models.CounterState{}, false, fmt.Errorf("%w: unexpected sliding window reply %v", ErrUnavailable, res)
	}
	allowed, _ := values[0].(int64)
	wid, _ := values[1].(int64)
	current, _ := values[2].(int64)
	previous, _ := values[3].(int64)

	state := models.CounterState{
		WindowID:      wid,
		CurrentCount:  current,
		PreviousCount: previous,
	}
	return state, allowed == 1, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
