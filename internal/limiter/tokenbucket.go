package limiter

import (
	"math"
	"time"

	"ratelimitd/internal/models"
)

// TokenBucket grants a refillable quota consumed per request. The bucket
// refills continuously at Limit/Window tokens per second up to Burst.
type TokenBucket struct{}

// NewState starts a key with a full bucket.
func (TokenBucket) NewState(policy models.Policy, now time.Time) models.CounterState {
	return models.CounterState{
		Tokens:     float64(policy.Burst),
		LastRefill: now,
	}
}

// TryConsume refills the bucket for the elapsed time, then consumes cost
// tokens if enough are available.
//
// A clock regression (now before LastRefill) is treated as zero elapsed time,
// not an error, so the token balance is monotonic between consumptions. A
// rejected request persists the refill but subtracts nothing; a cost larger
// than the burst capacity can never be admitted, whatever the balance.
func (TokenBucket) TryConsume(state models.CounterState, policy models.Policy, now time.Time, cost int64) (models.CounterState, bool) {
	elapsed := now.Sub(state.LastRefill).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}

	tokens := state.Tokens + elapsed*policy.RefillRate()
	if tokens > float64(policy.Burst) {
		tokens = float64(policy.Burst)
	}

	allowed := cost <= policy.Burst && tokens >= float64(cost)
	if allowed {
		tokens -= float64(cost)
	}

	state.Tokens = tokens
	state.LastRefill = now
	return state, allowed
}

// Remaining floors the token balance to whole tokens.
func (TokenBucket) Remaining(state models.CounterState, policy models.Policy, now time.Time) int64 {
	return int64(math.Max(0, math.Floor(state.Tokens)))
}

// ResetAfter is the time until the bucket refills to full capacity.
func (TokenBucket) ResetAfter(state models.CounterState, policy models.Policy, now time.Time) time.Duration {
	missing := float64(policy.Burst) - state.Tokens
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing / policy.RefillRate() * float64(time.Second))
}

// RetryAfter is the time until cost tokens will have accumulated. For a cost
// above the burst capacity that moment never comes; the full refill time is
// returned so callers still get a finite back-off hint.
func (TokenBucket) RetryAfter(state models.CounterState, policy models.Policy, now time.Time, cost int64) time.Duration {
	if cost > policy.Burst {
		return time.Duration(float64(policy.Burst) / policy.RefillRate() * float64(time.Second))
	}
	missing := float64(cost) - state.Tokens
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing / policy.RefillRate() * float64(time.Second))
}
