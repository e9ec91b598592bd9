// Package limiter implements the counter algorithms behind rate limit
// decisions: token bucket and sliding window counter.
//
// Every function here is a pure state transition over (previous state,
// policy, now, cost). There is no I/O, no locking, and no clock access; the
// caller supplies the time. Atomicity of read-compute-write cycles is the
// counter store's job (internal/store), which is the only component allowed
// to hold counter state.
package limiter

import (
	"fmt"
	"time"

	"ratelimitd/internal/models"
)

// Algorithm is one counter algorithm. Implementations are stateless; all
// per-key state travels through the CounterState value.
type Algorithm interface {
	// NewState returns the initial state for a key's first request:
	// a full bucket for token bucket, empty counters for sliding window.
	NewState(policy models.Policy, now time.Time) models.CounterState

	// TryConsume computes the next state and the verdict. Rejected requests
	// never consume quota but may still advance bookkeeping (refill
	// timestamps, window rolls), so the returned state must always be
	// persisted.
	TryConsume(state models.CounterState, policy models.Policy, now time.Time, cost int64) (models.CounterState, bool)

	// Remaining reports whole units of quota left in the given state.
	Remaining(state models.CounterState, policy models.Policy, now time.Time) int64

	// ResetAfter reports how long until the key's quota is fully restored.
	ResetAfter(state models.CounterState, policy models.Policy, now time.Time) time.Duration

	// RetryAfter reports how long a denied caller should wait before a
	// request of the given cost has a chance of being admitted.
	RetryAfter(state models.CounterState, policy models.Policy, now time.Time, cost int64) time.Duration
}

// ForPolicy returns the algorithm a policy is enforced with. Policies are
// validated at load time, so an unknown algorithm here indicates a bug.
func ForPolicy(policy models.Policy) (Algorithm, error) {
	switch policy.Algorithm {
	case models.AlgorithmTokenBucket:
		return TokenBucket{}, nil
	case models.AlgorithmSlidingWindow:
		return SlidingWindow{}, nil
	default:
		return nil, fmt.Errorf("no algorithm registered for %q", policy.Algorithm)
	}
}
