package limiter

import (
	"math"
	"time"

	"ratelimitd/internal/models"
)

// SlidingWindow approximates a rolling-window count using two discrete
// buckets: the current window's count and the previous window's count,
// weighted by how much of the previous window still overlaps the rolling one.
//
// The weighted estimate carries the well-known approximation error of this
// scheme (single-digit percent under adversarial timing). That error is an
// accepted property of the algorithm, not something this implementation
// tries to correct.
type SlidingWindow struct{}

// NewState starts a key with empty counters in the window containing now.
func (SlidingWindow) NewState(policy models.Policy, now time.Time) models.CounterState {
	return models.CounterState{
		WindowID: windowID(policy, now),
	}
}

// TryConsume rolls the window forward if needed, then admits the request when
// the weighted estimate plus cost stays within the limit.
//
// A single-step roll shifts the current count into the previous bucket; a
// gap of more than one window clears both buckets, so a long-idle key never
// carries stale counts. Denied requests keep the roll bookkeeping but never
// increment the count.
func (SlidingWindow) TryConsume(state models.CounterState, policy models.Policy, now time.Time, cost int64) (models.CounterState, bool) {
	wid := windowID(policy, now)
	if wid != state.WindowID {
		if wid == state.WindowID+1 {
			state.PreviousCount = state.CurrentCount
		} else {
			state.PreviousCount = 0
		}
		state.CurrentCount = 0
		state.WindowID = wid
	}

	estimate := weightedEstimate(state, policy, now)
	allowed := estimate+float64(cost) <= float64(policy.Limit)
	if allowed {
		state.CurrentCount += cost
	}
	return state, allowed
}

// Remaining is the limit minus the weighted estimate, floored at zero.
func (SlidingWindow) Remaining(state models.CounterState, policy models.Policy, now time.Time) int64 {
	remaining := float64(policy.Limit) - weightedEstimate(state, policy, now)
	return int64(math.Max(0, math.Floor(remaining)))
}

// ResetAfter is the time to the next window boundary, at which point the
// current bucket rotates out of the estimate's full-weight position.
func (SlidingWindow) ResetAfter(state models.CounterState, policy models.Policy, now time.Time) time.Duration {
	return boundaryAfter(policy, now)
}

// RetryAfter approximates the wait as the time to the next window boundary.
// The estimate only decays as the previous bucket's weight shrinks, so the
// boundary is the first moment admission chances improve materially.
func (SlidingWindow) RetryAfter(state models.CounterState, policy models.Policy, now time.Time, cost int64) time.Duration {
	return boundaryAfter(policy, now)
}

func windowID(policy models.Policy, now time.Time) int64 {
	return now.UnixNano() / policy.Window.Nanoseconds()
}

func boundaryAfter(policy models.Policy, now time.Time) time.Duration {
	next := (windowID(policy, now) + 1) * policy.Window.Nanoseconds()
	return time.Duration(next - now.UnixNano())
}

// weightedEstimate interpolates the previous window's count by its remaining
// overlap with the rolling window and adds the current count. The state must
// already be rolled to the window containing now.
func weightedEstimate(state models.CounterState, policy models.Policy, now time.Time) float64 {
	windowNanos := float64(policy.Window.Nanoseconds())
	elapsed := float64(now.UnixNano() - state.WindowID*policy.Window.Nanoseconds())
	weight := (windowNanos - elapsed) / windowNanos
	if weight < 0 {
		weight = 0
	}
	return float64(state.PreviousCount)*weight + float64(state.CurrentCount)
}
