// Package models - per-key counter state.
package models

import "time"

// CounterState is the mutable accounting record for one rate limit key. It is
// created lazily on a key's first request and mutated exactly once per
// decision. Only the counter store may read or write it; every other component
// receives copies.
//
// Token bucket decisions use Tokens and LastRefill; sliding window decisions
// use WindowID, CurrentCount, and PreviousCount. The unused fields stay zero.
type CounterState struct {
	// Token bucket fields.
	Tokens     float64
	LastRefill time.Time

	// Sliding window counter fields.
	WindowID      int64
	CurrentCount  int64
	PreviousCount int64
}
