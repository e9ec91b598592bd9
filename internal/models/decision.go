// Package models - rate limit decisions.
package models

import "time"

// Decision is the verdict for one request. It is derived from a policy and
// the key's counter state at a point in time, returned to the caller, and
// never persisted.
type Decision struct {
	Allowed   bool          `json:"allowed"`
	Limit     int64         `json:"limit"`               // policy limit, for RateLimit-Limit
	Remaining int64         `json:"remaining"`           // whole units of quota left
	ResetAfter time.Duration `json:"reset_after"`        // time until quota is fully restored
	RetryAfter time.Duration `json:"retry_after"`        // wait hint; meaningful only when denied
	Degraded  bool          `json:"degraded,omitempty"`  // true when produced by the fail-open path
}
