// Package models - incoming API request types.
package models

import (
	"errors"
	"fmt"
)

// MaxKeyLength bounds the rate limit key. Keys are caller-constructed
// composites (user ID, IP, endpoint) and anything longer is almost certainly
// a client bug or abuse.
const MaxKeyLength = 512

// DecideRequest asks for a rate limit verdict on one key.
type DecideRequest struct {
	// Key identifies the entity being limited. Opaque to the service.
	Key string `json:"key"`

	// Cost is the quota consumed by this request. Defaults to 1 when omitted.
	Cost int64 `json:"cost,omitempty"`
}

// Validate checks the request and applies the default cost.
func (r *DecideRequest) Validate() error {
	if r.Key == "" {
		return errors.New("key is required")
	}
	if len(r.Key) > MaxKeyLength {
		return fmt.Errorf("key exceeds %d bytes", MaxKeyLength)
	}
	if r.Cost < 0 {
		return errors.New("cost cannot be negative")
	}
	if r.Cost == 0 {
		r.Cost = 1
	}
	return nil
}
