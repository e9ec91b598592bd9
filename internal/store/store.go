// Package store implements atomic counter state coordination. For any key,
// the read-compute-write cycle of a decision executes as one indivisible
// unit: concurrent callers never observe each other's intermediate state, and
// a write never clobbers a write made after its read. Operations on different
// keys proceed independently; there is no global lock.
//
// The store is the sole owner of counter state. Backends either run the pure
// transition from internal/limiter inside their own critical section (memory,
// sqlite, postgres) or push the identical math into the shared store itself
// (redis, via Lua scripts).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ratelimitd/internal/limiter"
	"ratelimitd/internal/models"
)

// ErrUnavailable marks coordination failures: the backing store is
// unreachable, timed out, or rejected the operation. Callers must treat it
// as "no verdict", never as a denied request.
var ErrUnavailable = errors.New("counter store unavailable")

// Store applies rate limit decisions against shared counter state.
type Store interface {
	// Apply atomically runs one decision for key: load (or lazily create)
	// the counter state, run the policy's algorithm with (now, cost), and
	// persist the new state. It returns the persisted state and the verdict.
	Apply(ctx context.Context, key string, policy models.Policy, now time.Time, cost int64) (models.CounterState, bool, error)

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases connections and stops background work.
	Close() error
}

// ExpiryPurger is implemented by backends whose idle state must be purged
// externally (the SQL backends). Memory sweeps itself and redis uses key
// TTLs.
type ExpiryPurger interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// New constructs the configured backend.
func New(cfg models.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case models.StoreBackendMemory:
		return NewMemoryStore(cfg.IdleTTLMultiple, cfg.CleanupInterval), nil
	case models.StoreBackendRedis:
		return NewRedisStore(cfg.Redis, cfg.IdleTTLMultiple)
	case models.StoreBackendSQLite:
		return NewSQLiteStore(cfg.Database, cfg.IdleTTLMultiple)
	case models.StoreBackendPostgres:
		return NewPostgresStore(cfg.Database, cfg.IdleTTLMultiple)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}

// transition runs the pure algorithm step for backends that hold the critical
// section themselves.
func transition(state models.CounterState, found bool, policy models.Policy, now time.Time, cost int64) (models.CounterState, bool, error) {
	alg, err := limiter.ForPolicy(policy)
	if err != nil {
		return models.CounterState{}, false, err
	}
	if !found {
		state = alg.NewState(policy, now)
	}
	next, allowed := alg.TryConsume(state, policy, now, cost)
	return next, allowed, nil
}

// idleTTL is how long a key's state survives without requests before
// eviction may reclaim it.
func idleTTL(policy models.Policy, multiple int) time.Duration {
	ttl := time.Duration(multiple) * policy.Window
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}
