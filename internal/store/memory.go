package store

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"ratelimitd/internal/models"
)

const memoryShardCount = 64

// MemoryStore is an in-process counter store. State is sharded by key hash
// so decisions for different keys contend only within their shard, and a
// background goroutine periodically evicts entries that have sat idle past
// their TTL.
//
// Being process-local, it enforces a per-instance budget, not a global one;
// use the redis or database backends when multiple replicas must share
// counters.
type MemoryStore struct {
	ttlMultiple     int
	cleanupInterval time.Duration

	shards [memoryShardCount]memoryShard
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

type memoryShard struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	state     models.CounterState
	expiresAt time.Time
}

// NewMemoryStore creates a memory store and starts its eviction goroutine.
func NewMemoryStore(ttlMultiple int, cleanupInterval time.Duration) *MemoryStore {
	m := &MemoryStore{
		ttlMultiple:     ttlMultiple,
		cleanupInterval: cleanupInterval,
		done:            make(chan struct{}),
	}
	for i := range m.shards {
		m.shards[i].entries = make(map[string]*memoryEntry)
	}
	go m.cleanup()
	return m
}

func (m *MemoryStore) Apply(ctx context.Context, key string, policy models.Policy, now time.Time, cost int64) (models.CounterState, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.CounterState{}, false, err
	}

	shard := m.shard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, found := shard.entries[key]
	var prev models.CounterState
	if found {
		prev = entry.state
	}

	next, allowed, err := transition(prev, found, policy, now, cost)
	if err != nil {
		return models.CounterState{}, false, err
	}

	if !found {
		entry = &memoryEntry{}
		shard.entries[key] = entry
	}
	entry.state = next
	entry.expiresAt = now.Add(idleTTL(policy, m.ttlMultiple))

	return next, allowed, nil
}

// Ping always succeeds: the store is the local process.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close stops the eviction goroutine.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

func (m *MemoryStore) shard(key string) *memoryShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &m.shards[h.Sum32()%memoryShardCount]
}

// cleanup periodically evicts entries whose idle TTL has passed. Eviction is
// advisory: an evicted key lazily restarts with full quota, a bounded
// inaccuracy accepted for keys idle longer than several windows.
func (m *MemoryStore) cleanup() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale(time.Now())
		}
	}
}

func (m *MemoryStore) evictStale(now time.Time) {
	for i := range m.shards {
		shard := &m.shards[i]
		shard.mu.Lock()
		for key, entry := range shard.entries {
			if entry.expiresAt.Before(now) {
				delete(shard.entries, key)
			}
		}
		shard.mu.Unlock()
	}
}
