package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratelimitd/internal/models"
)

func TestNewMemoryBackend(t *testing.T) {
	cfg := models.StoreConfig{
		Backend:         models.StoreBackendMemory,
		IdleTTLMultiple: 3,
		CleanupInterval: time.Minute,
	}
	s, err := New(cfg)
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &MemoryStore{}, s)
}

func TestNewUnsupportedBackend(t *testing.T) {
	_, err := New(models.StoreConfig{Backend: "etcd"})
	assert.ErrorContains(t, err, "unsupported store backend")
}

func TestIdleTTLFloor(t *testing.T) {
	policy := testPolicy(models.AlgorithmTokenBucket, 10, 100*time.Millisecond)
	assert.Equal(t, time.Second, idleTTL(policy, 3))

	policy.Window = time.Minute
	assert.Equal(t, 3*time.Minute, idleTTL(policy, 3))
}
