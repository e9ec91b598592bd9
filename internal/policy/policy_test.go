package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratelimitd/internal/models"
)

func rule(pattern string, limit int64) models.PolicyRule {
	return models.PolicyRule{
		Pattern: pattern,
		Policy: models.Policy{
			Algorithm: models.AlgorithmTokenBucket,
			Limit:     limit,
			Window:    time.Minute,
			Burst:     limit,
		},
	}
}

func TestNewStoreRejectsEmptyRules(t *testing.T) {
	_, err := NewStore(nil)
	assert.ErrorContains(t, err, "at least one policy rule")
}

func TestNewStoreRejectsInvalidRule(t *testing.T) {
	bad := rule("user:*", 0)
	_, err := NewStore([]models.PolicyRule{bad})
	assert.ErrorContains(t, err, `policy rule 0 ("user:*")`)
}

func TestResolveExactMatch(t *testing.T) {
	s, err := NewStore([]models.PolicyRule{
		rule("user:alice", 500),
		rule("user:*", 100),
	})
	require.NoError(t, err)

	p, err := s.Resolve("user:alice")
	require.NoError(t, err)
	assert.Equal(t, int64(500), p.Limit)
}

func TestResolveFirstMatchWins(t *testing.T) {
	s, err := NewStore([]models.PolicyRule{
		rule("user:premium:*", 1000),
		rule("user:*", 100),
		rule("*", 10),
	})
	require.NoError(t, err)

	p, err := s.Resolve("user:premium:alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), p.Limit)

	p, err = s.Resolve("user:bob")
	require.NoError(t, err)
	assert.Equal(t, int64(100), p.Limit)

	p, err = s.Resolve("ip:10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), p.Limit)
}

func TestResolveNoMatch(t *testing.T) {
	s, err := NewStore([]models.PolicyRule{rule("user:*", 100)})
	require.NoError(t, err)

	_, err = s.Resolve("ip:10.0.0.1")
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestRulesReturnsCopy(t *testing.T) {
	s, err := NewStore([]models.PolicyRule{rule("user:*", 100)})
	require.NoError(t, err)

	rules := s.Rules()
	rules[0].Pattern = "mutated"

	p, err := s.Resolve("user:alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), p.Limit)
}
