package decision

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratelimitd/internal/models"
	"ratelimitd/internal/policy"
	"ratelimitd/internal/store"
)

func newTestService(t *testing.T, rules []models.PolicyRule, opts ...Option) (*Service, *store.MemoryStore) {
	t.Helper()
	policies, err := policy.NewStore(rules)
	require.NoError(t, err)
	st := store.NewMemoryStore(3, time.Minute)
	t.Cleanup(func() { st.Close() })
	return NewService(policies, st, 2*time.Second, opts...), st
}

func defaultRules() []models.PolicyRule {
	return []models.PolicyRule{
		{
			Pattern: "user:*",
			Policy: models.Policy{
				Algorithm: models.AlgorithmTokenBucket,
				Limit:     10,
				Window:    time.Second,
				Burst:     10,
			},
		},
	}
}

func TestDecideAllowsWithinBudget(t *testing.T) {
	now := time.Unix(1000, 0)
	svc, _ := newTestService(t, defaultRules(), WithClock(func() time.Time { return now }))

	d, err := svc.Decide(context.Background(), &models.DecideRequest{Key: "user:alice"})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(10), d.Limit)
	assert.Equal(t, int64(9), d.Remaining)
	assert.Equal(t, 100*time.Millisecond, d.ResetAfter)
	assert.Zero(t, d.RetryAfter)
}

func TestDecideDeniesWhenExhausted(t *testing.T) {
	now := time.Unix(1000, 0)
	svc, _ := newTestService(t, defaultRules(), WithClock(func() time.Time { return now }))

	for i := 0; i < 10; i++ {
		d, err := svc.Decide(context.Background(), &models.DecideRequest{Key: "user:alice"})
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	d, err := svc.Decide(context.Background(), &models.DecideRequest{Key: "user:alice"})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(0), d.Remaining)
	assert.Equal(t, 100*time.Millisecond, d.RetryAfter)
}

func TestDecideDefaultsCostToOne(t *testing.T) {
	now := time.Unix(1000, 0)
	svc, _ := newTestService(t, defaultRules(), WithClock(func() time.Time { return now }))

	d, err := svc.Decide(context.Background(), &models.DecideRequest{Key: "user:alice", Cost: 0})
	require.NoError(t, err)
	assert.Equal(t, int64(9), d.Remaining)
}

func TestDecideExplicitCost(t *testing.T) {
	now := time.Unix(1000, 0)
	svc, _ := newTestService(t, defaultRules(), WithClock(func() time.Time { return now }))

	for i := 0; i < 3; i++ {
		_, err := svc.Decide(context.Background(), &models.DecideRequest{Key: "user:alice", Cost: 2})
		require.NoError(t, err)
	}

	// 10 - 3*2 - 1 = 3 after the probe itself consumes one.
	d, err := svc.Decide(context.Background(), &models.DecideRequest{Key: "user:alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), d.Remaining)
}

func TestDecideInvalidRequest(t *testing.T) {
	svc, _ := newTestService(t, defaultRules())

	cases := []*models.DecideRequest{
		{Key: ""},
		{Key: "user:alice", Cost: -1},
	}
	for _, req := range cases {
		_, err := svc.Decide(context.Background(), req)
		var svcErr *ServiceError
		require.ErrorAs(t, err, &svcErr)
		assert.Equal(t, http.StatusBadRequest, svcErr.StatusCode)
		assert.Equal(t, models.ErrorCodeInvalidRequest, svcErr.Code)
	}
}

func TestDecidePolicyNotFound(t *testing.T) {
	svc, _ := newTestService(t, defaultRules())

	_, err := svc.Decide(context.Background(), &models.DecideRequest{Key: "ip:10.0.0.1"})
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, http.StatusNotFound, svcErr.StatusCode)
	assert.Equal(t, models.ErrorCodePolicyNotFound, svcErr.Code)
}

type failingStore struct {
	err error
}

func (f *failingStore) Apply(ctx context.Context, key string, policy models.Policy, now time.Time, cost int64) (models.CounterState, bool, error) {
	return models.CounterState{}, false, f.err
}

func (f *failingStore) Ping(ctx context.Context) error { return f.err }
func (f *failingStore) Close() error                   { return nil }

func TestDecideCoordinationUnavailable(t *testing.T) {
	policies, err := policy.NewStore(defaultRules())
	require.NoError(t, err)
	svc := NewService(policies, &failingStore{
		err: fmt.Errorf("%w: connection refused", store.ErrUnavailable),
	}, time.Second)

	_, err = svc.Decide(context.Background(), &models.DecideRequest{Key: "user:alice"})
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, http.StatusServiceUnavailable, svcErr.StatusCode)
	assert.Equal(t, models.ErrorCodeCoordinationUnavailable, svcErr.Code)
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

type slowStore struct{}

func (slowStore) Apply(ctx context.Context, key string, policy models.Policy, now time.Time, cost int64) (models.CounterState, bool, error) {
	<-ctx.Done()
	return models.CounterState{}, false, ctx.Err()
}

func (slowStore) Ping(ctx context.Context) error { return nil }
func (slowStore) Close() error                   { return nil }

func TestDecideTimeoutIsUnavailable(t *testing.T) {
	policies, err := policy.NewStore(defaultRules())
	require.NoError(t, err)
	svc := NewService(policies, slowStore{}, 10*time.Millisecond)

	_, err = svc.Decide(context.Background(), &models.DecideRequest{Key: "user:alice"})
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, http.StatusServiceUnavailable, svcErr.StatusCode)
	assert.Equal(t, models.ErrorCodeCoordinationUnavailable, svcErr.Code)
}

func TestDecideCallerCancellationIsUnavailable(t *testing.T) {
	policies, err := policy.NewStore(defaultRules())
	require.NoError(t, err)
	svc := NewService(policies, slowStore{}, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = svc.Decide(ctx, &models.DecideRequest{Key: "user:alice"})
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, http.StatusServiceUnavailable, svcErr.StatusCode)
	assert.Equal(t, models.ErrorCodeCoordinationUnavailable, svcErr.Code)
}

func TestDecideStoreErrorIsInternal(t *testing.T) {
	policies, err := policy.NewStore(defaultRules())
	require.NoError(t, err)
	svc := NewService(policies, &failingStore{err: errors.New("corrupt row")}, time.Second)

	_, err = svc.Decide(context.Background(), &models.DecideRequest{Key: "user:alice"})
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, http.StatusInternalServerError, svcErr.StatusCode)
}
