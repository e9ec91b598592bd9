// Package decision implements the gateway that turns a (key, cost) request
// into an allow or deny verdict with client-facing metadata.
package decision

import (
	"context"
	"errors"
	"time"

	"ratelimitd/internal/limiter"
	"ratelimitd/internal/models"
	"ratelimitd/internal/policy"
	"ratelimitd/internal/store"
)

// PolicyResolver maps rate limit keys to their governing policies.
type PolicyResolver interface {
	Resolve(key string) (models.Policy, error)
}

// Service orchestrates one decision: resolve the policy, run the atomic
// state update through the counter store, and derive the response metadata.
// It never decides fail-open versus fail-closed itself; coordination
// failures surface as errors for the transport layer to translate according
// to configuration.
type Service struct {
	policies PolicyResolver
	store    store.Store
	timeout  time.Duration
	now      func() time.Time
}

// Option configures optional service behavior
type Option func(*Service)

// WithClock replaces the wall clock, primarily for tests
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a decision service. A positive timeout bounds each
// coordination attempt; zero disables the bound.
func NewService(policies PolicyResolver, st store.Store, timeout time.Duration, opts ...Option) *Service {
	s := &Service{
		policies: policies,
		store:    st,
		timeout:  timeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Decide evaluates one rate limit request. Exactly one store round trip
// happens per call; the verdict and all metadata derive from the state that
// round trip persisted.
func (s *Service) Decide(ctx context.Context, req *models.DecideRequest) (*models.Decision, error) {
	if err := req.Validate(); err != nil {
		return nil, NewInvalidRequestError("invalid decision request", err)
	}

	pol, err := s.policies.Resolve(req.Key)
	if err != nil {
		if errors.Is(err, policy.ErrNoMatch) {
			return nil, NewPolicyNotFoundError(req.Key)
		}
		return nil, NewInternalError("resolving policy", err)
	}

	// Policies are validated at load time, so this only fails on a bug.
	alg, err := limiter.ForPolicy(pol)
	if err != nil {
		return nil, NewInternalError("selecting algorithm", err)
	}

	now := s.now()
	applyCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		applyCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	state, allowed, err := s.store.Apply(applyCtx, req.Key, pol, now, req.Cost)
	if err != nil {
		// Timeouts and caller aborts both mean the coordination round trip
		// did not complete, not that the service is broken.
		if errors.Is(err, store.ErrUnavailable) ||
			errors.Is(err, context.DeadlineExceeded) ||
			errors.Is(err, context.Canceled) {
			return nil, NewCoordinationUnavailableError(err)
		}
		return nil, NewInternalError("applying rate limit decision", err)
	}

	d := &models.Decision{
		Allowed:    allowed,
		Limit:      pol.Limit,
		Remaining:  alg.Remaining(state, pol, now),
		ResetAfter: alg.ResetAfter(state, pol, now),
	}
	if !allowed {
		d.RetryAfter = alg.RetryAfter(state, pol, now, req.Cost)
	}
	return d, nil
}
