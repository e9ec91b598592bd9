// Package policy resolves rate limit keys to the policies that govern them.
package policy

import (
	"errors"
	"fmt"
	"strings"

	"ratelimitd/internal/models"
)

// ErrNoMatch is returned when no rule matches a key.
var ErrNoMatch = errors.New("no policy matches key")

// Store holds an ordered list of policy rules. Resolution is first match
// wins: rules are evaluated in configuration order, so specific rules belong
// before broad ones. The rule set is immutable after construction; swap the
// whole store to change policies.
type Store struct {
	rules []models.PolicyRule
}

// NewStore validates each rule and builds the resolution order.
func NewStore(rules []models.PolicyRule) (*Store, error) {
	if len(rules) == 0 {
		return nil, errors.New("at least one policy rule is required")
	}
	for i, rule := range rules {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("policy rule %d (%q): %w", i, rule.Pattern, err)
		}
	}
	out := make([]models.PolicyRule, len(rules))
	copy(out, rules)
	return &Store{rules: out}, nil
}

// Resolve returns the policy of the first rule matching key. A pattern
// matches exactly, unless it ends in "*", in which case it matches any key
// with the preceding prefix.
func (s *Store) Resolve(key string) (models.Policy, error) {
	for _, rule := range s.rules {
		if matches(rule.Pattern, key) {
			return rule.Policy, nil
		}
	}
	return models.Policy{}, fmt.Errorf("%w: %q", ErrNoMatch, key)
}

// Rules returns the rule set in resolution order.
func (s *Store) Rules() []models.PolicyRule {
	out := make([]models.PolicyRule, len(s.rules))
	copy(out, s.rules)
	return out
}

func matches(pattern, key string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(key, prefix)
	}
	return pattern == key
}
