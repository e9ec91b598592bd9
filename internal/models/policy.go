// Package models - rate limit policies.
// A Policy is the immutable quota definition a key is limited against. Many
// keys share one policy via pattern matching; matching itself lives in
// internal/policy.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Algorithm identifies the counter algorithm a policy is enforced with.
type Algorithm string

const (
	AlgorithmTokenBucket   Algorithm = "token_bucket"
	AlgorithmSlidingWindow Algorithm = "sliding_window"
)

// ParseAlgorithm normalizes a configured algorithm name.
func ParseAlgorithm(name string) (Algorithm, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	switch normalized {
	case "token_bucket", "tokenbucket":
		return AlgorithmTokenBucket, nil
	case "sliding_window", "slidingwindow":
		return AlgorithmSlidingWindow, nil
	default:
		return "", fmt.Errorf("unsupported algorithm: %s", name)
	}
}

// Policy defines the quota applied to a key. Immutable once loaded.
type Policy struct {
	Algorithm Algorithm     `yaml:"algorithm" json:"algorithm"`
	Limit     int64         `yaml:"limit" json:"limit"`     // admitted cost per window (sustained rate)
	Window    time.Duration `yaml:"window" json:"window"`   // window the limit is measured over
	Burst     int64         `yaml:"burst" json:"burst"`     // token bucket capacity; >= Limit
}

// RefillRate returns tokens earned per second.
func (p Policy) RefillRate() float64 {
	return float64(p.Limit) / p.Window.Seconds()
}

// Validate checks the policy for load-time misconfiguration. Invalid policies
// are fatal for the config entry; they are never surfaced at request time.
func (p Policy) Validate() error {
	if p.Algorithm != AlgorithmTokenBucket && p.Algorithm != AlgorithmSlidingWindow {
		return fmt.Errorf("unsupported algorithm: %s", p.Algorithm)
	}
	if p.Limit <= 0 {
		return errors.New("limit must be positive")
	}
	if p.Window <= 0 {
		return errors.New("window must be positive")
	}
	if p.Burst < p.Limit {
		return errors.New("burst must be at least the limit")
	}
	return nil
}

// PolicyRule binds a key pattern to a policy. Rules are evaluated in order;
// the first matching pattern wins.
type PolicyRule struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Policy  `yaml:",inline" json:",inline"`
}

// yamlPolicyRule mirrors PolicyRule with string durations so operators can
// write "window: 60s" instead of nanosecond integers.
type yamlPolicyRule struct {
	Pattern   string `yaml:"pattern"`
	Algorithm string `yaml:"algorithm"`
	Limit     int64  `yaml:"limit"`
	Window    string `yaml:"window"`
	Burst     int64  `yaml:"burst"`
}

// UnmarshalYAML decodes a rule, accepting Go duration strings for the window
// and defaulting burst to the limit when omitted.
func (r *PolicyRule) UnmarshalYAML(value *yaml.Node) error {
	var raw yamlPolicyRule
	if err := value.Decode(&raw); err != nil {
		return err
	}

	algo, err := ParseAlgorithm(raw.Algorithm)
	if err != nil {
		return fmt.Errorf("policy %q: %w", raw.Pattern, err)
	}

	window, err := time.ParseDuration(raw.Window)
	if err != nil {
		return fmt.Errorf("policy %q: invalid window: %w", raw.Pattern, err)
	}

	burst := raw.Burst
	if burst == 0 {
		burst = raw.Limit
	}

	r.Pattern = raw.Pattern
	r.Policy = Policy{
		Algorithm: algo,
		Limit:     raw.Limit,
		Window:    window,
		Burst:     burst,
	}
	return nil
}

// Validate checks the rule's pattern and policy.
func (r PolicyRule) Validate() error {
	if r.Pattern == "" {
		return errors.New("pattern cannot be empty")
	}
	if strings.Count(r.Pattern, "*") > 1 || (strings.Contains(r.Pattern, "*") && !strings.HasSuffix(r.Pattern, "*")) {
		return fmt.Errorf("pattern %q: wildcard is only supported as a trailing *", r.Pattern)
	}
	if err := r.Policy.Validate(); err != nil {
		return fmt.Errorf("pattern %q: %w", r.Pattern, err)
	}
	return nil
}
