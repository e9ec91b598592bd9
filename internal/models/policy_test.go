package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		input     string
		want      Algorithm
		expectErr bool
	}{
		{input: "token_bucket", want: AlgorithmTokenBucket},
		{input: "Token-Bucket", want: AlgorithmTokenBucket},
		{input: "tokenbucket", want: AlgorithmTokenBucket},
		{input: "sliding_window", want: AlgorithmSlidingWindow},
		{input: " SLIDING-WINDOW ", want: AlgorithmSlidingWindow},
		{input: "leaky_bucket", expectErr: true},
		{input: "", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAlgorithm(tt.input)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPolicyValidate(t *testing.T) {
	valid := Policy{
		Algorithm: AlgorithmTokenBucket,
		Limit:     100,
		Window:    time.Minute,
		Burst:     150,
	}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"unknown algorithm", func(p *Policy) { p.Algorithm = "fixed_window" }},
		{"zero limit", func(p *Policy) { p.Limit = 0 }},
		{"negative limit", func(p *Policy) { p.Limit = -5 }},
		{"zero window", func(p *Policy) { p.Window = 0 }},
		{"burst below limit", func(p *Policy) { p.Burst = 50 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestPolicyRefillRate(t *testing.T) {
	p := Policy{Limit: 100, Window: time.Minute}
	assert.InDelta(t, 100.0/60.0, p.RefillRate(), 1e-9)

	p = Policy{Limit: 10, Window: time.Second}
	assert.Equal(t, 10.0, p.RefillRate())
}

func TestPolicyRuleUnmarshalYAML(t *testing.T) {
	var rule PolicyRule
	err := yaml.Unmarshal([]byte(`
pattern: "user:*"
algorithm: token-bucket
limit: 100
window: 60s
burst: 150
`), &rule)
	require.NoError(t, err)

	assert.Equal(t, "user:*", rule.Pattern)
	assert.Equal(t, AlgorithmTokenBucket, rule.Algorithm)
	assert.Equal(t, int64(100), rule.Limit)
	assert.Equal(t, time.Minute, rule.Window)
	assert.Equal(t, int64(150), rule.Burst)
}

func TestPolicyRuleUnmarshalDefaultsBurst(t *testing.T) {
	var rule PolicyRule
	err := yaml.Unmarshal([]byte(`
pattern: "*"
algorithm: sliding_window
limit: 40
window: 2m
`), &rule)
	require.NoError(t, err)
	assert.Equal(t, int64(40), rule.Burst)
}

func TestPolicyRuleUnmarshalRejectsBadWindow(t *testing.T) {
	var rule PolicyRule
	err := yaml.Unmarshal([]byte(`
pattern: "*"
algorithm: token_bucket
limit: 10
window: sixty seconds
`), &rule)
	assert.Error(t, err)
}

func TestPolicyRuleValidatePatterns(t *testing.T) {
	base := Policy{
		Algorithm: AlgorithmTokenBucket,
		Limit:     10,
		Window:    time.Minute,
		Burst:     10,
	}

	valid := []string{"*", "user:*", "user:alice", "ip:10.0.0.1"}
	for _, pattern := range valid {
		assert.NoError(t, PolicyRule{Pattern: pattern, Policy: base}.Validate(), pattern)
	}

	invalid := []string{"", "user:*:endpoint", "**", "*suffix"}
	for _, pattern := range invalid {
		assert.Error(t, PolicyRule{Pattern: pattern, Policy: base}.Validate(), pattern)
	}
}
