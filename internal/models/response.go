// Package models - API response types and error handling.
// All endpoints share one ErrorResponse shape with machine-readable codes;
// decision payloads mirror the RateLimit-* headers so clients can consume
// either.
package models

import (
	"math"
	"time"
)

// DecisionResponse is the JSON body for a decision. It is returned with
// HTTP 200 when allowed and 429 when denied.
type DecisionResponse struct {
	Allowed           bool    `json:"allowed"`
	Limit             int64   `json:"limit"`
	Remaining         int64   `json:"remaining"`
	ResetAfterSeconds float64 `json:"reset_after_seconds"`
	RetryAfterSeconds float64 `json:"retry_after_seconds,omitempty"`
	Degraded          bool    `json:"degraded,omitempty"`
}

// NewDecisionResponse converts an internal decision into its wire form.
func NewDecisionResponse(d *Decision) *DecisionResponse {
	resp := &DecisionResponse{
		Allowed:           d.Allowed,
		Limit:             d.Limit,
		Remaining:         d.Remaining,
		ResetAfterSeconds: roundSeconds(d.ResetAfter),
		Degraded:          d.Degraded,
	}
	if !d.Allowed {
		resp.RetryAfterSeconds = roundSeconds(d.RetryAfter)
	}
	return resp
}

// roundSeconds keeps wire durations at millisecond precision.
func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}

// PolicyInfo describes one loaded policy rule.
type PolicyInfo struct {
	Pattern       string  `json:"pattern"`
	Algorithm     string  `json:"algorithm"`
	Limit         int64   `json:"limit"`
	WindowSeconds float64 `json:"window_seconds"`
	Burst         int64   `json:"burst"`
}

// FromRule populates the info from a policy rule.
func (pi *PolicyInfo) FromRule(rule PolicyRule) {
	pi.Pattern = rule.Pattern
	pi.Algorithm = string(rule.Algorithm)
	pi.Limit = rule.Limit
	pi.WindowSeconds = rule.Window.Seconds()
	pi.Burst = rule.Burst
}

type ListPoliciesResponse struct {
	Policies   []PolicyInfo `json:"policies"`
	TotalCount int          `json:"total_count"`
}

// ErrorResponse provides structured error information with debugging context.
type ErrorResponse struct {
	Error     string    `json:"error"`                // Error type (always "error")
	Message   string    `json:"message"`              // Human-readable error description
	Code      string    `json:"code,omitempty"`       // Machine-readable error code
	Timestamp time.Time `json:"timestamp"`            // Error occurrence time
	RequestID string    `json:"request_id,omitempty"` // Unique request identifier
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

type ComponentHealth struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Health status constants.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
)

// Machine-readable error codes.
const (
	ErrorCodePolicyNotFound          = "POLICY_NOT_FOUND"          // 404: no policy matches the key
	ErrorCodeInvalidRequest          = "INVALID_REQUEST"           // 400: malformed request data
	ErrorCodeUnauthorized            = "UNAUTHORIZED"              // 401: authentication required
	ErrorCodeForbidden               = "FORBIDDEN"                 // 403: permission denied
	ErrorCodeInternalError           = "INTERNAL_ERROR"            // 500: server-side error
	ErrorCodeCoordinationUnavailable = "COORDINATION_UNAVAILABLE"  // 503: counter store unreachable
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}
