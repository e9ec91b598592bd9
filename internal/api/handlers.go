package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"ratelimitd/internal/decision"
	"ratelimitd/internal/models"
	"ratelimitd/internal/policy"
	"ratelimitd/internal/store"
	"ratelimitd/internal/version"
)

// DecisionService is the decision gateway surface the handlers depend on.
type DecisionService interface {
	Decide(ctx context.Context, req *models.DecideRequest) (*models.Decision, error)
}

// Handlers contains HTTP handlers for the rate limit decision API
type Handlers struct {
	decisions   DecisionService
	policies    *policy.Store
	store       store.Store
	failureMode string
	startTime   time.Time
}

// NewHandlers creates a new handlers instance
func NewHandlers(decisions DecisionService, policies *policy.Store, st store.Store, failureMode string) *Handlers {
	return &Handlers{
		decisions:   decisions,
		policies:    policies,
		store:       st,
		failureMode: failureMode,
		startTime:   time.Now(),
	}
}

// Decide handles rate limit decision requests
// POST /api/v1/decide
//
// Allowed decisions return 200, denied ones 429. Both carry RateLimit-*
// headers; 429 additionally carries Retry-After.
func (h *Handlers) Decide(w http.ResponseWriter, r *http.Request) {
	var req models.DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "Invalid JSON body")
		return
	}

	d, err := h.decisions.Decide(r.Context(), &req)
	if err != nil {
		var svcErr *decision.ServiceError
		if !errors.As(err, &svcErr) {
			h.writeErrorResponse(w, r, http.StatusInternalServerError, models.ErrorCodeInternalError, "Internal server error")
			return
		}
		if svcErr.Code == models.ErrorCodeCoordinationUnavailable {
			h.handleUnavailable(w, r, &req, svcErr)
			return
		}
		h.writeErrorResponse(w, r, svcErr.StatusCode, svcErr.Code, svcErr.Message)
		return
	}

	h.writeDecision(w, d)
}

// handleUnavailable applies the configured failure mode when counter
// coordination is down. Fail-open admits the request flagged as degraded;
// fail-closed surfaces the outage as 503. A deny verdict never reaches this
// path: unavailability means no verdict at all.
func (h *Handlers) handleUnavailable(w http.ResponseWriter, r *http.Request, req *models.DecideRequest, svcErr *decision.ServiceError) {
	if h.failureMode == models.FailureModeOpen {
		slog.Warn("Admitting request without coordination (fail-open)",
			"key", req.Key,
			"error", svcErr.Error())
		h.writeDecision(w, &models.Decision{
			Allowed:  true,
			Degraded: true,
		})
		return
	}

	slog.Error("Rejecting request, coordination unavailable (fail-closed)",
		"key", req.Key,
		"error", svcErr.Error())
	h.writeErrorResponse(w, r, svcErr.StatusCode, svcErr.Code, svcErr.Message)
}

// writeDecision renders a decision with its rate limit headers.
func (h *Handlers) writeDecision(w http.ResponseWriter, d *models.Decision) {
	// Degraded decisions have no counter state behind them; the headers
	// would be fabricated, so they are omitted.
	if !d.Degraded {
		w.Header().Set("RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
		w.Header().Set("RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
		w.Header().Set("RateLimit-Reset", strconv.FormatInt(ceilSeconds(d.ResetAfter), 10))
	}

	status := http.StatusOK
	if !d.Allowed {
		status = http.StatusTooManyRequests
		w.Header().Set("Retry-After", strconv.FormatInt(ceilSeconds(d.RetryAfter), 10))
	}

	h.writeJSONResponse(w, status, models.NewDecisionResponse(d))
}

// ListPolicies handles policy listing requests
// GET /api/v1/policies
func (h *Handlers) ListPolicies(w http.ResponseWriter, r *http.Request) {
	rules := h.policies.Rules()
	response := &models.ListPoliciesResponse{
		Policies:   make([]models.PolicyInfo, len(rules)),
		TotalCount: len(rules),
	}
	for i, rule := range rules {
		response.Policies[i].FromRule(rule)
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// HealthCheck handles health check requests
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = version.GetInfo().Version
	response.Uptime = time.Since(h.startTime).Round(time.Second).String()
	response.AddComponent("api", models.StatusHealthy, "API is operational")

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		response.Status = models.StatusDegraded
		response.AddComponent("store", models.StatusUnhealthy, err.Error())
		// Fail-open keeps serving decisions without the store, so the
		// service itself stays available; fail-closed cannot.
		if h.failureMode == models.FailureModeClosed {
			response.Status = models.StatusUnhealthy
			status = http.StatusServiceUnavailable
		}
	} else {
		response.AddComponent("store", models.StatusHealthy, "Counter store is reachable")
	}

	h.writeJSONResponse(w, status, response)
}

// ceilSeconds converts a duration to whole header seconds, rounding up so a
// client that waits the advertised time never retries early.
func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written; nothing to do but log.
		fmt.Printf("Error encoding JSON response: %v\n", err)
	}
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, errorCode, message string) {
	errorResp := models.NewErrorResponse(message, errorCode)
	errorResp.RequestID = GetRequestID(r)

	h.writeJSONResponse(w, statusCode, errorResp)
}
