package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"ratelimitd/internal/models"
)

// Permission represents the different permission levels
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionAdmin Permission = "admin"
)

type contextKey string

const (
	apiKeyContextKey    contextKey = "api_key"
	requestIDContextKey contextKey = "request_id"
)

// SecurityContext represents the security information for a request
type SecurityContext struct {
	APIKey *models.APIKey
}

// HasPermission checks if the security context has the required permission
func (sc *SecurityContext) HasPermission(required Permission) bool {
	if sc == nil || sc.APIKey == nil {
		return false
	}

	for _, permission := range sc.APIKey.Permissions {
		if permission == string(required) || permission == "*" {
			return true
		}
		// Admin permission grants access to everything
		if permission == string(PermissionAdmin) {
			return true
		}
	}

	return false
}

// GetSecurityContext extracts security context from request context
func GetSecurityContext(r *http.Request) *SecurityContext {
	if apiKey, ok := r.Context().Value(apiKeyContextKey).(*models.APIKey); ok {
		return &SecurityContext{APIKey: apiKey}
	}
	return nil
}

// GetRequestID extracts the request ID assigned by requestIDMiddleware.
func GetRequestID(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDContextKey).(string); ok {
		return id
	}
	return ""
}

// RequirePermission creates middleware that enforces a specific permission
func RequirePermission(required Permission) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			securityContext := GetSecurityContext(r)

			if securityContext == nil || !securityContext.HasPermission(required) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)

				errorResp := models.NewErrorResponse(
					"Insufficient permissions for this operation",
					models.ErrorCodeForbidden,
				)
				json.NewEncoder(w).Encode(errorResp)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// authMiddleware handles API key authentication against the statically
// configured key set. Comparison is constant-time so timing cannot be used
// to probe key bytes.
func authMiddleware(security models.SecurityConfig) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeAuthError(w, "Authorization required")
				return
			}
			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				writeAuthError(w, "Invalid authorization format")
				return
			}
			token := authHeader[len(prefix):]

			validKey := lookupAPIKey(security, token)
			if validKey == nil || !validKey.Enabled {
				writeAuthError(w, "Invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyContextKey, validKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func lookupAPIKey(security models.SecurityConfig, token string) *models.APIKey {
	for i := range security.APIKeys {
		candidate := &security.APIKeys[i]
		if subtle.ConstantTimeCompare([]byte(candidate.Key), []byte(token)) == 1 {
			return candidate
		}
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	errorResp := models.NewErrorResponse(message, models.ErrorCodeUnauthorized)
	json.NewEncoder(w).Encode(errorResp)
}

// requestIDMiddleware assigns each request a unique ID, echoed in the
// X-Request-ID response header and attached to error payloads.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), requestIDContextKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
