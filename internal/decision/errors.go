package decision

import (
	"fmt"
	"net/http"

	"ratelimitd/internal/models"
)

// ServiceError represents errors from the decision service with HTTP context
type ServiceError struct {
	Code       string
	Message    string
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Error constructors for common service errors

func NewPolicyNotFoundError(key string) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodePolicyNotFound,
		Message:    fmt.Sprintf("no policy matches key '%s'", key),
		StatusCode: http.StatusNotFound,
	}
}

func NewInvalidRequestError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeInvalidRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

func NewCoordinationUnavailableError(err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeCoordinationUnavailable,
		Message:    "counter state coordination unavailable",
		StatusCode: http.StatusServiceUnavailable,
		Err:        err,
	}
}

func NewInternalError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeInternalError,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}
