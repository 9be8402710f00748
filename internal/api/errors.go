package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/damp/internal/docker"
	"evalgo.org/damp/internal/ports"
	"evalgo.org/damp/internal/projects"
	"evalgo.org/damp/internal/resources"
	"evalgo.org/damp/internal/services"
	"evalgo.org/damp/internal/store"
	"evalgo.org/damp/internal/validation"
)

// APIError represents a structured API error with HTTP status code.
type APIError struct {
	Code       int                    `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	FieldError map[string]string      `json:"field_errors,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

// NewAPIError creates a new API error.
func NewAPIError(code int, message string, details string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Common error constructors
func BadRequestError(message, details string) *APIError {
	return NewAPIError(http.StatusBadRequest, message, details)
}

func NotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    http.StatusNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Context: map[string]interface{}{"id": id},
	}
}

func ValidationError(message string, fieldErrors map[string]string) *APIError {
	return &APIError{
		Code:       http.StatusBadRequest,
		Message:    message,
		FieldError: fieldErrors,
	}
}

func InternalError(message, details string) *APIError {
	return NewAPIError(http.StatusInternalServerError, message, details)
}

func ConflictError(message, details string) *APIError {
	return NewAPIError(http.StatusConflict, message, details)
}

func UnavailableError(message, details string) *APIError {
	return NewAPIError(http.StatusServiceUnavailable, message, details)
}

// errorFor maps a domain error onto an APIError. resource and id name the
// target for not-found responses.
func errorFor(err error, resource, id string) *APIError {
	var conflict *ports.PortConflictError
	switch {
	case errors.Is(err, docker.ErrContainerNotFound), errors.Is(err, store.ErrNotFound):
		apiErr := NotFoundError(resource, id)
		apiErr.Details = err.Error()
		return apiErr
	case errors.Is(err, validation.ErrInvalid), errors.Is(err, projects.ErrUnsupportedVersion), errors.Is(err, services.ErrUnknownService):
		return BadRequestError("Invalid request", err.Error())
	case errors.Is(err, docker.ErrVolumeInUse),
		errors.Is(err, docker.ErrNameConflict),
		errors.Is(err, services.ErrAlreadyInstalled),
		errors.Is(err, projects.ErrProjectExists),
		errors.As(err, &conflict):
		return ConflictError("Conflict", err.Error())
	case errors.Is(err, resources.ErrNotManaged):
		return NewAPIError(http.StatusForbidden, "Resource is not managed by DAMP", err.Error())
	case errors.Is(err, docker.ErrDaemonUnreachable), errors.Is(err, services.ErrNotReady):
		return UnavailableError("Service unavailable", err.Error())
	default:
		return InternalError("Operation failed", err.Error())
	}
}

// HTTPErrorHandler is a custom error handler for Echo.
func HTTPErrorHandler(err error, c echo.Context) {
	// Don't send response if already sent
	if c.Response().Committed {
		return
	}

	var apiErr *APIError
	code := http.StatusInternalServerError

	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		apiErr = &APIError{
			Code:    code,
			Message: getHTTPMessage(code),
			Details: fmt.Sprintf("%v", he.Message),
		}
	} else if errors.As(err, &apiErr) {
		code = apiErr.Code
	} else {
		apiErr = &APIError{
			Code:    code,
			Message: "Internal server error",
			Details: err.Error(),
		}
	}

	// Don't expose internal errors in production
	if code == http.StatusInternalServerError && !c.Echo().Debug {
		apiErr.Details = "An internal error occurred. Please try again later."
	}

	if err := c.JSON(code, apiErr); err != nil {
		c.Logger().Error(err)
	}
}

// getHTTPMessage returns a user-friendly message for HTTP status codes.
func getHTTPMessage(code int) string {
	messages := map[int]string{
		http.StatusBadRequest:          "Bad request",
		http.StatusForbidden:           "Forbidden",
		http.StatusNotFound:            "Resource not found",
		http.StatusMethodNotAllowed:    "Method not allowed",
		http.StatusConflict:            "Conflict",
		http.StatusUnprocessableEntity: "Unprocessable entity",
		http.StatusTooManyRequests:     "Too many requests",
		http.StatusInternalServerError: "Internal server error",
		http.StatusServiceUnavailable:  "Service unavailable",
	}

	if msg, ok := messages[code]; ok {
		return msg
	}
	return http.StatusText(code)
}
