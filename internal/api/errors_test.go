package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"evalgo.org/damp/internal/docker"
	"evalgo.org/damp/internal/ports"
	"evalgo.org/damp/internal/projects"
	"evalgo.org/damp/internal/resources"
	"evalgo.org/damp/internal/services"
	"evalgo.org/damp/internal/store"
	"evalgo.org/damp/internal/validation"
)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name     string
		apiError *APIError
		want     string
	}{
		{
			name:     "error with details",
			apiError: &APIError{Code: 400, Message: "Bad Request", Details: "Invalid JSON format"},
			want:     "Bad Request: Invalid JSON format",
		},
		{
			name:     "error without details",
			apiError: &APIError{Code: 404, Message: "Not Found"},
			want:     "Not Found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.apiError.Error(); got != tt.want {
				t.Errorf("APIError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNotFoundError(t *testing.T) {
	err := NotFoundError("Project", "p-123")

	if err.Code != http.StatusNotFound {
		t.Errorf("NotFoundError().Code = %v, want %v", err.Code, http.StatusNotFound)
	}
	if err.Message != "Project not found" {
		t.Errorf("NotFoundError().Message = %v, want %v", err.Message, "Project not found")
	}
	if id, ok := err.Context["id"].(string); !ok || id != "p-123" {
		t.Errorf("NotFoundError().Context['id'] = %v, want 'p-123'", id)
	}
}

func TestErrorFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"missing container", fmt.Errorf("start: %w", docker.ErrContainerNotFound), http.StatusNotFound},
		{"missing record", store.ErrNotFound, http.StatusNotFound},
		{"service not installed", services.ErrNotInstalled, http.StatusNotFound},
		{"invalid input", fmt.Errorf("%w: name is required", validation.ErrInvalid), http.StatusBadRequest},
		{"unsupported php", projects.ErrUnsupportedVersion, http.StatusBadRequest},
		{"unknown service", services.ErrUnknownService, http.StatusBadRequest},
		{"volume in use", &docker.VolumeInUseError{Volume: "damp_mysql_data"}, http.StatusConflict},
		{"port conflict", &ports.PortConflictError{Port: 3306}, http.StatusConflict},
		{"already installed", services.ErrAlreadyInstalled, http.StatusConflict},
		{"duplicate project", projects.ErrProjectExists, http.StatusConflict},
		{"unmanaged resource", resources.ErrNotManaged, http.StatusForbidden},
		{"daemon down", docker.ErrDaemonUnreachable, http.StatusServiceUnavailable},
		{"anything else", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorFor(tt.err, "Resource", "x").Code; got != tt.want {
				t.Errorf("errorFor(%v).Code = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestHTTPErrorHandler(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		debug       bool
		wantCode    int
		wantDetails string
	}{
		{"api error", ConflictError("Conflict", "already installed"), false, http.StatusConflict, "already installed"},
		{"echo error", echo.NewHTTPError(http.StatusMethodNotAllowed, "nope"), false, http.StatusMethodNotAllowed, "nope"},
		{"internal hidden", errors.New("secret path"), false, http.StatusInternalServerError, "An internal error occurred. Please try again later."},
		{"internal in debug", errors.New("secret path"), true, http.StatusInternalServerError, "secret path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			e.Debug = tt.debug
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

			HTTPErrorHandler(tt.err, c)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %v, want %v", rec.Code, tt.wantCode)
			}
			var body APIError
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid body: %v", err)
			}
			if body.Details != tt.wantDetails {
				t.Errorf("details = %q, want %q", body.Details, tt.wantDetails)
			}
		})
	}
}

func TestGetHTTPMessage(t *testing.T) {
	tests := []struct {
		name string
		code int
		want string
	}{
		{"Bad Request", http.StatusBadRequest, "Bad request"},
		{"Not Found", http.StatusNotFound, "Resource not found"},
		{"Service Unavailable", http.StatusServiceUnavailable, "Service unavailable"},
		{"Unknown Code", 999, http.StatusText(999)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getHTTPMessage(tt.code); got != tt.want {
				t.Errorf("getHTTPMessage() = %v, want %v", got, tt.want)
			}
		})
	}
}
