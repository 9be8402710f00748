// Package validation checks user supplied input before it reaches the
// orchestration layer.
//
// It combines go-playground/validator struct tags with field checks that
// tags can not express, such as port ranges inside override lists and the
// KEY=VALUE shape of environment variables.
//
// # Usage Example
//
//	v := validation.New()
//	if err := v.Struct(input).Err(); err != nil {
//	    return models.Fail[*models.Project](err)
//	}
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"evalgo.org/damp/models"
)

// ErrInvalid is matched by every error returned from ValidationResult.Err.
var ErrInvalid = errors.New("invalid input")

// Validator validates input structs and service overrides.
type Validator struct {
	// structValidator validates struct tags
	structValidator *validator.Validate
}

// ValidationError is a single field failure.
type ValidationError struct {
	// Field is the JSON name of the failing field
	Field string `json:"field"`

	// Message describes why validation failed
	Message string `json:"message"`

	// Value is the rejected value (optional)
	Value interface{} `json:"value,omitempty"`
}

// ValidationResult is the outcome of one validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Err returns nil for a valid result, otherwise an error wrapping ErrInvalid
// that lists every failing field.
func (r *ValidationResult) Err() error {
	if r == nil || r.Valid {
		return nil
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Field+": "+e.Message)
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

func result(errs []ValidationError) *ValidationResult {
	return &ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// New creates a Validator. Field names in errors use json tags.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return &Validator{structValidator: v}
}

// Struct validates the tags of s.
func (v *Validator) Struct(s interface{}) *ValidationResult {
	err := v.structValidator.Struct(s)
	if err == nil {
		return result(nil)
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return result([]ValidationError{{Field: "input", Message: err.Error()}})
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Message: message(fe),
			Value:   fe.Value(),
		})
	}
	return result(out)
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "hostname", "fqdn":
		return "must be a valid host name"
	case "dirpath", "filepath":
		return "must be a valid path"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

// CustomConfig validates a service override.
func (v *Validator) CustomConfig(c *models.CustomConfig) *ValidationResult {
	if c == nil {
		return result(nil)
	}
	var errs []ValidationError

	validProtocols := map[string]bool{"tcp": true, "udp": true, "sctp": true}
	for i, port := range c.Ports {
		if port.External < 0 || port.External > 65535 {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("ports[%d].external", i),
				Message: "Port must be between 0 and 65535",
				Value:   port.External,
			})
		}
		if port.Internal < 1 || port.Internal > 65535 {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("ports[%d].internal", i),
				Message: "Port must be between 1 and 65535",
				Value:   port.Internal,
			})
		}
		if port.Protocol != "" && !validProtocols[strings.ToLower(port.Protocol)] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("ports[%d].protocol", i),
				Message: "Protocol must be 'tcp', 'udp', or 'sctp'",
				Value:   port.Protocol,
			})
		}
	}

	for i, env := range c.EnvironmentVars {
		if key, _, ok := strings.Cut(env, "="); !ok || key == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("environment_vars[%d]", i),
				Message: "Must have the form KEY=VALUE",
				Value:   env,
			})
		}
	}

	for i, b := range c.VolumeBindings {
		if b.Volume == "" || !strings.HasPrefix(b.Target, "/") {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("volume_bindings[%d]", i),
				Message: "Volume name and an absolute target are required",
				Value:   b.Bind(),
			})
		}
	}

	if c.HealthCheck != nil && len(c.HealthCheck.Test) == 0 {
		errs = append(errs, ValidationError{
			Field:   "healthcheck.test",
			Message: "Test command is required",
		})
	}

	return result(errs)
}
