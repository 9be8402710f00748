package api

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"evalgo.org/damp/models"
)

// ValidateContentType middleware ensures that requests with a body have the correct Content-Type
func ValidateContentType(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		method := c.Request().Method

		// Only check POST, PUT, PATCH requests
		if method == "POST" || method == "PUT" || method == "PATCH" {
			contentType := c.Request().Header.Get("Content-Type")

			// Allow empty body for action endpoints
			if c.Request().ContentLength == 0 {
				return next(c)
			}

			// Database restores upload raw dumps
			if !strings.HasPrefix(contentType, "application/json") &&
				!strings.HasPrefix(contentType, "application/octet-stream") {
				return BadRequestError(
					"Invalid Content-Type",
					"Content-Type must be 'application/json' or 'application/octet-stream'. Got: "+contentType,
				)
			}
		}

		return next(c)
	}
}

// ValidateAcceptHeader middleware ensures that clients can accept JSON responses
func ValidateAcceptHeader(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		accept := c.Request().Header.Get("Accept")

		if accept == "" {
			return next(c)
		}

		if !strings.Contains(accept, "application/json") &&
			!strings.Contains(accept, "*/*") &&
			!strings.Contains(accept, "application/*") {
			return BadRequestError(
				"Invalid Accept header",
				"API only returns JSON. Accept header must include 'application/json' or '*/*'. Got: "+accept,
			)
		}

		return next(c)
	}
}

// ValidateIDFormat middleware rejects identifiers that can not name a
// service, project, container or volume.
func ValidateIDFormat(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		for _, name := range []string{"id", "ref"} {
			id := c.Param(name)
			if id == "" {
				continue
			}

			if strings.ContainsAny(id, " \t/\\") || strings.Contains(id, "..") {
				return BadRequestError(
					"Invalid ID format",
					"ID cannot contain whitespace, slashes or '..'",
				)
			}

			if len(id) > 256 {
				return BadRequestError(
					"Invalid ID format",
					"ID must not exceed 256 characters",
				)
			}
		}

		return next(c)
	}
}

// ValidateQueryParams middleware validates common query parameters
func ValidateQueryParams(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if t := c.QueryParam("type"); t != "" {
			if t != string(models.ResourceContainer) && t != string(models.ResourceVolume) {
				return BadRequestError(
					"Invalid type parameter",
					"Type must be one of: container, volume. Got: "+t,
				)
			}
		}

		for _, name := range []string{"orphans", "remove_volumes", "remove_volume", "remove_folder"} {
			if v := c.QueryParam(name); v != "" {
				if _, err := strconv.ParseBool(v); err != nil {
					return BadRequestError("Invalid "+name+" parameter", "Expected a boolean. Got: "+v)
				}
			}
		}

		if tail := c.QueryParam("tail"); tail != "" && tail != "all" {
			if n, err := strconv.Atoi(tail); err != nil || n < 0 {
				return BadRequestError("Invalid tail parameter", "Tail must be 'all' or a non-negative number. Got: "+tail)
			}
		}

		return next(c)
	}
}

// SecurityHeaders middleware adds security headers to responses
func SecurityHeaders(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set("X-Content-Type-Options", "nosniff")
		c.Response().Header().Set("X-Frame-Options", "DENY")
		c.Response().Header().Set("X-XSS-Protection", "1; mode=block")
		c.Response().Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		return next(c)
	}
}

// RequestLogger logs one line per request through logger.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogMethod:    true,
		LogURI:       true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency, "request_id", v.RequestID}
			if v.Error != nil {
				logger.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			logger.Debug("request", attrs...)
			return nil
		},
	})
}
