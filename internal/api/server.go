// Package api provides the HTTP API server for DAMP.
// It uses the Echo framework to serve REST endpoints and WebSocket
// connections relaying Docker events, operation progress and container logs.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"evalgo.org/damp/internal/app"
	"evalgo.org/damp/internal/config"
	"evalgo.org/damp/internal/version"
)

// Server represents the DAMP API server.
type Server struct {
	echo   *echo.Echo
	app    *app.App
	config config.ServerConfig
	hub    *Hub
	logger *slog.Logger
}

// New creates a new API server instance. The hub must be the one whose
// BroadcastStatus and BroadcastEvent were handed to the app's event monitor.
func New(a *app.App, hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()

	e.HideBanner = true
	e.HidePort = true
	e.Debug = a.Config.Server.Debug
	e.HTTPErrorHandler = HTTPErrorHandler

	s := &Server{
		echo:   e,
		app:    a,
		config: a.Config.Server,
		hub:    hub,
		logger: logger.With("component", "api"),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())
	s.echo.Use(RequestLogger(s.logger))
	s.echo.Use(SecurityHeaders)

	if len(s.config.AllowedOrigins) > 0 {
		s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.config.AllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}

	if s.config.RateLimit > 0 {
		s.echo.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(
			rate.Limit(s.config.RateLimit),
		)))
	}

	s.echo.Use(ValidateContentType)
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.GET("/ws/events", s.handleEventsWebSocket)

	v1 := s.echo.Group("/api/v1")
	v1.GET("/docker/status", s.dockerStatus, ValidateAcceptHeader)

	services := v1.Group("/services", ValidateAcceptHeader, ValidateIDFormat, ValidateQueryParams)
	services.GET("", s.listServices)
	services.GET("/:id", s.getService)
	services.POST("/:id/install", s.installService)
	services.DELETE("/:id", s.uninstallService)
	services.POST("/:id/start", s.startService)
	services.POST("/:id/stop", s.stopService)
	services.POST("/:id/restart", s.restartService)
	services.GET("/:id/databases", s.listDatabases)
	services.GET("/:id/databases/:db/dump", s.dumpDatabase)
	services.POST("/:id/databases/:db/restore", s.restoreDatabase)

	projects := v1.Group("/projects", ValidateAcceptHeader, ValidateIDFormat, ValidateQueryParams)
	projects.GET("", s.listProjects)
	projects.GET("/:id", s.getProject)
	projects.POST("", s.createProject)
	projects.PUT("/:id", s.updateProject)
	projects.DELETE("/:id", s.deleteProject)
	projects.POST("/:id/start", s.startProject)
	projects.POST("/:id/stop", s.stopProject)
	projects.POST("/:id/sync", s.syncProject)

	resources := v1.Group("/resources", ValidateAcceptHeader, ValidateIDFormat, ValidateQueryParams)
	resources.GET("", s.listResources)
	resources.DELETE("/:type/:id", s.deleteResource)
	resources.POST("/prune", s.pruneResources)

	containers := v1.Group("/containers", ValidateIDFormat, ValidateQueryParams)
	containers.GET("/:ref/state", s.getContainerState, ValidateAcceptHeader)
	containers.GET("/:ref/logs", s.streamContainerLogs)

	v1.POST("/certs/bootstrap", s.bootstrapCertificates, ValidateAcceptHeader)
}

// Start starts the HTTP server. It returns nil after a graceful Shutdown.
func (s *Server) Start() error {
	addr := s.config.Address()
	s.logger.Info("starting DAMP API server", "address", "http://"+addr, "version", version.Version, "debug", s.config.Debug)

	s.echo.Server.ReadTimeout = s.config.ReadTimeout
	s.echo.Server.WriteTimeout = s.config.WriteTimeout

	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down DAMP API server")
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down server: %w", err)
	}
	return nil
}

// healthCheck reports whether the daemon answers.
func (s *Server) healthCheck(c echo.Context) error {
	resp := HealthResponse{Status: "healthy", Service: "damp", Version: version.Version, Docker: "reachable"}
	if err := s.app.Docker.Ping(c.Request().Context()); err != nil {
		resp.Status = "unhealthy"
		resp.Docker = "unreachable"
		resp.Error = err.Error()
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

// dockerStatus returns the event monitor connection state.
func (s *Server) dockerStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.app.Monitor.Status())
}

// handleEventsWebSocket attaches a client to the event hub.
func (s *Server) handleEventsWebSocket(c echo.Context) error {
	if err := s.hub.Serve(c.Response(), c.Request()); err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return err
	}
	return nil
}

// ServeHTTP allows Server to implement http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
