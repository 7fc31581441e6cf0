// Package server exposes the gateway over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/flight-gateway/pkg/enrich"
	"github.com/Sternrassler/flight-gateway/pkg/geo"
	"github.com/Sternrassler/flight-gateway/pkg/metrics"
	"github.com/Sternrassler/flight-gateway/pkg/states"
	"github.com/Sternrassler/flight-gateway/pkg/token"
)

// DefaultAdsTxt is served on /ads.txt when no declaration is configured.
const DefaultAdsTxt = "# flight-gateway serves no third-party advertising\n"

// DefaultProbeBBox is the area fetched by /health/opensky-states.
var DefaultProbeBBox = geo.BBox{LaMin: 39.7, LoMin: -104.99, LaMax: 39.9, LoMax: -104.7}

// Deps are the components behind the routes.
type Deps struct {
	States *states.Service
	Enrich *enrich.Orchestrator
	Tokens *token.Manager
}

// Config holds server options.
type Config struct {
	Version   string
	AdsTxt    string
	ProbeBBox *geo.BBox
}

// Server wraps the Echo server.
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// New creates the HTTP server with every route registered.
func New(deps Deps, cfg Config, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	if cfg.AdsTxt == "" {
		cfg.AdsTxt = DefaultAdsTxt
	}
	if cfg.ProbeBBox == nil {
		cfg.ProbeBBox = &DefaultProbeBBox
	}
	handler := NewHandler(deps, cfg, logger)

	// Global middleware stack (order matters)
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: newRequestID,
	}))
	e.Use(requestLogger(logger))
	e.Use(middleware.Recover())
	e.Use(cors)

	e.GET("/health", handler.Health)
	e.GET("/health/opensky-token", handler.TokenHealth)
	e.GET("/health/opensky-states", handler.StatesHealth)
	e.GET(states.Route, handler.States)
	e.GET("/flight/:callsign", handler.Flight)
	e.GET("/aircraft/icao24/:hex", handler.Aircraft)
	e.GET("/ads.txt", handler.AdsTxt)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// Start starts the HTTP server on the given address. It returns nil after
// a clean Shutdown.
func (s *Server) Start(addr string) error {
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements http.Handler so the server can run under httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// errorHandler renders framework errors (unknown route, wrong method,
// recovered panics) as JSON.
func errorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status := http.StatusInternalServerError
		msg := "internal_error"
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			msg = http.StatusText(he.Code)
		}
		if status >= http.StatusInternalServerError {
			logger.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, map[string]any{"ok": false, "error": msg})
	}
}
