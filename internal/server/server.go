// Package server provides the worker's loopback HTTP surface.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/eventlog"
	"github.com/fyrsmithlabs/recalld/internal/worker"
)

//go:embed dashboard
var dashboardFS embed.FS

// defaultRecordLimit bounds GET /api/records when no limit is given.
const defaultRecordLimit = 50

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server provides HTTP endpoints for the worker.
type Server struct {
	echo   *echo.Echo
	worker *worker.Worker
	events *eventlog.Store
	logger *zap.Logger
	config *Config
}

// NewServer creates the worker HTTP server.
func NewServer(w *worker.Worker, events *eventlog.Store, logger *zap.Logger, cfg *Config) (*Server, error) {
	if w == nil {
		return nil, fmt.Errorf("worker cannot be nil")
	}
	if events == nil {
		return nil, fmt.Errorf("event log store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "127.0.0.1", Port: 37777}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware. CORS is permissive: the surface binds to loopback
	// only, and the dashboard may be opened from file:// pages.
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORS())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Debug("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:   e,
		worker: w,
		events: events,
		logger: logger,
		config: cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.echo.Group("/api")
	api.GET("/records", s.handleRecords)
	api.GET("/stats", s.handleStats)
	api.POST("/analyze", s.handleAnalyze)

	// Read-only bundled dashboard.
	static, err := fs.Sub(dashboardFS, "dashboard")
	if err == nil {
		s.echo.StaticFS("/", static)
	}
}

// handleHealth returns the worker health snapshot. Always 200, even while
// a task is processing.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, s.worker.Health())
}

// RecordsResponse is the response body for GET /api/records.
type RecordsResponse struct {
	Total   int               `json:"total"`
	Records []eventlog.Record `json:"records"`
}

// handleRecords returns the most recent N records, optionally filtered by
// type.
func (s *Server) handleRecords(c echo.Context) error {
	limit := defaultRecordLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
		}
		limit = n
	}

	var (
		records []eventlog.Record
		err     error
	)
	if kind := c.QueryParam("type"); kind != "" {
		records, err = s.events.ReadByKind(eventlog.Kind(kind), limit)
	} else {
		records, err = s.events.ReadAll(limit)
	}
	if err != nil {
		s.logger.Error("record read failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to read records"})
	}

	if records == nil {
		records = []eventlog.Record{}
	}
	return c.JSON(http.StatusOK, RecordsResponse{Total: len(records), Records: records})
}

// handleStats returns event log statistics.
func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.events.Stats()
	if err != nil {
		s.logger.Error("stats scan failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to compute stats"})
	}
	return c.JSON(http.StatusOK, stats)
}

// AnalyzeRequest is the request body for POST /api/analyze.
type AnalyzeRequest struct {
	SessionID   string            `json:"sessionId"`
	SessionData []json.RawMessage `json:"sessionData"`
}

// AnalyzeResponse is the 202 response body for POST /api/analyze.
type AnalyzeResponse struct {
	Status        string `json:"status"`
	QueuePosition int    `json:"queuePosition"`
}

// handleAnalyze enqueues a session batch for analysis.
func (s *Server) handleAnalyze(c echo.Context) error {
	var req AnalyzeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.SessionID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "sessionId is required"})
	}
	if len(req.SessionData) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "sessionData is required"})
	}

	events := make([]eventlog.Record, 0, len(req.SessionData))
	for _, raw := range req.SessionData {
		rec := eventlog.Decode(raw)
		if rec.Kind() == eventlog.KindUnparseable {
			continue
		}
		events = append(events, rec)
	}
	if len(events) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "sessionData contains no valid events"})
	}

	pos, err := s.worker.Submit(req.SessionID, events)
	if err != nil {
		s.logger.Warn("submit rejected", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusAccepted, AnalyzeResponse{Status: "queued", QueuePosition: pos})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
