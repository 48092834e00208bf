// Package httpapi provides the HTTP API for inboxmind.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/inboxmind/internal/logging"
	"github.com/fyrsmithlabs/inboxmind/internal/pipeline"
	"github.com/fyrsmithlabs/inboxmind/internal/tenant"
)

// Runner executes one query through the pipeline.
type Runner interface {
	Run(ctx context.Context, req pipeline.QueryRequest) (*pipeline.Result, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server provides HTTP endpoints for inboxmind.
type Server struct {
	echo   *echo.Echo
	runner Runner
	logger *logging.Logger
	config *Config
}

// NewServer creates a new HTTP server.
func NewServer(runner Runner, logger *logging.Logger, cfg *Config) (*Server, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:   e,
		runner: runner,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/query", s.handleQuery)
}

// QueryFilters carries the optional metadata filters of a query.
type QueryFilters struct {
	DateFrom *time.Time `json:"dateFrom,omitempty"`
	DateTo   *time.Time `json:"dateTo,omitempty"`
	Sender   string     `json:"sender,omitempty"`
	ThreadID string     `json:"threadId,omitempty"`
}

// QueryRequest is the request body for POST /api/v1/query.
type QueryRequest struct {
	Query              string       `json:"query"`
	OrgID              string       `json:"orgId"`
	UserID             string       `json:"userId"`
	Filters            QueryFilters `json:"filters"`
	TopK               int          `json:"topK,omitempty"`
	RelevanceThreshold *float64     `json:"relevanceThreshold,omitempty"`
}

// QueryMetadata describes how a query was answered.
type QueryMetadata struct {
	RetrievalCount   int   `json:"retrievalCount"`
	ProcessingTimeMs int64 `json:"processingTimeMs"`
	AnswerComplete   bool  `json:"answerComplete"`
}

// QueryResponse is the response body for a completed or refused query.
type QueryResponse struct {
	Answer        string            `json:"answer"`
	Sources       []pipeline.Source `json:"sources"`
	Metadata      QueryMetadata     `json:"metadata"`
	RefusalReason string            `json:"refusalReason,omitempty"`
}

// ErrorResponse is the response body for failed or invalid requests.
// It never carries internal error detail; TraceID lets operators
// correlate with logs.
type ErrorResponse struct {
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	TraceID string `json:"traceId,omitempty"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleQuery runs one question through the pipeline.
func (s *Server) handleQuery(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid query request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	result, err := s.runner.Run(c.Request().Context(), pipeline.QueryRequest{
		Scope: tenant.Scope{OrgID: req.OrgID, UserID: req.UserID},
		Text:  req.Query,
		Filters: pipeline.Filters{
			DateFrom: req.Filters.DateFrom,
			DateTo:   req.Filters.DateTo,
			Sender:   req.Filters.Sender,
			ThreadID: req.Filters.ThreadID,
		},
		TopK:               req.TopK,
		RelevanceThreshold: req.RelevanceThreshold,
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalidTenant) || errors.Is(err, pipeline.ErrInvalidRequest) {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		}
		s.logger.Error(c.Request().Context(), "query execution error", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}

	metadata := QueryMetadata{
		RetrievalCount:   result.RetrievalCount,
		ProcessingTimeMs: result.Duration.Milliseconds(),
		AnswerComplete:   result.Outcome == pipeline.OutcomeCompleted,
	}

	switch result.Outcome {
	case pipeline.OutcomeCompleted:
		return c.JSON(http.StatusOK, QueryResponse{
			Answer:   result.Answer.Text,
			Sources:  result.Sources,
			Metadata: metadata,
		})
	case pipeline.OutcomeRefused:
		return c.JSON(http.StatusOK, QueryResponse{
			Answer:        result.Answer.Text,
			Sources:       []pipeline.Source{},
			Metadata:      metadata,
			RefusalReason: result.RefusalReason,
		})
	default:
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "query failed",
			Reason:  result.FailureKind,
			TraceID: result.RequestID,
		})
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
