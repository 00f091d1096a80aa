// Package http serves the feedback analytics REST API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/feedbackd/internal/dashboard"
	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
	"github.com/fyrsmithlabs/feedbackd/internal/importance"
	"github.com/fyrsmithlabs/feedbackd/internal/logging"
	"github.com/fyrsmithlabs/feedbackd/internal/services"
)

// API is the set of operations the server exposes. Satisfied by
// *services.Service.
type API interface {
	StartTraining(ctx context.Context) (feedback.TrainingJob, bool)
	PollTraining() feedback.TrainingJob
	Correlations(limit int) []feedback.SectionTopicCorrelation
	FeatureImportance() []feedback.FeatureImportance
	Trend(ctx context.Context, userID string) services.TrendView
	DashboardSnapshot(ctx context.Context, userID string) dashboard.Snapshot
	ImportRecords(ctx context.Context, records []feedback.Record) (services.ImportResult, error)
}

// Server provides HTTP endpoints for feedbackd.
type Server struct {
	echo    *echo.Echo
	api     API
	limiter *rate.Limiter
	logger  *zap.Logger
	config  *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// TrainRatePerMinute caps POST /api/v1/training. Zero disables the cap.
	TrainRatePerMinute int
	// MaxImportBytes caps the record import body. Zero means 10 MiB.
	MaxImportBytes int64
}

const defaultMaxImportBytes = 10 << 20

// NewServer creates a new HTTP server.
func NewServer(api API, logger *zap.Logger, cfg *Config) (*Server, error) {
	if api == nil {
		return nil, fmt.Errorf("api cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}
	if cfg.MaxImportBytes <= 0 {
		cfg.MaxImportBytes = defaultMaxImportBytes
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.TrainRatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.TrainRatePerMinute)), cfg.TrainRatePerMinute)
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
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), requestID)))

			err := next(c)

			logger.Info("http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestID),
			)
			return err
		}
	})

	s := &Server{
		echo:    e,
		api:     api,
		limiter: limiter,
		logger:  logger,
		config:  cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/training", s.handleStartTraining)
	v1.GET("/training", s.handlePollTraining)
	v1.GET("/correlations", s.handleCorrelations)
	v1.GET("/importance", s.handleImportance)
	v1.GET("/trend", s.handleTrend)
	v1.GET("/dashboard", s.handleDashboard)
	v1.POST("/records", s.handleImportRecords, middleware.BodyLimit(strconv.FormatInt(s.config.MaxImportBytes, 10)))
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleStartTraining answers 202 when a run starts and 200 with the running
// job when one is already in progress.
func (s *Server) handleStartTraining(c echo.Context) error {
	if !s.limiter.Allow() {
		return echo.NewHTTPError(http.StatusTooManyRequests, "training start rate exceeded")
	}

	job, started := s.api.StartTraining(c.Request().Context())
	code := http.StatusOK
	if started {
		code = http.StatusAccepted
	}
	return c.JSON(code, TrainingResponse{Started: started, Job: job})
}

func (s *Server) handlePollTraining(c echo.Context) error {
	return c.JSON(http.StatusOK, s.api.PollTraining())
}

func (s *Server) handleCorrelations(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}

	rows := s.api.Correlations(limit)
	return c.JSON(http.StatusOK, CorrelationsResponse{Count: len(rows), Correlations: rows})
}

func (s *Server) handleImportance(c echo.Context) error {
	imps := s.api.FeatureImportance()
	pct := importance.Percentages(imps, 1)

	out := make([]ImportanceEntry, 0, len(imps))
	for _, fi := range imps {
		out = append(out, ImportanceEntry{
			Section:     fi.Section,
			Importance:  fi.Importance,
			Percent:     pct[fi.Section],
			Correlation: fi.Correlation,
		})
	}
	return c.JSON(http.StatusOK, ImportanceResponse{FeatureImportance: out})
}

func (s *Server) handleTrend(c echo.Context) error {
	return c.JSON(http.StatusOK, s.api.Trend(c.Request().Context(), c.QueryParam("user_id")))
}

func (s *Server) handleDashboard(c echo.Context) error {
	return c.JSON(http.StatusOK, s.api.DashboardSnapshot(c.Request().Context(), c.QueryParam("user_id")))
}

func (s *Server) handleImportRecords(c echo.Context) error {
	var records []feedback.Record
	if err := c.Bind(&records); err != nil {
		s.logger.Warn("invalid record import", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "request body must be a JSON array of records")
	}

	res, err := s.api.ImportRecords(c.Request().Context(), records)
	if err != nil {
		if errors.Is(err, feedback.ErrInvalidRecord) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		s.logger.Error("record import failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to store records")
	}
	return c.JSON(http.StatusCreated, res)
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server and blocks until it stops.
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
