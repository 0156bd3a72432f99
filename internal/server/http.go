package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voice-turn/handler"
	"voice-turn/internal/metrics"
	"voice-turn/internal/usecase"
)

const maxBodySize = "10M"

// Server is the Echo front end for the turn pipeline.
type Server struct {
	echo    *echo.Echo
	uc      handler.TurnProcessor
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New builds the server and registers its routes. m and gatherer may be nil,
// in which case requests are not measured and /metrics is not served.
func New(uc handler.TurnProcessor, m *metrics.Metrics, gatherer prometheus.Gatherer, logger *slog.Logger) (*Server, error) {
	if uc == nil {
		return nil, errors.New("server: turn processor must not be nil")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, uc: uc, metrics: m, logger: logger}

	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(maxBodySize))
	e.Use(s.recordRequests)

	e.POST("/", s.processTurn)
	e.GET("/healthz", s.healthz)
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return s, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("http server listening", "address", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight turns.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// POST /
func (s *Server) processTurn(c echo.Context) error {
	req := c.Request()
	corrID := handler.CorrelationID(req.Header.Get(handler.CorrelationHeader))
	c.Response().Header().Set(handler.CorrelationHeader, corrID)

	body, err := io.ReadAll(req.Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return s.fail(c, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "read_body", Err: err})
	}
	in, err := handler.DecodeTurnRequest(body)
	if err != nil {
		return s.fail(c, err)
	}
	in.CorrelationID = corrID

	out, err := s.uc.ProcessTurn(req.Context(), in)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Blob(http.StatusOK, "audio/mpeg", out.Audio)
}

// GET /healthz
func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) fail(c echo.Context, err error) error {
	status, body := handler.MapError(err)
	return c.JSON(status, body)
}

func (s *Server) recordRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if s.metrics == nil {
			return err
		}
		status := c.Response().Status
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
		}
		path := c.Path()
		if path == "" {
			path = "unmatched"
		}
		s.metrics.RecordHTTPRequest(c.Request().Method, path, status, time.Since(start))
		return err
	}
}
