package webhook

import (
	"context"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Server is the HTTP listener for provider webhooks.
type Server struct {
	echo   *echo.Echo
	addr   string
	logger *slog.Logger
}

// NewServer builds an echo server with recovery and request logging and
// registers h's routes on it.
func NewServer(log *slog.Logger, addr string, h *Handler) *Server {
	if log == nil {
		log = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadHeaderTimeout = 10 * time.Second
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", c.RealIP()),
			)
			return nil
		},
	}))
	h.Register(e)
	return &Server{echo: e, addr: addr, logger: log.With(slog.String("component", "webhook_server"))}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() *echo.Echo { return s.echo }

// Start listens on the configured address. It blocks until the server is
// shut down and then returns http.ErrServerClosed.
func (s *Server) Start() error {
	s.logger.Info("webhook server listening", slog.String("addr", s.addr))
	return s.echo.Start(s.addr)
}

func (s *Server) Stop(ctx context.Context) error { return s.echo.Shutdown(ctx) }
