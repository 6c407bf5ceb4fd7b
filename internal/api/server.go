// Package api exposes the engine over HTTP.
package api

import (
	"context"
	"fmt"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/acme/campaign-dialer/internal/config"
	"github.com/acme/campaign-dialer/pkg/logger"
)

// Server wraps the fiber application.
type Server struct {
	app *fiber.App
	cfg config.HTTPConfig
	log *logger.Logger
}

// Handler registers routes on the application.
type Handler interface {
	Register(app *fiber.App)
}

// NewServer builds the HTTP server and registers every handler.
func NewServer(cfg config.HTTPConfig, appCfg config.AppConfig, log *logger.Logger, handlers ...Handler) *Server {
	app := fiber.New(fiber.Config{
		AppName:      appCfg.Name,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		ErrorHandler: newErrorHandler(log),
	})

	app.Use(recover.New())
	app.Use(otelfiber.Middleware())

	for _, h := range handlers {
		h.Register(app)
	}

	return &Server{app: app, cfg: cfg, log: log}
}

// Listen blocks serving HTTP until Shutdown is called.
func (s *Server) Listen() error {
	return s.app.Listen(fmt.Sprintf(":%d", s.cfg.Port))
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
