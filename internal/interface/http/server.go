// Package http serves the progression engine's REST API on fiber.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"

	"github.com/inkquest/inkquest/internal/interface/http/handlers"
)

// Config is the listener setup. Zero values fall back to DefaultConfig.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	BodyLimit       int
	ShutdownTimeout time.Duration

	// Version is reported by / and /health.
	Version string
}

func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     time.Minute,
		BodyLimit:       64 << 10,
		ShutdownTimeout: 30 * time.Second,
		Version:         "dev",
	}
}

// Dependencies are the handlers and probes the routes call into.
type Dependencies struct {
	API handlers.ProgressionAPI

	// AdminKeyHash is the bcrypt hash guarding /api/v1/admin.
	AdminKeyHash string

	HealthChecker *handlers.CompositeHealthChecker
	Logger        *slog.Logger
}

// Server is the fiber app plus its listen address.
type Server struct {
	cfg     Config
	app     *fiber.App
	logger  *slog.Logger
	started time.Time
}

// NewServer builds the app and registers every route.
func NewServer(cfg Config, deps Dependencies) *Server {
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = def.BodyLimit
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.HealthChecker == nil {
		deps.HealthChecker = handlers.NewCompositeHealthChecker(cfg.Version)
	}

	s := &Server{
		cfg:     cfg,
		logger:  deps.Logger.With("component", "http"),
		started: time.Now(),
	}
	s.app = fiber.New(fiber.Config{
		AppName:               "inkquest",
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		IdleTimeout:           cfg.IdleTimeout,
		BodyLimit:             cfg.BodyLimit,
		Immutable:             true,
		DisableStartupMessage: true,
		ErrorHandler:          handlers.ErrorHandler(s.logger),
	})

	s.app.Use(
		recover.New(recover.Config{
			EnableStackTrace: true,
			StackTraceHandler: func(c *fiber.Ctx, e any) {
				s.logger.Error("panic recovered", "path", c.Path(), "panic", fmt.Sprint(e))
			},
		}),
		requestid.New(requestid.Config{Generator: uuid.NewString}),
		handlers.RequestLogger(s.logger),
	)

	s.app.Get("/", s.index)
	s.app.Get("/live", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"status": "alive"}) })
	s.app.Get("/ready", handlers.Ready(deps.HealthChecker))
	s.app.Get("/health", handlers.Health(deps.HealthChecker))

	deps.API.Register(s.app.Group("/api/v1"), handlers.AdminKey(deps.AdminKeyHash, s.logger))
	return s
}

func (s *Server) index(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"name":           "inkquest",
		"version":        s.cfg.Version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"endpoints": fiber.Map{
			"health":       "/health",
			"level":        "/api/v1/users/:userID/level",
			"achievements": "/api/v1/users/:userID/achievements",
			"award":        "/api/v1/users/:userID/xp",
			"evaluate":     "/api/v1/users/:userID/evaluate",
		},
	})
}

// App exposes the fiber app for app.Test.
func (s *Server) App() *fiber.App { return s.app }

// Run listens until ctx is done, then drains in-flight requests for at most
// ShutdownTimeout. A listener failure is returned immediately.
func (s *Server) Run(ctx context.Context) error {
	listenErr := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.cfg.Addr)
		listenErr <- s.app.Listen(s.cfg.Addr)
	}()

	select {
	case err := <-listenErr:
		if err != nil {
			return fmt.Errorf("http: listen %s: %w", s.cfg.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
		return fmt.Errorf("http: shutdown: %w", err)
	}
	if err := <-listenErr; err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("http: listen %s: %w", s.cfg.Addr, err)
	}
	return nil
}
