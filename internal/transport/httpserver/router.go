// Package httpserver provides HTTP server and routing.
package httpserver

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"dslock/internal/app/service"
	"dslock/internal/domain"
	"dslock/internal/transport/httpserver/handler"
	"dslock/internal/transport/httpserver/middleware"
	"dslock/internal/validator"
)

// ServerConfig holds server configuration.
type ServerConfig struct {
	Port        int
	BodyLimit   int
	MetricsPath string
	ScanCount   int64
}

// Services groups the application services exposed over HTTP.
type Services struct {
	Locks       *service.LockService
	Submissions *service.SubmissionService
}

// Server wraps Fiber app with handlers.
type Server struct {
	App    *fiber.App
	Logger *zap.Logger
}

// NewServer creates a new HTTP server with all routes configured.
// A nil gatherer disables the metrics endpoint.
func NewServer(
	cfg ServerConfig,
	svcs Services,
	store domain.Pinger,
	gatherer prometheus.Gatherer,
	v *validator.Validator,
	logger *zap.Logger,
) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "dslock",
		BodyLimit:             cfg.BodyLimit,
		ErrorHandler:          errorHandler(logger),
		DisableStartupMessage: true,
	})

	// Health check middleware MUST be registered BEFORE other middleware
	// for Kubernetes probes to work even during high load
	app.Use(middleware.NewHealthCheck(store))

	app.Use(requestid.New())
	app.Use(middleware.Recover(logger))
	app.Use(middleware.Logger(logger))

	if gatherer != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		app.Get(path, adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	lockHandler := handler.NewLockHandler(svcs.Locks, v, cfg.ScanCount, logger)
	submissionHandler := handler.NewSubmissionHandler(svcs.Submissions, v, logger)

	registerRoutes(app, lockHandler, submissionHandler)

	return &Server{
		App:    app,
		Logger: logger,
	}
}

// registerRoutes sets up all API routes.
func registerRoutes(
	app *fiber.App,
	lockHandler *handler.LockHandler,
	submissionHandler *handler.SubmissionHandler,
) {
	// Health checks are handled by middleware (/livez, /readyz)

	v1 := app.Group("/api/v1")

	locks := v1.Group("/locks")
	locks.Get("/", lockHandler.Count)
	locks.Get("/:key", lockHandler.Status)
	locks.Delete("/:key", lockHandler.Release)

	submissions := v1.Group("/submissions")
	submissions.Post("/", submissionHandler.Submit)
	submissions.Get("/:id", submissionHandler.Get)
	submissions.Post("/:id/process", submissionHandler.Process)
}

// errorHandler returns a custom error handler that logs based on HTTP status code.
// 404s are logged at DEBUG level (expected client behavior), 4xx at WARN, 5xx at ERROR.
func errorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}

		switch {
		case code == fiber.StatusNotFound:
			logger.Debug("resource not found",
				zap.String("path", c.Path()),
				zap.String("method", c.Method()),
			)
		case code >= 500:
			logger.Error("server error",
				zap.Error(err),
				zap.Int("status", code),
				zap.String("path", c.Path()),
			)
		default:
			logger.Warn("client error",
				zap.Error(err),
				zap.Int("status", code),
				zap.String("path", c.Path()),
			)
		}

		return c.Status(code).JSON(fiber.Map{
			"error": err.Error(),
			"code":  "UNHANDLED_ERROR",
		})
	}
}

// Start starts the HTTP server.
func (s *Server) Start(port int) error {
	s.Logger.Info("starting HTTP server", zap.Int("port", port))

	return s.App.Listen(fmt.Sprintf(":%d", port))
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.Logger.Info("shutting down HTTP server")

	return s.App.Shutdown()
}
