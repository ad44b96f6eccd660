// Package http serves the sidecar: the /_pantry control API plus the
// interceptor for every other path.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	stdhttp "net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/roach88/pantry/internal/connectivity"
	"github.com/roach88/pantry/internal/message"
	"github.com/roach88/pantry/internal/queue"
	"github.com/roach88/pantry/internal/syncer"
)

// ControlPrefix is the path prefix of the control API.
const ControlPrefix = "/_pantry"

const bodyLimit = 16 << 20

// Syncer runs sync passes on demand.
type Syncer interface {
	Sync(ctx context.Context) (syncer.Summary, error)
}

// Precacher warms the cache with critical assets.
type Precacher interface {
	Precache(ctx context.Context, refs []string) int
}

// Deps are the components the server exposes.
type Deps struct {
	Monitor        *connectivity.Monitor
	Syncer         Syncer
	Queue          *queue.Queue
	Precacher      Precacher
	Broker         *message.Broker
	Interceptor    stdhttp.Handler
	CriticalAssets []string
	Logger         *slog.Logger
}

// Server is the fiber application.
type Server struct {
	app  *fiber.App
	deps Deps
	log  *slog.Logger
}

// New builds the server and registers its routes.
func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	s := &Server{deps: d, log: d.Logger}

	s.app = fiber.New(fiber.Config{
		AppName:               "pantry",
		DisableStartupMessage: true,
		BodyLimit:             bodyLimit,
		ErrorHandler:          s.errorHandler,
	})
	s.app.Use(recover.New())
	s.app.Use(s.requestLogger())

	api := s.app.Group(ControlPrefix)
	api.Get("/status", s.status)
	api.Post("/sync", s.sync)
	api.Post("/messages", s.messages)
	api.Get("/queue", s.listQueue)
	api.Post("/queue/:id/retry", s.retryAction)
	api.Delete("/queue/:id", s.discardAction)
	api.Post("/connectivity", s.connectivity)
	api.Get("/events", s.events)

	if d.Interceptor != nil {
		s.app.Use(adaptor.HTTPHandler(d.Interceptor))
	}
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("sidecar listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		s.log.Debug("request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"latency", time.Since(start),
		)
		return err
	}
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.log.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
