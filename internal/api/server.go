// Package api exposes the playground compile service over HTTP and
// WebSocket.
package api

import (
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/wayli-app/playground/internal/config"
	"github.com/wayli-app/playground/internal/registry"
)

// Server is the playground HTTP/WebSocket server.
type Server struct {
	app *fiber.App
	cfg *config.Config

	mu        sync.RWMutex
	registries map[string]*registry.Registry // session id -> its resources
}

// NewServer creates the server and registers all routes.
func NewServer(cfg *config.Config) *Server {
	app := fiber.New(fiber.Config{
		ServerHeader:          "Playground",
		AppName:               "Playground",
		BodyLimit:             cfg.Server.BodyLimit,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		DisableStartupMessage: !cfg.Debug,
	})

	s := &Server{
		app:        app,
		cfg:        cfg,
		registries: make(map[string]*registry.Registry),
	}

	app.Use(requestid.New())
	app.Use(recover.New())
	app.Use(cors.New())
	if cfg.Debug {
		app.Use(logger.New())
	}

	app.Get("/health", s.handleHealth)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/playground/config", s.handleClientConfig)
	app.Get("/playground", s.handlePlayground)
	app.Get("/artifacts/:id", s.handleArtifact)

	return s
}

// Start begins serving. It blocks until the listener closes.
func (s *Server) Start() error {
	log.Info().Str("address", s.cfg.Server.Address).Msg("Starting playground server")
	return s.app.Listen(s.cfg.Server.Address)
}

// Shutdown drains connections and stops the server.
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(10 * time.Second)
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// handleClientConfig tells the editor UI how to behave: how long to coalesce
// edits before requesting a rebuild, and which CDN bare imports resolve to.
func (s *Server) handleClientConfig(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"debounce_ms": s.cfg.Compiler.DebounceWindow.Milliseconds(),
		"cdn_base":    s.cfg.Compiler.CDNBase,
	})
}

// handleArtifact serves a generated module by resource id. Artifact ids are
// content-addressed, so responses are immutable.
func (s *Server) handleArtifact(c *fiber.Ctx) error {
	id := strings.TrimSuffix(c.Params("id"), ".js")

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, reg := range s.registries {
		if text, ok := reg.Lookup(id); ok {
			c.Set(fiber.HeaderContentType, "text/javascript; charset=utf-8")
			c.Set(fiber.HeaderCacheControl, "public, max-age=31536000, immutable")
			return c.SendString(text)
		}
	}
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "artifact not found"})
}

func (s *Server) addRegistry(sessionID string, reg *registry.Registry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registries[sessionID] = reg
}

func (s *Server) removeRegistry(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.registries, sessionID)
}
