package status

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/hearthware/go-hearth/pkg/session"
)

// Version is stamped at build time.
var Version = "dev"

// Server is the HTTP status server. It reads engine state; it never
// mutates sessions.
type Server struct {
	app    *fiber.App
	engine *session.Engine
	hub    *Hub
}

// NewServer builds the status server around a session engine.
func NewServer(engine *session.Engine) *Server {
	s := &Server{
		engine: engine,
		hub:    NewHub(),
	}

	app := fiber.New(fiber.Config{
		AppName:               "hearthd",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(cors.New())

	app.Get("/health", s.handleHealth)
	app.Get("/metrics", s.handleMetrics)

	api := app.Group("/api")
	api.Get("/sessions", s.handleSessions)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(func(conn *websocket.Conn) {
		serveClient(s.hub, conn)
	}))

	s.app = app
	return s
}

// Notify publishes a session lifecycle event to the websocket feed.
// Wire this to the engine's OnEvent hook.
func (s *Server) Notify(n session.Notification) {
	s.hub.BroadcastJSON(n)
}

// Listen starts the hub and serves on addr. Blocks until shutdown.
func (s *Server) Listen(addr string) error {
	go s.hub.Run()
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"version":  Version,
		"sessions": s.engine.Stats().ActiveSessions,
	})
}

func (s *Server) handleSessions(c *fiber.Ctx) error {
	return c.JSON(s.engine.Snapshot())
}

func (s *Server) handleMetrics(c *fiber.Ctx) error {
	stats := s.engine.Stats()
	return c.SendString(fmt.Sprintf(`# HELP hearth_sessions_active Active relay sessions
# TYPE hearth_sessions_active gauge
hearth_sessions_active %d

# HELP hearth_sessions_total Sessions accepted since start
# TYPE hearth_sessions_total counter
hearth_sessions_total %d

# HELP hearth_audio_bytes_in Audio bytes relayed local to remote
# TYPE hearth_audio_bytes_in counter
hearth_audio_bytes_in %d

# HELP hearth_audio_bytes_out Audio bytes relayed remote to local
# TYPE hearth_audio_bytes_out counter
hearth_audio_bytes_out %d
`, stats.ActiveSessions, stats.SessionsTotal, stats.BytesIn, stats.BytesOut))
}
