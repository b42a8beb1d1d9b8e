package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/studio/internal/middleware"
)

// Routes bundles everything Mount wires onto an app.
type Routes struct {
	Health     *HealthHandler
	Auth       *AuthHandler
	Generation *GenerationHandler
	Assistant  *AssistantHandler
	Socket     *SocketHandler

	APIAuth    fiber.Handler
	SocketAuth fiber.Handler
	Limiter    *middleware.RateLimiter

	GeneratePerHour int
	AssistantPerMin int
}

// Mount registers the HTTP and WebSocket routes.
func Mount(app *fiber.App, r Routes) {
	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	app.Get("/health", r.Health.Health)

	// ForwardAuth verification endpoint (internal, called by Traefik)
	app.Get("/auth/verify", r.Auth.Verify)

	api := app.Group("/api", r.APIAuth)

	generation := api.Group("/generation")
	generation.Post("/estimate", r.Generation.Estimate)
	generation.Post("/start", r.Limiter.GenerateLimit(r.GeneratePerHour), r.Generation.Start)
	generation.Get("/status", r.Generation.Status)
	generation.Post("/cancel", r.Generation.Cancel)
	generation.Post("/retry", r.Limiter.GenerateLimit(r.GeneratePerHour), r.Generation.Retry)

	assistant := api.Group("/assistant", r.Limiter.AssistantLimit(r.AssistantPerMin))
	assistant.Post("/message", r.Assistant.Message)

	app.Use("/ws", r.Socket.RequireUpgrade)
	app.Get("/ws/generation", r.SocketAuth, r.Socket.Stream())
}
