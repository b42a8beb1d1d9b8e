package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/studio/internal/model"
)

type HealthHandler struct {
	providers func() map[model.ProviderKind]bool
	services  map[string]bool
}

func NewHealthHandler(providers func() map[model.ProviderKind]bool, services map[string]bool) *HealthHandler {
	return &HealthHandler{providers: providers, services: services}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"providers": h.providers(),
		"services":  h.services,
	})
}
