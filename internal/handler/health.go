package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/sunoproxy/pkg/response"
)

// HealthHandler reports which collaborators are configured and whether
// redis answers.
type HealthHandler struct {
	services map[string]bool
	ping     func(ctx context.Context) error
}

func NewHealthHandler(services map[string]bool, ping func(ctx context.Context) error) *HealthHandler {
	return &HealthHandler{services: services, ping: ping}
}

// Root handles GET /
func (h *HealthHandler) Root(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{
		"timestamp": time.Now().Unix(),
	})
}

// Health handles GET /health
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	status := "ok"
	redisOK := true
	if h.ping != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := h.ping(ctx); err != nil {
			redisOK = false
			status = "degraded"
		}
	}

	services := fiber.Map{"redis": redisOK}
	for name, ok := range h.services {
		services[name] = ok
	}
	return response.OK(c, fiber.Map{
		"status":   status,
		"services": services,
	})
}
