package handler

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	ws "github.com/makeasinger/sunoproxy/internal/websocket"
)

// RequireUpgrade rejects non-WebSocket requests under /ws.
func RequireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// JobStream handles GET /ws/jobs/:runId
func JobStream(hub *ws.Hub) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, c.Params("runId"))
	})
}
