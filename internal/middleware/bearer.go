package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const apiKeyLocal = "apiKey"

// Bearer copies the token of an `Authorization: Bearer <k>` header into the
// request locals. Requests without one fall back to the process-wide key.
func Bearer() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			if key := strings.TrimSpace(parts[1]); key != "" {
				c.Locals(apiKeyLocal, key)
			}
		}
		return c.Next()
	}
}

// APIKey returns the caller's bearer key, or "" when none was sent.
func APIKey(c *fiber.Ctx) string {
	key, _ := c.Locals(apiKeyLocal).(string)
	return key
}
