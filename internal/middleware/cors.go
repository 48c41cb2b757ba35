package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// CORSRule lists the methods allowed for paths under Prefix.
type CORSRule struct {
	Prefix  string
	Methods []string
}

// DefaultCORSRules covers every public route.
var DefaultCORSRules = []CORSRule{
	{Prefix: "/api/v2/webhooks/", Methods: []string{fiber.MethodPost}},
	{Prefix: "/api/v2/jobs/", Methods: []string{fiber.MethodGet, fiber.MethodPost}},
	{Prefix: "/api/v2/", Methods: []string{fiber.MethodPost}},
	{Prefix: "/v1/chat/completions", Methods: []string{fiber.MethodPost}},
	{Prefix: "/api/", Methods: []string{fiber.MethodGet, fiber.MethodPost}},
}

const allowHeaders = "Content-Type, Authorization, x-trigger-signature"

// CORS sets permissive CORS headers and answers preflight requests with 200.
// The first rule whose prefix matches the path decides the allowed methods.
func CORS(rules []CORSRule) fiber.Handler {
	return func(c *fiber.Ctx) error {
		methods := []string{fiber.MethodGet, fiber.MethodPost}
		path := c.Path()
		for _, r := range rules {
			if strings.HasPrefix(path, r.Prefix) {
				methods = r.Methods
				break
			}
		}

		c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
		c.Set(fiber.HeaderAccessControlAllowMethods, strings.Join(methods, ", ")+", "+fiber.MethodOptions)
		c.Set(fiber.HeaderAccessControlAllowHeaders, allowHeaders)

		if c.Method() == fiber.MethodOptions {
			return c.SendStatus(fiber.StatusOK)
		}
		return c.Next()
	}
}
