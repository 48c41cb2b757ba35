package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/makeasinger/sunoproxy/internal/model"
	"github.com/makeasinger/sunoproxy/internal/webhook"
	"github.com/makeasinger/sunoproxy/pkg/response"
)

// EventDispatcher routes an accepted run event.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event *model.WebhookEvent) error
}

// WebhookHandler receives signed run events.
type WebhookHandler struct {
	secret     string
	production bool
	dispatcher EventDispatcher
}

func NewWebhookHandler(secret string, production bool, dispatcher EventDispatcher) *WebhookHandler {
	return &WebhookHandler{
		secret:     secret,
		production: production,
		dispatcher: dispatcher,
	}
}

// Trigger handles POST /api/v2/webhooks/trigger
func (h *WebhookHandler) Trigger(c *fiber.Ctx) error {
	body := c.Body()

	if h.secret == "" {
		if h.production {
			log.Error().Msg("webhook secret not configured, rejecting event")
			return response.Unauthorized(c, "Webhook secret not configured")
		}
		log.Warn().Msg("webhook secret not configured, accepting unsigned event")
	} else if !webhook.Verify(h.secret, body, c.Get(model.SignatureHeader)) {
		log.Warn().Str("ip", c.IP()).Msg("invalid webhook signature")
		return response.Unauthorized(c, "Invalid signature")
	}

	event, err := webhook.Parse(body)
	if err != nil {
		return response.ValidationError(c, "Invalid webhook payload", nil)
	}

	// Handlers are idempotent; their failures do not change the ack.
	if err := h.dispatcher.Dispatch(c.UserContext(), event); err != nil {
		log.Error().Err(err).Str("run_id", event.Run.ID).Str("event", event.Type).Msg("webhook handler failed")
	}
	return response.OK(c, fiber.Map{"success": true})
}
