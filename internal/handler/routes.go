package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/sunoproxy/internal/middleware"
	ws "github.com/makeasinger/sunoproxy/internal/websocket"
)

// Handlers groups everything Register mounts.
type Handlers struct {
	Health  *HealthHandler
	Music   *MusicHandler
	Jobs    *JobsHandler
	Webhook *WebhookHandler
	Chat    *ChatHandler
	Hub     *ws.Hub
}

// Register mounts every route on app.
func Register(app *fiber.App, h Handlers) {
	app.Use(middleware.CORS(middleware.DefaultCORSRules), middleware.Bearer())

	app.Get("/", h.Health.Root)
	app.Get("/health", h.Health.Health)

	api := app.Group("/api")
	api.Post("/generate", h.Music.Generate)
	api.Post("/custom_generate", h.Music.CustomGenerate)
	api.Post("/extend_audio", h.Music.ExtendAudio)
	api.Post("/generate_lyrics", h.Music.GenerateLyrics)
	api.Post("/generate_stems", h.Music.GenerateStems)
	api.Post("/concat", h.Music.Concat)
	api.Get("/get", h.Music.Get)
	api.Get("/get_aligned_lyrics", h.Music.GetAlignedLyrics)
	api.Get("/clip", h.Music.Clip)
	api.Get("/persona", h.Music.Persona)
	api.Get("/get_limit", h.Music.GetLimit)

	v2 := api.Group("/v2")
	v2.Post("/generate", h.Jobs.Generate)
	v2.Post("/batch", h.Jobs.Batch)
	v2.Get("/jobs/:runId", h.Jobs.Status)
	v2.Post("/jobs/:runId/cancel", h.Jobs.Cancel)
	v2.Post("/webhooks/trigger", h.Webhook.Trigger)

	app.Post("/v1/chat/completions", h.Chat.Completions)

	if h.Hub != nil {
		app.Use("/ws", RequireUpgrade)
		app.Get("/ws/jobs/:runId", JobStream(h.Hub))
	}
}
