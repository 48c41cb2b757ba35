package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/makeasinger/sunoproxy/internal/apperr"
	"github.com/makeasinger/sunoproxy/internal/jobs"
	"github.com/makeasinger/sunoproxy/internal/middleware"
	"github.com/makeasinger/sunoproxy/internal/model"
	"github.com/makeasinger/sunoproxy/pkg/response"
)

// Enhancer rewrites a user prompt before generation.
type Enhancer interface {
	Enhance(ctx context.Context, prompt string) string
}

// ChatHandler exposes generation through an OpenAI-style endpoint.
type ChatHandler struct {
	registry  jobs.Registry
	enhancer  Enhancer
	validator *validator.Validate
	timeout   time.Duration
}

// NewChatHandler creates the handler. A request gives up after timeout;
// zero falls back to jobs.DefaultSyncTimeout.
func NewChatHandler(registry jobs.Registry, enhancer Enhancer, v *validator.Validate, timeout time.Duration) *ChatHandler {
	if timeout <= 0 {
		timeout = jobs.DefaultSyncTimeout
	}
	return &ChatHandler{
		registry:  registry,
		enhancer:  enhancer,
		validator: v,
		timeout:   timeout,
	}
}

// Completions handles POST /v1/chat/completions. The last user message is
// generated with wait_audio and the tracks are returned as Markdown.
func (h *ChatHandler) Completions(c *fiber.Ctx) error {
	var req model.ChatCompletionRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	prompt := lastUserMessage(req.Messages)
	if prompt == "" {
		return response.ValidationError(c, "A user message is required", nil)
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()
	prompt = h.enhancer.Enhance(ctx, prompt)

	res, err := h.registry.TriggerAndWait(ctx, model.TaskGenerateMusic, model.GeneratePayload{
		Prompt:    prompt,
		Model:     req.Model,
		WaitAudio: true,
		APIKey:    middleware.APIKey(c),
	})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded && !apperr.Is(err, apperr.KindTimeout) {
			err = apperr.New(apperr.KindTimeout, "Generation timed out")
		}
		return response.FromError(c, err)
	}
	if !res.OK {
		log.Warn().Str("run_id", res.RunID).Str("error", res.Error).Msg("chat generation failed")
		return response.FromError(c, apperr.GenerationFailed(res.Error))
	}

	var out model.GenerateOutput
	if err := json.Unmarshal(res.Output, &out); err != nil {
		return response.FromError(c, apperr.Internal(fmt.Errorf("decode generate output: %w", err)))
	}
	if !out.Success {
		return response.FromError(c, apperr.GenerationFailed(out.Error))
	}

	c.Set(fiber.HeaderContentType, "text/markdown; charset=utf-8")
	return c.SendString(renderMarkdown(out.Data))
}

func lastUserMessage(msgs []model.ChatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			if s := strings.TrimSpace(msgs[i].Content); s != "" {
				return s
			}
		}
	}
	return ""
}

func renderMarkdown(tracks []model.Audio) string {
	var b strings.Builder
	for i, t := range tracks {
		if i > 0 {
			b.WriteString("\n---\n\n")
		}
		title := t.Title
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(&b, "## %s\n\n", title)
		if t.ImageURL != "" {
			fmt.Fprintf(&b, "![%s](%s)\n\n", title, t.ImageURL)
		}
		if t.Lyric != "" {
			fmt.Fprintf(&b, "### Lyrics\n\n%s\n\n", t.Lyric)
		}
		if t.AudioURL != "" {
			fmt.Fprintf(&b, "### Listen\n\n[%s](%s)\n", title, t.AudioURL)
		}
	}
	return b.String()
}
