package service

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/makeasinger/sunoproxy/internal/client"
)

const enhanceSystemPrompt = `You write prompts for an AI music generator.
Rewrite the user's request as one vivid song description of at most 400 characters:
genre, mood, instrumentation, tempo and vocal style. Reply with the description only.`

// maxPromptLength mirrors the generate payload limit.
const maxPromptLength = 500

// PromptEnhancer rewrites free-form chat input into a generation prompt.
type PromptEnhancer struct {
	llm client.ChatCompleter
}

// NewPromptEnhancer creates an enhancer. A nil or unconfigured llm makes
// Enhance return its input unchanged.
func NewPromptEnhancer(llm client.ChatCompleter) *PromptEnhancer {
	return &PromptEnhancer{llm: llm}
}

// Enhance returns an improved prompt, or the original on any failure.
func (e *PromptEnhancer) Enhance(ctx context.Context, prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if e.llm == nil || !e.llm.IsConfigured() || prompt == "" {
		return truncate(prompt, maxPromptLength)
	}

	enhanced, err := e.llm.ChatCompletion(ctx, enhanceSystemPrompt, prompt)
	if err != nil {
		log.Warn().Err(err).Msg("prompt enhancement failed, using original prompt")
		return truncate(prompt, maxPromptLength)
	}

	enhanced = strings.Trim(strings.TrimSpace(enhanced), `"`)
	if enhanced == "" {
		return truncate(prompt, maxPromptLength)
	}
	return truncate(enhanced, maxPromptLength)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
