package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/makeasinger/sunoproxy/internal/apperr"
	"github.com/makeasinger/sunoproxy/internal/config"
	"github.com/makeasinger/sunoproxy/internal/model"
)

// ChatCompleter is the subset of an OpenAI-compatible API the prompt
// enhancer needs.
type ChatCompleter interface {
	ChatCompletion(ctx context.Context, system, user string) (string, error)
	IsConfigured() bool
}

// GroqClient handles communication with Groq API
type GroqClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

type groqRequest struct {
	Model       string              `json:"model"`
	Messages    []model.ChatMessage `json:"messages"`
	Temperature float64             `json:"temperature,omitempty"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
}

type groqResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewGroqClient creates a new Groq API client
func NewGroqClient(cfg *config.GroqConfig) *GroqClient {
	return &GroqClient{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
}

// ChatCompletion sends a single system+user exchange and returns the reply
func (c *GroqClient) ChatCompletion(ctx context.Context, system, user string) (string, error) {
	bodyBytes, err := json.Marshal(groqRequest{
		Model: c.model,
		Messages: []model.ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.7,
		MaxTokens:   512,
	})
	if err != nil {
		return "", apperr.Internal(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", apperr.Internal(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperr.Transport(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.Transport(fmt.Errorf("read response: %w", err))
	}

	log.Debug().
		Str("component", "groq").
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("chat completion")

	var out groqResponse
	decodeErr := json.Unmarshal(respBody, &out)

	if resp.StatusCode != http.StatusOK {
		msg := string(respBody)
		if decodeErr == nil && out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return "", apperr.Upstream(resp.StatusCode, fmt.Sprintf("groq: %s", msg))
	}
	if decodeErr != nil {
		return "", apperr.Upstream(0, fmt.Sprintf("groq: malformed response: %v", decodeErr))
	}
	if len(out.Choices) == 0 {
		return "", apperr.Upstream(0, "groq: no choices in response")
	}

	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

// IsConfigured returns true if the client has valid configuration
func (c *GroqClient) IsConfigured() bool {
	return c.apiKey != ""
}
