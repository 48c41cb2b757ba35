package model

// GenerateRequest represents the request body for POST /api/generate and
// POST /api/v2/generate
type GenerateRequest struct {
	Prompt           string `json:"prompt" validate:"required,min=1,max=500"`
	MakeInstrumental bool   `json:"make_instrumental"`
	Model            string `json:"model" validate:"omitempty,max=64"`
	WaitAudio        bool   `json:"wait_audio"`
}

// CustomGenerateRequest represents the request body for POST /api/custom_generate
type CustomGenerateRequest struct {
	Prompt           string `json:"prompt" validate:"required_if=MakeInstrumental false,max=5000"`
	Tags             string `json:"tags" validate:"required,max=1000"`
	Title            string `json:"title" validate:"required,max=100"`
	MakeInstrumental bool   `json:"make_instrumental"`
	Model            string `json:"model" validate:"omitempty,max=64"`
	WaitAudio        bool   `json:"wait_audio"`
	NegativeTags     string `json:"negative_tags" validate:"omitempty,max=1000"`
}

// ExtendAudioRequest represents the request body for POST /api/extend_audio
type ExtendAudioRequest struct {
	AudioID      string  `json:"audio_id"`
	Prompt       string  `json:"prompt"`
	ContinueAt   float64 `json:"continue_at"`
	Tags         string  `json:"tags"`
	NegativeTags string  `json:"negative_tags"`
	Title        string  `json:"title"`
	Model        string  `json:"model"`
	WaitAudio    bool    `json:"wait_audio"`
}

// LyricsRequest represents the request body for POST /api/generate_lyrics
type LyricsRequest struct {
	Prompt string `json:"prompt" validate:"required,min=1,max=500"`
}

// StemsRequest represents the request body for POST /api/generate_stems
type StemsRequest struct {
	AudioID string `json:"audio_id"`
	TaskID  string `json:"task_id"`
}

// BatchRequest represents the request body for POST /api/v2/batch
type BatchRequest struct {
	Prompts          []string `json:"prompts" validate:"required,min=1,max=50,dive,required,min=1,max=500"`
	MakeInstrumental bool     `json:"make_instrumental"`
	Model            string   `json:"model" validate:"omitempty,max=64"`
	WaitAudio        *bool    `json:"wait_audio"`
	UserID           string   `json:"userId" validate:"omitempty,max=128"`
}

// ChatMessage is one OpenAI-style chat message
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest represents the request body for POST /v1/chat/completions
type ChatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages" validate:"required,min=1,dive"`
}

// JobAcceptedResponse is returned by the asynchronous endpoints
type JobAcceptedResponse struct {
	JobID          string `json:"jobId"`
	Status         string `json:"status"`
	BatchSize      int    `json:"batchSize,omitempty"`
	CheckStatusURL string `json:"checkStatusUrl"`
}
