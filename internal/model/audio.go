package model

import "time"

// Upstream task statuses as reported by record-info.
const (
	TaskStatusPending        = "PENDING"
	TaskStatusGenerating     = "GENERATING"
	TaskStatusTextSuccess    = "TEXT_SUCCESS"
	TaskStatusFirstSuccess   = "FIRST_SUCCESS"
	TaskStatusSuccess        = "SUCCESS"
	TaskStatusFailed         = "FAILED"
	TaskStatusCreateFailed   = "CREATE_TASK_FAILED"
	TaskStatusGenerateFailed = "GENERATE_AUDIO_FAILED"
	TaskStatusCallbackError  = "CALLBACK_EXCEPTION"
	TaskStatusSensitiveWord  = "SENSITIVE_WORD_ERROR"
)

// IsTaskFailure reports whether an upstream status is a terminal failure.
func IsTaskFailure(status string) bool {
	switch status {
	case TaskStatusFailed, TaskStatusCreateFailed, TaskStatusGenerateFailed,
		TaskStatusCallbackError, TaskStatusSensitiveWord:
		return true
	}
	return false
}

// Audio is one generated track, or an in-progress stub for a task.
// Stubs carry only ID, Status, CreatedAt and ModelName.
type Audio struct {
	ID           string    `json:"id"`
	Title        string    `json:"title,omitempty"`
	ImageURL     string    `json:"imageUrl,omitempty"`
	Lyric        string    `json:"lyric,omitempty"`
	AudioURL     string    `json:"audioUrl,omitempty"`
	VideoURL     string    `json:"videoUrl,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	ModelName    string    `json:"modelName"`
	Prompt       string    `json:"prompt,omitempty"`
	Status       string    `json:"status"`
	Tags         string    `json:"tags,omitempty"`
	NegativeTags string    `json:"negativeTags,omitempty"`
	Duration     float64   `json:"duration,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
}

// IsStub reports whether the record describes a task still in progress.
func (a Audio) IsStub() bool {
	return a.Status != TaskStatusSuccess || a.AudioURL == ""
}

// Lyrics is the first lyric candidate of a finished lyrics task.
type Lyrics struct {
	Text   string `json:"text"`
	Title  string `json:"title,omitempty"`
	Status string `json:"status"`
}

// Credits is the remaining upstream balance.
type Credits struct {
	CreditsLeft float64 `json:"credits_left"`
}
