package model

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle of a background run. Transitions only move
// forward: QUEUED -> EXECUTING <-> REATTEMPTING -> COMPLETED|FAILED|CANCELED.
type JobStatus string

const (
	JobStatusQueued       JobStatus = "QUEUED"
	JobStatusExecuting    JobStatus = "EXECUTING"
	JobStatusReattempting JobStatus = "REATTEMPTING"
	JobStatusCompleted    JobStatus = "COMPLETED"
	JobStatusFailed       JobStatus = "FAILED"
	JobStatusCanceled     JobStatus = "CANCELED"
)

// IsTerminal reports whether no further transition is possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCanceled
}

// CanTransitionTo enforces forward-only movement through the status set.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch next {
	case JobStatusQueued:
		return false
	case JobStatusExecuting:
		return s == JobStatusQueued || s == JobStatusReattempting || s == JobStatusExecuting
	case JobStatusReattempting:
		return s == JobStatusExecuting
	case JobStatusCompleted, JobStatusFailed:
		return s == JobStatusExecuting || s == JobStatusReattempting
	case JobStatusCanceled:
		return true
	}
	return false
}

// Task identifiers
const (
	TaskGenerateMusic = "generate-music"
	TaskBatchGenerate = "batch-generate-music"
	TaskCreditProbe   = "check-suno-credits"
)

// Attempt is one execution of a run.
type Attempt struct {
	Number      int        `json:"number"`
	Status      JobStatus  `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Job represents a background run in the system
type Job struct {
	ID             string          `json:"id"`
	TaskIdentifier string          `json:"taskIdentifier"`
	Status         JobStatus       `json:"status"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Attempts       []Attempt       `json:"attempts"`
	Output         json.RawMessage `json:"output,omitempty"`
	Error          string          `json:"error,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// TriggerResult is returned as soon as a run is enqueued.
type TriggerResult struct {
	RunID string `json:"runId"`
}

// WaitResult is the terminal outcome of triggerAndWait.
type WaitResult struct {
	OK     bool            `json:"ok"`
	RunID  string          `json:"runId"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// GeneratePayload is the input of the single-generation task.
type GeneratePayload struct {
	Prompt           string `json:"prompt" validate:"required,min=1,max=500"`
	MakeInstrumental bool   `json:"make_instrumental"`
	Model            string `json:"model,omitempty"`
	WaitAudio        bool   `json:"wait_audio"`
	APIKey           string `json:"apiKey,omitempty"`
}

// GenerateOutput is the result of the single-generation task.
type GenerateOutput struct {
	Success bool    `json:"success"`
	Data    []Audio `json:"data,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// BatchPayload is the input of the batch task.
type BatchPayload struct {
	Prompts          []string `json:"prompts" validate:"required,min=1,max=50,dive,required,min=1,max=500"`
	MakeInstrumental bool     `json:"make_instrumental"`
	Model            string   `json:"model,omitempty"`
	WaitAudio        bool     `json:"wait_audio"`
	APIKey           string   `json:"apiKey,omitempty"`
	UserID           string   `json:"userId,omitempty"`
}

// BatchResult reports one child run of a batch.
type BatchResult struct {
	Prompt string          `json:"prompt"`
	RunID  string          `json:"runId"`
	Status JobStatus       `json:"status"`
	Output *GenerateOutput `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// BatchOutput aggregates the child runs of a batch.
type BatchOutput struct {
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Pending    int           `json:"pending"`
	TaskRuns   []string      `json:"taskRuns"`
	Results    []BatchResult `json:"results"`
}

// ProbeOutput is one credential probe sample.
type ProbeOutput struct {
	Success     bool      `json:"success"`
	CreditsLeft *float64  `json:"creditsLeft,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Error       string    `json:"error,omitempty"`
}
