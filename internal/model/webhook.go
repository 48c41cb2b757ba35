package model

// Webhook event types
const (
	EventRunStarted   = "run.started"
	EventRunCompleted = "run.completed"
	EventRunFailed    = "run.failed"
	EventRunCanceled  = "run.canceled"
)

// SignatureHeader carries hex(HMAC-SHA256(secret, rawBody)).
const SignatureHeader = "x-trigger-signature"

// WebhookEvent is the signed envelope delivered for run lifecycle changes.
type WebhookEvent struct {
	Type string `json:"type"`
	Run  *Job   `json:"run"`
}
