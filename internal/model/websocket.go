package model

// WebSocket message types
const (
	WSMessageTypeStatus   = "status"
	WSMessageTypeMetadata = "metadata"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSStatusMessage announces a status transition of a run
type WSStatusMessage struct {
	Type    string    `json:"type"`
	RunID   string    `json:"runId"`
	Status  JobStatus `json:"status"`
	Attempt int       `json:"attempt,omitempty"`
}

// WSMetadataMessage carries a partial metadata update
type WSMetadataMessage struct {
	Type     string         `json:"type"`
	RunID    string         `json:"runId"`
	Metadata map[string]any `json:"metadata"`
}

// WSCompleteMessage represents run completion
type WSCompleteMessage struct {
	Type   string      `json:"type"`
	RunID  string      `json:"runId"`
	Result interface{} `json:"result"`
}

// WSErrorMessage represents an error
type WSErrorMessage struct {
	Type  string  `json:"type"`
	RunID string  `json:"runId"`
	Error WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
