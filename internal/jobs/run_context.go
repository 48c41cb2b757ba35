package jobs

import (
	"context"
)

// MetadataFunc merges partial into the metadata of runID.
type MetadataFunc func(ctx context.Context, runID string, partial map[string]any) error

// RunContext is handed to a task body for one attempt.
type RunContext struct {
	RunID       string
	Attempt     int
	MaxAttempts int

	registry Registry
	metadata MetadataFunc
}

// NewRunContext builds a context for executing a task body outside the
// runtime, e.g. from a CLI command or a test.
func NewRunContext(runID string, attempt, maxAttempts int, reg Registry, metadata MetadataFunc) *RunContext {
	return &RunContext{
		RunID:       runID,
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		registry:    reg,
		metadata:    metadata,
	}
}

// IsFinalAttempt reports whether a returned error will not be retried.
func (rc *RunContext) IsFinalAttempt() bool {
	return rc.Attempt >= rc.MaxAttempts
}

// Registry lets a task trigger and observe other runs.
func (rc *RunContext) Registry() Registry {
	return rc.registry
}

// UpdateMetadata merges partial into the run's metadata and publishes it
// to realtime subscribers.
func (rc *RunContext) UpdateMetadata(ctx context.Context, partial map[string]any) error {
	if rc.metadata == nil {
		return nil
	}
	return rc.metadata(ctx, rc.RunID, partial)
}
