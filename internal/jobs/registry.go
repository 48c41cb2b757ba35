package jobs

import (
	"context"
	"time"

	"github.com/makeasinger/sunoproxy/internal/model"
)

// Registry is the only surface the HTTP layer and composing tasks use to
// submit and observe background work.
type Registry interface {
	// Trigger enqueues a run and returns its id without waiting.
	Trigger(ctx context.Context, taskIdentifier string, payload any) (*model.TriggerResult, error)
	// TriggerAndWait enqueues a run and blocks until it is terminal. A run
	// still pending when the wait ends yields a Timeout error.
	TriggerAndWait(ctx context.Context, taskIdentifier string, payload any) (*model.WaitResult, error)
	// Retrieve returns the current snapshot of a run.
	Retrieve(ctx context.Context, runID string) (*model.Job, error)
	// Wait blocks until the run is terminal or timeout elapses, and returns
	// the last snapshot seen.
	Wait(ctx context.Context, runID string, timeout time.Duration) (*model.Job, error)
	// Cancel stops a queued or executing run.
	Cancel(ctx context.Context, runID string) (*model.Job, error)
}
