package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/sunoproxy/internal/model"
)

func TestBatchWorker_BucketsChildOutcomes(t *testing.T) {
	reg := newFakeRegistry(func(p model.GeneratePayload) *model.Job {
		switch p.Prompt {
		case "ok":
			return completedJob(model.GenerateOutput{Success: true, Data: []model.Audio{{ID: "a"}}})
		case "soft-fail":
			return completedJob(model.GenerateOutput{Success: false, Error: "insufficient credits"})
		case "slow":
			return &model.Job{Status: model.JobStatusExecuting}
		default:
			return &model.Job{Status: model.JobStatusFailed, Error: "boom"}
		}
	})
	meta := &metadataLog{}
	w := NewBatchWorker(time.Second)

	out, err := w.Run(context.Background(), newRunContext(1, 2, reg, meta), model.BatchPayload{
		Prompts: []string{"ok", "soft-fail", "slow", "hard-fail"},
		Model:   "V4",
		APIKey:  "k",
	})
	require.NoError(t, err)

	assert.Equal(t, 4, out.Total)
	assert.Equal(t, 1, out.Successful)
	assert.Equal(t, 2, out.Failed)
	assert.Equal(t, 1, out.Pending)
	assert.Equal(t, out.Total, out.Successful+out.Failed+out.Pending)
	assert.Equal(t, []string{"run_1", "run_2", "run_3", "run_4"}, out.TaskRuns)

	require.Len(t, out.Results, 4)
	assert.Equal(t, "insufficient credits", out.Results[1].Error)
	assert.Equal(t, "boom", out.Results[3].Error)

	// Children inherit the shared options.
	for _, p := range reg.triggered {
		assert.Equal(t, "V4", p.Model)
		assert.Equal(t, "k", p.APIKey)
	}

	// Child ids are recorded before awaiting.
	require.NotEmpty(t, meta.updates)
	assert.Equal(t, []string{"run_1"}, meta.updates[0]["taskRuns"])
}

func TestBatchWorker_TriggerFailureFailsAttempt(t *testing.T) {
	reg := newFakeRegistry(func(p model.GeneratePayload) *model.Job {
		return completedJob(model.GenerateOutput{Success: true})
	})
	reg.failAfter = 1
	w := NewBatchWorker(time.Second)

	_, err := w.Run(context.Background(), newRunContext(1, 2, reg, &metadataLog{}), model.BatchPayload{
		Prompts: []string{"one", "two"},
	})
	require.Error(t, err)
	assert.Len(t, reg.triggered, 1)
}

func TestBatchWorker_RetryReusesRecordedChildren(t *testing.T) {
	reg := newFakeRegistry(func(p model.GeneratePayload) *model.Job {
		return completedJob(model.GenerateOutput{Success: true})
	})
	// Previous attempt triggered run_1 before failing.
	_, err := reg.Trigger(context.Background(), model.TaskGenerateMusic, model.GeneratePayload{Prompt: "one"})
	require.NoError(t, err)
	reg.jobs["run_parent"] = &model.Job{
		ID:       "run_parent",
		Status:   model.JobStatusReattempting,
		Metadata: map[string]any{"taskRuns": []interface{}{"run_1"}},
	}

	w := NewBatchWorker(time.Second)
	out, err := w.Run(context.Background(), newRunContext(2, 2, reg, &metadataLog{}), model.BatchPayload{
		Prompts: []string{"one", "two"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"run_1", "run_2"}, out.TaskRuns)
	assert.Len(t, reg.triggered, 2)
	assert.Equal(t, 2, out.Successful)
}

func TestClassify_WaitErrorCountsAsFailed(t *testing.T) {
	res := classify("p", "run_9", nil, context.DeadlineExceeded)
	assert.Equal(t, model.JobStatusFailed, res.Status)
	assert.NotEmpty(t, res.Error)
}
