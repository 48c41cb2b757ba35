package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/makeasinger/sunoproxy/internal/jobs"
	"github.com/makeasinger/sunoproxy/internal/model"
)

// BatchRetry allows 2 attempts, 5 to 30 seconds apart.
var BatchRetry = jobs.RetryPolicy{
	MaxAttempts: 2,
	Min:         5 * time.Second,
	Max:         30 * time.Second,
	Factor:      2,
}

// maxConcurrentAwaits bounds how many child runs are awaited at once.
const maxConcurrentAwaits = 5

// BatchWorker fans a batch out into single-generation runs
type BatchWorker struct {
	childWait time.Duration
}

// NewBatchWorker creates a batch worker that waits up to childWait for
// each child run.
func NewBatchWorker(childWait time.Duration) *BatchWorker {
	if childWait <= 0 {
		childWait = 10 * time.Minute
	}
	return &BatchWorker{childWait: childWait}
}

// Task returns the task definition
func (w *BatchWorker) Task() *jobs.Task[model.BatchPayload, model.BatchOutput] {
	return &jobs.Task[model.BatchPayload, model.BatchOutput]{
		ID:    model.TaskBatchGenerate,
		Queue: QueueDefault,
		Retry: BatchRetry,
		Run:   w.Run,
	}
}

// Run triggers one child per prompt in order, records the child run ids,
// then awaits them with bounded concurrency. Partial success is a normal
// outcome.
func (w *BatchWorker) Run(ctx context.Context, rc *jobs.RunContext, p model.BatchPayload) (model.BatchOutput, error) {
	reg := rc.Registry()
	logger := log.With().Str("run_id", rc.RunID).Int("prompts", len(p.Prompts)).Logger()

	// A retried attempt resumes with the children of the previous one.
	taskRuns := w.previousChildren(ctx, reg, rc.RunID)
	if len(taskRuns) > len(p.Prompts) {
		taskRuns = taskRuns[:len(p.Prompts)]
	}

	for i := len(taskRuns); i < len(p.Prompts); i++ {
		child := model.GeneratePayload{
			Prompt:           p.Prompts[i],
			MakeInstrumental: p.MakeInstrumental,
			Model:            p.Model,
			WaitAudio:        p.WaitAudio,
			APIKey:           p.APIKey,
		}
		var res *model.TriggerResult
		err := backoff.Retry(func() error {
			var err error
			res, err = reg.Trigger(ctx, model.TaskGenerateMusic, child)
			return err
		}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(500*time.Millisecond), 2), ctx))
		if err != nil {
			return model.BatchOutput{}, fmt.Errorf("trigger child %d: %w", i, err)
		}
		taskRuns = append(taskRuns, res.RunID)

		if err := rc.UpdateMetadata(ctx, map[string]any{
			"total":     len(p.Prompts),
			"triggered": len(taskRuns),
			"taskRuns":  taskRuns,
		}); err != nil {
			logger.Warn().Err(err).Msg("failed to record child runs")
		}
	}
	logger.Info().Strs("task_runs", taskRuns).Msg("batch children triggered")

	results := make([]model.BatchResult, len(taskRuns))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentAwaits)
	for i, runID := range taskRuns {
		i, runID := i, runID
		g.Go(func() error {
			job, err := reg.Wait(gctx, runID, w.childWait)
			results[i] = classify(p.Prompts[i], runID, job, err)
			return nil
		})
	}
	_ = g.Wait()

	out := model.BatchOutput{
		Total:    len(p.Prompts),
		TaskRuns: taskRuns,
		Results:  results,
	}
	for _, r := range results {
		switch {
		case r.Status == model.JobStatusCompleted && r.Output != nil && r.Output.Success:
			out.Successful++
		case isPending(r.Status):
			out.Pending++
		default:
			out.Failed++
		}
	}

	if err := rc.UpdateMetadata(ctx, map[string]any{
		"successful": out.Successful,
		"failed":     out.Failed,
		"pending":    out.Pending,
	}); err != nil {
		logger.Warn().Err(err).Msg("failed to record batch summary")
	}
	logger.Info().
		Int("successful", out.Successful).
		Int("failed", out.Failed).
		Int("pending", out.Pending).
		Msg("batch finished")
	return out, nil
}

func (w *BatchWorker) previousChildren(ctx context.Context, reg jobs.Registry, runID string) []string {
	job, err := reg.Retrieve(ctx, runID)
	if err != nil || job.Metadata == nil {
		return nil
	}
	raw, ok := job.Metadata["taskRuns"].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok || s == "" {
			return out
		}
		out = append(out, s)
	}
	return out
}

func classify(prompt, runID string, job *model.Job, err error) model.BatchResult {
	res := model.BatchResult{Prompt: prompt, RunID: runID}
	if err != nil {
		res.Status = model.JobStatusFailed
		res.Error = errorText(err)
		return res
	}

	res.Status = job.Status
	res.Error = job.Error
	if job.Status == model.JobStatusCompleted && len(job.Output) > 0 {
		var out model.GenerateOutput
		if err := json.Unmarshal(job.Output, &out); err != nil {
			res.Error = fmt.Sprintf("unreadable output: %v", err)
			return res
		}
		res.Output = &out
		if !out.Success {
			res.Error = out.Error
		}
	}
	return res
}

func isPending(s model.JobStatus) bool {
	return s == model.JobStatusQueued || s == model.JobStatusExecuting || s == model.JobStatusReattempting
}
