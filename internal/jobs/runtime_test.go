package jobs

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/sunoproxy/internal/apperr"
	"github.com/makeasinger/sunoproxy/internal/model"
)

type fakeEnqueuer struct {
	mu        sync.Mutex
	tasks     []*asynq.Task
	ids       []string
	err       error
	onEnqueue func(id string, task *asynq.Task)
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	id := ""
	for _, o := range opts {
		if o.Type() == asynq.TaskIDOpt {
			id, _ = o.Value().(string)
		}
	}
	f.tasks = append(f.tasks, task)
	f.ids = append(f.ids, id)
	if f.onEnqueue != nil {
		go f.onEnqueue(id, task)
	}
	return &asynq.TaskInfo{ID: id}, nil
}

type fakeCanceler struct {
	deleted  []string
	canceled []string
	active   bool
}

func (f *fakeCanceler) DeleteTask(queue, id string) error {
	if f.active {
		return errors.New("task is active")
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeCanceler) CancelProcessing(id string) error {
	f.canceled = append(f.canceled, id)
	return nil
}

type recordingListener struct {
	mu       sync.Mutex
	statuses []model.JobStatus
	metadata []map[string]any
}

func (l *recordingListener) OnStatus(ctx context.Context, job *model.Job) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, job.Status)
}

func (l *recordingListener) OnMetadata(ctx context.Context, job *model.Job, partial map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.metadata = append(l.metadata, partial)
}

type echoPayload struct {
	Message string `json:"message" validate:"required"`
	APIKey  string `json:"apiKey,omitempty"`
}

type echoOutput struct {
	Echo string `json:"echo"`
}

func newTestRuntime(t *testing.T, run func(ctx context.Context, rc *RunContext, p echoPayload) (echoOutput, error)) (*Runtime, *fakeEnqueuer, *recordingListener) {
	t.Helper()
	_, rdb := newTestRedis(t)
	enq := &fakeEnqueuer{}
	rec := &recordingListener{}
	rt := NewRuntime(enq, &fakeCanceler{}, NewRedisStore(rdb, time.Hour), Options{
		WaitInterval: 5 * time.Millisecond,
		Listeners:    []Listener{rec},
	})
	rt.Register(&Task[echoPayload, echoOutput]{
		ID:    "echo",
		Queue: "default",
		Retry: RetryPolicy{MaxAttempts: 3, Min: time.Millisecond, Max: time.Millisecond, Factor: 2},
		Run:   run,
	})
	return rt, enq, rec
}

func TestTrigger_StoresQueuedRunAndEnqueues(t *testing.T) {
	rt, enq, rec := newTestRuntime(t, nil)
	ctx := context.Background()

	res, err := rt.Trigger(ctx, "echo", echoPayload{Message: "hi", APIKey: "sk-secret"})
	require.NoError(t, err)
	require.NotEmpty(t, res.RunID)

	require.Len(t, enq.tasks, 1)
	assert.Equal(t, "echo", enq.tasks[0].Type())
	assert.Contains(t, string(enq.tasks[0].Payload()), "sk-secret")

	job, err := rt.Retrieve(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, job.Status)
	assert.Equal(t, "echo", job.TaskIdentifier)
	assert.NotContains(t, string(job.Payload), "sk-secret")
	assert.Equal(t, []model.JobStatus{model.JobStatusQueued}, rec.statuses)
}

func TestTrigger_UnknownTask(t *testing.T) {
	rt, _, _ := newTestRuntime(t, nil)
	_, err := rt.Trigger(context.Background(), "nope", nil)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestTrigger_EnqueueFailureRemovesRun(t *testing.T) {
	rt, enq, _ := newTestRuntime(t, nil)
	enq.err = errors.New("redis down")
	_, err := rt.Trigger(context.Background(), "echo", echoPayload{Message: "hi"})
	assert.True(t, apperr.Is(err, apperr.KindInternal))
}

func TestExecute_Completes(t *testing.T) {
	rt, _, rec := newTestRuntime(t, func(ctx context.Context, rc *RunContext, p echoPayload) (echoOutput, error) {
		require.NoError(t, rc.UpdateMetadata(ctx, map[string]any{"stage": "echoing"}))
		return echoOutput{Echo: p.Message}, nil
	})
	ctx := context.Background()
	res, err := rt.Trigger(ctx, "echo", echoPayload{Message: "hi"})
	require.NoError(t, err)

	var result bytes.Buffer
	err = rt.execute(ctx, rt.defs["echo"], res.RunID, 0, 2, []byte(`{"message":"hi"}`), &result)
	require.NoError(t, err)
	assert.JSONEq(t, `{"echo":"hi"}`, result.String())

	job, err := rt.Retrieve(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.JSONEq(t, `{"echo":"hi"}`, string(job.Output))
	assert.Equal(t, "echoing", job.Metadata["stage"])
	require.Len(t, job.Attempts, 1)
	assert.Equal(t, model.JobStatusCompleted, job.Attempts[0].Status)
	assert.NotNil(t, job.Attempts[0].CompletedAt)

	assert.Equal(t, []model.JobStatus{model.JobStatusQueued, model.JobStatusExecuting, model.JobStatusCompleted}, rec.statuses)
	assert.Len(t, rec.metadata, 1)
}

func TestExecute_RetryThenFail(t *testing.T) {
	rt, _, _ := newTestRuntime(t, func(ctx context.Context, rc *RunContext, p echoPayload) (echoOutput, error) {
		return echoOutput{}, apperr.Transport(errors.New("network down"))
	})
	ctx := context.Background()
	res, err := rt.Trigger(ctx, "echo", echoPayload{Message: "hi"})
	require.NoError(t, err)
	raw := []byte(`{"message":"hi"}`)

	err = rt.execute(ctx, rt.defs["echo"], res.RunID, 0, 2, raw, nil)
	require.Error(t, err)
	job, _ := rt.Retrieve(ctx, res.RunID)
	assert.Equal(t, model.JobStatusReattempting, job.Status)

	require.Error(t, rt.execute(ctx, rt.defs["echo"], res.RunID, 1, 2, raw, nil))
	require.Error(t, rt.execute(ctx, rt.defs["echo"], res.RunID, 2, 2, raw, nil))

	job, _ = rt.Retrieve(ctx, res.RunID)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Len(t, job.Attempts, 3)
	assert.Equal(t, "upstream request failed: network down", job.Error)
}

func TestExecute_ValidationSkipsRetry(t *testing.T) {
	called := false
	rt, _, _ := newTestRuntime(t, func(ctx context.Context, rc *RunContext, p echoPayload) (echoOutput, error) {
		called = true
		return echoOutput{}, nil
	})
	ctx := context.Background()
	res, err := rt.Trigger(ctx, "echo", echoPayload{})
	require.NoError(t, err)

	err = rt.execute(ctx, rt.defs["echo"], res.RunID, 0, 2, []byte(`{"message":""}`), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.False(t, called)

	job, _ := rt.Retrieve(ctx, res.RunID)
	assert.Equal(t, model.JobStatusFailed, job.Status)
}

func TestExecute_ScheduledRunCreatesRecord(t *testing.T) {
	rt, _, _ := newTestRuntime(t, func(ctx context.Context, rc *RunContext, p echoPayload) (echoOutput, error) {
		return echoOutput{Echo: p.Message}, nil
	})
	ctx := context.Background()
	require.NoError(t, rt.execute(ctx, rt.defs["echo"], "sched-1", 0, 0, []byte(`{"message":"cron"}`), nil))

	job, err := rt.Retrieve(ctx, "sched-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
}

func TestTriggerAndWait(t *testing.T) {
	rt, enq, _ := newTestRuntime(t, func(ctx context.Context, rc *RunContext, p echoPayload) (echoOutput, error) {
		return echoOutput{Echo: p.Message}, nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Execute whatever gets enqueued, as a worker would.
	enq.onEnqueue = func(id string, task *asynq.Task) {
		_ = rt.execute(ctx, rt.defs[task.Type()], id, 0, 2, task.Payload(), nil)
	}

	res, err := rt.TriggerAndWait(ctx, "echo", echoPayload{Message: "sync"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, enq.ids[0], res.RunID)
	assert.JSONEq(t, `{"echo":"sync"}`, string(res.Output))
}

func TestTriggerAndWait_FailedRun(t *testing.T) {
	rt, enq, _ := newTestRuntime(t, func(ctx context.Context, rc *RunContext, p echoPayload) (echoOutput, error) {
		return echoOutput{}, apperr.Validation("bad input")
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	enq.onEnqueue = func(id string, task *asynq.Task) {
		_ = rt.execute(ctx, rt.defs[task.Type()], id, 0, 2, task.Payload(), nil)
	}

	res, err := rt.TriggerAndWait(ctx, "echo", echoPayload{Message: "x"})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "bad input", res.Error)
}

func TestTriggerAndWait_NoWorkerTimesOut(t *testing.T) {
	_, rdb := newTestRedis(t)
	rt := NewRuntime(&fakeEnqueuer{}, &fakeCanceler{}, NewRedisStore(rdb, time.Hour), Options{
		WaitInterval: 5 * time.Millisecond,
		SyncTimeout:  40 * time.Millisecond,
	})
	rt.Register(&Task[echoPayload, echoOutput]{ID: "echo", Queue: "default"})

	start := time.Now()
	res, err := rt.TriggerAndWait(context.Background(), "echo", echoPayload{Message: "hi"})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, apperr.Is(err, apperr.KindTimeout))
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 504, appErr.HTTPStatus())
	assert.Less(t, time.Since(start), time.Second)
}

func TestTriggerAndWait_CallerDeadlineWins(t *testing.T) {
	rt, _, _ := newTestRuntime(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := rt.TriggerAndWait(ctx, "echo", echoPayload{Message: "hi"})
	assert.True(t, apperr.Is(err, apperr.KindTimeout))
}

func TestWait_TimeoutReturnsLastSnapshot(t *testing.T) {
	rt, _, _ := newTestRuntime(t, nil)
	ctx := context.Background()
	res, err := rt.Trigger(ctx, "echo", echoPayload{Message: "hi"})
	require.NoError(t, err)

	job, err := rt.Wait(ctx, res.RunID, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, job.Status)

	_, err = rt.Wait(ctx, "missing", 20*time.Millisecond)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestCancel(t *testing.T) {
	rt, _, rec := newTestRuntime(t, nil)
	canceler := rt.canceler.(*fakeCanceler)
	ctx := context.Background()

	res, err := rt.Trigger(ctx, "echo", echoPayload{Message: "hi"})
	require.NoError(t, err)

	job, err := rt.Cancel(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCanceled, job.Status)
	assert.Equal(t, []string{res.RunID}, canceler.deleted)
	assert.Contains(t, rec.statuses, model.JobStatusCanceled)

	_, err = rt.Cancel(ctx, res.RunID)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	_, err = rt.Cancel(ctx, "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	// A canceled run is skipped if asynq still delivers it.
	require.NoError(t, rt.execute(ctx, rt.defs["echo"], res.RunID, 0, 2, []byte(`{"message":"hi"}`), nil))
	job, _ = rt.Retrieve(ctx, res.RunID)
	assert.Equal(t, model.JobStatusCanceled, job.Status)
}

func TestCancel_ActiveTaskIsSignalled(t *testing.T) {
	rt, _, _ := newTestRuntime(t, nil)
	canceler := rt.canceler.(*fakeCanceler)
	canceler.active = true
	ctx := context.Background()

	res, err := rt.Trigger(ctx, "echo", echoPayload{Message: "hi"})
	require.NoError(t, err)
	_, err = rt.Cancel(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, []string{res.RunID}, canceler.canceled)
}

func TestRetryDelay_UsesTaskPolicy(t *testing.T) {
	rt, _, _ := newTestRuntime(t, nil)
	assert.Equal(t, time.Millisecond, rt.RetryDelay(0, errors.New("x"), asynq.NewTask("echo", nil)))
}
