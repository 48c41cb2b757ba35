package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"github.com/makeasinger/sunoproxy/internal/apperr"
	"github.com/makeasinger/sunoproxy/internal/model"
)

// Enqueuer is implemented by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Canceler is implemented by *asynq.Inspector.
type Canceler interface {
	DeleteTask(queue, id string) error
	CancelProcessing(id string) error
}

// Options configures a Runtime.
type Options struct {
	Retention    time.Duration
	WaitInterval time.Duration
	// SyncTimeout bounds TriggerAndWait when the caller's context has no
	// earlier deadline.
	SyncTimeout time.Duration
	Listeners   []Listener
}

// DefaultSyncTimeout covers three generation attempts at the full music
// poll deadline plus retry backoff.
const DefaultSyncTimeout = 16 * time.Minute

// Runtime implements Registry on top of asynq and a run Store, and wraps
// task bodies with status bookkeeping.
type Runtime struct {
	enqueuer     Enqueuer
	canceler     Canceler
	store        Store
	defs         map[string]Definition
	listeners    listeners
	retention    time.Duration
	waitInterval time.Duration
	syncTimeout  time.Duration
	now          func() time.Time
}

var _ Registry = (*Runtime)(nil)

// NewRuntime creates a runtime. canceler may be nil when cancellation of
// in-flight asynq tasks is not needed.
func NewRuntime(enqueuer Enqueuer, canceler Canceler, store Store, opts Options) *Runtime {
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}
	if opts.WaitInterval <= 0 {
		opts.WaitInterval = time.Second
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = DefaultSyncTimeout
	}
	return &Runtime{
		enqueuer:     enqueuer,
		canceler:     canceler,
		store:        store,
		defs:         make(map[string]Definition),
		listeners:    opts.Listeners,
		retention:    opts.Retention,
		waitInterval: opts.WaitInterval,
		syncTimeout:  opts.SyncTimeout,
		now:          time.Now,
	}
}

// Register adds task definitions. It panics on duplicate identifiers.
func (r *Runtime) Register(defs ...Definition) {
	for _, d := range defs {
		if _, dup := r.defs[d.Identifier()]; dup {
			panic(fmt.Sprintf("jobs: task %q registered twice", d.Identifier()))
		}
		r.defs[d.Identifier()] = d
	}
}

// AddListener subscribes l to lifecycle changes.
func (r *Runtime) AddListener(l Listener) {
	r.listeners = append(r.listeners, l)
}

// Definitions returns the registered task definitions.
func (r *Runtime) Definitions() []Definition {
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	return out
}

// Mux builds an asynq handler for every registered task.
func (r *Runtime) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	for id, def := range r.defs {
		mux.Handle(id, r.Handler(def))
	}
	return mux
}

// RetryDelay is an asynq.RetryDelayFunc that honours each task's policy.
func (r *Runtime) RetryDelay(n int, err error, task *asynq.Task) time.Duration {
	if def, ok := r.defs[task.Type()]; ok {
		return def.Policy().Delay(n)
	}
	return asynq.DefaultRetryDelayFunc(n, err, task)
}

// TaskOptions are the enqueue options derived from a definition.
func (r *Runtime) TaskOptions(def Definition) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(def.QueueName()),
		asynq.MaxRetry(def.Policy().MaxRetry()),
		asynq.Retention(r.retention),
	}
}

func (r *Runtime) Trigger(ctx context.Context, taskIdentifier string, payload any) (*model.TriggerResult, error) {
	def, ok := r.defs[taskIdentifier]
	if !ok {
		return nil, apperr.Validation(fmt.Sprintf("unknown task %q", taskIdentifier))
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("marshal payload: %w", err))
	}

	runID := uuid.New().String()
	job := &model.Job{
		ID:             runID,
		TaskIdentifier: taskIdentifier,
		Status:         model.JobStatusQueued,
		Payload:        redact(raw),
		Attempts:       []model.Attempt{},
	}
	if _, err := r.store.Create(ctx, job); err != nil {
		return nil, apperr.Internal(fmt.Errorf("store run: %w", err))
	}

	opts := append(r.TaskOptions(def), asynq.TaskID(runID))
	if _, err := r.enqueuer.EnqueueContext(ctx, asynq.NewTask(taskIdentifier, raw), opts...); err != nil {
		if delErr := r.store.Delete(context.WithoutCancel(ctx), runID); delErr != nil {
			log.Error().Err(delErr).Str("run_id", runID).Msg("failed to remove unqueued run")
		}
		return nil, apperr.Internal(fmt.Errorf("enqueue %s: %w", taskIdentifier, err))
	}

	log.Info().Str("run_id", runID).Str("task", taskIdentifier).Msg("run triggered")
	r.listeners.status(ctx, job)
	return &model.TriggerResult{RunID: runID}, nil
}

func (r *Runtime) TriggerAndWait(ctx context.Context, taskIdentifier string, payload any) (*model.WaitResult, error) {
	res, err := r.Trigger(ctx, taskIdentifier, payload)
	if err != nil {
		return nil, err
	}

	job, err := r.Wait(ctx, res.RunID, r.syncTimeout)
	if err != nil {
		return nil, err
	}
	if !job.Status.IsTerminal() {
		log.Warn().Str("run_id", job.ID).Str("status", string(job.Status)).Msg("sync wait expired")
		return nil, apperr.Timeout(job.ID)
	}

	out := &model.WaitResult{RunID: job.ID, Output: job.Output}
	if job.Status == model.JobStatusCompleted {
		out.OK = true
		return out, nil
	}
	out.Error = job.Error
	if out.Error == "" {
		out.Error = fmt.Sprintf("run %s", job.Status)
	}
	return out, nil
}

func (r *Runtime) Retrieve(ctx context.Context, runID string) (*model.Job, error) {
	return r.store.Get(ctx, runID)
}

// Wait polls the store until the run is terminal. A zero timeout waits
// until ctx is done.
func (r *Runtime) Wait(ctx context.Context, runID string, timeout time.Duration) (*model.Job, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(r.waitInterval)
	defer ticker.Stop()

	var last *model.Job
	for {
		job, err := r.store.Get(ctx, runID)
		switch {
		case err == nil:
			last = job
			if job.Status.IsTerminal() {
				return job, nil
			}
		case apperr.Is(err, apperr.KindNotFound):
			return nil, err
		default:
			log.Warn().Err(err).Str("run_id", runID).Msg("wait: retrieve failed")
		}

		select {
		case <-ctx.Done():
			if last != nil {
				return last, nil
			}
			return nil, apperr.Timeout(runID)
		case <-ticker.C:
		}
	}
}

func (r *Runtime) Cancel(ctx context.Context, runID string) (*model.Job, error) {
	job, err := r.store.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, apperr.New(apperr.KindConflict, fmt.Sprintf("run %s is already %s", runID, job.Status))
	}

	if r.canceler != nil {
		queue := ""
		if def, ok := r.defs[job.TaskIdentifier]; ok {
			queue = def.QueueName()
		}
		if err := r.canceler.DeleteTask(queue, runID); err != nil {
			if cerr := r.canceler.CancelProcessing(runID); cerr != nil {
				log.Warn().Err(cerr).Str("run_id", runID).Msg("cancel: task not reachable in queue")
			}
		}
	}

	updated, err := r.transition(ctx, runID, model.JobStatusCanceled, func(j *model.Job) {
		j.Error = "canceled"
		closeAttempt(j, model.JobStatusCanceled, "canceled", r.now())
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("run_id", runID).Msg("run canceled")
	return updated, nil
}

// Handler wraps def for asynq. The asynq task id is the run id.
func (r *Runtime) Handler(def Definition) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		runID, _ := asynq.GetTaskID(ctx)
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		var rw io.Writer
		if w := t.ResultWriter(); w != nil {
			rw = w
		}
		return r.execute(ctx, def, runID, retried, maxRetry, t.Payload(), rw)
	}
}

// execute runs one attempt and records its outcome. Returning an error asks
// asynq to retry, unless it wraps asynq.SkipRetry or the attempt was final.
func (r *Runtime) execute(ctx context.Context, def Definition, runID string, retried, maxRetry int, raw []byte, rw io.Writer) error {
	bg := context.WithoutCancel(ctx)
	logger := log.With().Str("run_id", runID).Str("task", def.Identifier()).Logger()

	// Scheduled runs are enqueued by asynq itself and have no record yet.
	if _, err := r.store.Create(bg, &model.Job{
		ID:             runID,
		TaskIdentifier: def.Identifier(),
		Status:         model.JobStatusQueued,
		Payload:        redact(raw),
	}); err != nil {
		return fmt.Errorf("store run: %w", err)
	}

	attempt := retried + 1
	if _, err := r.transition(bg, runID, model.JobStatusExecuting, func(j *model.Job) {
		j.Error = ""
		j.Attempts = append(j.Attempts, model.Attempt{
			Number:    attempt,
			Status:    model.JobStatusExecuting,
			StartedAt: r.now().UTC(),
		})
	}); err != nil {
		if apperr.Is(err, apperr.KindConflict) {
			logger.Info().Err(err).Msg("run no longer runnable, skipping")
			return nil
		}
		return err
	}
	logger.Info().Int("attempt", attempt).Msg("run executing")

	rc := NewRunContext(runID, attempt, maxRetry+1, r, r.updateMetadata)
	output, runErr := def.execute(ctx, rc, raw)

	if current, err := r.store.Get(bg, runID); err == nil && current.Status == model.JobStatusCanceled {
		logger.Info().Msg("run was canceled during execution")
		return nil
	}

	if runErr == nil {
		if rw != nil {
			if _, err := rw.Write(output); err != nil {
				logger.Warn().Err(err).Msg("failed to write task result")
			}
		}
		_, err := r.transition(bg, runID, model.JobStatusCompleted, func(j *model.Job) {
			j.Output = output
			closeAttempt(j, model.JobStatusCompleted, "", r.now())
		})
		if err != nil {
			logger.Error().Err(err).Msg("failed to record completion")
		}
		logger.Info().Int("attempt", attempt).Msg("run completed")
		return nil
	}

	if apperr.Is(runErr, apperr.KindValidation) {
		runErr = fmt.Errorf("%w: %w", runErr, asynq.SkipRetry)
	}
	final := rc.IsFinalAttempt() || errors.Is(runErr, asynq.SkipRetry)
	next := model.JobStatusReattempting
	if final {
		next = model.JobStatusFailed
	}

	msg := runErrorMessage(runErr)
	if _, err := r.transition(bg, runID, next, func(j *model.Job) {
		j.Error = msg
		closeAttempt(j, model.JobStatusFailed, msg, r.now())
	}); err != nil {
		logger.Error().Err(err).Msg("failed to record failure")
	}

	if final {
		logger.Error().Err(runErr).Int("attempt", attempt).Msg("run failed")
	} else {
		logger.Warn().Err(runErr).Int("attempt", attempt).Msg("run will be retried")
	}
	return runErr
}

func (r *Runtime) updateMetadata(ctx context.Context, runID string, partial map[string]any) error {
	job, err := r.store.Update(ctx, runID, func(j *model.Job) error {
		if j.Metadata == nil {
			j.Metadata = make(map[string]any, len(partial))
		}
		for k, v := range partial {
			j.Metadata[k] = v
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.listeners.metadata(ctx, job, partial)
	return nil
}

// transition moves a run to next and notifies listeners. A forbidden move
// returns a Conflict error and leaves the record untouched.
func (r *Runtime) transition(ctx context.Context, runID string, next model.JobStatus, mutate func(*model.Job)) (*model.Job, error) {
	job, err := r.store.Update(ctx, runID, func(j *model.Job) error {
		if !j.Status.CanTransitionTo(next) {
			return apperr.New(apperr.KindConflict, fmt.Sprintf("run %s cannot move from %s to %s", runID, j.Status, next))
		}
		j.Status = next
		if mutate != nil {
			mutate(j)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.listeners.status(ctx, job)
	return job, nil
}

func closeAttempt(j *model.Job, status model.JobStatus, errMsg string, at time.Time) {
	if len(j.Attempts) == 0 {
		return
	}
	last := &j.Attempts[len(j.Attempts)-1]
	if last.CompletedAt != nil {
		return
	}
	t := at.UTC()
	last.Status = status
	last.Error = errMsg
	last.CompletedAt = &t
}

// runErrorMessage is the error text stored on a run: the apperr message and
// its cause, without the kind prefix.
func runErrorMessage(err error) string {
	e, ok := apperr.As(err)
	if !ok {
		return err.Error()
	}
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// redact drops the bearer key from a payload before it is stored.
func redact(raw []byte) []byte {
	if len(raw) == 0 {
		return nil
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return raw
	}
	if _, ok := fields["apiKey"]; !ok {
		return raw
	}
	delete(fields, "apiKey")
	out, err := json.Marshal(fields)
	if err != nil {
		return nil
	}
	return out
}
