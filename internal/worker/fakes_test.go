package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/makeasinger/sunoproxy/internal/apperr"
	"github.com/makeasinger/sunoproxy/internal/jobs"
	"github.com/makeasinger/sunoproxy/internal/model"
	"github.com/makeasinger/sunoproxy/internal/service"
)

type fakeGenerator struct {
	service.MusicGenerator

	mu       sync.Mutex
	keys     []string
	generate func(prompt string) ([]model.Audio, error)
	credits  func() (*model.Credits, error)
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, instrumental bool, modelName string, waitAudio bool) ([]model.Audio, error) {
	return f.generate(prompt)
}

func (f *fakeGenerator) GetCredits(ctx context.Context) (*model.Credits, error) {
	return f.credits()
}

type fakeFactory struct {
	gen *fakeGenerator
}

func (f *fakeFactory) For(apiKey string) service.MusicGenerator {
	f.gen.mu.Lock()
	f.gen.keys = append(f.gen.keys, apiKey)
	f.gen.mu.Unlock()
	return f.gen
}

// fakeRegistry completes children synchronously according to outcome.
type fakeRegistry struct {
	mu        sync.Mutex
	jobs      map[string]*model.Job
	triggered []model.GeneratePayload
	outcome   func(p model.GeneratePayload) *model.Job
	failAfter int
}

func newFakeRegistry(outcome func(p model.GeneratePayload) *model.Job) *fakeRegistry {
	return &fakeRegistry{jobs: make(map[string]*model.Job), outcome: outcome, failAfter: -1}
}

func (r *fakeRegistry) Trigger(ctx context.Context, id string, payload any) (*model.TriggerResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAfter >= 0 && len(r.triggered) >= r.failAfter {
		return nil, apperr.Transport(fmt.Errorf("redis down"))
	}
	p := payload.(model.GeneratePayload)
	r.triggered = append(r.triggered, p)
	runID := fmt.Sprintf("run_%d", len(r.triggered))
	job := r.outcome(p)
	job.ID = runID
	r.jobs[runID] = job
	return &model.TriggerResult{RunID: runID}, nil
}

func (r *fakeRegistry) TriggerAndWait(ctx context.Context, id string, payload any) (*model.WaitResult, error) {
	return nil, apperr.Unsupported("triggerAndWait")
}

func (r *fakeRegistry) Retrieve(ctx context.Context, runID string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[runID]
	if !ok {
		return nil, apperr.NotFound("run not found")
	}
	return j, nil
}

func (r *fakeRegistry) Wait(ctx context.Context, runID string, timeout time.Duration) (*model.Job, error) {
	return r.Retrieve(ctx, runID)
}

func (r *fakeRegistry) Cancel(ctx context.Context, runID string) (*model.Job, error) {
	return nil, apperr.Unsupported("cancel")
}

type metadataLog struct {
	mu      sync.Mutex
	updates []map[string]any
}

func (m *metadataLog) record(ctx context.Context, runID string, partial map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, partial)
	return nil
}

func newRunContext(attempt, maxAttempts int, reg jobs.Registry, meta *metadataLog) *jobs.RunContext {
	return jobs.NewRunContext("run_parent", attempt, maxAttempts, reg, meta.record)
}

func completedJob(out model.GenerateOutput) *model.Job {
	raw, _ := json.Marshal(out)
	return &model.Job{Status: model.JobStatusCompleted, Output: raw}
}
