package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/makeasinger/sunoproxy/internal/apperr"
	"github.com/makeasinger/sunoproxy/internal/jobs"
	"github.com/makeasinger/sunoproxy/internal/model"
	"github.com/makeasinger/sunoproxy/internal/service"
)

// Queue names. Generation runs get their own queue so its server can cap
// concurrency independently.
const (
	QueueGeneration = "generation"
	QueueDefault    = "default"
)

// GenerateRetry allows 3 attempts with jittered exponential backoff.
var GenerateRetry = jobs.RetryPolicy{
	MaxAttempts: 3,
	Min:         2 * time.Second,
	Max:         30 * time.Second,
	Factor:      2,
	Jitter:      true,
}

// MusicFactory builds a provider adapter for a bearer key.
type MusicFactory interface {
	For(apiKey string) service.MusicGenerator
}

// GenerateWorker runs single generations
type GenerateWorker struct {
	music MusicFactory
}

// NewGenerateWorker creates a new generate worker
func NewGenerateWorker(music MusicFactory) *GenerateWorker {
	return &GenerateWorker{music: music}
}

// Task returns the task definition
func (w *GenerateWorker) Task() *jobs.Task[model.GeneratePayload, model.GenerateOutput] {
	return &jobs.Task[model.GeneratePayload, model.GenerateOutput]{
		ID:    model.TaskGenerateMusic,
		Queue: QueueGeneration,
		Retry: GenerateRetry,
		Run:   w.Run,
	}
}

// Run generates music for one prompt. Retryable failures are returned as
// errors while attempts remain; anything else ends the run with
// success=false in its output.
func (w *GenerateWorker) Run(ctx context.Context, rc *jobs.RunContext, p model.GeneratePayload) (model.GenerateOutput, error) {
	logger := log.With().Str("run_id", rc.RunID).Int("attempt", rc.Attempt).Logger()

	if err := rc.UpdateMetadata(ctx, map[string]any{"stage": "generating", "attempt": rc.Attempt}); err != nil {
		logger.Warn().Err(err).Msg("failed to update metadata")
	}

	data, err := w.music.For(p.APIKey).Generate(ctx, p.Prompt, p.MakeInstrumental, p.Model, p.WaitAudio)
	if err == nil {
		if err := rc.UpdateMetadata(ctx, map[string]any{"stage": "completed", "tracks": len(data)}); err != nil {
			logger.Warn().Err(err).Msg("failed to update metadata")
		}
		return model.GenerateOutput{Success: true, Data: data}, nil
	}

	if apperr.Retryable(err) && !rc.IsFinalAttempt() {
		logger.Warn().Err(err).Msg("generation failed, will retry")
		return model.GenerateOutput{}, err
	}

	logger.Error().Err(err).Msg("generation failed")
	return model.GenerateOutput{Success: false, Error: errorText(err)}, nil
}

func errorText(err error) string {
	if e, ok := apperr.As(err); ok {
		return e.Message
	}
	return err.Error()
}
