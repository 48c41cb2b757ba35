package webhook

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/makeasinger/sunoproxy/internal/model"
	"github.com/makeasinger/sunoproxy/internal/service"
)

// Publisher pushes run outcomes to realtime subscribers.
type Publisher interface {
	BroadcastComplete(runID string, result interface{})
	BroadcastError(runID, code, message string)
}

// RunEffects are the side effects of accepted run events: realtime
// notification and, when configured, mirroring finished tracks to storage.
// Both are keyed by run and track id and are safe to repeat.
type RunEffects struct {
	publisher Publisher
	archiver  service.Archiver
}

// NewRunEffects creates the handlers. Either dependency may be nil.
func NewRunEffects(publisher Publisher, archiver service.Archiver) *RunEffects {
	return &RunEffects{publisher: publisher, archiver: archiver}
}

func (e *RunEffects) OnCompleted(ctx context.Context, run *model.Job) error {
	logger := log.With().Str("run_id", run.ID).Str("task", run.TaskIdentifier).Logger()

	switch run.TaskIdentifier {
	case model.TaskGenerateMusic:
		var out model.GenerateOutput
		if err := json.Unmarshal(run.Output, &out); err != nil {
			return fmt.Errorf("decode generate output: %w", err)
		}
		if !out.Success {
			logger.Warn().Str("error", out.Error).Msg("generation finished without audio")
			e.broadcastError(run.ID, "GENERATION_FAILED", out.Error)
			return nil
		}
		logger.Info().Int("tracks", len(out.Data)).Msg("generation completed")
		e.broadcastComplete(run.ID, out)
		if e.archiver != nil {
			urls, err := e.archiver.Archive(ctx, out.Data)
			if err != nil {
				return err
			}
			logger.Info().Strs("urls", urls).Msg("generation archived")
		}

	case model.TaskBatchGenerate:
		var out model.BatchOutput
		if err := json.Unmarshal(run.Output, &out); err != nil {
			return fmt.Errorf("decode batch output: %w", err)
		}
		logger.Info().
			Int("total", out.Total).
			Int("successful", out.Successful).
			Int("failed", out.Failed).
			Int("pending", out.Pending).
			Msg("batch completed")
		e.broadcastComplete(run.ID, out)

	case model.TaskCreditProbe:
		logger.Debug().Str("output", string(run.Output)).Msg("credit probe completed")

	default:
		logger.Info().Msg("completed run of unknown task")
	}
	return nil
}

func (e *RunEffects) OnFailed(ctx context.Context, run *model.Job) error {
	lastErr := run.Error
	if n := len(run.Attempts); n > 0 && run.Attempts[n-1].Error != "" {
		lastErr = run.Attempts[n-1].Error
	}
	log.Error().
		Str("run_id", run.ID).
		Str("task", run.TaskIdentifier).
		Int("attempts", len(run.Attempts)).
		Str("error", lastErr).
		Msg("run failed")
	e.broadcastError(run.ID, "RUN_FAILED", lastErr)
	return nil
}

func (e *RunEffects) OnCanceled(ctx context.Context, run *model.Job) error {
	log.Info().Str("run_id", run.ID).Str("task", run.TaskIdentifier).Msg("run canceled")
	e.broadcastError(run.ID, "RUN_CANCELED", "run was canceled")
	return nil
}

func (e *RunEffects) broadcastComplete(runID string, result interface{}) {
	if e.publisher != nil {
		e.publisher.BroadcastComplete(runID, result)
	}
}

func (e *RunEffects) broadcastError(runID, code, message string) {
	if e.publisher != nil {
		e.publisher.BroadcastError(runID, code, message)
	}
}
