package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/makeasinger/sunoproxy/internal/jobs"
	"github.com/makeasinger/sunoproxy/internal/model"
)

// ProbeRetry disables retries; the next scheduled run is the retry.
var ProbeRetry = jobs.RetryPolicy{MaxAttempts: 1}

// ProbeWorker checks that the process-wide key still authenticates
type ProbeWorker struct {
	music MusicFactory
	now   func() time.Time
}

// NewProbeWorker creates a new probe worker
func NewProbeWorker(music MusicFactory) *ProbeWorker {
	return &ProbeWorker{music: music, now: time.Now}
}

// Task returns the task definition
func (w *ProbeWorker) Task() *jobs.Task[struct{}, model.ProbeOutput] {
	return &jobs.Task[struct{}, model.ProbeOutput]{
		ID:    model.TaskCreditProbe,
		Queue: QueueDefault,
		Retry: ProbeRetry,
		Run:   w.Run,
	}
}

// Run samples the credit balance. It never fails: errors are logged as
// alerts and recorded in the output.
func (w *ProbeWorker) Run(ctx context.Context, rc *jobs.RunContext, _ struct{}) (model.ProbeOutput, error) {
	out := model.ProbeOutput{Timestamp: w.now().UTC()}

	credits, err := w.music.For("").GetCredits(ctx)
	if err != nil {
		out.Error = errorText(err)
		// TODO: forward alert-marked probe failures to the on-call channel once one is configured.
		log.Error().
			Str("run_id", rc.RunID).
			Bool("success", false).
			Str("error", out.Error).
			Bool("alert", true).
			Msg("credit probe failed")
		return out, nil
	}

	out.Success = true
	out.CreditsLeft = &credits.CreditsLeft
	log.Info().
		Str("run_id", rc.RunID).
		Bool("success", true).
		Float64("creditsLeft", credits.CreditsLeft).
		Msg("credit probe succeeded")
	return out, nil
}
