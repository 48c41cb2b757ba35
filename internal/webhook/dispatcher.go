package webhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/makeasinger/sunoproxy/internal/model"
)

// ErrMalformedEvent is returned for events without a type or run.
var ErrMalformedEvent = errors.New("event type and run are required")

// Handlers receive accepted events. Each must be safe to call again for the
// same run.
type Handlers interface {
	OnCompleted(ctx context.Context, run *model.Job) error
	OnFailed(ctx context.Context, run *model.Job) error
	OnCanceled(ctx context.Context, run *model.Job) error
}

// Dispatcher routes inbound events to Handlers at most once per
// (runId, type).
type Dispatcher struct {
	handlers Handlers
	deduper  Deduper
}

func NewDispatcher(handlers Handlers, deduper Deduper) *Dispatcher {
	return &Dispatcher{handlers: handlers, deduper: deduper}
}

// Parse decodes a raw event body.
func Parse(body []byte) (*model.WebhookEvent, error) {
	var event model.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if event.Type == "" || event.Run == nil || event.Run.ID == "" {
		return nil, ErrMalformedEvent
	}
	return &event, nil
}

// Dispatch runs the handler for event. Duplicates and unknown types are
// logged and ignored. A handler error releases the claim so a redelivery
// can try again.
func (d *Dispatcher) Dispatch(ctx context.Context, event *model.WebhookEvent) error {
	logger := log.With().Str("run_id", event.Run.ID).Str("event", event.Type).Logger()

	var handle func(context.Context, *model.Job) error
	switch event.Type {
	case model.EventRunCompleted:
		handle = d.handlers.OnCompleted
	case model.EventRunFailed:
		handle = d.handlers.OnFailed
	case model.EventRunCanceled:
		handle = d.handlers.OnCanceled
	default:
		logger.Info().Msg("ignoring webhook event")
		return nil
	}

	key := EventKey(event.Run.ID, event.Type)
	if d.deduper != nil {
		first, err := d.deduper.Claim(ctx, key)
		if err != nil {
			logger.Warn().Err(err).Msg("dedupe unavailable, handling anyway")
		} else if !first {
			logger.Info().Msg("duplicate webhook event ignored")
			return nil
		}
	}

	if err := handle(ctx, event.Run); err != nil {
		if d.deduper != nil {
			if rerr := d.deduper.Release(context.WithoutCancel(ctx), key); rerr != nil {
				logger.Warn().Err(rerr).Msg("failed to release dedupe key")
			}
		}
		return err
	}
	return nil
}
