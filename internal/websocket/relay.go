package websocket

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/makeasinger/sunoproxy/internal/jobs"
	"github.com/makeasinger/sunoproxy/internal/model"
)

// RelayChannel is the Redis pub/sub channel carrying run lifecycle events.
const RelayChannel = "sunoproxy:run-events"

const (
	relayStatus   = "status"
	relayMetadata = "metadata"
)

type relayEvent struct {
	Kind    string         `json:"kind"`
	Job     *model.Job     `json:"job"`
	Partial map[string]any `json:"partial,omitempty"`
}

// Relay carries run lifecycle events between processes. Workers register it
// as a jobs.Listener; the HTTP process calls Forward to feed its hub, so
// WebSocket subscribers see runs executed anywhere.
type Relay struct {
	rdb     *redis.Client
	channel string
}

var _ jobs.Listener = (*Relay)(nil)

// NewRelay creates a relay on RelayChannel.
func NewRelay(rdb *redis.Client) *Relay {
	return &Relay{rdb: rdb, channel: RelayChannel}
}

// OnStatus publishes a status change.
func (r *Relay) OnStatus(ctx context.Context, job *model.Job) {
	r.publish(ctx, relayEvent{Kind: relayStatus, Job: job})
}

// OnMetadata publishes a partial metadata update.
func (r *Relay) OnMetadata(ctx context.Context, job *model.Job, partial map[string]any) {
	r.publish(ctx, relayEvent{Kind: relayMetadata, Job: job, Partial: partial})
}

func (r *Relay) publish(ctx context.Context, ev relayEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("run_id", ev.Job.ID).Msg("marshal relay event")
		return
	}
	if err := r.rdb.Publish(context.WithoutCancel(ctx), r.channel, data).Err(); err != nil {
		log.Warn().Err(err).Str("run_id", ev.Job.ID).Msg("relay publish failed")
	}
}

// Forward subscribes to the channel and replays every event into dst until
// ctx is done. ready, when non-nil, is closed once the subscription is live.
func (r *Relay) Forward(ctx context.Context, dst jobs.Listener, ready chan<- struct{}) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	if ready != nil {
		close(ready)
	}
	log.Info().Str("channel", r.channel).Msg("run event relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev relayEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil || ev.Job == nil {
				log.Warn().Err(err).Msg("dropping malformed relay event")
				continue
			}
			switch ev.Kind {
			case relayStatus:
				dst.OnStatus(ctx, ev.Job)
			case relayMetadata:
				dst.OnMetadata(ctx, ev.Job, ev.Partial)
			}
		}
	}
}
