package webhook

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"

	"github.com/makeasinger/sunoproxy/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const deliveryRetries = 3

// Notifier delivers signed run events to an external endpoint. It is a
// jobs.Listener; deliveries happen in the background.
type Notifier struct {
	url        string
	secret     string
	httpClient *http.Client
	backoff    func() backoff.BackOff
	wg         sync.WaitGroup
}

// NewNotifier creates a notifier posting to url. Events are signed when
// secret is set.
func NewNotifier(url, secret string) *Notifier {
	return &Notifier{
		url:    url,
		secret: secret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 10 * time.Second
			return b
		},
	}
}

// EventType maps a run snapshot onto the event it represents, or "" when
// the change is not published.
func EventType(job *model.Job) string {
	switch job.Status {
	case model.JobStatusExecuting:
		if len(job.Attempts) == 1 {
			return model.EventRunStarted
		}
	case model.JobStatusCompleted:
		return model.EventRunCompleted
	case model.JobStatusFailed:
		return model.EventRunFailed
	case model.JobStatusCanceled:
		return model.EventRunCanceled
	}
	return ""
}

func (n *Notifier) OnStatus(ctx context.Context, job *model.Job) {
	eventType := EventType(job)
	if eventType == "" || n.url == "" {
		return
	}

	body, err := json.Marshal(model.WebhookEvent{Type: eventType, Run: job})
	if err != nil {
		log.Error().Err(err).Str("run_id", job.ID).Msg("marshal run event")
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.deliver(context.WithoutCancel(ctx), body); err != nil {
			log.Error().Err(err).Str("run_id", job.ID).Str("event", eventType).Msg("run event not delivered")
			return
		}
		log.Debug().Str("run_id", job.ID).Str("event", eventType).Msg("run event delivered")
	}()
}

func (n *Notifier) OnMetadata(ctx context.Context, job *model.Job, partial map[string]any) {}

// Close waits for in-flight deliveries.
func (n *Notifier) Close() {
	n.wg.Wait()
}

func (n *Notifier) deliver(ctx context.Context, body []byte) error {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if n.secret != "" {
			req.Header.Set(model.SignatureHeader, Sign(n.secret, body))
		}

		resp, err := n.httpClient.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("webhook endpoint rejected event with %d", resp.StatusCode))
		}
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(n.backoff(), deliveryRetries), ctx))
}
