package client

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/makeasinger/sunoproxy/internal/apperr"
)

// Poll cadences for upstream task status.
var (
	MusicPoll  = Poller{Interval: 5 * time.Second, Deadline: 300 * time.Second}
	LyricsPoll = Poller{Interval: 3 * time.Second, Deadline: 60 * time.Second}
)

// Poller repeats a status check at a fixed interval until it reports done,
// returns a non-recoverable error, or the deadline budget is spent.
type Poller struct {
	Interval time.Duration
	Deadline time.Duration
}

// CheckFunc reports whether the polled task is done.
type CheckFunc func(ctx context.Context) (bool, error)

// MaxCalls is the upper bound on check invocations: ceil(Deadline/Interval)+1.
func (p Poller) MaxCalls() int {
	if p.Interval <= 0 {
		return 1
	}
	n := int(p.Deadline / p.Interval)
	if p.Deadline%p.Interval != 0 {
		n++
	}
	return n + 1
}

// Until runs check immediately and then once per interval. Recoverable
// errors (transport failures, upstream 5xx/429, malformed bodies) are
// logged and the poll continues; any other error ends it. The poll stops
// with a Timeout naming taskID once Deadline has elapsed since the first
// check or MaxCalls checks were made, whichever comes first. Each check
// runs under a context bounded by the deadline.
func (p Poller) Until(ctx context.Context, taskID string, check CheckFunc) error {
	deadline := time.Now().Add(p.Deadline)
	pollCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	maxCalls := p.MaxCalls()
	for call := 1; call <= maxCalls; call++ {
		done, err := check(pollCtx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil && done {
			return nil
		}
		if pollCtx.Err() != nil {
			break
		}
		switch {
		case err != nil && !apperr.Recoverable(err):
			return err
		case err != nil:
			log.Warn().Err(err).Str("task_id", taskID).Int("call", call).Msg("poll check failed, retrying")
		}

		if call == maxCalls {
			break
		}

		wait := p.Interval
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-pollCtx.Done():
			timer.Stop()
			return apperr.Timeout(taskID)
		case <-timer.C:
		}
		if !time.Now().Before(deadline) {
			break
		}
	}
	return apperr.Timeout(taskID)
}
