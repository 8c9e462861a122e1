package questauth

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	internalaudit "github.com/lifequest/questauth/internal/audit"
	"github.com/lifequest/questauth/refresh"
)

// coordinatorHooks feeds refresh coordinator events into metrics, events,
// the held identity and the navigator.
func (c *Client) coordinatorHooks() refresh.Hooks {
	return refresh.Hooks{
		OnRefresh: func(elapsed time.Duration, err error) {
			c.metrics.Observe(MetricRefreshLatency, elapsed)
			ev := Event{Type: EventRefresh, Profile: c.cfg.Store.Profile, Success: err == nil,
				Metadata: map[string]string{"elapsed": elapsed.String()}}
			if err != nil {
				c.metrics.Inc(MetricRefreshFailure)
				ev.Type = EventRefreshFailed
				ev.Error = err.Error()
			} else {
				c.metrics.Inc(MetricRefreshSuccess)
			}
			// Runs inside the shared refresh; a stalled sink must not hold it.
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Session.RefreshTimeout)
			defer cancel()
			c.emit(ctx, ev)
		},
		OnJoin: func() {
			c.metrics.Inc(MetricRefreshJoined)
		},
		OnReplay: func(ok bool) {
			if ok {
				c.metrics.Inc(MetricReplaySuccess)
				return
			}
			c.metrics.Inc(MetricReplayFailure)
		},
		OnExhausted: func() {
			c.metrics.Inc(MetricAlreadyRetried)
		},
		OnTeardown: c.onTeardown,
	}
}

func (c *Client) onTeardown(ctx context.Context, reason error) {
	c.metrics.Inc(MetricTeardown)
	c.setIdentity(nil)
	c.log.Warn("session torn down, credentials cleared", zap.Error(reason))

	kind := "refresh_failed"
	if errors.Is(reason, refresh.ErrAlreadyRetried) {
		kind = "already_retried"
	}
	c.emit(ctx, Event{
		Type:     EventTeardown,
		Profile:  c.cfg.Store.Profile,
		Error:    reason.Error(),
		Metadata: map[string]string{"cause": kind},
	})
	c.nav.ForceLogin(ctx, reason)
}

func (c *Client) emit(ctx context.Context, ev internalaudit.Event) {
	c.events.Emit(ctx, ev)
}
