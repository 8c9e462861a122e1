package refresh

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/lifequest/questauth/credential"
)

const defaultTimeout = 15 * time.Second

// Refresher exchanges a refresh token for a new token pair. It must not route
// through the request pipeline. A returned RefreshToken of "" keeps the stored one.
type Refresher func(ctx context.Context, refreshToken string) (credential.Tokens, error)

// Hooks receive coordinator events. Nil fields are skipped.
type Hooks struct {
	// OnRefresh runs after every refresh call with its latency and outcome.
	OnRefresh func(elapsed time.Duration, err error)
	// OnJoin runs when a caller attaches to a refresh already in flight.
	OnJoin func()
	// OnReplay runs after a recovered request was replayed.
	OnReplay func(ok bool)
	// OnExhausted runs when a replayed request was rejected again.
	OnExhausted func()
	// OnTeardown runs once per epoch after credentials were purged. ctx expires
	// after the coordinator timeout.
	OnTeardown func(ctx context.Context, reason error)
}

// Config wires a Coordinator.
type Config struct {
	Store     credential.Store
	Refresher Refresher
	// Timeout bounds the shared refresh call. Defaults to 15s.
	Timeout time.Duration
	Hooks   Hooks
	Logger  *zap.Logger
}

// Coordinator runs the single-flight refresh protocol for one session.
//
// Coordinator methods are safe for concurrent use.
type Coordinator struct {
	store     credential.Store
	refresher Refresher
	timeout   time.Duration
	hooks     Hooks
	log       *zap.Logger

	group    singleflight.Group
	inflight atomic.Int32
	calls    atomic.Uint64

	mu       sync.Mutex
	epoch    uint64
	cancel   context.CancelFunc
	tornDown bool
}

// New returns a Coordinator. Store and Refresher are required.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, errors.New("refresh: store is required")
	}
	if cfg.Refresher == nil {
		return nil, errors.New("refresh: refresher is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Coordinator{
		store:     cfg.Store,
		refresher: cfg.Refresher,
		timeout:   cfg.Timeout,
		hooks:     cfg.Hooks,
		log:       cfg.Logger,
	}, nil
}

// Store returns the credential store the coordinator writes to.
func (c *Coordinator) Store() credential.Store {
	return c.store
}

// Calls returns how many times the Refresher has been invoked.
func (c *Coordinator) Calls() uint64 {
	return c.calls.Load()
}

// Refreshing reports whether a refresh call is in flight.
func (c *Coordinator) Refreshing() bool {
	return c.inflight.Load() > 0
}

// Epoch identifies the current session. Capture it before dispatching a request
// and hand it to [Coordinator.Recover] and [Coordinator.Fail].
func (c *Coordinator) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// Recover returns an access token to replay a request with, after that request
// was dispatched in epoch and rejected while carrying staleToken.
//
// If the session has moved past epoch, Recover fails with [ErrSessionClosed] so
// the request is never replayed with another session's credential. If the
// stored token already differs from staleToken a refresh has completed since
// the request was signed and the stored token is returned directly. Otherwise
// the caller joins the pending refresh or starts one. Waiting ends early when
// ctx is done; the shared refresh keeps running for other callers.
func (c *Coordinator) Recover(ctx context.Context, epoch uint64, staleToken string) (string, error) {
	current, err := credential.Lookup(ctx, c.store, credential.KeyAccessToken)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	// Login advances the epoch before it writes, so a token read here that
	// belongs to a newer session is always caught by this check.
	if c.closed(epoch) {
		return "", ErrSessionClosed
	}
	if fresher(current, staleToken) {
		return current, nil
	}

	if c.inflight.Load() > 0 && c.hooks.OnJoin != nil {
		c.hooks.OnJoin()
	}

	ch := c.group.DoChan(flightKey(epoch), func() (any, error) {
		return c.run(ctx, epoch, staleToken)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Coordinator) run(parent context.Context, epoch uint64, staleToken string) (string, error) {
	c.inflight.Add(1)
	defer c.inflight.Add(-1)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.timeout)
	defer cancel()

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return "", ErrSessionClosed
	}
	c.cancel = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.epoch == epoch {
			c.cancel = nil
		}
		c.mu.Unlock()
	}()

	tokens, err := credential.Load(ctx, c.store)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	if c.closed(epoch) {
		return "", ErrSessionClosed
	}
	if fresher(tokens.AccessToken, staleToken) {
		return tokens.AccessToken, nil
	}
	if tokens.RefreshToken == "" {
		c.teardown(ctx, epoch, ErrNoRefreshToken)
		return "", ErrNoRefreshToken
	}

	c.calls.Add(1)
	c.log.Debug("refreshing access token")
	start := time.Now()
	next, err := c.refresher(ctx, tokens.RefreshToken)
	if err == nil && next.AccessToken == "" {
		err = errors.New("empty access token in refresh response")
	}
	if c.hooks.OnRefresh != nil {
		c.hooks.OnRefresh(time.Since(start), err)
	}

	if err != nil {
		if c.closed(epoch) {
			return "", ErrSessionClosed
		}
		failure := fmt.Errorf("%w: %w", ErrRefreshFailed, err)
		c.log.Warn("access token refresh failed", zap.Error(err))
		c.teardown(ctx, epoch, failure)
		return "", failure
	}

	// Holding mu across the write orders it against EndSession: either the new
	// tokens land before the session ends (and are purged by it) or not at all.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return "", ErrSessionClosed
	}
	if err := credential.Save(ctx, c.store, next); err != nil {
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	c.log.Debug("access token refreshed", zap.Bool("rotated", next.RefreshToken != ""))
	return next.AccessToken, nil
}

// Teardown purges credentials and fires OnTeardown unless the current epoch was
// already torn down. It reports whether this call performed the teardown.
func (c *Coordinator) Teardown(ctx context.Context, reason error) bool {
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()
	return c.teardown(ctx, epoch, reason)
}

func (c *Coordinator) teardown(ctx context.Context, epoch uint64, reason error) bool {
	c.mu.Lock()
	if c.epoch != epoch || c.tornDown {
		c.mu.Unlock()
		return false
	}
	c.tornDown = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()
	if err := credential.Purge(ctx, c.store); err != nil {
		c.log.Error("credential purge failed during teardown", zap.Error(err))
	}
	c.log.Info("session torn down", zap.Error(reason))
	if c.hooks.OnTeardown != nil {
		c.hooks.OnTeardown(ctx, reason)
	}
	return true
}

// Fail builds the terminal error for a request dispatched in epoch and rejected
// after its replay, and tears that session down. When the session has already
// moved past epoch the newer one is left alone and the reason is
// [ErrSessionClosed].
func (c *Coordinator) Fail(ctx context.Context, epoch uint64, status int, body []byte, original error) *AuthFailure {
	if c.closed(epoch) {
		return &AuthFailure{StatusCode: status, Body: body, Reason: ErrSessionClosed, Original: original}
	}
	if c.hooks.OnExhausted != nil {
		c.hooks.OnExhausted()
	}
	c.teardown(ctx, epoch, ErrAlreadyRetried)
	return &AuthFailure{StatusCode: status, Body: body, Reason: ErrAlreadyRetried, Original: original}
}

// Replayed records the outcome of a replay.
func (c *Coordinator) Replayed(ok bool) {
	if c.hooks.OnReplay != nil {
		c.hooks.OnReplay(ok)
	}
}

// StartSession opens a new epoch after fresh credentials were obtained by login.
// A refresh still in flight from the previous epoch is cancelled.
func (c *Coordinator) StartSession() {
	c.advance(false)
}

// EndSession closes the current epoch. An in-flight refresh is cancelled and its
// waiters settle with [ErrSessionClosed]; no teardown fires until the next
// StartSession.
func (c *Coordinator) EndSession() {
	c.advance(true)
}

func (c *Coordinator) advance(tornDown bool) {
	c.mu.Lock()
	c.epoch++
	c.tornDown = tornDown
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (c *Coordinator) closed(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch != epoch
}

func fresher(current, stale string) bool {
	return current != "" && stale != "" && current != stale
}

func flightKey(epoch uint64) string {
	return "refresh:" + strconv.FormatUint(epoch, 10)
}
