package questauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/lifequest/questauth/credential"
	"github.com/lifequest/questauth/internal/audit"
	"github.com/lifequest/questauth/internal/flows"
	"github.com/lifequest/questauth/jwt"
	"github.com/lifequest/questauth/refresh"
)

// Client holds one authenticated session against the Quest API.
//
// Client is created by [Builder.Build], is safe for concurrent use and must be
// released with Close.
type Client struct {
	cfg     Config
	log     *zap.Logger
	store   credential.Store
	coord   *refresh.Coordinator
	flows   flows.Service
	http    *http.Client
	metrics *Metrics
	events  *audit.Dispatcher
	nav     Navigator
	closers []func()

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
	closed   atomic.Bool

	hydrateOnce sync.Once
	readyOnce   sync.Once
	ready       chan struct{}

	mu       sync.Mutex
	gen      uint64
	identity *Identity
	loading  bool
	subs     map[chan State]struct{}
}

// Login exchanges username and password for a token pair, stores it and
// fetches the identity. The refresh token is kept only when the server returns
// one, which it does when remember is set. On failure nothing is persisted.
func (c *Client) Login(ctx context.Context, username, password string, remember bool) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	res := c.flows.Login(ctx, flows.LoginInput{Username: username, Password: password, Remember: remember})
	if err := c.loginError(res); err != nil {
		c.metrics.Inc(MetricLoginFailure)
		c.log.Info("login failed", zap.String("username", username), zap.Error(err))
		c.emit(ctx, Event{Type: EventLogin, Profile: c.cfg.Store.Profile, Subject: username, Error: err.Error()})
		return err
	}

	c.coord.StartSession()
	c.nextGeneration()
	tokens := credential.Tokens{AccessToken: res.Token.AccessToken, RefreshToken: res.Token.RefreshToken}
	if err := credential.Purge(ctx, c.store); err != nil {
		return fmt.Errorf("clear previous session: %w", err)
	}
	if err := credential.Save(ctx, c.store, tokens); err != nil {
		_ = credential.Purge(context.WithoutCancel(ctx), c.store)
		return fmt.Errorf("store credentials: %w", err)
	}

	c.metrics.Inc(MetricLoginSuccess)
	sub := subjectOf(tokens.AccessToken)
	c.log.Info("login succeeded", zap.String("sub", sub), zap.Bool("remember", tokens.RefreshToken != ""))
	c.emit(ctx, Event{Type: EventLogin, Profile: c.cfg.Store.Profile, Subject: sub, Success: true})

	if err := c.RefreshIdentity(ctx); err != nil {
		c.log.Warn("identity fetch after login failed", zap.Error(err))
	}
	return nil
}

func (c *Client) loginError(res flows.LoginResult) error {
	switch res.Failure {
	case flows.LoginFailureNone:
		return nil
	case flows.LoginFailureInput:
		if res.Err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCredentials, res.Err)
		}
		return fmt.Errorf("%w: username and password are required", ErrInvalidCredentials)
	case flows.LoginFailureRejected:
		if res.Detail != "" {
			return fmt.Errorf("%w: %s", ErrInvalidCredentials, res.Detail)
		}
		return ErrInvalidCredentials
	case flows.LoginFailureTransport:
		return transportError(res.Err)
	case flows.LoginFailureStatus:
		return &APIError{StatusCode: res.StatusCode, Detail: res.Detail}
	default:
		return fmt.Errorf("decode login response: %w", res.Err)
	}
}

// Logout clears both tokens and the held identity. It never fails and a
// second call is a no-op. A refresh in flight is cancelled; its waiters fail
// with [ErrSessionClosed] and no login redirect is emitted.
func (c *Client) Logout(ctx context.Context) {
	c.coord.EndSession()
	c.nextGeneration()

	tokens, loadErr := credential.Load(ctx, c.store)
	c.mu.Lock()
	hadIdentity := c.identity != nil
	c.mu.Unlock()

	if err := credential.Purge(context.WithoutCancel(ctx), c.store); err != nil {
		c.log.Error("credential purge failed during logout", zap.Error(err))
	}
	c.setIdentity(nil)
	c.markReady()

	if loadErr == nil && tokens.Empty() && !hadIdentity {
		return
	}
	c.metrics.Inc(MetricLogout)
	c.log.Info("logged out")
	c.emit(ctx, Event{Type: EventLogout, Profile: c.cfg.Store.Profile, Subject: subjectOf(tokens.AccessToken), Success: true})
}

// RefreshIdentity fetches the identity when an access token is stored. With no
// token the identity is cleared without a network call. An authentication
// failure the coordinator could not recover has already torn the session down
// when this returns; other failures leave the held identity unchanged.
func (c *Client) RefreshIdentity(ctx context.Context) error {
	defer c.markReady()
	gen := c.generation()

	token, err := credential.Lookup(ctx, c.store, credential.KeyAccessToken)
	if err != nil {
		return fmt.Errorf("read access token: %w", err)
	}
	if token == "" {
		c.setIdentity(nil)
		return nil
	}

	res := c.flows.Identity(ctx)
	if res.Failure != flows.CallFailureNone {
		c.metrics.Inc(MetricIdentityFailure)
		err := callError(res.CallResult)
		if errors.Is(err, ErrAuthExpired) {
			c.setIdentity(nil)
		}
		return err
	}
	id, err := parseIdentity(res.Payload)
	if err != nil {
		c.metrics.Inc(MetricIdentityFailure)
		return fmt.Errorf("decode identity: %w", err)
	}
	c.metrics.Inc(MetricIdentitySuccess)
	if !c.setIdentityAt(gen, id) {
		return ErrSessionClosed
	}
	return nil
}

// Hydrate runs the initial identity fetch once per Client. Later calls return nil.
func (c *Client) Hydrate(ctx context.Context) error {
	var err error
	c.hydrateOnce.Do(func() {
		err = c.RefreshIdentity(ctx)
		if err != nil {
			c.log.Warn("session hydration failed", zap.Error(err))
		}
	})
	return err
}

func (c *Client) hydrateInBackground() {
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		_ = c.Hydrate(c.bgCtx)
	}()
}

// User returns the held identity, or nil when signed out.
func (c *Client) User() *Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Loading reports whether the initial hydration is still pending.
func (c *Client) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// State returns a snapshot of the session holder.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Client) stateLocked() State {
	return State{Identity: c.identity, Loading: c.loading, Authenticated: c.identity != nil}
}

// WaitReady blocks until the initial hydration settled or ctx is done.
func (c *Client) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns a channel that receives the latest State after every
// change. Slow readers only ever see the most recent state. The returned
// function unsubscribes and closes the channel.
func (c *Client) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	c.mu.Lock()
	c.subs[ch] = struct{}{}
	ch <- c.stateLocked()
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, ch)
			close(ch)
			c.mu.Unlock()
		})
	}
}

// generation changes on every login and logout, so a slow identity fetch
// cannot resurrect a session that ended while it was in flight.
func (c *Client) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *Client) nextGeneration() {
	c.mu.Lock()
	c.gen++
	c.mu.Unlock()
}

func (c *Client) setIdentityAt(gen uint64, id *Identity) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.identity = id
	c.broadcastLocked()
	return true
}

func (c *Client) setIdentity(id *Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == id {
		return
	}
	c.identity = id
	c.broadcastLocked()
}

func (c *Client) markReady() {
	c.readyOnce.Do(func() {
		c.mu.Lock()
		c.loading = false
		c.broadcastLocked()
		c.mu.Unlock()
		close(c.ready)
	})
}

func (c *Client) broadcastLocked() {
	st := c.stateLocked()
	for ch := range c.subs {
		select {
		case ch <- st:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}

// SessionInfo reports which tokens are stored and the unverified sub/exp of
// the access token.
func (c *Client) SessionInfo(ctx context.Context) (SessionInfo, error) {
	tokens, err := credential.Load(ctx, c.store)
	if err != nil {
		return SessionInfo{}, err
	}
	info := SessionInfo{
		HasAccessToken:  tokens.AccessToken != "",
		HasRefreshToken: tokens.RefreshToken != "",
	}
	if claims, err := jwt.Inspect(tokens.AccessToken); err == nil {
		info.Subject = claims.Subject()
		info.ExpiresAt = claims.Expiry()
	}
	return info, nil
}

// HTTPClient returns the authenticated client. Requests sent through it carry
// the stored bearer token and recover from 401 like every Client operation.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// Store returns the credential store backing the session.
func (c *Client) Store() credential.Store {
	return c.store
}

// RefreshCalls returns how many refresh calls the client has issued.
func (c *Client) RefreshCalls() uint64 {
	return c.coord.Calls()
}

// Metrics returns the client's metrics.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// MetricsSnapshot returns a copy of all metrics.
func (c *Client) MetricsSnapshot() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// EventsDropped returns how many session events were dropped on a full buffer.
func (c *Client) EventsDropped() uint64 {
	return c.events.Dropped()
}

// Close stops background work, flushes events and releases backend
// connections the client opened. Stored credentials are kept.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.bgCancel()
	c.bg.Wait()
	c.events.Close()
	for _, fn := range c.closers {
		fn()
	}
	return nil
}

func subjectOf(token string) string {
	claims, err := jwt.Inspect(token)
	if err != nil {
		return ""
	}
	return claims.Subject()
}
