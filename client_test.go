package questauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lifequest/questauth/credential"
	"github.com/lifequest/questauth/internal/apitest"
)

type testClient struct {
	*Client
	api    *apitest.Server
	nav    *RouteNavigator
	events *ChannelSink
}

func newTestClient(t *testing.T, api *apitest.Server, configure ...func(*Builder)) *testClient {
	t.Helper()
	nav := NewRouteNavigator("/login", nil)
	nav.SetRoute("/dashboard")
	events := NewChannelSink(64)

	b := New().
		WithBaseURL(api.URL).
		WithStore(credential.NewMemoryStore()).
		WithNavigator(nav).
		WithEventSink(events).
		WithHydrateOnBuild(false)
	for _, fn := range configure {
		fn(b)
	}
	c, err := b.Build()
	if err != nil {
		t.Fatalf("build client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return &testClient{Client: c, api: api, nav: nav, events: events}
}

func newAPI(t *testing.T, opts apitest.Options) *apitest.Server {
	t.Helper()
	api := apitest.NewServer(opts)
	t.Cleanup(api.Close)
	return api
}

func (tc *testClient) login(t *testing.T, remember bool) {
	t.Helper()
	if err := tc.Login(context.Background(), apitest.DefaultUsername, apitest.DefaultPassword, remember); err != nil {
		t.Fatalf("login: %v", err)
	}
}

func (tc *testClient) tokens(t *testing.T) credential.Tokens {
	t.Helper()
	tokens, err := credential.Load(context.Background(), tc.Store())
	if err != nil {
		t.Fatalf("load tokens: %v", err)
	}
	return tokens
}

func (tc *testClient) waitEvent(t *testing.T, typ string) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-tc.events.Events():
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %q event received", typ)
		}
	}
}

func TestLoginStoresTokensAndFetchesIdentity(t *testing.T) {
	tc := newTestClient(t, newAPI(t, apitest.Options{}))
	tc.login(t, true)

	user := tc.User()
	if user == nil || user.Username != apitest.DefaultUsername || user.Email != apitest.DefaultEmail {
		t.Fatalf("unexpected identity %+v", user)
	}
	var full apitest.User
	if err := user.Decode(&full); err != nil || full.Stats.Level != 1 {
		t.Fatalf("decode full identity: %+v, %v", full, err)
	}

	tokens := tc.tokens(t)
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Fatalf("expected both tokens, got %+v", tokens)
	}
	info, err := tc.SessionInfo(context.Background())
	if err != nil {
		t.Fatalf("session info: %v", err)
	}
	if !info.HasAccessToken || !info.HasRefreshToken || info.Subject != apitest.DefaultUsername || info.ExpiresAt.IsZero() {
		t.Fatalf("unexpected session info %+v", info)
	}
	if st := tc.State(); !st.Authenticated || st.Loading {
		t.Fatalf("unexpected state %+v", st)
	}
	if tc.MetricsSnapshot().Counters[MetricLoginSuccess] != 1 {
		t.Fatal("login success not counted")
	}
	if ev := tc.waitEvent(t, EventLogin); !ev.Success || ev.Subject != apitest.DefaultUsername || ev.ID == "" {
		t.Fatalf("unexpected login event %+v", ev)
	}
}

func TestLoginWithoutRememberKeepsNoRefreshToken(t *testing.T) {
	tc := newTestClient(t, newAPI(t, apitest.Options{}))
	tc.login(t, false)

	tokens := tc.tokens(t)
	if tokens.AccessToken == "" || tokens.RefreshToken != "" {
		t.Fatalf("expected access token only, got %+v", tokens)
	}
}

func TestLoginRejectedLeavesNoState(t *testing.T) {
	api := newAPI(t, apitest.Options{})
	tc := newTestClient(t, api)

	err := tc.Login(context.Background(), apitest.DefaultUsername, "wrong", true)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if !tc.tokens(t).Empty() {
		t.Fatal("failed login must not persist tokens")
	}
	if tc.User() != nil {
		t.Fatal("failed login must not set an identity")
	}
	if api.RefreshCalls() != 0 {
		t.Fatal("a rejected login must never trigger a refresh")
	}
	if tc.nav.Redirects() != 0 {
		t.Fatal("a rejected login must not redirect")
	}
	if tc.MetricsSnapshot().Counters[MetricLoginFailure] != 1 {
		t.Fatal("login failure not counted")
	}
}

func TestLoginRequiresInput(t *testing.T) {
	api := newAPI(t, apitest.Options{})
	tc := newTestClient(t, api)

	if err := tc.Login(context.Background(), "", "", false); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if api.LoginCalls() != 0 {
		t.Fatal("empty credentials must not reach the server")
	}
}

func TestLoginNetworkFailure(t *testing.T) {
	api := apitest.NewServer(apitest.Options{})
	tc := newTestClient(t, api)
	api.Close()

	err := tc.Login(context.Background(), apitest.DefaultUsername, apitest.DefaultPassword, false)
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	if !tc.tokens(t).Empty() {
		t.Fatal("failed login must not persist tokens")
	}
}

func TestLogoutClearsSessionAndIsIdempotent(t *testing.T) {
	tc := newTestClient(t, newAPI(t, apitest.Options{}))
	tc.login(t, true)

	tc.Logout(context.Background())
	if !tc.tokens(t).Empty() || tc.User() != nil {
		t.Fatal("logout must clear tokens and identity")
	}
	tc.Logout(context.Background())
	if tc.MetricsSnapshot().Counters[MetricLogout] != 1 {
		t.Fatal("second logout must be a no-op")
	}
	if tc.nav.Redirects() != 0 {
		t.Fatal("logout must not emit a login redirect")
	}
}

func TestExpiredAccessTokenRecoversTransparently(t *testing.T) {
	api := newAPI(t, apitest.Options{})
	tc := newTestClient(t, api)
	tc.login(t, true)
	before := tc.tokens(t)

	api.ExpireAccess()
	var tasks []apitest.Task
	if err := tc.Do(context.Background(), "GET", "/tasks", nil, &tasks); err != nil {
		t.Fatalf("request after expiry: %v", err)
	}

	after := tc.tokens(t)
	if after.AccessToken == before.AccessToken {
		t.Fatal("access token was not replaced")
	}
	if after.RefreshToken != before.RefreshToken {
		t.Fatal("refresh token must be kept when the server does not rotate it")
	}
	if api.RefreshCalls() != 1 || tc.RefreshCalls() != 1 {
		t.Fatalf("expected one refresh, server saw %d, client issued %d", api.RefreshCalls(), tc.RefreshCalls())
	}
	snap := tc.MetricsSnapshot()
	if snap.Counters[MetricReplaySuccess] != 1 || snap.Counters[MetricRefreshSuccess] != 1 {
		t.Fatalf("unexpected counters %+v", snap.Counters)
	}
	if tc.User() == nil {
		t.Fatal("identity must survive a transparent refresh")
	}
}

func TestExpiredAccessWithoutRefreshTokenTearsDownOnce(t *testing.T) {
	api := newAPI(t, apitest.Options{})
	tc := newTestClient(t, api)
	tc.login(t, false)
	api.ExpireAccess()

	err := tc.Do(context.Background(), "GET", "/tasks", nil, nil)
	if !errors.Is(err, ErrAuthExpired) || !errors.Is(err, ErrNoRefreshToken) {
		t.Fatalf("expected auth expiry without refresh token, got %v", err)
	}
	var af *AuthFailure
	if !errors.As(err, &af) || af.StatusCode != 401 || len(af.Body) == 0 {
		t.Fatalf("expected *AuthFailure carrying the 401, got %#v", err)
	}
	if api.RefreshCalls() != 0 {
		t.Fatal("no refresh may be attempted without a refresh token")
	}
	if !tc.tokens(t).Empty() || tc.User() != nil {
		t.Fatal("teardown must clear tokens and identity")
	}
	if tc.nav.Redirects() != 1 || tc.nav.Route() != "/login" {
		t.Fatalf("expected one redirect to /login, got %d to %q", tc.nav.Redirects(), tc.nav.Route())
	}

	if err := tc.Do(context.Background(), "GET", "/tasks", nil, nil); !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("expected auth expiry, got %v", err)
	}
	if tc.nav.Redirects() != 1 {
		t.Fatal("a torn down session must not redirect again")
	}
	if ev := tc.waitEvent(t, EventTeardown); ev.Metadata["cause"] != "refresh_failed" {
		t.Fatalf("unexpected teardown event %+v", ev)
	}
}

func TestRevokedRefreshTokenTearsDownOnce(t *testing.T) {
	api := newAPI(t, apitest.Options{RefreshDelay: 50 * time.Millisecond})
	tc := newTestClient(t, api)
	tc.login(t, true)
	api.ExpireAccess()
	api.RevokeRefresh()

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = tc.Do(context.Background(), "GET", "/tasks", nil, nil)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, ErrAuthExpired) || !errors.Is(err, ErrRefreshFailed) {
			t.Fatalf("request %d: expected refresh failure, got %v", i, err)
		}
	}
	if api.RefreshCalls() != 1 {
		t.Fatalf("expected one refresh call, got %d", api.RefreshCalls())
	}
	if tc.nav.Redirects() != 1 {
		t.Fatalf("expected exactly one redirect, got %d", tc.nav.Redirects())
	}
	if !tc.tokens(t).Empty() {
		t.Fatal("teardown must clear tokens")
	}
}

func TestRedirectSuppressedOnLoginRoute(t *testing.T) {
	api := newAPI(t, apitest.Options{})
	tc := newTestClient(t, api)
	tc.login(t, false)
	tc.nav.SetRoute("/login")
	api.ExpireAccess()

	if err := tc.Do(context.Background(), "GET", "/tasks", nil, nil); !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("expected auth expiry, got %v", err)
	}
	if tc.nav.Redirects() != 0 {
		t.Fatal("no redirect while already on the login route")
	}
}

func TestLogoutDuringRefreshSettlesWithoutRedirect(t *testing.T) {
	api := newAPI(t, apitest.Options{RefreshDelay: 300 * time.Millisecond})
	tc := newTestClient(t, api)
	tc.login(t, true)
	api.ExpireAccess()

	done := make(chan error, 1)
	go func() {
		done <- tc.Do(context.Background(), "GET", "/tasks", nil, nil)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !tc.coord.Refreshing() {
		if time.Now().After(deadline) {
			t.Fatal("refresh never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	tc.Logout(context.Background())

	select {
	case err := <-done:
		if !errors.Is(err, ErrSessionClosed) || !errors.Is(err, ErrAuthExpired) {
			t.Fatalf("expected ErrSessionClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("request never settled after logout")
	}
	if tc.nav.Redirects() != 0 {
		t.Fatal("logout during refresh must not redirect")
	}
	time.Sleep(350 * time.Millisecond)
	if !tc.tokens(t).Empty() {
		t.Fatal("refresh result must not be stored after logout")
	}
}

func TestReloginAfterTeardownRearmsRedirect(t *testing.T) {
	api := newAPI(t, apitest.Options{})
	tc := newTestClient(t, api)

	for i := 1; i <= 2; i++ {
		tc.login(t, false)
		tc.nav.SetRoute("/dashboard")
		api.ExpireAccess()
		if err := tc.Do(context.Background(), "GET", "/tasks", nil, nil); !errors.Is(err, ErrAuthExpired) {
			t.Fatalf("round %d: expected auth expiry, got %v", i, err)
		}
		if tc.nav.Redirects() != i {
			t.Fatalf("round %d: expected %d redirects, got %d", i, i, tc.nav.Redirects())
		}
	}
}

func TestHydrateOnBuildRestoresSession(t *testing.T) {
	api := newAPI(t, apitest.Options{})
	store := credential.NewMemoryStore()
	access, refresh, err := api.Issue(apitest.DefaultUsername)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := credential.Save(context.Background(), store, credential.Tokens{AccessToken: access, RefreshToken: refresh}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	tc := newTestClient(t, api, func(b *Builder) {
		b.WithStore(store).WithHydrateOnBuild(true)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tc.WaitReady(ctx); err != nil {
		t.Fatalf("wait ready: %v", err)
	}
	if tc.Loading() {
		t.Fatal("loading must be false once ready")
	}
	if u := tc.User(); u == nil || u.Username != apitest.DefaultUsername {
		t.Fatalf("expected restored identity, got %+v", u)
	}
	if err := tc.Hydrate(context.Background()); err != nil || api.MeCalls() != 1 {
		t.Fatalf("hydrate must run once, me calls %d, err %v", api.MeCalls(), err)
	}
}

func TestHydrateWithoutTokenSkipsNetwork(t *testing.T) {
	api := newAPI(t, apitest.Options{})
	tc := newTestClient(t, api)

	if !tc.Loading() {
		t.Fatal("client must start loading")
	}
	if err := tc.Hydrate(context.Background()); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if tc.Loading() || tc.User() != nil {
		t.Fatalf("unexpected state %+v", tc.State())
	}
	if api.MeCalls() != 0 {
		t.Fatal("hydration without a token must not call the server")
	}
}

func TestSubscribeDeliversLatestState(t *testing.T) {
	tc := newTestClient(t, newAPI(t, apitest.Options{}))
	states, unsubscribe := tc.Subscribe()
	defer unsubscribe()

	if st := <-states; !st.Loading || st.Authenticated {
		t.Fatalf("unexpected initial state %+v", st)
	}
	tc.login(t, true)

	timeout := time.After(2 * time.Second)
	for {
		select {
		case st := <-states:
			if st.Authenticated && !st.Loading {
				if st.Identity.Username != apitest.DefaultUsername {
					t.Fatalf("unexpected identity %+v", st.Identity)
				}
				return
			}
		case <-timeout:
			t.Fatal("authenticated state never delivered")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	tc := newTestClient(t, newAPI(t, apitest.Options{}))
	states, unsubscribe := tc.Subscribe()
	unsubscribe()
	unsubscribe()

	for range states {
	}
	tc.login(t, false)
}

func TestClosedClientRejectsOperations(t *testing.T) {
	tc := newTestClient(t, newAPI(t, apitest.Options{}))
	if err := tc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := tc.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := tc.Login(context.Background(), apitest.DefaultUsername, apitest.DefaultPassword, false); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("expected ErrClientClosed, got %v", err)
	}
	if err := tc.Do(context.Background(), "GET", "/tasks", nil, nil); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("expected ErrClientClosed, got %v", err)
	}
}

// stalledSink accepts nothing until released.
type stalledSink struct{ release chan struct{} }

func (s stalledSink) Emit(context.Context, Event) { <-s.release }

func TestStalledEventSinkDoesNotHoldRefreshFailure(t *testing.T) {
	for _, dropIfFull := range []bool{true, false} {
		api := newAPI(t, apitest.Options{})
		sink := stalledSink{release: make(chan struct{})}
		tc := newTestClient(t, api, func(b *Builder) {
			b.config.Events.BufferSize = 1
			b.config.Events.DropIfFull = dropIfFull
			b.config.Session.RefreshTimeout = 200 * time.Millisecond
			b.WithEventSink(sink)
		})
		t.Cleanup(func() { close(sink.release) })

		tc.login(t, true)
		api.ExpireAccess()
		api.RevokeRefresh()

		done := make(chan error, 1)
		go func() { done <- tc.Do(context.Background(), "GET", "/tasks", nil, nil) }()
		select {
		case err := <-done:
			if !errors.Is(err, ErrRefreshFailed) {
				t.Fatalf("dropIfFull=%v: expected refresh failure, got %v", dropIfFull, err)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("dropIfFull=%v: refresh failure never settled behind a stalled sink", dropIfFull)
		}
		if tc.nav.Redirects() != 1 {
			t.Fatalf("dropIfFull=%v: expected one redirect, got %d", dropIfFull, tc.nav.Redirects())
		}
		if tc.EventsDropped() == 0 {
			t.Fatalf("dropIfFull=%v: expected dropped events behind a stalled sink", dropIfFull)
		}
	}
}
