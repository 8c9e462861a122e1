package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lifequest/questauth/credential"
)

type fakeRefresher struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	tokens  credential.Tokens
	err     error
}

func newFakeRefresher(tokens credential.Tokens, err error) *fakeRefresher {
	return &fakeRefresher{
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
		tokens:  tokens,
		err:     err,
	}
}

func (f *fakeRefresher) refresh(ctx context.Context, _ string) (credential.Tokens, error) {
	f.calls.Add(1)
	f.started <- struct{}{}
	select {
	case <-f.release:
	case <-ctx.Done():
		return credential.Tokens{}, ctx.Err()
	}
	return f.tokens, f.err
}

type teardownRecorder struct {
	mu      sync.Mutex
	reasons []error
}

func (r *teardownRecorder) hook(_ context.Context, reason error) {
	r.mu.Lock()
	r.reasons = append(r.reasons, reason)
	r.mu.Unlock()
}

func (r *teardownRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reasons)
}

func newTestCoordinator(t *testing.T, store credential.Store, f *fakeRefresher, td *teardownRecorder) *Coordinator {
	t.Helper()
	c, err := New(Config{
		Store:     store,
		Refresher: f.refresh,
		Timeout:   5 * time.Second,
		Hooks:     Hooks{OnTeardown: td.hook},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func seed(t *testing.T, store credential.Store, access, refresh string) {
	t.Helper()
	ctx := context.Background()
	if access != "" {
		if err := store.Set(ctx, credential.KeyAccessToken, access); err != nil {
			t.Fatalf("seed access: %v", err)
		}
	}
	if refresh != "" {
		if err := store.Set(ctx, credential.KeyRefreshToken, refresh); err != nil {
			t.Fatalf("seed refresh: %v", err)
		}
	}
}

func recoverConcurrently(c *Coordinator, f *fakeRefresher, n int, stale string) ([]string, []error) {
	tokens := make([]string, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tokens[0], errs[0] = c.Recover(context.Background(), c.Epoch(), stale)
	}()

	// Followers join once the leader's refresh is running.
	<-f.started
	for i := 1; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = c.Recover(context.Background(), c.Epoch(), stale)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(f.release)
	wg.Wait()
	return tokens, errs
}

func TestRecoverSingleFlight(t *testing.T) {
	for _, n := range []int{1, 3, 32} {
		store := credential.NewMemoryStore()
		seed(t, store, "old-access", "refresh-1")
		f := newFakeRefresher(credential.Tokens{AccessToken: "new-access"}, nil)
		td := &teardownRecorder{}
		c := newTestCoordinator(t, store, f, td)

		tokens, errs := recoverConcurrently(c, f, n, "old-access")

		if got := f.calls.Load(); got != 1 {
			t.Fatalf("n=%d: expected exactly one refresh call, got %d", n, got)
		}
		for i := 0; i < n; i++ {
			if errs[i] != nil {
				t.Fatalf("n=%d: caller %d failed: %v", n, i, errs[i])
			}
			if tokens[i] != "new-access" {
				t.Fatalf("n=%d: caller %d got %q", n, i, tokens[i])
			}
		}
		stored, _ := credential.Load(context.Background(), store)
		if stored.AccessToken != "new-access" || stored.RefreshToken != "refresh-1" {
			t.Fatalf("n=%d: unexpected stored tokens %+v", n, stored)
		}
		if td.count() != 0 {
			t.Fatalf("n=%d: unexpected teardown", n)
		}
	}
}

func TestRecoverStoresRotatedRefreshToken(t *testing.T) {
	store := credential.NewMemoryStore()
	seed(t, store, "a1", "r1")
	f := newFakeRefresher(credential.Tokens{AccessToken: "a2", RefreshToken: "r2"}, nil)
	close(f.release)
	c := newTestCoordinator(t, store, f, &teardownRecorder{})

	token, err := c.Recover(context.Background(), c.Epoch(), "a1")
	if err != nil || token != "a2" {
		t.Fatalf("Recover = %q, %v", token, err)
	}
	stored, _ := credential.Load(context.Background(), store)
	if stored.RefreshToken != "r2" {
		t.Fatalf("expected rotated refresh token, got %+v", stored)
	}
}

func TestRecoverSkipsRefreshWhenTokenAlreadyRotated(t *testing.T) {
	store := credential.NewMemoryStore()
	seed(t, store, "a2", "r1")
	f := newFakeRefresher(credential.Tokens{AccessToken: "a3"}, nil)
	c := newTestCoordinator(t, store, f, &teardownRecorder{})

	token, err := c.Recover(context.Background(), c.Epoch(), "a1")
	if err != nil || token != "a2" {
		t.Fatalf("Recover = %q, %v; want stored token", token, err)
	}
	if f.calls.Load() != 0 {
		t.Fatal("refresh must not run when the stored token is newer than the rejected one")
	}
}

func TestRecoverWithoutRefreshTokenTearsDownOnce(t *testing.T) {
	store := credential.NewMemoryStore()
	seed(t, store, "a1", "")
	f := newFakeRefresher(credential.Tokens{AccessToken: "never"}, nil)
	td := &teardownRecorder{}
	c := newTestCoordinator(t, store, f, td)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Recover(context.Background(), c.Epoch(), "a1")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, ErrNoRefreshToken) || !errors.Is(err, ErrRefreshFailed) {
			t.Fatalf("caller %d: expected ErrNoRefreshToken, got %v", i, err)
		}
	}
	if f.calls.Load() != 0 {
		t.Fatal("no refresh call may be attempted without a refresh token")
	}
	if td.count() != 1 {
		t.Fatalf("expected exactly one teardown, got %d", td.count())
	}
	stored, _ := credential.Load(context.Background(), store)
	if !stored.Empty() {
		t.Fatalf("expected empty store, got %+v", stored)
	}
}

func TestRecoverRefreshFailureSettlesAllWaiters(t *testing.T) {
	store := credential.NewMemoryStore()
	seed(t, store, "a1", "r1")
	rejected := errors.New("refresh token expired")
	f := newFakeRefresher(credential.Tokens{}, rejected)
	td := &teardownRecorder{}
	c := newTestCoordinator(t, store, f, td)

	_, errs := recoverConcurrently(c, f, 5, "a1")

	for i, err := range errs {
		if !errors.Is(err, ErrRefreshFailed) || !errors.Is(err, rejected) {
			t.Fatalf("caller %d: expected wrapped refresh failure, got %v", i, err)
		}
	}
	if f.calls.Load() != 1 {
		t.Fatalf("expected one refresh call, got %d", f.calls.Load())
	}
	if td.count() != 1 {
		t.Fatalf("expected exactly one teardown, got %d", td.count())
	}
	stored, _ := credential.Load(context.Background(), store)
	if !stored.Empty() {
		t.Fatalf("expected empty store, got %+v", stored)
	}
}

func TestEndSessionSettlesInflightRefresh(t *testing.T) {
	store := credential.NewMemoryStore()
	seed(t, store, "a1", "r1")
	f := newFakeRefresher(credential.Tokens{AccessToken: "a2"}, nil)
	td := &teardownRecorder{}
	c := newTestCoordinator(t, store, f, td)

	done := make(chan error, 1)
	go func() {
		_, err := c.Recover(context.Background(), c.Epoch(), "a1")
		done <- err
	}()
	<-f.started
	c.EndSession()

	select {
	case err := <-done:
		if !errors.Is(err, ErrSessionClosed) {
			t.Fatalf("expected ErrSessionClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending refresh never settled after EndSession")
	}
	if td.count() != 0 {
		t.Fatal("ending the session must not emit a teardown signal")
	}
	if got, _ := credential.Lookup(context.Background(), store, credential.KeyAccessToken); got == "a2" {
		t.Fatal("refresh result must not be written after the session ended")
	}
}

func TestRecoverCallerCancellationLeavesFlightRunning(t *testing.T) {
	store := credential.NewMemoryStore()
	seed(t, store, "a1", "r1")
	f := newFakeRefresher(credential.Tokens{AccessToken: "a2"}, nil)
	c := newTestCoordinator(t, store, f, &teardownRecorder{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Recover(ctx, c.Epoch(), "a1")
		done <- err
	}()
	<-f.started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	close(f.release)
	deadline := time.Now().Add(2 * time.Second)
	for c.Refreshing() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got, _ := credential.Lookup(context.Background(), store, credential.KeyAccessToken); got != "a2" {
		t.Fatalf("shared refresh should complete for other callers, stored %q", got)
	}
}

func TestTeardownOncePerEpoch(t *testing.T) {
	store := credential.NewMemoryStore()
	seed(t, store, "a1", "r1")
	td := &teardownRecorder{}
	c := newTestCoordinator(t, store, newFakeRefresher(credential.Tokens{}, nil), td)

	if !c.Teardown(context.Background(), ErrAlreadyRetried) {
		t.Fatal("first teardown should run")
	}
	if c.Teardown(context.Background(), ErrAlreadyRetried) {
		t.Fatal("second teardown in the same epoch must be suppressed")
	}
	c.StartSession()
	if !c.Teardown(context.Background(), ErrAlreadyRetried) {
		t.Fatal("teardown should re-arm after StartSession")
	}
	if td.count() != 2 {
		t.Fatalf("expected 2 teardown signals, got %d", td.count())
	}
}

func TestFailBuildsAuthFailure(t *testing.T) {
	store := credential.NewMemoryStore()
	seed(t, store, "a1", "r1")
	td := &teardownRecorder{}
	c := newTestCoordinator(t, store, newFakeRefresher(credential.Tokens{}, nil), td)

	err := c.Fail(context.Background(), c.Epoch(), 401, []byte(`{"detail":"nope"}`), nil)
	if !errors.Is(err, ErrAuthExpired) || !errors.Is(err, ErrAlreadyRetried) {
		t.Fatalf("unexpected error chain: %v", err)
	}
	if errors.Is(err, ErrRefreshFailed) {
		t.Fatal("already-retried failure must not claim a refresh failure")
	}
	if td.count() != 1 {
		t.Fatalf("expected teardown, got %d", td.count())
	}
}

func TestAttemptMarker(t *testing.T) {
	ctx := context.Background()
	if Retried(ctx) || Attempt(ctx) != 0 {
		t.Fatal("fresh context must be attempt 0")
	}
	next := WithAttempt(ctx, 1)
	if !Retried(next) || Attempt(next) != 1 {
		t.Fatal("expected attempt 1")
	}
	if Retried(ctx) {
		t.Fatal("parent context must be unchanged")
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Config{Refresher: newFakeRefresher(credential.Tokens{}, nil).refresh}); err == nil {
		t.Fatal("expected error without store")
	}
	if _, err := New(Config{Store: credential.NewMemoryStore()}); err == nil {
		t.Fatal("expected error without refresher")
	}
}

// switchSession ends the current session and starts one for another user, the
// way Logout followed by Login does.
func switchSession(t *testing.T, c *Coordinator, store credential.Store, access, refresh string) {
	t.Helper()
	c.EndSession()
	if err := credential.Purge(context.Background(), store); err != nil {
		t.Fatalf("purge: %v", err)
	}
	c.StartSession()
	seed(t, store, access, refresh)
}

func TestFailAfterSessionSwitchLeavesNewSession(t *testing.T) {
	store := credential.NewMemoryStore()
	seed(t, store, "a1", "r1")
	td := &teardownRecorder{}
	c := newTestCoordinator(t, store, newFakeRefresher(credential.Tokens{}, nil), td)

	epoch := c.Epoch()
	switchSession(t, c, store, "b1", "rb")

	err := c.Fail(context.Background(), epoch, 401, nil, nil)
	if !errors.Is(err, ErrSessionClosed) || !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("expected a session-closed auth failure, got %v", err)
	}
	if errors.Is(err, ErrAlreadyRetried) {
		t.Fatal("a failure from an ended session must not be reported as exhausted")
	}
	if td.count() != 0 {
		t.Fatal("the newer session must not be torn down")
	}
	stored, _ := credential.Load(context.Background(), store)
	if stored.AccessToken != "b1" || stored.RefreshToken != "rb" {
		t.Fatalf("newer session credentials changed: %+v", stored)
	}

	c.Fail(context.Background(), c.Epoch(), 401, nil, nil)
	if td.count() != 1 {
		t.Fatal("a failure in the current session should still tear it down")
	}
}

func TestRecoverAfterSessionSwitchNeverHandsOutNewToken(t *testing.T) {
	store := credential.NewMemoryStore()
	seed(t, store, "a1", "r1")
	f := newFakeRefresher(credential.Tokens{AccessToken: "a2"}, nil)
	td := &teardownRecorder{}
	c := newTestCoordinator(t, store, f, td)

	epoch := c.Epoch()
	switchSession(t, c, store, "b1", "rb")

	token, err := c.Recover(context.Background(), epoch, "a1")
	if !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got token %q err %v", token, err)
	}
	if token != "" {
		t.Fatalf("leaked token %q from the newer session", token)
	}
	if f.calls.Load() != 0 || td.count() != 0 {
		t.Fatalf("calls=%d teardowns=%d, want 0 and 0", f.calls.Load(), td.count())
	}
}

func TestTeardownHookContextExpires(t *testing.T) {
	store := credential.NewMemoryStore()
	seed(t, store, "a1", "")
	c, err := New(Config{
		Store:     store,
		Refresher: newFakeRefresher(credential.Tokens{}, nil).refresh,
		Timeout:   50 * time.Millisecond,
		Hooks: Hooks{OnTeardown: func(ctx context.Context, _ error) {
			// A stalled consumer.
			<-ctx.Done()
		}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.Recover(context.Background(), c.Epoch(), "a1")
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, ErrNoRefreshToken) {
			t.Fatalf("expected ErrNoRefreshToken, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("a stalled teardown hook kept the refresh from settling")
	}
}
