package questauth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lifequest/questauth/internal/apitest"
)

func TestRefreshConcurrencySingleFlight(t *testing.T) {
	for _, rotate := range []bool{false, true} {
		api := newAPI(t, apitest.Options{RefreshDelay: 100 * time.Millisecond, RotateRefresh: rotate})
		tc := newTestClient(t, api)
		tc.login(t, true)
		api.ExpireAccess()

		const n = 16
		var wg sync.WaitGroup
		wg.Add(n)

		results := make(chan error, n)
		for i := 0; i < n; i++ {
			go func() {
				defer wg.Done()
				var tasks []apitest.Task
				results <- tc.Do(context.Background(), "GET", "/tasks", nil, &tasks)
			}()
		}
		wg.Wait()
		close(results)

		for err := range results {
			if err != nil {
				t.Fatalf("rotate=%v: request failed: %v", rotate, err)
			}
		}
		if api.RefreshCalls() != 1 {
			t.Fatalf("rotate=%v: expected exactly one refresh call, got %d", rotate, api.RefreshCalls())
		}
		if tc.nav.Redirects() != 0 {
			t.Fatalf("rotate=%v: unexpected redirect", rotate)
		}
		if rotate {
			// The rotated refresh token must be the one used next time.
			api.ExpireAccess()
			if err := tc.Do(context.Background(), "GET", "/tasks", nil, nil); err != nil {
				t.Fatalf("second refresh with rotated token: %v", err)
			}
			if api.RefreshCalls() != 2 {
				t.Fatalf("expected a second refresh, got %d", api.RefreshCalls())
			}
		}
	}
}

func TestRefreshConcurrencyStaleRequestSkipsRefresh(t *testing.T) {
	api := newAPI(t, apitest.Options{})
	tc := newTestClient(t, api)
	tc.login(t, true)
	stale := tc.tokens(t).AccessToken

	api.ExpireAccess()
	if err := tc.Do(context.Background(), "GET", "/tasks", nil, nil); err != nil {
		t.Fatalf("first recovery: %v", err)
	}

	// A request signed before the refresh finished must reuse the new token.
	token, err := tc.coord.Recover(context.Background(), tc.coord.Epoch(), stale)
	if err != nil {
		t.Fatalf("recover with stale token: %v", err)
	}
	if token == stale || token != tc.tokens(t).AccessToken {
		t.Fatal("expected the stored token")
	}
	if api.RefreshCalls() != 1 {
		t.Fatalf("expected no second refresh, got %d", api.RefreshCalls())
	}
}

func TestRefreshConcurrencyCancelledCallerDoesNotAbortRefresh(t *testing.T) {
	api := newAPI(t, apitest.Options{RefreshDelay: 200 * time.Millisecond})
	tc := newTestClient(t, api)
	tc.login(t, true)
	stale := tc.tokens(t).AccessToken
	api.ExpireAccess()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := tc.Do(ctx, "GET", "/tasks", nil, nil); err == nil {
		t.Fatal("expected the cancelled request to fail")
	}

	deadline := time.Now().Add(2 * time.Second)
	for tc.tokens(t).AccessToken == stale {
		if time.Now().After(deadline) {
			t.Fatal("shared refresh did not complete after its caller gave up")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if tc.nav.Redirects() != 0 {
		t.Fatal("a cancelled caller must not tear the session down")
	}
}
