package questauth

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Navigator receives the forced-login signal emitted once per session teardown.
type Navigator interface {
	ForceLogin(ctx context.Context, reason error)
}

// NavigatorFunc adapts a function to [Navigator].
type NavigatorFunc func(ctx context.Context, reason error)

// ForceLogin calls f(ctx, reason).
func (f NavigatorFunc) ForceLogin(ctx context.Context, reason error) { f(ctx, reason) }

// RouteNavigator tracks the current view and redirects to the login route
// unless the user is already there.
type RouteNavigator struct {
	loginRoute string
	redirect   func(route string, reason error)

	mu        sync.Mutex
	current   string
	redirects int
}

// NewRouteNavigator returns a navigator for loginRoute. redirect may be nil.
func NewRouteNavigator(loginRoute string, redirect func(route string, reason error)) *RouteNavigator {
	return &RouteNavigator{loginRoute: loginRoute, redirect: redirect}
}

// SetRoute records the view the user is on.
func (n *RouteNavigator) SetRoute(route string) {
	n.mu.Lock()
	n.current = route
	n.mu.Unlock()
}

// Route returns the current view.
func (n *RouteNavigator) Route() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// Redirects returns how many redirects were issued.
func (n *RouteNavigator) Redirects() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.redirects
}

// ForceLogin moves the current view to the login route and calls redirect,
// unless the view is already the login route.
func (n *RouteNavigator) ForceLogin(_ context.Context, reason error) {
	n.mu.Lock()
	if n.current == n.loginRoute {
		n.mu.Unlock()
		return
	}
	n.current = n.loginRoute
	n.redirects++
	redirect := n.redirect
	n.mu.Unlock()

	if redirect != nil {
		redirect(n.loginRoute, reason)
	}
}

func logRedirect(log *zap.Logger) func(string, error) {
	return func(route string, reason error) {
		log.Info("session ended, login required", zap.String("route", route), zap.Error(reason))
	}
}
