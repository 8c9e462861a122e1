package refresh

import "context"

type attemptKey struct{}

// WithAttempt returns a context recording that the request carrying it is replay
// number n. The original dispatch is attempt 0.
func WithAttempt(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, attemptKey{}, n)
}

// Attempt returns the replay number recorded by [WithAttempt], or 0.
func Attempt(ctx context.Context) int {
	n, _ := ctx.Value(attemptKey{}).(int)
	return n
}

// Retried reports whether the request has already been replayed once.
func Retried(ctx context.Context) bool {
	return Attempt(ctx) > 0
}
