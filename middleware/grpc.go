package middleware

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/lifequest/questauth/credential"
	"github.com/lifequest/questauth/refresh"
)

// MethodMatcher selects gRPC methods that bypass credential handling.
type MethodMatcher func(fullMethod string) bool

// UnaryClientInterceptor applies the Bearer and Refresh stages to unary gRPC
// calls: the stored access token is sent as "authorization: Bearer <token>"
// metadata, and codes.Unauthenticated is recovered like an HTTP 401.
func UnaryClientInterceptor(store credential.Store, c *refresh.Coordinator, skip MethodMatcher) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		if skip != nil && skip(method) {
			return invoker(ctx, method, req, reply, cc, opts...)
		}

		epoch := c.Epoch()
		token, _ := credential.Lookup(ctx, store, credential.KeyAccessToken)
		err := invoker(withBearer(ctx, token), method, req, reply, cc, opts...)
		if status.Code(err) != codes.Unauthenticated {
			return err
		}

		if refresh.Retried(ctx) {
			return c.Fail(ctx, epoch, 0, nil, err)
		}

		next, rerr := c.Recover(ctx, epoch, token)
		if rerr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return &refresh.AuthFailure{Reason: rerr, Original: err}
		}

		retryCtx := withBearer(refresh.WithAttempt(ctx, 1), next)
		err = invoker(retryCtx, method, req, reply, cc, opts...)
		if status.Code(err) == codes.Unauthenticated {
			c.Replayed(false)
			return c.Fail(ctx, epoch, 0, nil, err)
		}
		c.Replayed(err == nil)
		return err
	}
}

func withBearer(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", bearerPrefix+token)
}
