package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lifequest/questauth/refresh"
)

// Logging writes one debug line per attempt. Credentials are never logged.
func Logging(log *zap.Logger) Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			start := time.Now()
			resp, err := next.RoundTrip(req)

			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Int("attempt", refresh.Attempt(req.Context())),
				zap.String("request_id", req.Header.Get(HeaderRequestID)),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				log.Debug("request failed", append(fields, zap.Error(err))...)
				return resp, err
			}
			log.Debug("request completed", append(fields, zap.Int("status", resp.StatusCode))...)
			return resp, nil
		})
	}
}
