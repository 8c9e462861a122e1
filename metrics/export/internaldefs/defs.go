package internaldefs

import (
	"strconv"
	"strings"

	"github.com/lifequest/questauth"
	"github.com/lifequest/questauth/internal/metrics"
)

// BucketCount is the number of histogram buckets, the last one unbounded.
const BucketCount = metrics.HistBucketCount

// CounterDef names one exported counter.
type CounterDef struct {
	ID   questauth.MetricID
	Name string
	Help string
}

// HistogramDef names one exported histogram.
type HistogramDef struct {
	ID   questauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in output order.
var CounterDefs = []CounterDef{
	{ID: questauth.MetricLoginSuccess, Name: "questauth_login_success_total", Help: "Successful logins."},
	{ID: questauth.MetricLoginFailure, Name: "questauth_login_failure_total", Help: "Failed logins."},
	{ID: questauth.MetricRefreshSuccess, Name: "questauth_refresh_success_total", Help: "Refresh calls that produced a new access token."},
	{ID: questauth.MetricRefreshFailure, Name: "questauth_refresh_failure_total", Help: "Refresh calls that failed."},
	{ID: questauth.MetricRefreshJoined, Name: "questauth_refresh_joined_total", Help: "Callers that waited on a refresh already in flight."},
	{ID: questauth.MetricReplaySuccess, Name: "questauth_replay_success_total", Help: "Requests replayed successfully after a refresh."},
	{ID: questauth.MetricReplayFailure, Name: "questauth_replay_failure_total", Help: "Replayed requests that failed."},
	{ID: questauth.MetricAlreadyRetried, Name: "questauth_already_retried_total", Help: "Replayed requests rejected again with 401."},
	{ID: questauth.MetricTeardown, Name: "questauth_teardown_total", Help: "Sessions torn down after unrecoverable authentication failures."},
	{ID: questauth.MetricLogout, Name: "questauth_logout_total", Help: "Logouts that cleared a session."},
	{ID: questauth.MetricIdentitySuccess, Name: "questauth_identity_success_total", Help: "Successful identity fetches."},
	{ID: questauth.MetricIdentityFailure, Name: "questauth_identity_failure_total", Help: "Failed identity fetches."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: questauth.MetricRefreshLatency, Name: "questauth_refresh_latency_seconds", Help: "Latency of refresh calls."},
}

// EventsDroppedName is the counter of session events dropped on a full buffer.
const (
	EventsDroppedName = "questauth_events_dropped_total"
	EventsDroppedHelp = "Session events dropped due to dispatcher backpressure."
)

// UpperBounds are the finite bucket bounds in seconds.
var UpperBounds = func() []float64 {
	out := make([]float64, len(metrics.BucketBounds))
	for i, b := range metrics.BucketBounds {
		out[i] = b.Seconds()
	}
	return out
}()

// HistogramBounds are the bucket labels, "+Inf" last.
var HistogramBounds = func() []string {
	out := make([]string, 0, BucketCount)
	for _, b := range UpperBounds {
		out = append(out, strconv.FormatFloat(b, 'g', -1, 64))
	}
	return append(out, "+Inf")
}()

// HistogramBoundSuffix are HistogramBounds usable inside instrument names.
var HistogramBoundSuffix = func() []string {
	out := make([]string, 0, BucketCount)
	for _, b := range HistogramBounds[:len(HistogramBounds)-1] {
		out = append(out, strings.ReplaceAll(b, ".", "_"))
	}
	return append(out, "inf")
}()

// NormalizeBuckets copies raw into a fixed-size array, zero-filling missing buckets.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
