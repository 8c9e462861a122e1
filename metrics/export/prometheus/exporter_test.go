package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lifequest/questauth"
)

type fakeSource struct {
	snapshot questauth.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() questauth.MetricsSnapshot { return f.snapshot }
func (f fakeSource) EventsDropped() uint64                      { return f.dropped }

func TestCollectCountersAndDropped(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: questauth.MetricsSnapshot{
			Counters: map[questauth.MetricID]uint64{
				questauth.MetricRefreshSuccess: 7,
			},
		},
		dropped: 2,
	})

	expected := `
# HELP questauth_refresh_success_total Refresh calls that produced a new access token.
# TYPE questauth_refresh_success_total counter
questauth_refresh_success_total 7
# HELP questauth_events_dropped_total Session events dropped due to dispatcher backpressure.
# TYPE questauth_events_dropped_total counter
questauth_events_dropped_total 2
`
	if err := testutil.CollectAndCompare(exp, strings.NewReader(expected),
		"questauth_refresh_success_total", "questauth_events_dropped_total"); err != nil {
		t.Fatal(err)
	}
}

func TestCollectHistogramIsCumulative(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: questauth.MetricsSnapshot{
			Counters: map[questauth.MetricID]uint64{},
			Histograms: map[questauth.MetricID][]uint64{
				questauth.MetricRefreshLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
	})

	expected := `
# HELP questauth_refresh_latency_seconds Latency of refresh calls.
# TYPE questauth_refresh_latency_seconds histogram
questauth_refresh_latency_seconds_bucket{le="0.01"} 1
questauth_refresh_latency_seconds_bucket{le="0.025"} 3
questauth_refresh_latency_seconds_bucket{le="0.05"} 6
questauth_refresh_latency_seconds_bucket{le="0.1"} 10
questauth_refresh_latency_seconds_bucket{le="0.25"} 15
questauth_refresh_latency_seconds_bucket{le="0.5"} 21
questauth_refresh_latency_seconds_bucket{le="1"} 28
questauth_refresh_latency_seconds_bucket{le="+Inf"} 36
questauth_refresh_latency_seconds_sum 0
questauth_refresh_latency_seconds_count 36
`
	if err := testutil.CollectAndCompare(exp, strings.NewReader(expected), "questauth_refresh_latency_seconds"); err != nil {
		t.Fatal(err)
	}
}

func TestHistogramOmittedWhenLatencyDisabled(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{snapshot: questauth.MetricsSnapshot{}})
	if n := testutil.CollectAndCount(exp, "questauth_refresh_latency_seconds"); n != 0 {
		t.Fatalf("expected no histogram, got %d", n)
	}
}

func TestHandlerServesExposition(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: questauth.MetricsSnapshot{
			Counters: map[questauth.MetricID]uint64{questauth.MetricLoginSuccess: 3},
		},
	})
	srv := httptest.NewServer(exp.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "questauth_login_success_total 3") {
		t.Fatalf("expected login counter in output, got:\n%s", body)
	}
}
