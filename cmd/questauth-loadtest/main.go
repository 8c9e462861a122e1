// Command questauth-loadtest drives bursts of concurrent requests through one
// client against an in-process API whose access tokens are revoked before
// every burst, and checks that each burst costs exactly one refresh call.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/lifequest/questauth"
	"github.com/lifequest/questauth/internal/apitest"
)

func main() {
	var (
		rounds       = flag.Int("rounds", 20, "number of expire-then-burst rounds")
		concurrency  = flag.Int("concurrency", 64, "concurrent requests per round")
		refreshDelay = flag.Duration("refresh-delay", 50*time.Millisecond, "server-side delay on every refresh")
		rotate       = flag.Bool("rotate", true, "rotate the refresh token on every refresh")
		redisAddr    = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		logLevel     = flag.String("log-level", "", "client log level; empty disables logging")
	)
	flag.Parse()

	if *rounds <= 0 || *concurrency <= 0 {
		fmt.Fprintln(os.Stderr, "rounds and concurrency must be > 0")
		os.Exit(2)
	}

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	var cleanup func()
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		cleanup = mr.Close
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		cleanup = func() {}
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer rdb.Close()

	api := apitest.NewServer(apitest.Options{RefreshDelay: *refreshDelay, RotateRefresh: *rotate})
	defer api.Close()

	cfg := questauth.DefaultConfig()
	cfg.API.BaseURL = api.URL
	cfg.Store.Backend = questauth.BackendRedis
	cfg.Store.RedisAddr = addr
	cfg.Store.Profile = "loadtest"
	cfg.Session.HydrateOnBuild = false
	cfg.Log.Level = *logLevel

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = *concurrency

	client, err := questauth.New().WithConfig(cfg).WithRedis(rdb).WithTransport(transport).Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	ctx := context.Background()
	if err := client.Login(ctx, apitest.DefaultUsername, apitest.DefaultPassword, true); err != nil {
		fmt.Fprintf(os.Stderr, "login: %v\n", err)
		os.Exit(1)
	}

	var (
		latencies  []time.Duration
		failures   int64
		violations int
	)
	start := time.Now()
	for r := 0; r < *rounds; r++ {
		before := api.RefreshCalls()
		api.ExpireAccess()
		samples, failed := runBurst(ctx, client, *concurrency)
		latencies = append(latencies, samples...)
		failures += failed
		if got := api.RefreshCalls() - before; got != 1 {
			violations++
			fmt.Printf("round %d: %d refresh calls, want 1\n", r+1, got)
		}
	}
	total := time.Since(start)

	snap := client.MetricsSnapshot()
	s := computeStats(total, latencies, failures)
	fmt.Println("---- results ----")
	printStats("request", s)
	fmt.Printf("refresh: calls=%d joined=%d replay_ok=%d replay_failed=%d teardowns=%d\n",
		api.RefreshCalls(),
		snap.Counters[questauth.MetricRefreshJoined],
		snap.Counters[questauth.MetricReplaySuccess],
		snap.Counters[questauth.MetricReplayFailure],
		snap.Counters[questauth.MetricTeardown],
	)
	if violations > 0 || failures > 0 {
		fmt.Printf("FAIL: %d rounds violated single-flight, %d requests failed\n", violations, failures)
		os.Exit(1)
	}
	fmt.Println("OK: one refresh per round")
}

func runBurst(ctx context.Context, client *questauth.Client, concurrency int) ([]time.Duration, int64) {
	var (
		wg        sync.WaitGroup
		failures  int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, concurrency)
	)
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var tasks []apitest.Task
			t0 := time.Now()
			err := client.Do(ctx, http.MethodGet, "/tasks", nil, &tasks)
			d := time.Since(t0)
			if err != nil {
				atomic.AddInt64(&failures, 1)
			}
			mu.Lock()
			latencies = append(latencies, d)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return latencies, failures
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
