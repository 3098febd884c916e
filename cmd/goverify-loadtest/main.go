package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	goVerify "github.com/ferrix07/goVerify"
	"github.com/redis/go-redis/v9"
)

type issueState struct {
	requestID string
	code      string
}

// captureGateway records the delivered code per destination so the verify
// phase can replay it. The message template is a bare %s.
type captureGateway struct {
	codes sync.Map
}

func (g *captureGateway) Send(_ context.Context, destination, message string) error {
	g.codes.Store(destination, message)
	return nil
}

func (g *captureGateway) codeFor(destination string) string {
	v, ok := g.codes.Load(destination)
	if !ok {
		return ""
	}
	return v.(string)
}

func main() {
	var (
		issues      = flag.Int("issues", 50000, "number of codes to issue")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *issues <= 0 || *concurrency <= 0 {
		fmt.Fprintln(os.Stderr, "issues and concurrency must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	gw := &captureGateway{}
	engine, err := goVerify.New().
		WithConfig(loadtestConfig()).
		WithRedis(client).
		WithDeliveryGateway(goVerify.ChannelEmail, gw).
		WithMetricsEnabled(true).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states := make([]issueState, *issues)

	issueStats := runIssuePhase(ctx, engine, gw, states, *concurrency)
	verifyStats := runVerifyPhase(ctx, engine, states, *concurrency)

	fmt.Println("---- results ----")
	printStats("issue", issueStats)
	printStats("verify", verifyStats)
}

func loadtestConfig() goVerify.Config {
	return goVerify.Config{
		Defaults: goVerify.DefaultsConfig{
			CodeLength:     6,
			CodeTTL:        time.Hour,
			RatePerMinute:  1 << 30,
			MaxAttempts:    5,
			ResendCooldown: time.Second,
		},
		SettingsCache: goVerify.SettingsCacheConfig{Freshness: time.Minute},
		RateLimit:     goVerify.RateLimitConfig{Window: time.Minute},
		Channels: map[goVerify.Channel]goVerify.ChannelConfig{
			goVerify.ChannelEmail: {
				MinCodeLength:   4,
				MaxCodeLength:   10,
				MessageTemplate: "%s",
			},
		},
	}
}

func runIssuePhase(ctx context.Context, engine *goVerify.Engine, gw *captureGateway, states []issueState, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, len(states))
		mu        sync.Mutex
	)

	fmt.Printf("issuing %d codes...\n", len(states))
	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= len(states) {
					return
				}
				destination := fmt.Sprintf("user-%d@example.com", i)
				t0 := time.Now()
				requestID, err := engine.Issue(ctx, destination, goVerify.ChannelEmail, "")
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				} else {
					states[i] = issueState{
						requestID: requestID,
						code:      gw.codeFor(destination),
					}
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

func runVerifyPhase(ctx context.Context, engine *goVerify.Engine, states []issueState, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, len(states))
		mu        sync.Mutex
	)

	fmt.Printf("verifying %d codes...\n", len(states))
	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= len(states) {
					return
				}
				state := states[i]
				if state.requestID == "" || state.code == "" {
					atomic.AddInt64(&failures, 1)
					continue
				}
				t0 := time.Now()
				_, err := engine.Verify(ctx, state.requestID, state.code)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
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
		return phaseStats{total: total, failures: failures}
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
