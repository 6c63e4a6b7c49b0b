// Command orgauth-loadtest measures session validation, rotation, and
// permission checks against a real Redis (or an embedded miniredis).
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrEthical07/orgauth/authz"
	"github.com/MrEthical07/orgauth/cache"
	"github.com/MrEthical07/orgauth/metrics"
	otelexport "github.com/MrEthical07/orgauth/metrics/export/otel"
	"github.com/MrEthical07/orgauth/permission"
	"github.com/MrEthical07/orgauth/session"
	"github.com/MrEthical07/orgauth/store"
	"github.com/MrEthical07/orgauth/store/memory"
)

const loadOrg = "org-load"

type sessionState struct {
	userID string
	token  string
	mu     sync.Mutex
}

func main() {
	var (
		users       = flag.Int("users", 20000, "number of users (one session each) to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "oss-load", "session key prefix")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
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
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	reg := prometheus.NewRegistry()
	recorder, err := metrics.New(reg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to register metrics: %v\n", err)
		os.Exit(1)
	}
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(ctx) }()
	exporter, err := otelexport.NewExporter(provider.Meter("orgauth-loadtest"), reg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start otel exporter: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = exporter.Close() }()

	data := memory.New()
	permCache := cache.New(cache.DefaultConfig(), cache.WithObserver(recorder))
	data.SetInvalidator(cache.NewChangeHandler(permCache, nil, zerolog.Nop()))
	checker := authz.NewChecker(data, permCache, authz.WithObserver(recorder))

	manager := session.NewManager(
		session.NewRedisRepository(client, *prefix),
		session.DefaultConfig(),
		session.WithObserver(recorder),
	)

	roles := permission.Roles()
	states := make([]sessionState, *users)
	fmt.Printf("seeding %d users...\n", *users)
	startSeed := time.Now()
	for i := 0; i < *users; i++ {
		userID := fmt.Sprintf("user-%d", i)
		err := data.SaveMembership(ctx, store.Membership{
			UserID:         userID,
			OrganizationID: loadOrg,
			Role:           roles[i%len(roles)],
			Status:         store.StatusActive,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed membership failed: %v\n", err)
			os.Exit(1)
		}
		issued, err := manager.Create(ctx, session.CreateParams{UserID: userID, OrganizationID: loadOrg})
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed session failed: %v\n", err)
			os.Exit(1)
		}
		states[i] = sessionState{userID: userID, token: issued.Token}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	validateStats := runPhase(states, *ops, *concurrency, 7919, func(s *sessionState) error {
		s.mu.Lock()
		token := s.token
		s.mu.Unlock()
		_, err := manager.Validate(ctx, token)
		return err
	})
	rotateStats := runPhase(states, *ops, *concurrency, 6151, func(s *sessionState) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		issued, err := manager.Rotate(ctx, s.token)
		if err != nil {
			return err
		}
		s.token = issued.Token
		return nil
	})
	all := permission.All()
	checkStats := runPhase(states, *ops, *concurrency, 4099, func(s *sessionState) error {
		// Denials are expected for lower roles; only the latency matters.
		checker.CheckPermission(ctx, s.userID, loadOrg, all[len(s.userID)%len(all)])
		return nil
	})

	fmt.Println("---- results ----")
	printStats("validate", validateStats)
	printStats("rotate", rotateStats)
	printStats("check", checkStats)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		fmt.Fprintf(os.Stderr, "collect metrics failed: %v\n", err)
		return
	}
	fmt.Println("---- counters ----")
	printCounters(rm)
}

func printCounters(rm metricdata.ResourceMetrics) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				fmt.Printf("%s{%s} %d\n", m.Name, dp.Attributes.Encoded(attribute.DefaultEncoder()), dp.Value)
			}
		}
	}
}

func runPhase(states []sessionState, ops, concurrency int, seed int64, op func(*sessionState) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				state := &states[r.Intn(len(states))]
				t0 := time.Now()
				err := op(state)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
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
	return samples[(len(samples)-1)*p/100]
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
