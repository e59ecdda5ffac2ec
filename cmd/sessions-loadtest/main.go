package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"fmt"
	mrand "math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	tokenauth "github.com/abrahamahn/abe-stack-sub006"
	"github.com/abrahamahn/abe-stack-sub006/internal/stores/postgres"
	"github.com/abrahamahn/abe-stack-sub006/session"
)

type familyState struct {
	familyID string
	token    string
	mu       sync.Mutex
}

func main() {
	var (
		families    = flag.Int("families", 10000, "number of token families to seed")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 50000, "rotations in the sequential phase")
		racers      = flag.Int("racers", 8, "goroutines presenting the same token in the race phase")
		raceRounds  = flag.Int("race-rounds", 500, "families raced in the race phase")
		dsn         = flag.String("dsn", "", "postgres DSN; if empty, SESSIONS_DATABASE_DSN env or the in-memory store is used")
		throttle    = flag.Bool("throttle", false, "enable the redis refresh throttle")
		redisAddr   = flag.String("redis-addr", "", "redis address for -throttle; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *families <= 0 || *concurrency <= 0 || *ops <= 0 || *racers < 2 || *raceRounds <= 0 {
		fmt.Fprintln(os.Stderr, "families, concurrency, ops and race-rounds must be > 0; racers must be >= 2")
		os.Exit(2)
	}

	ctx := context.Background()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	store, closeStore := openStore(ctx, *dsn)
	defer closeStore()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate key: %v\n", err)
		os.Exit(1)
	}
	cfg := tokenauth.DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.Lockout.Enabled = false
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	builder := tokenauth.New().WithConfig(cfg).WithTokenStore(store).WithLogger(logger)
	if *throttle {
		client, closeRedis := openRedis(*redisAddr)
		defer closeRedis()
		cfg.Refresh.EnableThrottle = true
		cfg.Refresh.MaxRefreshPerWindow = 1000
		builder = builder.WithConfig(cfg).WithRedis(client)
	}
	engine, err := builder.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states := make([]familyState, *families)
	fmt.Printf("seeding %d families...\n", *families)
	startSeed := time.Now()
	for i := range states {
		issued, err := engine.IssueSession(ctx, fmt.Sprintf("user-%d", i%1000), "198.51.100.1", "loadtest")
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue failed: %v\n", err)
			os.Exit(1)
		}
		states[i].familyID = issued.FamilyID
		states[i].token = issued.Token
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	rotateStats := runRotatePhase(ctx, engine, states, *ops, *concurrency)
	race := runRacePhase(ctx, engine, states, *raceRounds, *racers)

	fmt.Println("---- results ----")
	printStats("rotate", rotateStats)
	fmt.Printf("race: rounds=%d racers=%d winners=%d reuse=%d not_found=%d errors=%d violations=%d\n",
		race.rounds, *racers, race.winners, race.reuse, race.notFound, race.errors, race.violations)

	snap := engine.MetricsSnapshot()
	fmt.Printf("engine: rotated=%d reuse_detected=%d family_revoked=%d storage_failures=%d\n",
		snap.Counters[tokenauth.MetricRefreshSuccess],
		snap.Counters[tokenauth.MetricRefreshReuseDetected],
		snap.Counters[tokenauth.MetricFamilyRevoked],
		snap.Counters[tokenauth.MetricStorageFailure],
	)

	if race.violations > 0 {
		os.Exit(1)
	}
}

func openStore(ctx context.Context, dsn string) (session.TokenStore, func()) {
	if dsn == "" {
		dsn = os.Getenv("SESSIONS_DATABASE_DSN")
	}
	if dsn == "" {
		fmt.Println("using in-memory token store")
		return session.NewMemoryStore(), func() {}
	}

	pool, err := postgres.Connect(ctx, postgres.PoolConfig{DSN: dsn, MaxConns: 32})
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect postgres: %v\n", err)
		os.Exit(1)
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("using postgres token store")
	return postgres.NewTokenStore(pool), pool.Close
}

func openRedis(addr string) (redis.UniversalClient, func()) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }
	}

	mr, err := miniredis.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
		os.Exit(1)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}
}

// runRotatePhase rotates random families, one holder per family at a time.
// Every failure here is a bug: each presented token is the current one.
func runRotatePhase(ctx context.Context, engine *tokenauth.Engine, states []familyState, ops, concurrency int) phaseStats {
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
			r := mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				state := &states[r.Intn(len(states))]

				state.mu.Lock()
				t0 := time.Now()
				res, err := engine.Rotate(ctx, state.token)
				d := time.Since(t0)
				if err == nil && res.Kind == tokenauth.RotationRotated {
					state.token = res.Token
				} else {
					atomic.AddInt64(&failures, 1)
				}
				state.mu.Unlock()

				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type raceStats struct {
	rounds     int
	winners    int64
	reuse      int64
	notFound   int64
	errors     int64
	violations int64
}

// runRacePhase presents one token from several goroutines at once. At most
// one may rotate, and a family that saw a loser must end up revoked.
func runRacePhase(ctx context.Context, engine *tokenauth.Engine, states []familyState, rounds, racers int) raceStats {
	if rounds > len(states) {
		rounds = len(states)
	}
	out := raceStats{rounds: rounds}

	for i := 0; i < rounds; i++ {
		state := &states[i]
		var (
			wg      sync.WaitGroup
			gate    = make(chan struct{})
			winners int64
			reuse   int64
		)
		for g := 0; g < racers; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-gate
				res, err := engine.Rotate(ctx, state.token)
				if err != nil {
					atomic.AddInt64(&out.errors, 1)
					return
				}
				switch res.Kind {
				case tokenauth.RotationRotated:
					atomic.AddInt64(&winners, 1)
				case tokenauth.RotationReuseDetected, tokenauth.RotationFamilyRevoked:
					atomic.AddInt64(&reuse, 1)
				default:
					atomic.AddInt64(&out.notFound, 1)
				}
			}()
		}
		close(gate)
		wg.Wait()

		out.winners += winners
		out.reuse += reuse
		if winners > 1 {
			out.violations++
		}
		if reuse > 0 {
			family, err := engine.FindFamily(ctx, state.familyID)
			if err != nil || !family.Revoked() {
				out.violations++
			}
		}
	}
	return out
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
