package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/lockguard"
	promexport "github.com/MrEthical07/lockguard/metrics/export/prometheus"
	"github.com/MrEthical07/lockguard/store/memstore"
	"github.com/MrEthical07/lockguard/store/redisstore"
	"github.com/MrEthical07/lockguard/store/sqlstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const accountPassword = "load-test-password"

func main() {
	var (
		configPath  = flag.String("config", "", "TOML config file; defaults are used when empty")
		dbType      = flag.String("db", "", "store type (memory, redis, sqlite, postgres); overrides [db].type")
		dsn         = flag.String("dsn", "", "store DSN or redis address; overrides [db].dsn")
		users       = flag.Int("users", 1000, "number of accounts to seed")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 20000, "operations per phase (failed + successful logins)")
		metricsAddr = flag.String("metrics-addr", "", "serve Prometheus metrics on this address while running")
		verbose     = flag.Bool("v", false, "log engine events to stderr")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	cfg := lockguard.DefaultConfig()
	if *configPath != "" {
		loaded, err := lockguard.LoadConfigTOML(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(2)
		}
		cfg = loaded
	} else {
		// keep seeding fast and let every account survive the failed phase
		cfg.Security.HashSaltFactor = 4
		cfg.Security.MaxFailedLoginAttempts = 0
	}
	if *dbType != "" {
		cfg.DB.Type = *dbType
	}
	if *dsn != "" {
		cfg.DB.DSN = *dsn
	}
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	ctx := context.Background()

	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "store: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	level := slog.LevelError
	if *verbose {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	engine, err := lockguard.New().
		WithConfig(cfg).
		WithStore(store).
		WithLogger(logger).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	if *metricsAddr != "" {
		handler, err := promexport.NewCollector(engine).Handler()
		if err != nil {
			fmt.Fprintf(os.Stderr, "metrics: %v\n", err)
			os.Exit(1)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", handler)
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		fmt.Printf("serving metrics on %s/metrics\n", *metricsAddr)
	}

	names := make([]string, *users)
	run := time.Now().UnixNano()
	fmt.Printf("seeding %d accounts...\n", *users)
	startSeed := time.Now()
	for i := range names {
		names[i] = fmt.Sprintf("load-%d-%d@example.com", run, i)
		if _, err := engine.CreateAccount(ctx, lockguard.SignupRequest{
			Username: names[i],
			Password: accountPassword,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "create failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	failedStats := runPhase(names, *ops, *concurrency, 7919, func(username string) error {
		_, err := engine.Authenticate(ctx, lockguard.Credentials{Username: username, Password: "wrong"})
		if isPolicyError(err) {
			return nil
		}
		if err == nil {
			return errors.New("wrong password accepted")
		}
		return err
	})
	successStats := runPhase(names, *ops, *concurrency, 6151, func(username string) error {
		_, err := engine.Authenticate(ctx, lockguard.Credentials{Username: username, Password: accountPassword})
		if errors.Is(err, lockguard.ErrAccountLocked) {
			return nil
		}
		return err
	})

	fmt.Println("---- results ----")
	printStats("failed-login", failedStats)
	printStats("login", successStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("locks=%d conflict-retries=%d store-failures=%d\n",
		snap.Counters[lockguard.MetricAccountLocked],
		snap.Counters[lockguard.MetricStoreConflictRetry],
		snap.Counters[lockguard.MetricStoreFailure],
	)
}

func isPolicyError(err error) bool {
	return errors.Is(err, lockguard.ErrPasswordIncorrect) || errors.Is(err, lockguard.ErrAccountLocked)
}

// openStore builds the store named by cfg.DB. A redis store without an
// address runs against an in-process miniredis.
func openStore(ctx context.Context, cfg lockguard.Config) (lockguard.Store, func(), error) {
	switch cfg.DB.Type {
	case "", "memory":
		fmt.Println("using in-memory store")
		return memstore.New(), func() {}, nil

	case "redis":
		addr := cfg.DB.DSN
		if addr == "" {
			addr = os.Getenv("REDIS_ADDR")
		}
		var mr *miniredis.Miniredis
		if addr == "" {
			var err error
			if mr, err = miniredis.Run(); err != nil {
				return nil, nil, fmt.Errorf("start miniredis: %w", err)
			}
			addr = mr.Addr()
			fmt.Printf("using miniredis at %s\n", addr)
		} else {
			fmt.Printf("using redis at %s\n", addr)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup := func() {
			_ = client.Close()
			if mr != nil {
				mr.Close()
			}
		}
		return redisstore.New(client, cfg.DB.Collection), cleanup, nil

	case "sqlite", "postgres":
		dialect, err := sqlstore.ParseDialect(cfg.DB.Type)
		if err != nil {
			return nil, nil, err
		}
		dsn := cfg.DB.DSN
		if dsn == "" && dialect == sqlstore.SQLite {
			dsn = "file:lockguard-loadtest.db"
		}
		db, err := sqlstore.Open(dialect, dsn)
		if err != nil {
			return nil, nil, err
		}
		if dialect == sqlstore.SQLite {
			db.SetMaxOpenConns(1)
		}
		store, err := sqlstore.FromConfig(db, dialect, cfg.DB.Collection, cfg)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		fmt.Printf("using %s store\n", dialect)
		return store, func() { _ = db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported store type %q", cfg.DB.Type)
	}
}

func runPhase(names []string, ops, concurrency int, seed int64, op func(username string) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
		firstErr  atomic.Value
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
				t0 := time.Now()
				err := op(names[r.Intn(len(names))])
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
					firstErr.CompareAndSwap(nil, err.Error())
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	stats := computeStats(time.Since(start), latencies, failures)
	if msg, ok := firstErr.Load().(string); ok {
		stats.firstErr = msg
	}
	return stats
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	firstErr string
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
	if s.firstErr != "" {
		fmt.Printf("  first error: %s\n", s.firstErr)
	}
}
