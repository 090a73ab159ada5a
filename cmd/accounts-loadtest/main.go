// Command accounts-loadtest measures engine throughput against a Redis-backed
// store: a resume phase (access token verification plus session lookup) and a
// refresh phase (token rotation under contention). Without -redis-addr or
// REDIS_ADDR it runs self-contained on miniredis.
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
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	accounts "github.com/apollo-accounts/graphql-accounts"
	"github.com/apollo-accounts/graphql-accounts/password"
	"github.com/apollo-accounts/graphql-accounts/store/redisstore"
	"github.com/apollo-accounts/graphql-accounts/tokens"
)

type sessionState struct {
	mu     sync.Mutex
	tokens tokens.Pair
}

func main() {
	var (
		sessions    = flag.Int("sessions", 1000, "number of sessions to seed")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 20000, "operations per phase (resume + refresh)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "acclt", "store key prefix")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var cleanup func()
	var client redis.UniversalClient
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

	engine, err := buildEngine(client, *prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	states, err := seedSessions(ctx, engine, *sessions)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	resumeStats := runResumePhase(ctx, engine, states, *ops, *concurrency)
	refreshStats := runRefreshPhase(ctx, engine, states, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("resume", resumeStats)
	printStats("refresh", refreshStats)
}

func buildEngine(client redis.UniversalClient, prefix string) (*accounts.Engine, error) {
	// minimum-cost bcrypt: the run should measure session and token work, not
	// the hash work factor
	hasher, err := password.NewBcrypt(bcrypt.MinCost)
	if err != nil {
		return nil, err
	}

	return accounts.New().
		WithStore(redisstore.New(client, redisstore.WithPrefix(prefix))).
		WithHasher(hasher).
		WithOptions(accounts.Options{
			Tokens: tokens.Config{
				SigningMethod: tokens.MethodHS256,
				Secret:        []byte("loadtest-secret"),
				AccessTTL:     time.Hour,
				RefreshTTL:    24 * time.Hour,
				Issuer:        "accounts-loadtest",
			},
			EnableRefreshTokenRotation: true,
		}).
		Build()
}

func seedSessions(ctx context.Context, engine *accounts.Engine, n int) ([]*sessionState, error) {
	if _, err := engine.CreateUser(ctx, accounts.CreateUserParams{
		Email:    "loadtest@example.com",
		Password: "loadtest-password",
	}); err != nil {
		return nil, err
	}

	states := make([]*sessionState, n)
	for i := range states {
		result, err := engine.Authenticate(ctx, accounts.ServicePassword, accounts.AuthenticateParams{
			Email:    "loadtest@example.com",
			Password: "loadtest-password",
		}, accounts.ConnectionInfo{UserAgent: "accounts-loadtest", IP: "127.0.0.1"})
		if err != nil {
			return nil, err
		}
		states[i] = &sessionState{tokens: result.Tokens}
	}
	return states, nil
}

func runResumePhase(ctx context.Context, engine *accounts.Engine, states []*sessionState, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, ops)
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				state := states[r.Intn(len(states))]
				state.mu.Lock()
				access := state.tokens.AccessToken
				state.mu.Unlock()

				t0 := time.Now()
				_, err := engine.ResumeSession(ctx, access)
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

func runRefreshPhase(ctx context.Context, engine *accounts.Engine, states []*sessionState, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, ops)
	)

	conn := accounts.ConnectionInfo{UserAgent: "accounts-loadtest", IP: "127.0.0.1"}

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				state := states[r.Intn(len(states))]

				// hold the per-session lock across the rotation so each
				// refresh presents the current token, like a client would
				state.mu.Lock()
				t0 := time.Now()
				result, err := engine.RefreshTokens(ctx, state.tokens.AccessToken, state.tokens.RefreshToken, conn)
				d := time.Since(t0)
				if err == nil {
					state.tokens = result.Tokens
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
