// Command authcore-loadtest measures refresh-ledger throughput against a
// real Redis or an embedded miniredis. It seeds a population of refresh
// tokens, then runs a read phase (Get) and a rotation phase (Rotate) and
// prints latency percentiles per phase.
package main

import (
	"context"
	"crypto/sha256"
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

	"github.com/kyrelabs/authcore/ledger"
)

type tokenState struct {
	digest [32]byte
	mu     sync.Mutex
}

func main() {
	var (
		tokens      = flag.Int("tokens", 100000, "number of refresh tokens to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (get + rotate)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "rt", "ledger key prefix")
	)
	flag.Parse()

	if *tokens <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "tokens, concurrency, and ops must be > 0")
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

	store := ledger.New(client, *prefix, 24*time.Hour)

	states := make([]*tokenState, *tokens)
	fmt.Printf("seeding %d tokens...\n", *tokens)
	startSeed := time.Now()
	for i := 0; i < *tokens; i++ {
		states[i] = &tokenState{digest: digestFor(i)}
		account := fmt.Sprintf("acct-%d", i%1000)
		if err := store.Store(ctx, states[i].digest, account, "10.0.0.1"); err != nil {
			fmt.Fprintf(os.Stderr, "store failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	getStats := runGetPhase(ctx, store, states, *ops, *concurrency)
	rotateStats := runRotatePhase(ctx, store, states, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("get", getStats)
	printStats("rotate", rotateStats)
}

func runGetPhase(ctx context.Context, store *ledger.Ledger, states []*tokenState, ops, concurrency int) phaseStats {
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
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				state := states[r.Intn(len(states))]

				state.mu.Lock()
				digest := state.digest
				state.mu.Unlock()

				t0 := time.Now()
				_, err := store.Get(ctx, digest)
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
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

func runRotatePhase(ctx context.Context, store *ledger.Ledger, states []*tokenState, ops, concurrency int) phaseStats {
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
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				state := states[r.Intn(len(states))]

				state.mu.Lock()
				current := state.digest
				next := nextDigest(current, i+worker+1)
				t0 := time.Now()
				_, err := store.Rotate(ctx, current, next, "10.0.0.1")
				d := time.Since(t0)
				if err == nil {
					state.digest = next
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

func digestFor(i int) [32]byte {
	return sha256.Sum256([]byte(fmt.Sprintf("seed-token-%d", i)))
}

func nextDigest(current [32]byte, salt int) [32]byte {
	return sha256.Sum256(append(current[:], byte(salt), byte(salt>>8), byte(salt>>16)))
}
