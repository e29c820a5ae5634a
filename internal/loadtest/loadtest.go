// Package loadtest measures sync latency under concurrent callers.
//
// A fixture pairs two SQLite stores with a sync engine. Callers write
// random keys to the local store and sync them concurrently; the engine
// serializes the work, so the latencies include queueing behind other
// callers. VerifyConvergence then checks that both stores hold the same
// pairs.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/steveyegge/kvsync/internal/clock"
	"github.com/steveyegge/kvsync/internal/kv"
	"github.com/steveyegge/kvsync/internal/kv/sqlite"
	kvsync "github.com/steveyegge/kvsync/internal/sync"
)

// Fixture represents a populated store pair for load testing.
type Fixture struct {
	Local  *sqlite.Store
	Remote *sqlite.Store
	Engine *kvsync.Engine
	Keys   []string
}

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min        time.Duration
	Max        time.Duration
	Mean       time.Duration
	P50        time.Duration // Median
	P95        time.Duration
	P99        time.Duration
	TotalSyncs int
	Errors     int
	Durations  []time.Duration
}

// CreateFixture creates local.db and remote.db in dir, fills the local
// store with numKeys values of mixed types, and runs an initial full sync
// so both stores start equal.
func CreateFixture(dir string, numKeys int) (*Fixture, error) {
	local, err := sqlite.Open(filepath.Join(dir, "local.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	remote, err := sqlite.Open(filepath.Join(dir, "remote.db"))
	if err != nil {
		_ = local.Close()
		return nil, fmt.Errorf("failed to open remote store: %w", err)
	}

	f := &Fixture{
		Local:  local,
		Remote: remote,
		Keys:   make([]string, 0, numKeys),
	}

	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("key-%05d", i)
		if err := local.Set(ctx, key, generateValue(rng, i)); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to write %s: %w", key, err)
		}
		f.Keys = append(f.Keys, key)
	}

	f.Engine = kvsync.New(local, remote, &kvsync.Config{
		FlushRemoteImmediately: true,
		Logger:                 log.New(io.Discard, "", 0),
	})
	if _, err := f.Engine.SyncAll(ctx); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("initial sync failed: %w", err)
	}

	return f, nil
}

// Close closes the engine and both stores.
func (f *Fixture) Close() error {
	if f.Engine != nil {
		_ = f.Engine.Close()
	}
	var firstErr error
	for _, s := range []*sqlite.Store{f.Remote, f.Local} {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RunConcurrentSyncs simulates numCallers callers, each performing
// syncsPerCaller rounds of "write keysPerSync random keys locally, stamp
// the local clock, then sync those keys". Each round's SyncKeys latency is
// recorded. Callers race, so a round may sync in either direction; the
// stores still converge.
func (f *Fixture) RunConcurrentSyncs(numCallers, syncsPerCaller, keysPerSync int) (*LatencyStats, error) {
	if len(f.Keys) == 0 {
		return nil, fmt.Errorf("fixture has no keys")
	}

	var wg sync.WaitGroup
	resultsChan := make(chan []time.Duration, numCallers)
	errorsChan := make(chan error, numCallers*syncsPerCaller*(keysPerSync+2))

	for i := 0; i < numCallers; i++ {
		wg.Add(1)
		go func(callerID int) {
			defer wg.Done()

			ctx := context.Background()
			rng := rand.New(rand.NewSource(int64(callerID) + 1))
			durations := make([]time.Duration, 0, syncsPerCaller)

			for j := 0; j < syncsPerCaller; j++ {
				keys := make([]string, keysPerSync)
				for k := range keys {
					key := f.Keys[rng.Intn(len(f.Keys))]
					keys[k] = key
					if err := f.Local.Set(ctx, key, generateValue(rng, callerID*1000+j)); err != nil {
						errorsChan <- fmt.Errorf("caller %d write %d failed: %w", callerID, j, err)
					}
				}

				// Mark the local store as the newer side, as the engine does
				// for an observed local change.
				if err := clock.Write(ctx, f.Local, time.Now()); err != nil {
					errorsChan <- fmt.Errorf("caller %d clock %d failed: %w", callerID, j, err)
				}

				start := time.Now()
				_, err := f.Engine.SyncKeys(ctx, keys)
				durations = append(durations, time.Since(start))
				if err != nil {
					errorsChan <- fmt.Errorf("caller %d sync %d failed: %w", callerID, j, err)
				}
			}

			resultsChan <- durations
		}(i)
	}

	wg.Wait()
	close(resultsChan)
	close(errorsChan)

	var allDurations []time.Duration
	for durations := range resultsChan {
		allDurations = append(allDurations, durations...)
	}
	if len(allDurations) == 0 {
		return nil, fmt.Errorf("no syncs completed")
	}

	stats := computeLatencyStats(allDurations)
	for range errorsChan {
		stats.Errors++
	}
	return stats, nil
}

// VerifyConvergence checks that both stores hold the same pairs, not
// counting the sync clock.
func (f *Fixture) VerifyConvergence(ctx context.Context) error {
	local, err := f.Local.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to snapshot local store: %w", err)
	}
	remote, err := f.Remote.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to snapshot remote store: %w", err)
	}
	delete(local, clock.Key)
	delete(remote, clock.Key)

	if len(local) != len(remote) {
		return fmt.Errorf("stores diverged: %d local keys, %d remote keys", len(local), len(remote))
	}
	for k, v := range local {
		if !kv.Equal(v, remote[k]) {
			return fmt.Errorf("stores diverged at %s: local %s, remote %s", k, kv.Format(v), kv.Format(remote[k]))
		}
	}
	return nil
}

// generateValue returns a deterministic value whose type cycles through
// the stored kinds.
func generateValue(rng *rand.Rand, i int) kv.Value {
	switch i % 6 {
	case 0:
		return fmt.Sprintf("value-%d-%d", i, rng.Intn(1000))
	case 1:
		return int64(rng.Intn(1 << 20))
	case 2:
		return rng.Float64()
	case 3:
		return rng.Intn(2) == 0
	case 4:
		return time.Unix(1_700_000_000+int64(rng.Intn(1_000_000)), 0).UTC()
	default:
		return map[string]any{
			"n":    int64(i),
			"tags": []any{"loadtest", fmt.Sprintf("batch-%d", i/100)},
		}
	}
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
		Mean:       sum / time.Duration(len(durations)),
		P50:        sorted[len(sorted)*50/100],
		P95:        sorted[len(sorted)*95/100],
		P99:        sorted[len(sorted)*99/100],
		TotalSyncs: len(durations),
		Durations:  sorted,
	}
}

// PrintStats formats latency statistics to w.
func (s *LatencyStats) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Latency Statistics:\n")
	fmt.Fprintf(w, "  Total Syncs:   %d\n", s.TotalSyncs)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
