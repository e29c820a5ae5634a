package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"github.com/steveyegge/kvsync/internal/clock"
	"github.com/steveyegge/kvsync/internal/executor"
	"github.com/steveyegge/kvsync/internal/kv"
	"github.com/steveyegge/kvsync/internal/observe"
)

// Config holds engine options.
type Config struct {
	// DebugLogging enables diagnostic log lines: sync start and finish,
	// every key written, and observation subscribe/unsubscribe.
	DebugLogging bool

	// FlushRemoteImmediately flushes the remote store after every batch
	// written to it. When false, pushing is left to the remote store's
	// own schedule. The local store is always flushed.
	FlushRemoteImmediately bool

	// Logger receives diagnostic output (nil = stderr, "[kvsync] ").
	Logger *log.Logger

	// Now returns the time used to stamp clock entries (nil = time.Now).
	Now func() time.Time

	// Listener receives sync and monitor events (optional).
	Listener Listener
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		FlushRemoteImmediately: true,
	}
}

// Engine synchronizes two stores. Create one per pair of stores and keep
// it for the life of the process; Close drains pending work and detaches
// it from both change feeds.
type Engine struct {
	stores   [2]kv.Store // indexed by kv.Origin
	registry *observe.Registry
	exec     *executor.Executor

	debug       bool
	flushRemote bool
	logger      *log.Logger
	now         func() time.Time
	listener    Listener

	closed atomic.Bool
}

// New creates an engine over local and remote and subscribes it to both
// stores' change feeds. A nil cfg uses DefaultConfig.
func New(local, remote kv.Store, cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[kvsync] ", log.LstdFlags)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	e := &Engine{
		stores: [2]kv.Store{kv.Local: local, kv.Remote: remote},
		registry: observe.New(local.Notifier(), remote.Notifier(), &observe.Config{
			DebugLogging: cfg.DebugLogging,
			Logger:       logger,
		}),
		exec:        executor.New(logger),
		debug:       cfg.DebugLogging,
		flushRemote: cfg.FlushRemoteImmediately,
		logger:      logger,
		now:         now,
		listener:    cfg.Listener,
	}

	local.Notifier().SetHandler(e.changeHandler(kv.Local))
	remote.Notifier().SetHandler(e.changeHandler(kv.Remote))
	return e
}

// Sync runs a full sync when no keys are given, otherwise a partial sync
// of the named keys. It blocks until the sync has finished.
func (e *Engine) Sync(ctx context.Context, keys ...string) (Result, error) {
	if len(keys) == 0 {
		return e.SyncAll(ctx)
	}
	return e.SyncKeys(ctx, keys)
}

// SyncAll copies every key of the authoritative store into the other
// store, deletes keys the authoritative store does not have, and stamps
// the destination clock.
func (e *Engine) SyncAll(ctx context.Context) (Result, error) {
	return e.run(func() (Result, error) {
		return e.syncAll(ctx, TriggerCall)
	})
}

// SyncKeys copies the named keys from the authoritative store into the
// other store. A key absent from the authoritative store is deleted from
// the other. An empty key list does nothing and leaves the clocks alone.
func (e *Engine) SyncKeys(ctx context.Context, keys []string) (Result, error) {
	return e.run(func() (Result, error) {
		return e.syncKeys(ctx, keys, TriggerCall)
	})
}

// MonitorKeys starts automatic sync for keys. The clock key is ignored.
func (e *Engine) MonitorKeys(ctx context.Context, keys ...string) error {
	return e.submit(func() {
		if added := e.registry.Monitor(keys); len(added) > 0 {
			e.notifyMonitor()
		}
	})
}

// UnmonitorKeys stops automatic sync for keys.
func (e *Engine) UnmonitorKeys(ctx context.Context, keys ...string) error {
	return e.submit(func() {
		if removed := e.registry.Unmonitor(keys); len(removed) > 0 {
			e.notifyMonitor()
		}
	})
}

// Monitored returns the monitored keys, sorted.
func (e *Engine) Monitored() []string {
	return e.registry.Monitored()
}

// Close waits for every queued sync to finish, then tears down all
// observations and detaches the engine from both stores. It is safe to
// call more than once.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.exec.Shutdown()
	e.registry.Close()
	for _, s := range e.stores {
		s.Notifier().SetHandler(nil)
	}
	return nil
}

func (e *Engine) run(fn func() (Result, error)) (Result, error) {
	var (
		res    Result
		runErr error
	)
	if err := e.submit(func() { res, runErr = fn() }); err != nil {
		return Result{Outcome: OutcomeFailed}, err
	}
	return res, runErr
}

func (e *Engine) submit(task func()) error {
	err := e.exec.Submit(task)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, executor.ErrClosed):
		return ErrClosed
	default:
		return fmt.Errorf("sync task failed: %w", err)
	}
}

// changeHandler returns the change-feed handler for the store at origin.
// It runs on the notifying goroutine: it only reads state to decide
// whether to act and then enqueues the sync.
func (e *Engine) changeHandler(origin kv.Origin) kv.ChangeHandler {
	return func(changed []string) {
		var keys []string
		for _, k := range changed {
			if clock.IsKey(k) || !e.registry.IsMonitored(k) {
				continue
			}
			keys = append(keys, k)
		}
		if len(keys) == 0 {
			return
		}

		if origin == kv.Remote {
			local, remote, err := e.readClocks(context.Background())
			if err != nil {
				e.logger.Printf("WARNING: Ignoring remote change to %v: %v", keys, err)
				return
			}
			if !remote.After(local) {
				e.debugf("Ignoring remote change to %v: remote clock %s is not newer than local clock %s.", keys, remote, local)
				return
			}
		}

		err := e.exec.SubmitAsync(func() {
			ctx := context.Background()
			if origin == kv.Local {
				if err := clock.Write(ctx, e.stores[kv.Local], e.now()); err != nil {
					e.logger.Printf("WARNING: Failed to stamp local clock: %v", err)
				}
			}
			if _, err := e.syncKeys(ctx, keys, triggerFor(origin)); err != nil {
				e.logger.Printf("WARNING: Automatic sync of %v failed: %v", keys, err)
			}
		})
		if err != nil && !errors.Is(err, executor.ErrClosed) {
			e.logger.Printf("WARNING: Failed to queue sync of %v: %v", keys, err)
		}
	}
}

// syncAll runs on the worker.
func (e *Engine) syncAll(ctx context.Context, trigger Trigger) (res Result, err error) {
	res = Result{Trigger: trigger, Full: true, Started: e.now()}
	defer func() { e.finish(&res, err) }()

	src, err := e.authoritative(ctx)
	if err != nil {
		return res, err
	}
	res.Source = src
	dst := src.Other()

	from, err := e.stores[src].Snapshot(ctx)
	if err != nil {
		return res, fmt.Errorf("%w: failed to snapshot %s store: %w", ErrStoreUnavailable, src, err)
	}
	to, err := e.stores[dst].Snapshot(ctx)
	if err != nil {
		return res, fmt.Errorf("%w: failed to snapshot %s store: %w", ErrStoreUnavailable, dst, err)
	}

	e.debugf("Beginning synchronization %s.", direction(src))

	var errs []error
	for _, key := range sortedKeys(from) {
		if clock.IsKey(key) {
			continue
		}
		prev, had := to[key]
		if err := e.copyKey(ctx, &res, key, from[key], true, prev, had); err != nil {
			errs = append(errs, err)
		}
	}
	for _, key := range sortedKeys(to) {
		if clock.IsKey(key) {
			continue
		}
		if _, ok := from[key]; ok {
			continue
		}
		if err := e.copyKey(ctx, &res, key, nil, false, to[key], true); err != nil {
			errs = append(errs, err)
		}
	}

	return res, e.complete(ctx, &res, errs)
}

// syncKeys runs on the worker.
func (e *Engine) syncKeys(ctx context.Context, keys []string, trigger Trigger) (res Result, err error) {
	res = Result{Trigger: trigger, Started: e.now()}

	keys = uniqueKeys(keys)
	if len(keys) == 0 {
		return res, nil
	}
	defer func() { e.finish(&res, err) }()

	src, err := e.authoritative(ctx)
	if err != nil {
		return res, err
	}
	res.Source = src
	dst := src.Other()

	e.debugf("Beginning synchronization %s.", direction(src))

	var errs []error
	for _, key := range keys {
		value, present, err := e.stores[src].Get(ctx, key)
		if err != nil {
			res.Failed++
			errs = append(errs, fmt.Errorf("failed to read %q from %s store: %w", key, src, err))
			continue
		}
		prev, had, err := e.stores[dst].Get(ctx, key)
		if err != nil {
			// Unknown destination state: write unconditionally.
			prev, had = nil, true
		}
		if err := e.copyKey(ctx, &res, key, value, present, prev, had); err != nil {
			errs = append(errs, err)
		}
	}

	return res, e.complete(ctx, &res, errs)
}

// copyKey writes value (or deletes key when !present) into the
// destination store with the key's observation suppressed, and records
// the effect in res.
func (e *Engine) copyKey(ctx context.Context, res *Result, key string, value kv.Value, present bool, prev kv.Value, had bool) error {
	dst := e.stores[res.Destination()]

	if !present && !had {
		res.Unchanged++
		return nil
	}

	err := e.registry.WithSuppressed(key, func() error {
		if present {
			return dst.Set(ctx, key, value)
		}
		return dst.Delete(ctx, key)
	})
	if err != nil {
		res.Failed++
		return fmt.Errorf("failed to write %q to %s store: %w", key, res.Destination(), err)
	}

	switch {
	case !present:
		res.Deleted++
		res.Keys = append(res.Keys, key)
		e.debugf("Synchronized key '%s' with value 'nil' %s.", key, direction(res.Source))
	case had && kv.Equal(prev, value):
		res.Unchanged++
	default:
		res.Written++
		res.Keys = append(res.Keys, key)
		e.debugf("Synchronized key '%s' with value '%s' %s.", key, kv.Format(value), direction(res.Source))
	}
	return nil
}

// complete stamps and flushes the destination once a batch has been
// written. A batch with write failures is flushed but not stamped.
func (e *Engine) complete(ctx context.Context, res *Result, errs []error) error {
	dst := res.Destination()

	if len(errs) == 0 {
		if err := clock.Write(ctx, e.stores[dst], e.now()); err != nil {
			errs = append(errs, err)
		}
	}

	var flushErr error
	if dst == kv.Local || e.flushRemote {
		if err := e.stores[dst].Flush(ctx); err != nil {
			flushErr = fmt.Errorf("%w: failed to flush %s store: %w", ErrStoreUnavailable, dst, err)
		}
	}

	sort.Strings(res.Keys)

	switch {
	case len(errs) > 0:
		return fmt.Errorf("%w: %w", ErrPartialSync, errors.Join(append(errs, flushErr)...))
	case flushErr != nil:
		return flushErr
	}

	if res.Written+res.Deleted > 0 {
		res.Outcome = OutcomeSynced
	}
	e.debugf("Finished synchronization %s.", direction(res.Source))
	return nil
}

func (e *Engine) finish(res *Result, err error) {
	if err != nil {
		res.Outcome = OutcomeFailed
	}
	res.Duration = e.now().Sub(res.Started)
	if e.listener != nil {
		e.listener.SyncCompleted(*res, err)
	}
}

func (e *Engine) notifyMonitor() {
	if e.listener != nil {
		e.listener.MonitorChanged(e.registry.Monitored())
	}
}

// authoritative reads both clocks and resolves the sync direction.
func (e *Engine) authoritative(ctx context.Context) (kv.Origin, error) {
	local, remote, err := e.readClocks(ctx)
	if err != nil {
		return kv.Local, err
	}
	return clock.Authoritative(local, remote), nil
}

func (e *Engine) readClocks(ctx context.Context) (local, remote clock.Stamp, err error) {
	local, err = clock.Read(ctx, e.stores[kv.Local])
	if err != nil {
		return local, remote, fmt.Errorf("%w: local: %w", ErrStoreUnavailable, err)
	}
	remote, err = clock.Read(ctx, e.stores[kv.Remote])
	if err != nil {
		return local, remote, fmt.Errorf("%w: remote: %w", ErrStoreUnavailable, err)
	}
	return local, remote, nil
}

func (e *Engine) debugf(format string, args ...any) {
	if e.debug {
		e.logger.Printf(format, args...)
	}
}

// direction describes a sync relative to the remote store.
func direction(src kv.Origin) string {
	if src == kv.Local {
		return "TO remote"
	}
	return "FROM remote"
}

func sortedKeys(m map[string]kv.Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// uniqueKeys drops duplicates and the clock key, keeping first-seen order.
func uniqueKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if clock.IsKey(k) {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
