// Package observe tracks which keys are monitored for automatic sync and
// keeps their change subscriptions on both stores in step with that set.
//
// A monitored key normally has a live subscription on the local and the
// remote store. While the sync engine writes a key it suppresses the key's
// subscriptions, so its own write is not reported back as a change, and
// restores them as soon as the write is done.
package observe

import (
	"log"
	"os"
	"sort"
	"sync"

	"github.com/steveyegge/kvsync/internal/clock"
	"github.com/steveyegge/kvsync/internal/kv"
)

// Config holds registry options.
type Config struct {
	// DebugLogging enables subscribe/unsubscribe log lines.
	DebugLogging bool

	// Logger receives diagnostic output (nil = stderr).
	Logger *log.Logger
}

// Registry owns the monitored key set and the registration of change
// subscriptions for those keys on both stores.
type Registry struct {
	notifiers [2]*kv.Notifier // indexed by kv.Origin
	debug     bool
	logger    *log.Logger

	mu         sync.Mutex
	monitored  map[string]struct{}
	suppressed map[string]int // suppression depth per key
}

// New creates an empty registry over the change feeds of the local and
// remote stores.
func New(local, remote *kv.Notifier, cfg *Config) *Registry {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[observe] ", log.LstdFlags)
	}
	return &Registry{
		notifiers:  [2]*kv.Notifier{kv.Local: local, kv.Remote: remote},
		debug:      cfg.DebugLogging,
		logger:     logger,
		monitored:  make(map[string]struct{}),
		suppressed: make(map[string]int),
	}
}

// Monitor adds keys to the monitored set and registers observation for
// each key that was not already monitored. The clock key is skipped. It
// returns the newly added keys in input order.
func (r *Registry) Monitor(keys []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var added []string
	for _, key := range keys {
		if clock.IsKey(key) {
			continue
		}
		if _, ok := r.monitored[key]; ok {
			continue
		}
		r.monitored[key] = struct{}{}
		added = append(added, key)

		if r.suppressed[key] == 0 {
			r.register(key)
		}
	}
	return added
}

// Unmonitor removes keys from the monitored set and tears down their
// observation. It returns the keys that were actually removed.
func (r *Registry) Unmonitor(keys []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for _, key := range keys {
		if _, ok := r.monitored[key]; !ok {
			continue
		}
		delete(r.monitored, key)
		removed = append(removed, key)
		r.unregister(key)
	}
	return removed
}

// WithSuppressed tears down the observation of key on both stores, runs
// body, and re-registers the observation if key is still monitored.
// Restoration is deferred, so it happens even when body returns an error
// or panics. Nested calls for the same key are allowed; observation is
// restored when the outermost call returns.
func (r *Registry) WithSuppressed(key string, body func() error) error {
	r.acquire(key)
	defer r.release(key)
	return body()
}

func (r *Registry) acquire(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.suppressed[key]++
	if r.suppressed[key] == 1 {
		r.unregister(key)
	}
}

func (r *Registry) release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.suppressed[key]--
	if r.suppressed[key] > 0 {
		return
	}
	delete(r.suppressed, key)
	if _, ok := r.monitored[key]; ok {
		r.register(key)
	}
}

// IsMonitored reports whether key is in the monitored set.
func (r *Registry) IsMonitored(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.monitored[key]
	return ok
}

// Monitored returns the monitored keys in sorted order.
func (r *Registry) Monitored() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.monitored))
	for k := range r.monitored {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Registered reports whether key has a live subscription on the given
// store.
func (r *Registry) Registered(origin kv.Origin, key string) bool {
	return r.notifiers[origin].Subscribed(key)
}

// Close tears down every observation and empties the monitored set.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.monitored {
		r.unregister(key)
	}
	r.monitored = make(map[string]struct{})
}

// register subscribes key on both stores. Caller holds r.mu.
func (r *Registry) register(key string) {
	changed := false
	for _, n := range r.notifiers {
		if n.Subscribe(key) {
			changed = true
		}
	}
	if changed && r.debug {
		r.logger.Printf("Subscribed '%s' for observation.", key)
	}
}

// unregister unsubscribes key on both stores. Caller holds r.mu.
func (r *Registry) unregister(key string) {
	changed := false
	for _, n := range r.notifiers {
		if n.Unsubscribe(key) {
			changed = true
		}
	}
	if changed && r.debug {
		r.logger.Printf("Unsubscribed '%s' from observation.", key)
	}
}
