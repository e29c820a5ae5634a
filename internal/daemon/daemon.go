package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/steveyegge/kvsync/internal/kv"
	kvsync "github.com/steveyegge/kvsync/internal/sync"
)

// Engine is the part of the sync engine the daemon drives.
type Engine interface {
	SyncAll(ctx context.Context) (kvsync.Result, error)
	MonitorKeys(ctx context.Context, keys ...string) error
}

// ChangeSource reports keys changed by writers outside this process.
// sqlite.Store implements it for the local database.
type ChangeSource interface {
	Changes(ctx context.Context) ([]string, error)
	Notifier() *kv.Notifier
}

// Puller pulls from a replicated store and reports the keys the pull
// changed. replica.Store implements it.
type Puller interface {
	Pull(ctx context.Context) ([]string, error)
	Notifier() *kv.Notifier
}

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long the database file must be quiet before
	// its changes are collected. This batches rapid writes together.
	DebounceInterval time.Duration

	// PollInterval is how often the remote replica is pulled. Zero
	// disables polling.
	PollInterval time.Duration

	// Monitor lists the keys to sync automatically.
	Monitor []string

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 100 * time.Millisecond,
		PollInterval:     30 * time.Second,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon turns external writes to either store into change notifications
// for the sync engine. Local writes are found by watching the database
// file; remote writes by polling the replica.
type Daemon struct {
	engine    Engine
	local     ChangeSource
	localPath string
	remote    Puller
	config    *Config

	watcher       *FileWatcher
	changeQueue   map[string]time.Time // path -> last event
	changeQueueMu sync.Mutex

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a daemon. remote may be nil, in which case no polling
// happens.
//
// Use Start() to begin watching and syncing.
func New(engine Engine, local ChangeSource, localPath string, remote Puller, config *Config) (*Daemon, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if local == nil {
		return nil, fmt.Errorf("local store cannot be nil")
	}
	if localPath == "" {
		return nil, fmt.Errorf("localPath cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}

	watcher, err := NewFileWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		engine:      engine,
		local:       local,
		localPath:   localPath,
		remote:      remote,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Perform a full sync
// 2. Start monitoring the configured keys
// 3. Watch the local database file and pull the remote replica
//
// This blocks until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	res, err := d.engine.SyncAll(ctx)
	if err != nil {
		return fmt.Errorf("initial sync failed: %w", err)
	}
	d.config.Logger.Printf("Initial sync: %s", res)

	if err := d.engine.MonitorKeys(ctx, d.config.Monitor...); err != nil {
		return fmt.Errorf("failed to monitor keys: %w", err)
	}
	if len(d.config.Monitor) > 0 {
		d.config.Logger.Printf("Monitoring %d keys", len(d.config.Monitor))
	}

	if err := d.watcher.Start(d.localPath); err != nil {
		return fmt.Errorf("failed to watch local database: %w", err)
	}
	d.config.Logger.Printf("Watching: %s", d.localPath)

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChangeQueue()

	if d.remote != nil && d.config.PollInterval > 0 {
		d.wg.Add(1)
		go d.pollRemote()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. It is safe to call more than
// once.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")

		d.cancel()

		if err := d.watcher.Stop(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}

		d.wg.Wait()

		d.config.Logger.Println("Daemon stopped")
	})
	return nil
}

// watchFileEvents queues database file events.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	events, errs := d.watcher.Events(), d.watcher.Errors()
	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			d.queueChange(event.Path)

		case err, ok := <-errs:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange records a file event for debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue collects local changes once the file has been quiet
// for DebounceInterval.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges publishes the keys changed by other writers once
// every queued event is older than the debounce interval.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	if len(d.changeQueue) == 0 {
		d.changeQueueMu.Unlock()
		return
	}
	now := time.Now()
	for _, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			d.changeQueueMu.Unlock()
			return
		}
	}
	d.changeQueue = make(map[string]time.Time)
	d.changeQueueMu.Unlock()

	keys, err := d.local.Changes(d.ctx)
	if err != nil {
		d.config.Logger.Printf("Error reading local changes: %v", err)
		return
	}
	if len(keys) == 0 {
		return
	}

	d.config.Logger.Printf("Local changes: %v", keys)
	d.local.Notifier().Publish(keys)
}

// pollRemote periodically pulls the replica and publishes what changed.
func (d *Daemon) pollRemote() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.pullRemote()
		}
	}
}

func (d *Daemon) pullRemote() {
	keys, err := d.remote.Pull(d.ctx)
	if err != nil {
		d.config.Logger.Printf("Error pulling remote: %v", err)
		return
	}
	if len(keys) == 0 {
		return
	}

	d.config.Logger.Printf("Remote changes: %v", keys)
	d.remote.Notifier().Publish(keys)
}
