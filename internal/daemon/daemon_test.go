package daemon

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/steveyegge/kvsync/internal/kv"
	"github.com/steveyegge/kvsync/internal/kv/sqlite"
	kvsync "github.com/steveyegge/kvsync/internal/sync"
)

// fakeEngine records calls.
type fakeEngine struct {
	mu        sync.Mutex
	syncErr   error
	syncs     int
	monitored []string
}

func (e *fakeEngine) SyncAll(ctx context.Context) (kvsync.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.syncs++
	return kvsync.Result{}, e.syncErr
}

func (e *fakeEngine) MonitorKeys(ctx context.Context, keys ...string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.monitored = append(e.monitored, keys...)
	return nil
}

// fakeSource returns canned change sets.
type fakeSource struct {
	mu       sync.Mutex
	changes  []string
	calls    int
	notifier *kv.Notifier
}

func newFakeSource(changes ...string) *fakeSource {
	return &fakeSource{changes: changes, notifier: kv.NewNotifier()}
}

func (s *fakeSource) Changes(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	out := s.changes
	s.changes = nil
	return out, nil
}

func (s *fakeSource) Pull(ctx context.Context) ([]string, error) {
	return s.Changes(ctx)
}

func (s *fakeSource) Notifier() *kv.Notifier {
	return s.notifier
}

func quietConfig() *Config {
	return &Config{
		DebounceInterval: 20 * time.Millisecond,
		Logger:           log.New(io.Discard, "", 0),
	}
}

func TestNew(t *testing.T) {
	engine := &fakeEngine{}
	local := newFakeSource()

	tests := []struct {
		name    string
		engine  Engine
		local   ChangeSource
		path    string
		wantErr bool
	}{
		{"valid configuration", engine, local, "local.db", false},
		{"nil engine", nil, local, "local.db", true},
		{"nil local store", engine, nil, "local.db", true},
		{"empty path", engine, local, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.engine, tt.local, tt.path, nil, quietConfig())
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if d != nil {
				_ = d.Stop()
			}
		})
	}
}

func TestNew_DefaultConfig(t *testing.T) {
	d, err := New(&fakeEngine{}, newFakeSource(), "local.db", nil, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer d.Stop()

	if d.config.DebounceInterval != 100*time.Millisecond {
		t.Errorf("DebounceInterval = %v, want 100ms", d.config.DebounceInterval)
	}
}

func TestProcessPendingChanges_Debounces(t *testing.T) {
	local := newFakeSource("a", "b")
	d, err := New(&fakeEngine{}, local, "local.db", nil, quietConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer d.Stop()

	var published [][]string
	local.notifier.SetHandler(func(keys []string) { published = append(published, keys) })
	local.notifier.Subscribe("a")
	local.notifier.Subscribe("b")

	// A fresh event holds the batch back.
	d.queueChange("local.db-wal")
	d.processPendingChanges()
	if local.calls != 0 {
		t.Fatal("changes collected before the debounce interval elapsed")
	}

	// Once quiet, the changes are collected and published as one batch.
	d.changeQueueMu.Lock()
	d.changeQueue["local.db-wal"] = time.Now().Add(-time.Second)
	d.changeQueueMu.Unlock()
	d.processPendingChanges()

	if want := [][]string{{"a", "b"}}; !reflect.DeepEqual(published, want) {
		t.Errorf("published = %v, want %v", published, want)
	}
	if len(d.changeQueue) != 0 {
		t.Error("change queue should be empty after processing")
	}
}

func TestPullRemote_Publishes(t *testing.T) {
	remote := newFakeSource("theme")
	d, err := New(&fakeEngine{}, newFakeSource(), "local.db", remote, quietConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer d.Stop()

	var published [][]string
	remote.notifier.SetHandler(func(keys []string) { published = append(published, keys) })
	remote.notifier.Subscribe("theme")

	d.pullRemote()
	d.pullRemote() // nothing new

	if want := [][]string{{"theme"}}; !reflect.DeepEqual(published, want) {
		t.Errorf("published = %v, want %v", published, want)
	}
}

func TestStart_InitialSyncFailure(t *testing.T) {
	engine := &fakeEngine{syncErr: errors.New("remote down")}
	d, err := New(engine, newFakeSource(), filepath.Join(t.TempDir(), "local.db"), nil, quietConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer d.Stop()

	if err := d.Start(context.Background()); err == nil {
		t.Error("Start() should fail when the initial sync fails")
	}
}

func TestStart_MonitorsConfiguredKeys(t *testing.T) {
	engine := &fakeEngine{}
	cfg := quietConfig()
	cfg.Monitor = []string{"theme", "font_size"}

	d, err := New(engine, newFakeSource(), filepath.Join(t.TempDir(), "local.db"), nil, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		engine.mu.Lock()
		n := len(engine.monitored)
		engine.mu.Unlock()
		if n == 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start() returned %v", err)
	}

	engine.mu.Lock()
	defer engine.mu.Unlock()
	if engine.syncs != 1 {
		t.Errorf("initial syncs = %d, want 1", engine.syncs)
	}
	if !reflect.DeepEqual(engine.monitored, cfg.Monitor) {
		t.Errorf("monitored = %v, want %v", engine.monitored, cfg.Monitor)
	}
}

// TestDaemon_SyncsExternalLocalWrites runs the whole pipeline: a second
// process writes the local database, the daemon notices through fsnotify,
// and the engine pushes the value to the remote store.
func TestDaemon_SyncsExternalLocalWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.db")
	local, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("sqlite.Open() failed: %v", err)
	}
	defer local.Close()
	remote := kv.NewMemory()

	engine := kvsync.New(local, remote, &kvsync.Config{
		FlushRemoteImmediately: true,
		Logger:                 log.New(io.Discard, "", 0),
	})
	defer engine.Close()

	cfg := quietConfig()
	cfg.Monitor = []string{"theme"}
	d, err := New(engine, local, path, nil, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Wait for the daemon to be watching.
	deadline := time.Now().Add(2 * time.Second)
	for !d.watcher.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("daemon did not start watching")
		}
		time.Sleep(5 * time.Millisecond)
	}

	writer, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("second sqlite.Open() failed: %v", err)
	}
	defer writer.Close()
	if err := writer.Set(context.Background(), "theme", "dark"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	deadline = time.Now().Add(5 * time.Second)
	for {
		v, ok, _ := remote.Get(context.Background(), "theme")
		if ok && v == "dark" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("remote theme = %v (present %v), want dark", v, ok)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
