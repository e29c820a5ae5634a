package main

import (
	"fmt"
	"os"

	"github.com/steveyegge/kvsync/internal/kv"
	"github.com/steveyegge/kvsync/internal/kv/replica"
	"github.com/steveyegge/kvsync/internal/kv/sqlite"
	kvsync "github.com/steveyegge/kvsync/internal/sync"
)

// closableStore is a kv.Store backed by an open database.
type closableStore interface {
	kv.Store
	Close() error
}

func openLocal() (*sqlite.Store, error) {
	store, err := sqlite.Open(cfg.Local.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	return store, nil
}

func openRemote() (*replica.Store, error) {
	store, err := replica.Open(replica.Config{
		Path:       cfg.Remote.Path,
		PrimaryURL: cfg.Remote.URL,
		AuthToken:  cfg.Remote.AuthToken,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open remote store: %w", err)
	}
	return store, nil
}

// openStore opens the store named by a command argument.
func openStore(name string) (closableStore, kv.Origin, error) {
	origin, err := kv.ParseOrigin(name)
	if err != nil {
		return nil, 0, err
	}
	if origin == kv.Local {
		store, err := openLocal()
		return store, origin, err
	}
	store, err := openRemote()
	return store, origin, err
}

// mustOpenStore opens the named store or exits.
func mustOpenStore(name string) closableStore {
	store, _, err := openStore(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return store
}

// mustOpenBoth opens both stores or exits.
func mustOpenBoth() (*sqlite.Store, *replica.Store) {
	local, err := openLocal()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	remote, err := openRemote()
	if err != nil {
		_ = local.Close()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return local, remote
}

func newEngine(local, remote kv.Store, listener kvsync.Listener) *kvsync.Engine {
	return kvsync.New(local, remote, &kvsync.Config{
		DebugLogging:           cfg.Sync.Debug,
		FlushRemoteImmediately: cfg.Sync.FlushRemoteImmediately,
		Logger:                 newLogger("kvsync"),
		Listener:               listener,
	})
}
