// Package kv defines the key-value store contract shared by the local and
// remote stores, the change feed every store exposes, and an in-memory
// implementation used as a fake in tests.
package kv

import (
	"context"
	"errors"
	"fmt"
)

// Origin identifies one of the two stores kept in sync.
type Origin int

const (
	// Local is the device-local, durable store.
	Local Origin = iota
	// Remote is the network-replicated store.
	Remote
)

// String returns a human-readable representation of the origin.
func (o Origin) String() string {
	switch o {
	case Local:
		return "local"
	case Remote:
		return "remote"
	default:
		return "unknown"
	}
}

// Other returns the opposite store.
func (o Origin) Other() Origin {
	if o == Local {
		return Remote
	}
	return Local
}

// ParseOrigin converts "local" or "remote" into an Origin.
func ParseOrigin(s string) (Origin, error) {
	switch s {
	case "local":
		return Local, nil
	case "remote":
		return Remote, nil
	default:
		return 0, fmt.Errorf("unknown store %q (want local or remote)", s)
	}
}

// ErrUnsupportedValue is returned when a value has a dynamic type that
// cannot be stored.
var ErrUnsupportedValue = errors.New("unsupported value type")

// Store is the capability set the sync engine consumes.
//
// Values are opaque: a store persists and returns them without
// interpretation. Absence is reported through the boolean result of Get,
// never through a nil value.
//
// Every successful Set or Delete must be published through the store's
// Notifier so that observers see writes made by anyone, including the
// sync engine itself.
type Store interface {
	// Get returns the value stored under key. ok is false when the key is
	// absent.
	Get(ctx context.Context, key string) (value Value, ok bool, err error)

	// Set stores value under key. A nil value deletes the key.
	Set(ctx context.Context, key string, value Value) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Snapshot returns every key-value pair currently in the store.
	Snapshot(ctx context.Context) (map[string]Value, error)

	// Flush makes previous writes durable (or pushes them to the network
	// for replicated stores).
	Flush(ctx context.Context) error

	// Notifier returns the store's change feed.
	Notifier() *Notifier
}
