package sync

import (
	"errors"
	"fmt"
	"time"

	"github.com/steveyegge/kvsync/internal/kv"
)

var (
	// ErrStoreUnavailable is returned when a store could not be read or
	// flushed.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrPartialSync is returned when one or more key writes failed. The
	// destination clock is left unstamped.
	ErrPartialSync = errors.New("partial sync")

	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("sync engine is closed")
)

// Outcome summarizes what a sync did.
type Outcome int

const (
	// OutcomeNoChange means no destination value differed, or there was
	// nothing to sync.
	OutcomeNoChange Outcome = iota
	// OutcomeSynced means at least one destination value changed.
	OutcomeSynced
	// OutcomeFailed means a store operation failed.
	OutcomeFailed
)

// String returns a human-readable representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeNoChange:
		return "no change"
	case OutcomeSynced:
		return "synced"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Trigger records what started a sync.
type Trigger int

const (
	// TriggerCall is an explicit Sync, SyncAll or SyncKeys call.
	TriggerCall Trigger = iota
	// TriggerLocalChange is a change notification from the local store.
	TriggerLocalChange
	// TriggerRemoteChange is a change notification from the remote store.
	TriggerRemoteChange
)

// String returns a human-readable representation of the trigger.
func (t Trigger) String() string {
	switch t {
	case TriggerCall:
		return "call"
	case TriggerLocalChange:
		return "local change"
	case TriggerRemoteChange:
		return "remote change"
	default:
		return "unknown"
	}
}

func triggerFor(origin kv.Origin) Trigger {
	if origin == kv.Remote {
		return TriggerRemoteChange
	}
	return TriggerLocalChange
}

// Result describes one completed sync.
type Result struct {
	Trigger Trigger
	Outcome Outcome

	// Source is the authoritative store values were copied from.
	Source kv.Origin

	// Full is true for a full-store sync.
	Full bool

	Written   int // destination values that changed
	Deleted   int // destination keys removed
	Unchanged int // keys whose destination value already matched
	Failed    int // keys whose read or write failed

	// Keys lists the keys whose destination value changed or was deleted,
	// sorted.
	Keys []string

	Started  time.Time
	Duration time.Duration
}

// Destination returns the store values were copied into.
func (r Result) Destination() kv.Origin {
	return r.Source.Other()
}

// String renders a one-line summary.
func (r Result) String() string {
	scope := "keys"
	if r.Full {
		scope = "full"
	}
	return fmt.Sprintf("%s (%s, %s -> %s): %d written, %d deleted, %d unchanged, %d failed",
		r.Outcome, scope, r.Source, r.Destination(), r.Written, r.Deleted, r.Unchanged, r.Failed)
}

// Listener receives engine events. Methods are called on the engine's
// worker goroutine and must not block or call back into the engine.
type Listener interface {
	// SyncCompleted is called after every sync task, with the error the
	// sync returned.
	SyncCompleted(res Result, err error)

	// MonitorChanged is called after the monitored key set changes.
	MonitorChanged(monitored []string)
}
