// Package clock implements the sync clock convention: a single reserved key,
// present in both stores, holding the time of the last successful sync
// write to that store. Comparing the two entries decides which store is
// authoritative.
package clock

import (
	"context"
	"fmt"
	"time"

	"github.com/steveyegge/kvsync/internal/kv"
)

// Key is the reserved key holding a store's sync clock. It is never
// monitored and never copied as ordinary data.
const Key = "kvsync.clock"

// IsKey reports whether key is the reserved clock key.
func IsKey(key string) bool {
	return key == Key
}

// Stamp is a clock entry as read from a store. Valid is false when the
// store has never been synced.
type Stamp struct {
	Time  time.Time
	Valid bool
}

// At returns a valid stamp for t.
func At(t time.Time) Stamp {
	return Stamp{Time: t, Valid: true}
}

// After reports whether s is strictly newer than other. A valid stamp is
// newer than an absent one; an absent stamp is never newer.
func (s Stamp) After(other Stamp) bool {
	if !s.Valid {
		return false
	}
	if !other.Valid {
		return true
	}
	return s.Time.After(other.Time)
}

// String returns the stamp in RFC 3339 form, or "never".
func (s Stamp) String() string {
	if !s.Valid {
		return "never"
	}
	return s.Time.Format(time.RFC3339Nano)
}

// Read returns the clock entry of store. A missing entry, or one holding
// something other than a timestamp, reads as an absent stamp.
func Read(ctx context.Context, store kv.Store) (Stamp, error) {
	v, ok, err := store.Get(ctx, Key)
	if err != nil {
		return Stamp{}, fmt.Errorf("failed to read sync clock: %w", err)
	}
	if !ok {
		return Stamp{}, nil
	}
	t, ok := v.(time.Time)
	if !ok {
		return Stamp{}, nil
	}
	return At(t), nil
}

// Write stamps the clock entry of store with t.
func Write(ctx context.Context, store kv.Store, t time.Time) error {
	if err := store.Set(ctx, Key, t); err != nil {
		return fmt.Errorf("failed to write sync clock: %w", err)
	}
	return nil
}

// Authoritative picks the store whose data wins a sync.
//
//   - both present: the strictly newer stamp wins, ties go to Local
//   - only Local present: Local (an empty remote needs a first push)
//   - only Remote present: Remote
//   - neither present: Local (first sync ever pushes local state outward)
func Authoritative(local, remote Stamp) kv.Origin {
	if remote.After(local) {
		return kv.Remote
	}
	return kv.Local
}
