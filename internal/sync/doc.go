// Package sync keeps a local and a remote key-value store eventually
// consistent without a central coordinator.
//
// Overview
//
// Each store carries a clock entry (see package clock) holding the time of
// the last sync write to it. Every synchronization reads both clocks,
// picks the authoritative store, and copies values from it into the other
// store:
//
//	  Local store                 Remote store
//	  (sqlite)                    (libsql replica)
//	      │   change feed           │   change feed
//	      └──────────┐      ┌───────┘
//	                 ↓      ↓
//	           monitored-key filter
//	                    ↓
//	             serial executor ── one task at a time, FIFO
//	                    ↓
//	        clock.Authoritative(local, remote)
//	                    ↓
//	      copy values under suppression, stamp clock, flush
//
// Usage
//
//	engine := sync.New(local, remote, nil)
//	defer engine.Close()
//
//	// Full sync
//	res, err := engine.Sync(ctx)
//
//	// Partial sync of named keys
//	res, err = engine.Sync(ctx, "theme", "font_size")
//
//	// Automatic sync whenever either store reports a change
//	err = engine.MonitorKeys(ctx, "theme", "font_size")
//
// Feedback suppression
//
// The engine writes each key while that key's change subscriptions are
// torn down (observe.Registry.WithSuppressed), so its own writes never
// come back as change notifications. Subscriptions are restored right
// after each write.
//
// Error Handling
//
// Sync operations return a Result and an error:
//
//   - ErrStoreUnavailable: a clock or snapshot read failed, nothing was written
//   - ErrPartialSync: some key writes failed; the others were still
//     attempted and the destination clock was not stamped, so the next
//     sync retries in the same direction
//   - ErrClosed: the engine was closed
//
// Auto-syncs triggered by change notifications have no caller; their
// failures are logged and reported to the Listener.
//
// Concurrency
//
// All store writes, registry changes and clock updates made by the engine
// run on a single worker goroutine. Public calls block until their task
// has run; change notifications enqueue a task and return immediately.
package sync
