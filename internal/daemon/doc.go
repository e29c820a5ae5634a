// Package daemon runs the sync engine as a long-lived process.
//
// The engine reacts to change notifications, but nothing notifies it of
// writes made by other processes: another kvs command, an application
// sharing the local database, or another device writing through the
// remote primary. The daemon closes that gap.
//
// # Architecture
//
//   - FileWatcher: fsnotify watch on the local database file and its
//     -wal/-shm companions
//   - Daemon: debounces file events, asks the local store which keys
//     other writers changed, and publishes them on the local change
//     feed; polls the remote replica and publishes what each pull
//     changed on the remote change feed
//
// The engine filters those notifications to monitored keys and syncs
// them. Writes the engine makes itself are recorded by the SQL store and
// never reported back.
//
// # Usage
//
//	d, err := daemon.New(engine, local, localPath, remote, &daemon.Config{
//	    DebounceInterval: 100 * time.Millisecond,
//	    PollInterval:     30 * time.Second,
//	    Monitor:          []string{"theme", "font_size"},
//	})
//	if err != nil {
//	    return err
//	}
//
//	// Blocks until ctx is cancelled
//	return d.Start(ctx)
//
// # Graceful Shutdown
//
// Cancelling the context passed to Start, or calling Stop, stops the
// watcher and the poller and waits for their goroutines. Stop does not
// close the engine or the stores; their owner does.
package daemon
