package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/kvsync/internal/daemon"
	"github.com/steveyegge/kvsync/internal/dashboard"
	kvsync "github.com/steveyegge/kvsync/internal/sync"
	"github.com/steveyegge/kvsync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the sync daemon in the foreground",
	Long: `Run the sync daemon in the foreground until interrupted.

The daemon will:
  1. Synchronize both stores once
  2. Start monitoring the configured keys
  3. Watch the local database for writes by other processes
  4. Poll the remote replica for writes by other devices
  5. Synchronize every monitored key that changes

Monitored keys come from sync.monitor in the config file or --monitor.
With --dashboard-port (or dashboard.port) a WebSocket feed of sync
activity is served on that port.`,
	Run: func(cmd *cobra.Command, args []string) {
		monitor := cfg.Sync.Monitor
		if cmd.Flags().Changed("monitor") {
			monitor, _ = cmd.Flags().GetStringSlice("monitor")
		}
		port := cfg.Dashboard.Port
		if cmd.Flags().Changed("dashboard-port") {
			port, _ = cmd.Flags().GetInt("dashboard-port")
		}

		if err := runDaemon(monitor, port); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
			os.Exit(1)
		}
	},
}

func runDaemon(monitor []string, port int) error {
	local, remote := mustOpenBoth()
	defer local.Close()
	defer remote.Close()

	var listener kvsync.Listener
	if port > 0 {
		server := dashboard.NewServer(&dashboard.Config{
			Port:   port,
			Logger: newLogger("dashboard"),
		})
		listener = dashboard.NewHandler(server, newLogger("dashboard"))

		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		defer func() {
			if err := server.Stop(); err != nil {
				fmt.Fprintf(os.Stderr, "Error stopping dashboard: %v\n", err)
			}
		}()
	}

	engine := newEngine(local, remote, listener)
	defer engine.Close()

	d, err := daemon.New(engine, local, cfg.Local.Path, remote, &daemon.Config{
		DebounceInterval: cfg.Daemon.Debounce,
		PollInterval:     cfg.Remote.PollInterval,
		Monitor:          monitor,
		Logger:           newLogger("daemon"),
	})
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	fmt.Printf("%s Starting kvsync daemon...\n", ui.RenderAccent("🚀"))
	fmt.Printf("   Local: %s\n", cfg.Local.Path)
	fmt.Printf("   Remote: %s\n", cfg.Remote.Path)
	if len(monitor) > 0 {
		fmt.Printf("   Monitoring: %s\n", strings.Join(monitor, ", "))
	} else {
		fmt.Printf("   Monitoring: %s\n", ui.RenderWarn("no keys (changes will not sync automatically)"))
	}
	if port > 0 {
		fmt.Printf("   Dashboard: ws://localhost:%d/ws\n", port)
	}
	fmt.Printf("\nPress Ctrl+C to stop\n\n")

	ctx, cancel := signalContext()
	defer cancel()

	// Blocks until interrupted.
	return d.Start(ctx)
}

func init() {
	daemonCmd.Flags().StringSlice("monitor", nil, "Keys to sync automatically (comma-separated)")
	daemonCmd.Flags().IntP("dashboard-port", "p", 0, "Serve the WebSocket dashboard on this port (0 = disabled)")
	rootCmd.AddCommand(daemonCmd)
}
