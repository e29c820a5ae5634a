// Command kvs keeps a local and a remote key-value store in sync.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/kvsync/internal/config"
	"github.com/steveyegge/kvsync/internal/logging"
)

var (
	configPath string
	debugFlag  bool

	// Set by PersistentPreRun for every command that needs configuration.
	cfg    *config.Config
	logOut io.WriteCloser
)

// skipConfig marks commands that run without loading configuration.
const skipConfig = "skip-config"

var rootCmd = &cobra.Command{
	Use:   "kvs",
	Short: "Keep a local and a remote key-value store in sync",
	Long: `kvs synchronizes a device-local key-value store with a network-replicated
remote store.

Each store carries a sync clock: the time it was last brought up to date.
The store with the newer clock is authoritative and its values are copied
to the other one. Keys can be monitored so that a change in either store
is synchronized automatically while the daemon runs.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cmd.Annotations[skipConfig] == "true" {
			return
		}

		loaded, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		if debugFlag {
			loaded.Sync.Debug = true
		}
		cfg = loaded

		out, err := logging.Output(logging.Options{
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log: %v\n", err)
			os.Exit(1)
		}
		logOut = out
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logOut != nil {
			_ = logOut.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ./.kvsync/config.toml, then ~/.config/kvsync/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable diagnostic sync logging")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "data", Title: "Data:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)
}

// newLogger returns a logger for component writing to the configured
// log output.
func newLogger(component string) *log.Logger {
	if logOut == nil {
		return logging.New(os.Stderr, component)
	}
	return logging.New(logOut, component)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
