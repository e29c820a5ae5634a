package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/kvsync/internal/clock"
	"github.com/steveyegge/kvsync/internal/kv"
	kvsync "github.com/steveyegge/kvsync/internal/sync"
	"github.com/steveyegge/kvsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync [keys...]",
	GroupID: "sync",
	Short:   "Synchronize the local and remote stores",
	Long: `Synchronize the local and remote stores once.

Without arguments every key is synchronized: the authoritative store's
pairs are copied to the other store and keys it lacks are deleted there.
With arguments only the named keys are synchronized.

The authoritative store is the one whose sync clock is newer; on a tie,
or when neither store has been synchronized, the local store wins.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runSync(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error during sync: %v\n", err)
			os.Exit(1)
		}
	},
}

func runSync(keys []string) error {
	local, remote := mustOpenBoth()
	defer local.Close()
	defer remote.Close()

	engine := newEngine(local, remote, nil)
	defer engine.Close()

	res, err := engine.Sync(context.Background(), keys...)
	printResult(res)
	return err
}

func printResult(res kvsync.Result) {
	mark := ui.RenderPass("✓")
	switch res.Outcome {
	case kvsync.OutcomeFailed:
		mark = ui.RenderFail("✗")
	case kvsync.OutcomeNoChange:
		mark = ui.RenderMuted("•")
	}

	fmt.Printf("%s %s\n", mark, res)
	for _, key := range res.Keys {
		fmt.Printf("   %s\n", key)
	}
	if res.Duration > 0 {
		fmt.Printf("   %s\n", ui.RenderMuted(fmt.Sprintf("in %v", res.Duration.Round(time.Millisecond))))
	}
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show sync clocks and store sizes",
	Long: `Display the sync state of both stores.

Shows:
  - Store locations and key counts
  - Each store's sync clock
  - Which store the next sync will copy from`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		local, remote := mustOpenBoth()
		defer local.Close()
		defer remote.Close()

		localClock, err := clock.Read(ctx, local)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading local clock: %v\n", err)
			os.Exit(1)
		}
		remoteClock, err := clock.Read(ctx, remote)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading remote clock: %v\n", err)
			os.Exit(1)
		}

		localKeys, err := countKeys(ctx, local)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error counting local keys: %v\n", err)
			os.Exit(1)
		}
		remoteKeys, err := countKeys(ctx, remote)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error counting remote keys: %v\n", err)
			os.Exit(1)
		}

		mode := "file"
		if remote.Replicated() {
			mode = "replica of " + cfg.Remote.URL
		}

		source := clock.Authoritative(localClock, remoteClock)

		fmt.Printf("\n%s kvsync status\n\n", ui.RenderAccent("📊"))
		fmt.Println(ui.RenderField("Local:", fmt.Sprintf("%s (%d keys)", cfg.Local.Path, localKeys)))
		fmt.Println(ui.RenderField("Remote:", fmt.Sprintf("%s (%d keys, %s)", cfg.Remote.Path, remoteKeys, mode)))
		fmt.Println(ui.RenderField("Local clock:", localClock.String()))
		fmt.Println(ui.RenderField("Remote clock:", remoteClock.String()))
		fmt.Println(ui.RenderField("Next sync:", ui.RenderBold(fmt.Sprintf("%s -> %s", source, source.Other()))))
		if cfg.File != "" {
			fmt.Println(ui.RenderField("Config:", cfg.File))
		}
		fmt.Println()
	},
}

// countKeys counts the keys in store, not counting the sync clock.
func countKeys(ctx context.Context, store kv.Store) (int, error) {
	data, err := store.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	n := len(data)
	if _, ok := data[clock.Key]; ok {
		n--
	}
	return n, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
}
