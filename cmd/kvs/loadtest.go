package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/kvsync/internal/loadtest"
	"github.com/steveyegge/kvsync/internal/ui"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "setup",
	Short:   "Measure sync latency under concurrent callers",
	Long: `Measure sync latency with scratch stores in a temporary directory.

The local store is filled with --keys values and synchronized once. Then
--callers goroutines each run --syncs rounds of writing --batch random keys
and synchronizing them. Latency percentiles are reported and both stores
are checked for convergence. Configured stores are not touched.`,
	Annotations: map[string]string{skipConfig: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		numKeys, _ := cmd.Flags().GetInt("keys")
		callers, _ := cmd.Flags().GetInt("callers")
		syncs, _ := cmd.Flags().GetInt("syncs")
		batch, _ := cmd.Flags().GetInt("batch")

		if err := runLoadtest(numKeys, callers, syncs, batch); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func runLoadtest(numKeys, callers, syncs, batch int) error {
	dir, err := os.MkdirTemp("", "kvs-loadtest-")
	if err != nil {
		return fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(dir)

	fmt.Printf("%s Populating %d keys...\n", ui.RenderAccent("🔄"), numKeys)
	start := time.Now()
	f, err := loadtest.CreateFixture(dir, numKeys)
	if err != nil {
		return err
	}
	defer f.Close()
	fmt.Printf("   Initial sync in %v\n\n", time.Since(start).Round(time.Millisecond))

	fmt.Printf("%s %d callers x %d syncs of %d keys\n\n", ui.RenderAccent("🚀"), callers, syncs, batch)
	stats, err := f.RunConcurrentSyncs(callers, syncs, batch)
	if err != nil {
		return err
	}
	stats.PrintStats(os.Stdout)
	fmt.Println()

	if err := f.VerifyConvergence(context.Background()); err != nil {
		return err
	}
	if stats.Errors > 0 {
		return fmt.Errorf("%d operations failed", stats.Errors)
	}
	fmt.Printf("%s Stores converged\n", ui.RenderPass("✓"))
	return nil
}

func init() {
	loadtestCmd.Flags().Int("keys", 1000, "Number of keys to populate")
	loadtestCmd.Flags().Int("callers", 8, "Number of concurrent callers")
	loadtestCmd.Flags().Int("syncs", 20, "Syncs per caller")
	loadtestCmd.Flags().Int("batch", 5, "Keys written and synced per round")
	rootCmd.AddCommand(loadtestCmd)
}
