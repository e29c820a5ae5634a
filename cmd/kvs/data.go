package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/kvsync/internal/clock"
	"github.com/steveyegge/kvsync/internal/kv"
	"github.com/steveyegge/kvsync/internal/migrate"
	"github.com/steveyegge/kvsync/internal/ui"
)

var getCmd = &cobra.Command{
	Use:     "get <local|remote> <key>",
	GroupID: "data",
	Short:   "Print a value from one store",
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		store := mustOpenStore(args[0])
		defer store.Close()

		value, ok, err := store.Get(context.Background(), args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", args[1], err)
			os.Exit(1)
		}
		if !ok {
			fmt.Fprintf(os.Stderr, "%s %s is not set in the %s store\n", ui.RenderWarn("⚠"), args[1], args[0])
			_ = store.Close()
			os.Exit(1)
		}

		kind, _ := kv.KindOf(value)
		fmt.Printf("%s %s\n", kv.Format(value), ui.RenderMuted("("+string(kind)+")"))
	},
}

var setCmd = &cobra.Command{
	Use:     "set <local|remote> <key> <value>",
	GroupID: "data",
	Short:   "Write a value to one store",
	Long: `Write a value to one store.

The value is a string unless --type says otherwise:
  kvs set local font_size 14 --type int
  kvs set local opened_at 2024-05-01T12:00:00Z --type time
  kvs set remote recent '["a.txt","b.txt"]' --type json

This is a plain store write: no sync clock is stamped. A running daemon
monitoring the key picks the change up and synchronizes it.`,
	Args: cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		typ, _ := cmd.Flags().GetString("type")
		if clock.IsKey(args[1]) {
			fmt.Fprintf(os.Stderr, "Error: %s is reserved for the sync clock\n", args[1])
			os.Exit(1)
		}

		value, err := parseValue(args[2], typ)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		store := mustOpenStore(args[0])
		defer store.Close()

		ctx := context.Background()
		if err := store.Set(ctx, args[1], value); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", args[1], err)
			os.Exit(1)
		}
		if err := store.Flush(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error flushing %s store: %v\n", args[0], err)
			os.Exit(1)
		}

		fmt.Printf("%s %s = %s\n", ui.RenderPass("✓"), args[1], kv.Format(value))
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <local|remote> <key>",
	GroupID: "data",
	Short:   "Remove a key from one store",
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		if clock.IsKey(args[1]) {
			fmt.Fprintf(os.Stderr, "Error: %s is reserved for the sync clock\n", args[1])
			os.Exit(1)
		}

		store := mustOpenStore(args[0])
		defer store.Close()

		ctx := context.Background()
		if err := store.Delete(ctx, args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "Error deleting %s: %v\n", args[1], err)
			os.Exit(1)
		}
		if err := store.Flush(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error flushing %s store: %v\n", args[0], err)
			os.Exit(1)
		}

		fmt.Printf("%s %s deleted\n", ui.RenderPass("✓"), args[1])
	},
}

var dumpCmd = &cobra.Command{
	Use:     "dump <local|remote>",
	GroupID: "data",
	Short:   "Print every pair in one store",
	Long: `Print every key-value pair in one store.

Formats: text (default), json, yaml, toml. In json, yaml and toml byte
values are shown as base64 and times as RFC 3339 strings; use export for a
lossless copy.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")
		all, _ := cmd.Flags().GetBool("all")

		store := mustOpenStore(args[0])
		defer store.Close()

		data, err := store.Snapshot(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading %s store: %v\n", args[0], err)
			os.Exit(1)
		}
		if !all {
			delete(data, clock.Key)
		}

		if format == "text" {
			for _, k := range sortedKeys(data) {
				fmt.Printf("%s = %s\n", ui.RenderAccent(k), kv.Format(data[k]))
			}
			return
		}
		if err := renderSnapshot(os.Stdout, data, format); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

var exportCmd = &cobra.Command{
	Use:     "export <local|remote> [file]",
	GroupID: "data",
	Short:   "Export one store to JSONL",
	Long: `Export one store to JSONL, one {"key":...,"value":...} record per line.

Values keep their exact types. Without a file the export is written to
stdout.`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		includeClock, _ := cmd.Flags().GetBool("include-clock")

		store := mustOpenStore(args[0])
		defer store.Close()

		ctx := context.Background()
		if len(args) == 1 {
			if _, err := migrate.Export(ctx, store, os.Stdout, includeClock); err != nil {
				fmt.Fprintf(os.Stderr, "Error exporting: %v\n", err)
				os.Exit(1)
			}
			return
		}

		n, err := migrate.ExportFile(ctx, store, args[1], includeClock)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error exporting: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Exported %d keys to %s\n", ui.RenderPass("✓"), n, args[1])
	},
}

var importCmd = &cobra.Command{
	Use:     "import <local|remote> <file>",
	GroupID: "data",
	Short:   "Import a JSONL export into one store",
	Long: `Import a JSONL export into one store.

Keys whose value already matches are left alone. With --prune, keys the
file does not contain are deleted. The sync clock entry is skipped unless
--include-clock is given.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		prune, _ := cmd.Flags().GetBool("prune")
		includeClock, _ := cmd.Flags().GetBool("include-clock")

		store := mustOpenStore(args[0])
		defer store.Close()

		ctx := context.Background()
		result, err := migrate.ImportFile(ctx, store, args[1], migrate.ImportOptions{
			DryRun:       dryRun,
			Prune:        prune,
			IncludeClock: includeClock,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error importing: %v\n", err)
			os.Exit(1)
		}
		if !dryRun {
			if err := store.Flush(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Error flushing %s store: %v\n", args[0], err)
				os.Exit(1)
			}
		}

		verb := "Imported"
		if dryRun {
			verb = "Would import"
		}
		fmt.Printf("%s %s %s\n", ui.RenderPass("✓"), verb, args[1])
		fmt.Printf("   Read: %d\n", result.Read)
		fmt.Printf("   Written: %d\n", result.Written)
		fmt.Printf("   Unchanged: %d\n", result.Unchanged)
		if prune {
			fmt.Printf("   Deleted: %d\n", result.Deleted)
		}
		if result.Skipped > 0 {
			fmt.Printf("   Skipped: %d\n", result.Skipped)
		}
		if len(result.Errors) > 0 {
			fmt.Printf("\n%s %d errors:\n", ui.RenderWarn("⚠"), len(result.Errors))
			for _, e := range result.Errors {
				fmt.Printf("   %s\n", e)
			}
			_ = store.Close()
			os.Exit(1)
		}
	},
}

func init() {
	setCmd.Flags().StringP("type", "t", "string", "Value type: string, int, float, bool, time or json")
	dumpCmd.Flags().StringP("format", "f", "text", "Output format: text, json, yaml or toml")
	dumpCmd.Flags().Bool("all", false, "Include the sync clock entry")
	exportCmd.Flags().Bool("include-clock", false, "Include the sync clock entry")
	importCmd.Flags().Bool("dry-run", false, "Show what would change without writing")
	importCmd.Flags().Bool("prune", false, "Delete keys not present in the file")
	importCmd.Flags().Bool("include-clock", false, "Import the sync clock entry")

	rootCmd.AddCommand(getCmd, setCmd, deleteCmd, dumpCmd, exportCmd, importCmd)
}
