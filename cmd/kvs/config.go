package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/kvsync/internal/config"
	"github.com/steveyegge/kvsync/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Manage kvs configuration",
}

var configInitCmd = &cobra.Command{
	Use:         "init [path]",
	Short:       "Write a starter config file",
	Long:        `Write a config file holding the defaults to path (default ./.kvsync/config.toml).`,
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{skipConfig: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		path := config.DefaultPath
		if len(args) == 1 {
			path = args[0]
		}

		if err := config.Init(path); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after applying defaults, the config file and
KVSYNC_* environment variables. The auth token is masked.`,
	Run: func(cmd *cobra.Command, args []string) {
		source := "defaults"
		if cfg.File != "" {
			source = cfg.File
		}
		fmt.Printf("# source: %s\n\n", source)

		if err := cfg.Redacted().WriteTOML(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
