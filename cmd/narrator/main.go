package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"narrator/internal/app"
	"narrator/internal/config"
	"narrator/internal/eventbus"
	logx "narrator/pkg/logx"
)

var (
	cfgPath string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "narrator",
	Short: "Narration audio service",
	Long: `narrator keeps a narration audio file in step with every content item.

It fingerprints each item's narratable text, synthesizes speech when the text
changes, stores the result and serves it. Cron jobs drive batch work.

Examples:
  narrator serve                          # Run scheduler, HTTP API and hot reload
  narrator audio status                   # Show per-item audio state
  narrator audio generate --id 12         # Generate one item now
  narrator content import items.yaml      # Load items into the repository
  narrator jobs list                      # Show jobs and their next runs
  narrator audit --limit 50               # Show recent job and batch outcomes`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./narrator.yaml", "path to config file (yaml or json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(audioCmd)
	rootCmd.AddCommand(contentCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(auditCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, nil
}

func cliLogger(cfg *config.Config) logx.Logger {
	level := "warn"
	if verbose {
		level = "debug"
	} else if cfg != nil && cfg.Logging.Level == "debug" {
		level = cfg.Logging.Level
	}
	return logx.NewConsole(level)
}

// withComponents opens storage, speech and artifacts for a one-shot command.
func withComponents(ctx context.Context, fn func(*config.Config, *app.Components) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	comps, err := app.Open(ctx, cfg, cliLogger(cfg), eventbus.Nop())
	if err != nil {
		return err
	}
	defer comps.Close()
	return fn(cfg, comps)
}
