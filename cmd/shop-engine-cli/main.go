// Package main provides the Shop Engine CLI entrypoint.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/config"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/shop-engine/pkg/engine"
)

var (
	// Global flags
	cfgFile    string
	outputJSON bool
	noColor    bool
	verbose    bool

	// Configuration and logger
	cfg    *config.Config
	logger *observability.Logger
)

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "shop-engine-cli",
		Short: "Shop Engine CLI for catalog ingestion, recommendations and budget carts",
		Long: `Shop Engine CLI drives the shopping assistant engine in-process.

Use this tool to:
- Ingest collaborator CSV exports or JSON product feeds
- Ask for product recommendations inside a price window
- Compare two products
- Plan a cart against a budget and get optimization suggestions

All commands support --json for automation.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.LoadDotEnv()

			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			level := "warn"
			if verbose {
				level = "debug"
			}
			logger = observability.NewLogger(observability.LogConfig{
				Level:       level,
				Format:      "console",
				Output:      os.Stderr,
				ServiceName: "shop-engine-cli",
			})
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", os.Getenv("CONFIG_PATH"), "config file path (default: uses env vars)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newIngestCmd())
	rootCmd.AddCommand(newRebuildCmd())
	rootCmd.AddCommand(newRemoveCmd())
	rootCmd.AddCommand(newRecommendCmd())
	rootCmd.AddCommand(newCompareCmd())
	rootCmd.AddCommand(newProductCmd())
	rootCmd.AddCommand(newCartCmd())
	rootCmd.AddCommand(newHealthCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openEngine starts an engine from the loaded config. With rebuild set, the
// persisted catalog is embedded into the index first.
func openEngine(ctx context.Context, ui *UI, rebuild bool) (*engine.Engine, error) {
	eng, err := engine.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("start engine: %w", err)
	}
	if !rebuild {
		return eng, nil
	}

	stop := ui.Spinner("Loading catalog")
	n, err := eng.Rebuild(ctx)
	stop()
	if err != nil {
		eng.Close()
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	logger.Debug().Int("products", n).Msg("Catalog loaded")
	return eng, nil
}

func newUI(cmd *cobra.Command) *UI {
	return NewUI(cmd.OutOrStdout(), outputJSON, noColor)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show index and cache state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ui := newUI(cmd)
			defer ui.Close()

			eng, err := openEngine(ctx, ui, true)
			if err != nil {
				return err
			}
			defer eng.Close()

			h := eng.Health(ctx)
			if outputJSON {
				return printJSON(cmd.OutOrStdout(), h)
			}
			ui.Section("Health")
			ui.KeyValue("Status", h.Status)
			ui.KeyValue("Products", h.Products)
			ui.KeyValue("Index generation", h.IndexGeneration)
			ui.KeyValue("Embedding model", h.EmbeddingModel)
			ui.KeyValue("Cache hits / misses", fmt.Sprintf("%d / %d", h.Cache.Hits, h.Cache.Misses))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputJSON {
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"version": engine.Version,
					"go":      runtime.Version(),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "shop-engine-cli v%s\n", engine.Version)
			return nil
		},
	}
}
