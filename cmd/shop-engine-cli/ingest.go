package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/ingest"
)

// Input formats accepted by the ingest command.
const (
	formatCSV         = "csv"
	formatScraped     = "scraped"
	formatMarketplace = "marketplace"
)

// readRecords decodes r in the given format into raw product records.
func readRecords(r io.Reader, format string) ([]domain.RawProductRecord, error) {
	switch format {
	case formatCSV:
		rows, err := ingest.ReadCSV(r)
		if err != nil {
			return nil, err
		}
		return ingest.RawRecords(rows), nil
	case formatScraped:
		var listings []ingest.ScrapedListing
		if err := json.NewDecoder(r).Decode(&listings); err != nil {
			return nil, fmt.Errorf("decode scraped listings: %w", err)
		}
		return ingest.RawRecords(listings), nil
	case formatMarketplace:
		var records []ingest.MarketplaceRecord
		if err := json.NewDecoder(r).Decode(&records); err != nil {
			return nil, fmt.Errorf("decode marketplace records: %w", err)
		}
		return ingest.RawRecords(records), nil
	}
	return nil, fmt.Errorf("unknown format %q (want csv, scraped or marketplace)", format)
}

// detectFormat picks a format from the file extension.
func detectFormat(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return formatScraped
	}
	return formatCSV
}

func advance(bar *mpb.Bar) {
	if bar != nil {
		bar.Increment()
	}
}

func abort(bar *mpb.Bar) {
	if bar != nil {
		bar.Abort(false)
	}
}

func newIngestCmd() *cobra.Command {
	var (
		format string
		source string
	)

	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Ingest a product catalog and publish it as the live index",
		Long: `Ingest reads a catalog file, normalizes prices and descriptions,
deduplicates products by name and price, embeds them and publishes the
result as a new index generation. The catalog is also persisted so later
commands can rebuild it.

Formats:
  csv          collaborator export (url,name,category,brand,img,description,price)
  scraped      JSON array of scraped shop listings
  marketplace  JSON array of marketplace seller records`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ui := newUI(cmd)
			defer ui.Close()

			path := args[0]
			if format == "" {
				format = detectFormat(path)
			}
			if source == "" {
				source = filepath.Base(path)
			}

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open catalog: %w", err)
			}
			defer f.Close()

			size := int64(-1)
			if info, err := f.Stat(); err == nil {
				size = info.Size()
			}

			bar := ui.StageBar("ingest", 2)
			records, err := readRecords(ui.TrackReader(f, size, "reading "+source), format)
			if err != nil {
				abort(bar)
				return domain.ValidationError(fmt.Sprintf("read %s: %v", path, err), err)
			}
			advance(bar)

			eng, err := openEngine(ctx, ui, false)
			if err != nil {
				abort(bar)
				return err
			}
			defer eng.Close()

			report, err := eng.Ingest(ctx, source, records)
			if err != nil {
				abort(bar)
				return fmt.Errorf("ingest: %w", err)
			}
			advance(bar)

			if outputJSON {
				return printJSON(cmd.OutOrStdout(), report)
			}

			ui.Success("Ingested %d products from %s in %s", report.Accepted, source, FormatDuration(report.Duration))
			ui.KeyValue("Run", report.RunID)
			ui.KeyValue("Skipped", report.Skipped)
			ui.KeyValue("Duplicates", report.DuplicateCount)
			if report.EmbedFailures > 0 {
				ui.Warning("%d products could not be embedded", report.EmbedFailures)
			}
			for _, msg := range report.Errors {
				ui.Warning("%s", msg)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "input format: csv, scraped or marketplace (default: from extension)")
	cmd.Flags().StringVar(&source, "source", "", "source label recorded with the run (default: file name)")

	return cmd
}

func newRebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Re-embed the persisted catalog into a fresh index",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ui := newUI(cmd)
			defer ui.Close()

			eng, err := openEngine(ctx, ui, false)
			if err != nil {
				return err
			}
			defer eng.Close()

			stop := ui.Spinner("Rebuilding index")
			n, err := eng.Rebuild(ctx)
			stop()
			if err != nil {
				return fmt.Errorf("rebuild: %w", err)
			}

			if outputJSON {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"products":   n,
					"generation": eng.Health(ctx).IndexGeneration,
				})
			}
			ui.Success("Rebuilt index with %d products", n)
			return nil
		},
	}
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <product-id>...",
		Short: "Remove products from the catalog and the live index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ui := newUI(cmd)
			defer ui.Close()

			eng, err := openEngine(ctx, ui, true)
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.RemoveProducts(ctx, args...); err != nil {
				return fmt.Errorf("remove: %w", err)
			}
			if outputJSON {
				return printJSON(cmd.OutOrStdout(), map[string]any{"removed": args})
			}
			ui.Success("Removed %d products", len(args))
			return nil
		},
	}
}
