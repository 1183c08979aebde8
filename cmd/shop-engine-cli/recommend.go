package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
)

func newRecommendCmd() *cobra.Command {
	var (
		q        domain.Query
		sortMode string
		minPrice float64
		maxPrice float64
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "recommend [free text...]",
		Short: "Recommend products for a query",
		Example: `  shop-engine-cli recommend whole milk --max-price 5
  shop-engine-cli recommend --category dairy --brand delice --sort price_asc`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ui := newUI(cmd)
			defer ui.Close()

			q.FreeText = strings.Join(args, " ")
			mode, err := domain.ParseSortMode(sortMode)
			if err != nil {
				return err
			}
			q.SortMode = mode
			if cmd.Flags().Changed("min-price") {
				q.MinPrice = &minPrice
			}
			if cmd.Flags().Changed("max-price") {
				q.MaxPrice = &maxPrice
			}

			eng, err := openEngine(ctx, ui, true)
			if err != nil {
				return err
			}
			defer eng.Close()

			list, err := eng.Recommend(ctx, q, limit)
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(cmd.OutOrStdout(), list)
			}

			if len(list.Items) == 0 {
				ui.Warning("No products matched (%d candidates before the price filter)", list.TotalFound)
				return nil
			}

			rows := make([][]string, 0, len(list.Items))
			for i, c := range list.Items {
				rows = append(rows, []string{
					fmt.Sprintf("%d", i+1),
					c.Product.Name,
					c.Product.Category,
					fmt.Sprintf("%.3f %s", c.Product.Price, cfg.Budget.Currency),
					fmt.Sprintf("%.3f", c.CompositeScore),
					c.Product.ID,
				})
			}
			ui.Table([]string{"#", "Name", "Category", "Price", "Score", "ID"}, rows)
			ui.Info("%d shown, %d in price window, %d found", len(list.Items), list.TotalAfterFilter, list.TotalFound)
			return nil
		},
	}

	cmd.Flags().StringVar(&q.Name, "name", "", "product name")
	cmd.Flags().StringVar(&q.Description, "description", "", "product description")
	cmd.Flags().StringVar(&q.Category, "category", "", "category")
	cmd.Flags().StringVar(&q.Brand, "brand", "", "brand")
	cmd.Flags().Float64Var(&minPrice, "min-price", 0, "minimum price")
	cmd.Flags().Float64Var(&maxPrice, "max-price", 0, "maximum price")
	cmd.Flags().StringVar(&sortMode, "sort", "relevance", "relevance, price_asc or price_desc")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of results")

	return cmd
}

func newCompareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare <product-id-a> <product-id-b>",
		Short: "Compare two products",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ui := newUI(cmd)
			defer ui.Close()

			eng, err := openEngine(ctx, ui, true)
			if err != nil {
				return err
			}
			defer eng.Close()

			cmp, err := eng.Compare(ctx, args[0], args[1])
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(cmd.OutOrStdout(), cmp)
			}

			ui.Table([]string{"", "A", "B"}, [][]string{
				{"Name", cmp.ProductA.Name, cmp.ProductB.Name},
				{"Brand", cmp.ProductA.Brand, cmp.ProductB.Brand},
				{"Category", cmp.ProductA.Category, cmp.ProductB.Category},
				{"Price", fmt.Sprintf("%.3f", cmp.ProductA.Price), fmt.Sprintf("%.3f", cmp.ProductB.Price)},
			})
			ui.KeyValue("Price difference", fmt.Sprintf("%.3f %s (%.1f%%)", cmp.PriceDifference, cfg.Budget.Currency, cmp.PricePercentage))
			printPoints(ui, "A", cmp.ProsA, cmp.ConsA)
			printPoints(ui, "B", cmp.ProsB, cmp.ConsB)
			ui.Section("Recommendation")
			ui.Info("%s", cmp.Recommendation)
			return nil
		},
	}
}

func printPoints(ui *UI, label string, pros, cons []string) {
	for _, p := range pros {
		ui.Success("%s: %s", label, p)
	}
	for _, c := range cons {
		ui.Warning("%s: %s", label, c)
	}
}

func newProductCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "product <product-id>",
		Short: "Show one catalog product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ui := newUI(cmd)
			defer ui.Close()

			eng, err := openEngine(ctx, ui, true)
			if err != nil {
				return err
			}
			defer eng.Close()

			p, err := eng.Product(ctx, args[0])
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(cmd.OutOrStdout(), p)
			}
			ui.Section(p.Name)
			ui.KeyValue("ID", p.ID)
			ui.KeyValue("Brand", p.Brand)
			ui.KeyValue("Category", p.Category)
			ui.KeyValue("Price", fmt.Sprintf("%.3f %s", p.Price, cfg.Budget.Currency))
			if p.Market != "" {
				ui.KeyValue("Market", p.Market)
			}
			if p.Description != "" {
				ui.KeyValue("Description", p.Description)
			}
			return nil
		},
	}
}
