package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/cart"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/shop-engine/pkg/engine"
)

// cartLine is one "product-id[:quantity]" argument.
type cartLine struct {
	ProductID string
	Quantity  int
}

func parseLine(s string) (cartLine, error) {
	id, qty, found := strings.Cut(strings.TrimSpace(s), ":")
	if id == "" {
		return cartLine{}, fmt.Errorf("empty product id in %q", s)
	}
	line := cartLine{ProductID: id, Quantity: 1}
	if found {
		n, err := strconv.Atoi(qty)
		if err != nil || n < 1 {
			return cartLine{}, fmt.Errorf("invalid quantity in %q", s)
		}
		line.Quantity = n
	}
	return line, nil
}

func newCartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cart",
		Short: "Plan budget-aware carts",
		Long: `Cart commands track a shopping cart against a budget.

"cart plan" builds a cart in one go and prints its budget status,
optimization suggestions and summary. The session commands operate on a
stored cart and need cart.store=redis to persist between invocations.`,
	}

	cmd.AddCommand(newCartPlanCmd())
	cmd.AddCommand(newCartSessionCmds()...)
	return cmd
}

func newCartPlanCmd() *cobra.Command {
	var budgetAmount float64

	cmd := &cobra.Command{
		Use:     "plan <product-id[:qty]>...",
		Short:   "Build a cart from product ids and review it against a budget",
		Example: "  shop-engine-cli cart plan --budget 50 milk-id:2 cheese-id",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ui := newUI(cmd)
			defer ui.Close()

			lines := make([]cartLine, 0, len(args))
			for _, a := range args {
				line, err := parseLine(a)
				if err != nil {
					return err
				}
				lines = append(lines, line)
			}

			eng, err := openEngine(ctx, ui, true)
			if err != nil {
				return err
			}
			defer eng.Close()

			created, err := eng.CartCreate(ctx, "", budgetAmount)
			if err != nil {
				return err
			}
			session := created.Cart.SessionID
			defer eng.CartDelete(ctx, session)

			for _, line := range lines {
				res, err := eng.CartAdd(ctx, session, line.ProductID, line.Quantity)
				if err != nil {
					return fmt.Errorf("add %s: %w", line.ProductID, err)
				}
				if !res.Impact.CanAdd {
					ui.Warning("%s", res.Impact.Explanation)
				}
			}

			report, err := eng.CartOptimize(ctx, session)
			if err != nil {
				return err
			}
			summary, err := eng.CartSummary(ctx, session)
			if err != nil {
				return err
			}
			current, err := eng.CartGet(ctx, session)
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"cart":         current.Cart,
					"optimization": report,
					"summary":      summary,
				})
			}
			printCart(ui, current)
			printOptimization(ui, report)
			printSummary(ui, summary)
			return nil
		},
	}

	cmd.Flags().Float64VarP(&budgetAmount, "budget", "b", 0, "cart budget")
	_ = cmd.MarkFlagRequired("budget")
	return cmd
}

// sessionCmd builds a subcommand that runs fn against a stored cart.
func sessionCmd(use, short string, args cobra.PositionalArgs, fn func(cmd *cobra.Command, eng *engine.Engine, session string, args []string) (any, error)) *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			ui := newUI(cmd)
			defer ui.Close()

			if cfg.Cart.Store == "memory" {
				ui.Warning("cart.store is memory; the cart will not outlive this command")
			}

			eng, err := openEngine(cmd.Context(), ui, true)
			if err != nil {
				return err
			}
			defer eng.Close()

			out, err := fn(cmd, eng, session, args)
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(cmd.OutOrStdout(), out)
			}
			switch v := out.(type) {
			case *cart.Result:
				printCart(ui, v)
			case *cart.AddResult:
				ui.Info("%s", v.Impact.Explanation)
				printCart(ui, &v.Result)
			case *domain.OptimizationReport:
				printOptimization(ui, v)
			case *domain.ShoppingSummary:
				printSummary(ui, v)
			case nil:
				ui.Success("Done")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", "", "cart session id")
	if use != "create" {
		_ = cmd.MarkFlagRequired("session")
	}
	return cmd
}

func newCartSessionCmds() []*cobra.Command {
	create := sessionCmd("create", "Start a stored cart", cobra.NoArgs,
		func(cmd *cobra.Command, eng *engine.Engine, session string, _ []string) (any, error) {
			budgetAmount, _ := cmd.Flags().GetFloat64("budget")
			return eng.CartCreate(cmd.Context(), session, budgetAmount)
		})
	create.Flags().Float64P("budget", "b", 0, "cart budget")

	budget := sessionCmd("budget <amount>", "Change a cart's budget", cobra.ExactArgs(1),
		func(cmd *cobra.Command, eng *engine.Engine, session string, args []string) (any, error) {
			amount, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return nil, domain.ValidationError(fmt.Sprintf("invalid budget %q", args[0]), err)
			}
			return eng.CartSetBudget(cmd.Context(), session, amount)
		})

	return []*cobra.Command{
		create,
		budget,
		sessionCmd("show", "Show a cart and its budget status", cobra.NoArgs,
			func(cmd *cobra.Command, eng *engine.Engine, session string, _ []string) (any, error) {
				return eng.CartGet(cmd.Context(), session)
			}),
		sessionCmd("add <product-id[:qty]>", "Add a product to a cart", cobra.ExactArgs(1),
			func(cmd *cobra.Command, eng *engine.Engine, session string, args []string) (any, error) {
				line, err := parseLine(args[0])
				if err != nil {
					return nil, domain.ValidationError(err.Error(), err)
				}
				return eng.CartAdd(cmd.Context(), session, line.ProductID, line.Quantity)
			}),
		sessionCmd("update <product-id> <qty>", "Set a line's quantity (0 removes it)", cobra.ExactArgs(2),
			func(cmd *cobra.Command, eng *engine.Engine, session string, args []string) (any, error) {
				qty, err := strconv.Atoi(args[1])
				if err != nil {
					return nil, domain.ValidationError(fmt.Sprintf("invalid quantity %q", args[1]), err)
				}
				return eng.CartUpdate(cmd.Context(), session, args[0], qty)
			}),
		sessionCmd("remove <product-id>", "Remove a line from a cart", cobra.ExactArgs(1),
			func(cmd *cobra.Command, eng *engine.Engine, session string, args []string) (any, error) {
				return eng.CartRemove(cmd.Context(), session, args[0])
			}),
		sessionCmd("clear", "Empty a cart", cobra.NoArgs,
			func(cmd *cobra.Command, eng *engine.Engine, session string, _ []string) (any, error) {
				return eng.CartClear(cmd.Context(), session)
			}),
		sessionCmd("optimize", "Suggest how to bring a cart within budget", cobra.NoArgs,
			func(cmd *cobra.Command, eng *engine.Engine, session string, _ []string) (any, error) {
				return eng.CartOptimize(cmd.Context(), session)
			}),
		sessionCmd("summary", "Summarize a cart", cobra.NoArgs,
			func(cmd *cobra.Command, eng *engine.Engine, session string, _ []string) (any, error) {
				return eng.CartSummary(cmd.Context(), session)
			}),
		sessionCmd("delete", "Drop a cart", cobra.NoArgs,
			func(cmd *cobra.Command, eng *engine.Engine, session string, _ []string) (any, error) {
				return nil, eng.CartDelete(cmd.Context(), session)
			}),
	}
}

func printCart(ui *UI, res *cart.Result) {
	ui.Section("Cart " + res.Cart.SessionID)
	rows := make([][]string, 0, len(res.Cart.Items))
	for _, item := range res.Cart.Items {
		rows = append(rows, []string{
			item.ProductName,
			strconv.Itoa(item.Quantity),
			fmt.Sprintf("%.3f", item.UnitPrice),
			fmt.Sprintf("%.3f", item.LineTotal()),
			item.ProductID,
		})
	}
	if len(rows) > 0 {
		ui.Table([]string{"Product", "Qty", "Unit", "Line", "ID"}, rows)
	}
	ui.BudgetStatus(res.Status, cfg.Budget.Currency)
}

func printOptimization(ui *UI, report *domain.OptimizationReport) {
	ui.Section("Optimization")
	if !report.NeedsOptimization {
		ui.Success("Cart is comfortably within budget")
		return
	}
	if len(report.Suggestions) == 0 {
		ui.Warning("No savings found")
		return
	}
	rows := make([][]string, 0, len(report.Suggestions))
	for _, s := range report.Suggestions {
		rows = append(rows, []string{
			string(s.Strategy),
			s.ProductName,
			fmt.Sprintf("%.2f", s.Savings),
			fmt.Sprintf("%.2f", s.NewTotal),
			string(s.Confidence),
		})
	}
	ui.Table([]string{"Strategy", "Product", "Savings", "New total", "Confidence"}, rows)
	for _, s := range report.Suggestions {
		ui.Step("%s", s.Explanation)
	}
	ui.KeyValue("Best single saving", fmt.Sprintf("%.2f %s", report.PotentialSavings, cfg.Budget.Currency))
}

func printSummary(ui *UI, s *domain.ShoppingSummary) {
	ui.Section("Summary")
	ui.KeyValue("Lines", s.ItemCount)
	ui.KeyValue("Units", s.TotalQuantity)
	ui.KeyValue("Average unit price", fmt.Sprintf("%.3f", s.AverageItemPrice))
	if s.MostExpensive != nil {
		ui.KeyValue("Most expensive", s.MostExpensive.ProductName)
	}
	if s.Cheapest != nil {
		ui.KeyValue("Cheapest", s.Cheapest.ProductName)
	}
	for market, total := range s.ByMarket {
		ui.KeyValue("Market "+market, fmt.Sprintf("%.3f", total))
	}
}
