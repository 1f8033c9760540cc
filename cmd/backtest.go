package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/blaze-intel/nil-valuation/internal/backtest"
	"github.com/blaze-intel/nil-valuation/internal/model"
	"github.com/blaze-intel/nil-valuation/internal/store"
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Evaluate the latest valuations against recorded deals",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := runBacktest(ctx, st)
		if err != nil {
			return err
		}
		formatBacktest(os.Stdout, res)
		return nil
	},
}

// runBacktest scores each athlete's most recent valuation against the deal
// table without running the pipeline.
func runBacktest(ctx context.Context, st store.Warehouse) (model.BacktestResult, error) {
	vals, err := st.LatestValuations(ctx)
	if err != nil {
		return model.BacktestResult{}, eris.Wrap(err, "backtest: latest valuations")
	}
	snap, err := st.LoadSnapshot(ctx)
	if err != nil {
		return model.BacktestResult{}, eris.Wrap(err, "backtest: load deals")
	}
	return backtest.Evaluate(vals, snap.Deals), nil
}

func formatBacktest(out io.Writer, r model.BacktestResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Matched deals:\t%d\n", r.Matched)
	_, _ = fmt.Fprintf(w, "MAPE:\t%s\n", formatPct(r.MAPE))
	_, _ = fmt.Fprintf(w, "Bias:\t%s\n", formatMoney(r.Bias))
	_, _ = fmt.Fprintf(w, "Coverage:\t%s\n", formatPct(r.Coverage))
	_ = w.Flush()
}

func formatPct(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", v*100)
}

func formatMoney(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.0f", v)
}

func init() {
	rootCmd.AddCommand(backtestCmd)
}
