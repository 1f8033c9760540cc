package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/blaze-intel/nil-valuation/internal/monitoring"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize recent run health and raise alerts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		lookback, _ := cmd.Flags().GetInt("lookback")
		if lookback <= 0 {
			lookback = cfg.Monitoring.LookbackHours
		}
		send, _ := cmd.Flags().GetBool("send")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, err := monitoring.NewCollector(st).Collect(ctx, lookback)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		alerter := monitoring.NewAlerter(cfg.Monitoring)
		alerts := alerter.Evaluate(snap)
		formatStatus(os.Stdout, snap, alerts)

		if send && len(alerts) > 0 {
			sent := alerter.SendAlerts(ctx, alerts)
			_, _ = fmt.Fprintf(os.Stdout, "Sent %d/%d alerts\n", sent, len(alerts))
		}
		return nil
	},
}

func formatStatus(out io.Writer, s *monitoring.MetricsSnapshot, alerts []monitoring.Alert) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Lookback:\t%dh\n", s.LookbackHours)
	_, _ = fmt.Fprintf(w, "Runs:\t%d (complete %d, failed %d, active %d)\n",
		s.RunsTotal, s.RunsComplete, s.RunsFailed, s.RunsActive)
	_, _ = fmt.Fprintf(w, "Failure rate:\t%s\n", formatPct(s.FailRate))
	if s.LatestRunID != "" {
		_, _ = fmt.Fprintf(w, "Latest run:\t%s (as of %s)\n", truncateID(s.LatestRunID), s.LatestAsOf.Format(dateLayout))
		_, _ = fmt.Fprintf(w, "Valuations:\t%d\n", s.LatestValuations)
	}
	if s.HasBacktest {
		bt := s.LatestBacktest
		_, _ = fmt.Fprintf(w, "Backtest:\tmatched %d, MAPE %s, bias %s, coverage %s\n",
			bt.Matched, formatPct(bt.MAPE), formatMoney(bt.Bias), formatPct(bt.Coverage))
	}
	if s.LastError != "" {
		_, _ = fmt.Fprintf(w, "Last error:\t%s\n", s.LastError)
	}
	_ = w.Flush()

	if len(alerts) == 0 {
		_, _ = fmt.Fprintln(out, "No alerts.")
		return
	}
	_, _ = fmt.Fprintln(out, "Alerts:")
	for _, a := range alerts {
		_, _ = fmt.Fprintf(out, "  [%s] %s: %s\n", a.Severity, a.Type, a.Message)
	}
}

func init() {
	statusCmd.Flags().Int("lookback", 0, "lookback window in hours (default monitoring.lookback_hours)")
	statusCmd.Flags().Bool("send", false, "post triggered alerts to monitoring.webhook_url")
	rootCmd.AddCommand(statusCmd)
}
