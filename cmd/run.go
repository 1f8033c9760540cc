package main

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/blaze-intel/nil-valuation/internal/config"
	"github.com/blaze-intel/nil-valuation/internal/metrics"
	"github.com/blaze-intel/nil-valuation/internal/model"
	"github.com/blaze-intel/nil-valuation/internal/pipeline"
	"github.com/blaze-intel/nil-valuation/internal/store"
)

const dateLayout = "2006-01-02"

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the nightly valuation pipeline",
	Long:  "Computes features, trains both model stages, writes valuations for every athlete and backtests them against recorded deals.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		asOfFlag, _ := cmd.Flags().GetString("as-of")
		asOf, err := parseAsOf(asOfFlag, time.Now())
		if err != nil {
			return err
		}
		reportPath, _ := cmd.Flags().GetString("report")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		reg := metrics.New()
		run, err := executeRun(ctx, st, asOf, reg)
		if perr := pushRunMetrics(ctx, reg, cfg.Metrics); perr != nil {
			zap.L().Warn("run: push metrics", zap.Error(perr))
		}
		if run != nil && reportPath != "" {
			if werr := writeReport(reportPath, run, cfg.Project.Disclaimer); werr != nil {
				zap.L().Error("run: write report", zap.Error(werr))
			}
		}
		return err
	},
}

func executeRun(ctx context.Context, st store.Warehouse, asOf time.Time, m *metrics.Registry) (*model.Run, error) {
	p := pipeline.New(cfg, st, m)
	run, err := p.Run(ctx, asOf)
	if err != nil {
		return run, eris.Wrap(err, "run")
	}
	return run, nil
}

// pushRunMetrics sends the run's metrics to the configured Pushgateway. It is
// a no-op when no gateway is configured.
func pushRunMetrics(ctx context.Context, reg *metrics.Registry, mc config.MetricsConfig) error {
	if mc.PushgatewayURL == "" {
		zap.L().Debug("run: no pushgateway configured, metrics not exported")
		return nil
	}
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := reg.Push(pctx, mc.PushgatewayURL, mc.Job); err != nil {
		return err
	}
	zap.L().Info("run: metrics pushed",
		zap.String("pushgateway", mc.PushgatewayURL),
		zap.String("job", mc.Job),
	)
	return nil
}

// parseAsOf returns the UTC day named by s, or the current UTC day when s is
// empty.
func parseAsOf(s string, now time.Time) (time.Time, error) {
	if s == "" {
		n := now.UTC()
		return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "invalid --as-of %q (want YYYY-MM-DD)", s)
	}
	return t, nil
}

type phaseReport struct {
	Name       string `yaml:"name"`
	Status     string `yaml:"status"`
	DurationMS int64  `yaml:"duration_ms"`
	Error      string `yaml:"error,omitempty"`
}

type backtestReport struct {
	MAPE     float64 `yaml:"mape"`
	Bias     float64 `yaml:"bias"`
	Coverage float64 `yaml:"coverage"`
	Matched  int     `yaml:"matched"`
}

type runReport struct {
	RunID       string         `yaml:"run_id"`
	AsOf        string         `yaml:"as_of"`
	Status      string         `yaml:"status"`
	Athletes    int            `yaml:"athletes"`
	Features    int            `yaml:"features"`
	Valuations  int            `yaml:"valuations"`
	StageARMSE  float64        `yaml:"stage_a_rmse"`
	StageBRMSE  float64        `yaml:"stage_b_rmse"`
	StageBRows  int            `yaml:"stage_b_rows"`
	ResidualStd float64        `yaml:"residual_std"`
	Backtest    backtestReport `yaml:"backtest"`
	Phases      []phaseReport  `yaml:"phases"`
	Error       string         `yaml:"error,omitempty"`
	Disclaimer  string         `yaml:"disclaimer"`
}

func buildReport(run *model.Run, disclaimer string) runReport {
	rep := runReport{
		RunID:      run.ID,
		AsOf:       run.AsOf.UTC().Format(dateLayout),
		Status:     string(run.Status),
		Disclaimer: disclaimer,
	}
	res := run.Result
	if res == nil {
		return rep
	}
	rep.Athletes = res.Athletes
	rep.Features = res.Features
	rep.Valuations = res.Valuations
	rep.StageARMSE = res.StageARMSE
	rep.StageBRMSE = res.StageBRMSE
	rep.StageBRows = res.StageBRows
	rep.ResidualStd = res.ResidualStd
	rep.Backtest = backtestReport{
		MAPE:     res.Backtest.MAPE,
		Bias:     res.Backtest.Bias,
		Coverage: res.Backtest.Coverage,
		Matched:  res.Backtest.Matched,
	}
	rep.Error = res.Error
	for _, ph := range res.Phases {
		rep.Phases = append(rep.Phases, phaseReport{
			Name:       ph.Name,
			Status:     string(ph.Status),
			DurationMS: ph.Duration,
			Error:      ph.Error,
		})
	}
	return rep
}

func writeReport(path string, run *model.Run, disclaimer string) error {
	out, err := yaml.Marshal(buildReport(run, disclaimer))
	if err != nil {
		return eris.Wrap(err, "marshal report")
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return eris.Wrapf(err, "write report %s", path)
	}
	zap.L().Info("run: report written", zap.String("path", path))
	return nil
}

func init() {
	runCmd.Flags().String("as-of", "", "valuation date YYYY-MM-DD (default today, UTC)")
	runCmd.Flags().String("report", "", "write a YAML run report to this path")
	rootCmd.AddCommand(runCmd)
}
