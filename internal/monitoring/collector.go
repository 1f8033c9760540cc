// Package monitoring summarizes recent valuation runs and raises alerts when
// run failures or backtest accuracy cross configured thresholds.
package monitoring

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/blaze-intel/nil-valuation/internal/model"
	"github.com/blaze-intel/nil-valuation/internal/store"
)

// RunLister is the subset of the warehouse the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// MetricsSnapshot holds a point-in-time view of run health.
type MetricsSnapshot struct {
	// Runs within the lookback window.
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsActive   int     `json:"runs_active"`
	FailRate     float64 `json:"fail_rate"`

	// Latest complete run.
	LatestRunID      string               `json:"latest_run_id,omitempty"`
	LatestAsOf       time.Time            `json:"latest_as_of,omitempty"`
	LatestValuations int                  `json:"latest_valuations"`
	LatestBacktest   model.BacktestResult `json:"latest_backtest"`
	HasBacktest      bool                 `json:"has_backtest"`

	// Last failure message, if any.
	LastError string `json:"last_error,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers run metrics from the warehouse.
type Collector struct {
	store RunLister
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st RunLister) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect gathers a snapshot of run metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
		LatestBacktest: model.BacktestResult{
			MAPE: math.NaN(),
			Bias: math.NaN(),
		},
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		Since: cutoff,
		Limit: 10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	var latest *model.Run
	var lastFailure *model.Run
	for i := range runs {
		r := &runs[i]
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
			if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
				latest = r
			}
		case model.RunStatusFailed:
			snap.RunsFailed++
			if lastFailure == nil || r.CreatedAt.After(lastFailure.CreatedAt) {
				lastFailure = r
			}
		default:
			snap.RunsActive++
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}

	if latest != nil {
		snap.LatestRunID = latest.ID
		snap.LatestAsOf = latest.AsOf
		if latest.Result != nil {
			snap.LatestValuations = latest.Result.Valuations
			snap.LatestBacktest = latest.Result.Backtest
			snap.HasBacktest = true
		}
	}
	if lastFailure != nil && lastFailure.Result != nil {
		snap.LastError = lastFailure.Result.Error
	}

	return snap, nil
}
