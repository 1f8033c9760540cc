package monitoring

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blaze-intel/nil-valuation/internal/model"
	"github.com/blaze-intel/nil-valuation/internal/store"
)

var collectNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

// mockStore implements RunLister for testing.
type mockStore struct {
	runs    []model.Run
	listErr error
	filter  store.RunFilter
}

func (m *mockStore) ListRuns(_ context.Context, filter store.RunFilter) ([]model.Run, error) {
	m.filter = filter
	if m.listErr != nil {
		return nil, m.listErr
	}
	var filtered []model.Run
	for _, r := range m.runs {
		if !filter.Since.IsZero() && r.CreatedAt.Before(filter.Since) {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered, nil
}

func newTestCollector(st RunLister) *Collector {
	c := NewCollector(st)
	c.now = func() time.Time { return collectNow }
	return c
}

func run(id string, status model.RunStatus, ago time.Duration, result *model.RunResult) model.Run {
	created := collectNow.Add(-ago)
	return model.Run{
		ID:        id,
		AsOf:      time.Date(created.Year(), created.Month(), created.Day(), 0, 0, 0, 0, time.UTC),
		Status:    status,
		Result:    result,
		CreatedAt: created,
		UpdatedAt: created.Add(time.Minute),
	}
}

func TestCollector_Collect(t *testing.T) {
	older := &model.RunResult{Valuations: 4, Backtest: model.BacktestResult{MAPE: 0.4, Coverage: 0.5, Matched: 2}}
	newer := &model.RunResult{Valuations: 5, Backtest: model.BacktestResult{MAPE: 0.1, Bias: 250, Coverage: 1, Matched: 3}}

	st := &mockStore{runs: []model.Run{
		run("r1", model.RunStatusComplete, 48*time.Hour, older),
		run("r2", model.RunStatusFailed, 30*time.Hour, &model.RunResult{Error: "pipeline: load snapshot: boom"}),
		run("r3", model.RunStatusComplete, 24*time.Hour, newer),
		run("r4", model.RunStatusFailed, 2*time.Hour, &model.RunResult{Error: "pipeline: train: no rows"}),
		run("r5", model.RunStatusTraining, time.Hour, nil),
		run("old", model.RunStatusFailed, 30*24*time.Hour, &model.RunResult{Error: "stale"}),
	}}

	snap, err := newTestCollector(st).Collect(context.Background(), 168)
	require.NoError(t, err)

	assert.Equal(t, collectNow.Add(-168*time.Hour), st.filter.Since)
	assert.Equal(t, 5, snap.RunsTotal)
	assert.Equal(t, 2, snap.RunsComplete)
	assert.Equal(t, 2, snap.RunsFailed)
	assert.Equal(t, 1, snap.RunsActive)
	assert.InDelta(t, 0.5, snap.FailRate, 1e-9)

	assert.Equal(t, "r3", snap.LatestRunID)
	assert.Equal(t, 5, snap.LatestValuations)
	assert.True(t, snap.HasBacktest)
	assert.Equal(t, newer.Backtest, snap.LatestBacktest)
	assert.Equal(t, "pipeline: train: no rows", snap.LastError)
	assert.Equal(t, 168, snap.LookbackHours)
	assert.Equal(t, collectNow, snap.CollectedAt)
}

func TestCollector_Collect_NoRuns(t *testing.T) {
	snap, err := newTestCollector(&mockStore{}).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Zero(t, snap.RunsTotal)
	assert.Zero(t, snap.FailRate)
	assert.Empty(t, snap.LatestRunID)
	assert.False(t, snap.HasBacktest)
	assert.True(t, math.IsNaN(snap.LatestBacktest.MAPE))
	assert.True(t, math.IsNaN(snap.LatestBacktest.Bias))
}

func TestCollector_Collect_CompleteWithoutResult(t *testing.T) {
	st := &mockStore{runs: []model.Run{
		run("r1", model.RunStatusComplete, time.Hour, nil),
	}}

	snap, err := newTestCollector(st).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, "r1", snap.LatestRunID)
	assert.False(t, snap.HasBacktest)
	assert.Zero(t, snap.LatestValuations)
}

func TestCollector_Collect_ListError(t *testing.T) {
	st := &mockStore{listErr: errors.New("db down")}

	_, err := newTestCollector(st).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list runs")
}

func TestCollector_Evaluate_EndToEnd(t *testing.T) {
	st := &mockStore{runs: []model.Run{
		run("r1", model.RunStatusFailed, 5*time.Hour, &model.RunResult{Error: "a"}),
		run("r2", model.RunStatusFailed, 4*time.Hour, &model.RunResult{Error: "b"}),
		run("r3", model.RunStatusFailed, 3*time.Hour, &model.RunResult{Error: "c"}),
	}}

	snap, err := newTestCollector(st).Collect(context.Background(), 24)
	require.NoError(t, err)

	alerts := NewAlerter(testMonitoringConfig()).Evaluate(snap)
	assert.Equal(t, []AlertType{AlertRunFailureRate, AlertNoCompleteRun}, alertTypes(alerts))
	assert.Equal(t, "c", alerts[0].Details["last_error"])
}
