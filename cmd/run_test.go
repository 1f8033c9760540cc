package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/blaze-intel/nil-valuation/internal/config"
	"github.com/blaze-intel/nil-valuation/internal/metrics"
	"github.com/blaze-intel/nil-valuation/internal/model"
	"github.com/blaze-intel/nil-valuation/internal/store"
)

var testAsOf = time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)

func TestParseAsOf(t *testing.T) {
	now := time.Date(2026, 10, 18, 23, 45, 0, 0, time.FixedZone("PDT", -7*3600))

	got, err := parseAsOf("", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), got)

	got, err = parseAsOf("2026-01-31", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC), got)

	_, err = parseAsOf("01/31/2026", now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "YYYY-MM-DD")
}

func writeFile(t *testing.T, dir, name string, lines ...string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

// writeRawTables lays out a small raw-data directory. One deal and one box
// score reference an athlete by alias.
func writeRawTables(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	writeFile(t, dir, "athletes.csv",
		"athlete_id,name,sport,school,aliases",
		"athlete_football_001,Marcus Lee,Football,Redwood State,mlee;MARCUS-LEE",
		"athlete_baseball_001,Jordan Hale,Baseball,BSI University,",
		"athlete_track_001,Avery Patel,Track & Field,Summit College,apatel",
	)

	box := []string{"athlete_id,game_date,opponent,points,assists,rebounds,efficiency,minutes"}
	social := []string{"athlete_id,channel,date,followers,engagement_rate,growth_rate"}
	search := []string{"athlete_id,date,interest_score"}
	for i := 1; i <= 5; i++ {
		d := testAsOf.AddDate(0, 0, -i*3).Format(dateLayout)
		box = append(box,
			"mlee,"+d+",Opp"+strconv.Itoa(i)+","+strconv.Itoa(20+i)+",5,4,0.6,30",
			"athlete_baseball_001,"+d+",Opp"+strconv.Itoa(i)+","+strconv.Itoa(8+i)+",2,1,0.5,28",
			"athlete_track_001,"+d+",Meet"+strconv.Itoa(i)+","+strconv.Itoa(3+i)+",0,0,0.4,10",
		)
		social = append(social,
			"athlete_football_001,instagram,"+d+","+strconv.Itoa(90000+i*100)+",0.05,0.01",
			"athlete_baseball_001,instagram,"+d+","+strconv.Itoa(30000+i*100)+",0.04,0.01",
			"apatel,tiktok,"+d+","+strconv.Itoa(12000+i*10)+",0.08,0.02",
		)
		search = append(search,
			"athlete_football_001,"+d+",80",
			"athlete_baseball_001,"+d+",40",
			"athlete_track_001,"+d+",15",
		)
	}
	writeFile(t, dir, "box_scores.csv", box...)
	writeFile(t, dir, "social_stats.csv", social...)
	writeFile(t, dir, "search_interest.csv", search...)
	writeFile(t, dir, "nil_deals.csv",
		"athlete_id,deal_date,value",
		"MARCUS-LEE,2026-09-01,\"$85,000\"",
		"athlete_baseball_001,2026-08-15,30000",
	)
	return dir
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "cmd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestIngestThenRun(t *testing.T) {
	cfg = config.Default()
	ctx := context.Background()
	st := newTestStore(t)
	raw := writeRawTables(t)
	archive := t.TempDir()

	sum, err := ingestDir(ctx, st, raw, archive, testAsOf)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.UnknownIDs)
	assert.Equal(t, filepath.Join(archive, "2026-10-18"), sum.ArchiveDir)
	require.Len(t, sum.Written, 5)
	assert.Equal(t, int64(3), sum.Written[0].Rows)
	assert.FileExists(t, filepath.Join(sum.ArchiveDir, "nil_deals.csv"))

	var out bytes.Buffer
	formatIngestSummary(&out, sum)
	assert.Contains(t, out.String(), "nil_deals")
	assert.Contains(t, out.String(), "Archived to")

	snap, err := st.LoadSnapshot(ctx)
	require.NoError(t, err)
	for _, d := range snap.Deals {
		assert.Contains(t, []string{"athlete_football_001", "athlete_baseball_001"}, d.AthleteID)
	}

	reg := metrics.New()
	run, err := executeRun(ctx, st, testAsOf, reg)
	require.NoError(t, err)
	require.NotNil(t, run.Result)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, 3, run.Result.Valuations)
	assert.Equal(t, 2, run.Result.Backtest.Matched)

	var (
		mu       sync.Mutex
		pushed   []byte
		pushPath string
	)
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		pushPath, pushed = r.URL.Path, body
		mu.Unlock()
	}))
	defer gw.Close()

	require.NoError(t, pushRunMetrics(ctx, reg, config.MetricsConfig{PushgatewayURL: gw.URL, Job: "nil_valuation"}))
	mu.Lock()
	gotPath, gotBody := pushPath, string(pushed)
	mu.Unlock()
	assert.Equal(t, "/metrics/job/nil_valuation", gotPath)
	for _, name := range []string{"nil_stage_duration_seconds", "nil_runs_total", "nil_valuations_published", "nil_backtest_matched"} {
		assert.Contains(t, gotBody, name)
	}

	bt, err := runBacktest(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, run.Result.Backtest.Matched, bt.Matched)
	assert.InDelta(t, run.Result.Backtest.MAPE, bt.MAPE, 1e-9)
	assert.InDelta(t, run.Result.Backtest.Coverage, bt.Coverage, 1e-9)

	// Re-ingesting the same directory replaces rows.
	_, err = ingestDir(ctx, st, raw, "", testAsOf)
	require.NoError(t, err)
	again, err := st.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, again.BoxScores, len(snap.BoxScores))
	assert.Len(t, again.Deals, 2)
}

func TestPushRunMetrics_NoGateway(t *testing.T) {
	require.NoError(t, pushRunMetrics(context.Background(), metrics.New(), config.MetricsConfig{Job: "nil_valuation"}))
}

func TestPushRunMetrics_GatewayDown(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer gw.Close()

	err := pushRunMetrics(context.Background(), metrics.New(), config.MetricsConfig{PushgatewayURL: gw.URL, Job: "nil_valuation"})
	require.Error(t, err)
}

func TestIngestDir_MissingAthletes(t *testing.T) {
	cfg = config.Default()
	st := newTestStore(t)

	_, err := ingestDir(context.Background(), st, t.TempDir(), "", testAsOf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "athletes")
}

func TestWriteReport(t *testing.T) {
	run := &model.Run{
		ID:     "run-1",
		AsOf:   testAsOf,
		Status: model.RunStatusFailed,
		Result: &model.RunResult{
			Athletes: 3,
			Features: 3,
			Backtest: model.BacktestResult{Matched: 0},
			Phases: []model.PhaseResult{
				{Name: "load", Status: model.PhaseStatusComplete, Duration: 12},
				{Name: "value", Status: model.PhaseStatusFailed, Error: "boom"},
				{Name: "backtest", Status: model.PhaseStatusSkipped},
			},
			Error: "pipeline: store valuations: boom",
		},
	}

	path := filepath.Join(t.TempDir(), "report.yaml")
	require.NoError(t, writeReport(path, run, "Estimated value, not contractual."))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got runReport
	require.NoError(t, yaml.Unmarshal(data, &got))
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, "2026-10-18", got.AsOf)
	assert.Equal(t, "failed", got.Status)
	assert.Equal(t, 3, got.Athletes)
	require.Len(t, got.Phases, 3)
	assert.Equal(t, "boom", got.Phases[1].Error)
	assert.Equal(t, "skipped", got.Phases[2].Status)
	assert.Equal(t, "Estimated value, not contractual.", got.Disclaimer)
}

func TestBuildReport_NoResult(t *testing.T) {
	rep := buildReport(&model.Run{ID: "r", AsOf: testAsOf, Status: model.RunStatusQueued}, "d")
	assert.Equal(t, "queued", rep.Status)
	assert.Empty(t, rep.Phases)
}
