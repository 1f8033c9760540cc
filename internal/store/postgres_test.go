package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blaze-intel/nil-valuation/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_ReplaceValuations(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	asOf := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_replace_nil_valuations"`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_replace_nil_valuations"}, valuationsTable.columns).WillReturnResult(1)
	mock.ExpectExec(`DELETE FROM "nil_valuations" AS t USING`).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`INSERT INTO "nil_valuations"`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	v := model.Valuation{AthleteID: "a", AsOf: asOf, NILValue: 42500, ConfidenceLower: 17825, ConfidenceUpper: 67175}
	n, err := s.ReplaceValuations(context.Background(), []model.Valuation{v, v})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceFeatures_InsertFails(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_replace_features"}, featuresTable.columns).WillReturnResult(1)
	mock.ExpectExec(`DELETE FROM "features"`).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`INSERT INTO "features"`).WillReturnError(fmt.Errorf("disk full"))
	mock.ExpectRollback()

	_, err := s.ReplaceFeatures(context.Background(), []model.FeatureRow{{AthleteID: "a", AsOf: time.Now()}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: replace features")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceEmptyIsNoop(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	n, err := s.ReplaceBoxScores(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertAthletes(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_athletes"`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_athletes"}, athletesTable.columns).WillReturnResult(2)
	mock.ExpectExec(`ON CONFLICT \("athlete_id"\) DO UPDATE`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := s.UpsertAthletes(context.Background(), []model.Athlete{
		{ID: "a", Name: "A", Sport: "football"},
		{ID: "b", Name: "B", Sport: "baseball"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Leaderboard(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	asOf := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	cols := []string{"athlete_id", "name", "sport", "school", "as_of", "nil_value", "confidence_lower", "confidence_upper", "attention_score", "performance_index"}
	mock.ExpectQuery(`(?s)DISTINCT ON \(athlete_id\).+ORDER BY v\.nil_value DESC`).
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("f1", "Jordan", "football", "State", asOf, 120000.0, 90000.0, 150000.0, 2.1, 18.0).
			AddRow("b1", "Avery", "basketball", "Coastal", asOf, 60000.0, 30000.0, 90000.0, 1.4, 22.0))

	board, err := s.Leaderboard(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "f1", board[0].Athlete.ID)
	assert.Equal(t, "f1", board[0].Valuation.AthleteID)
	assert.Equal(t, 120000.0, board[0].Valuation.NILValue)
	assert.Equal(t, "Avery", board[1].Athlete.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestValuation_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM nil_valuations v`).
		WithArgs("nobody").
		WillReturnError(pgx.ErrNoRows)

	v, err := s.LatestValuation(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestValuation_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM nil_valuations v`).
		WithArgs("a").
		WillReturnError(fmt.Errorf("connection reset"))

	_, err := s.LatestValuation(context.Background(), "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: latest valuation a")
}

func TestPostgresStore_LoadSnapshot_QueryError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM athletes`).
		WillReturnRows(pgxmock.NewRows([]string{"athlete_id", "name", "sport", "school"}).
			AddRow("a", "A", "football", "State"))
	mock.ExpectQuery(`FROM box_scores`).WillReturnError(fmt.Errorf("relation does not exist"))

	_, err := s.LoadSnapshot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: query box scores")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, as_of, status, result, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	asOf := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), asOf, "queued", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), asOf)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusQueued, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunResult_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET result`).
		WithArgs(pgxmock.AnyArg(), "failed", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunResult(context.Background(), "missing", model.RunStatusFailed, &model.RunResult{Error: "boom"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found: missing")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`AND status = \$1 AND created_at >= \$2 ORDER BY created_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("complete", since, 5, 10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "as_of", "status", "result", "created_at", "updated_at"}).
			AddRow("r1", since, model.RunStatusComplete, []byte(`{"athletes":3,"backtest":{"mape":null,"bias":null,"coverage":0,"matched":0}}`), since, since))

	runs, err := s.ListRuns(context.Background(), RunFilter{Status: model.RunStatusComplete, Since: since, Limit: 5, Offset: 10})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.NotNil(t, runs[0].Result)
	assert.Equal(t, 3, runs[0].Result.Athletes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompletePhase(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE run_phases SET status`).
		WithArgs("complete", pgxmock.AnyArg(), "phase-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.CompletePhase(context.Background(), "phase-1", &model.PhaseResult{Name: "features", Status: model.PhaseStatusComplete})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS athletes`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
