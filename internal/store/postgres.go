package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/blaze-intel/nil-valuation/internal/db"
	"github.com/blaze-intel/nil-valuation/internal/model"
)

// PostgresStore implements Warehouse using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS athletes (
	athlete_id TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	sport      TEXT NOT NULL DEFAULT '',
	school     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS box_scores (
	athlete_id TEXT NOT NULL,
	game_date  DATE NOT NULL,
	opponent   TEXT NOT NULL DEFAULT '',
	points     DOUBLE PRECISION NOT NULL DEFAULT 0,
	assists    DOUBLE PRECISION NOT NULL DEFAULT 0,
	rebounds   DOUBLE PRECISION NOT NULL DEFAULT 0,
	efficiency DOUBLE PRECISION NOT NULL DEFAULT 0,
	minutes    DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (athlete_id, game_date, opponent)
);

CREATE TABLE IF NOT EXISTS social_stats (
	athlete_id      TEXT NOT NULL,
	channel         TEXT NOT NULL,
	stat_date       DATE NOT NULL,
	followers       BIGINT NOT NULL DEFAULT 0,
	engagement_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
	growth_rate     DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (athlete_id, channel, stat_date)
);

CREATE TABLE IF NOT EXISTS search_interest (
	athlete_id     TEXT NOT NULL,
	stat_date      DATE NOT NULL,
	interest_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (athlete_id, stat_date)
);

CREATE TABLE IF NOT EXISTS nil_deals (
	athlete_id TEXT NOT NULL,
	deal_date  DATE NOT NULL,
	deal_value DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (athlete_id, deal_date)
);

CREATE TABLE IF NOT EXISTS features (
	athlete_id           TEXT NOT NULL,
	as_of                TIMESTAMPTZ NOT NULL,
	attention_score      DOUBLE PRECISION NOT NULL,
	performance_index    DOUBLE PRECISION NOT NULL,
	context_multiplier   DOUBLE PRECISION NOT NULL,
	adjusted_attention   DOUBLE PRECISION NOT NULL,
	adjusted_performance DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (athlete_id, as_of)
);

CREATE TABLE IF NOT EXISTS nil_valuations (
	athlete_id        TEXT NOT NULL,
	as_of             TIMESTAMPTZ NOT NULL,
	nil_value         DOUBLE PRECISION NOT NULL,
	confidence_lower  DOUBLE PRECISION NOT NULL,
	confidence_upper  DOUBLE PRECISION NOT NULL,
	attention_score   DOUBLE PRECISION NOT NULL,
	performance_index DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (athlete_id, as_of),
	CHECK (0 <= confidence_lower AND confidence_lower <= nil_value AND nil_value <= confidence_upper)
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	as_of      TIMESTAMPTZ NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_phases (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     JSONB,
	started_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_nil_valuations_as_of ON nil_valuations(athlete_id, as_of DESC);
CREATE INDEX IF NOT EXISTS idx_features_as_of ON features(athlete_id, as_of DESC);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Migrate creates the warehouse schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) replace(ctx context.Context, t table, rows [][]any) (int64, error) {
	n, err := db.ReplaceByKeys(ctx, s.pool, db.ReplaceConfig{
		Table:   t.name,
		Columns: t.columns,
		Keys:    t.keys,
	}, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: replace %s", t.name)
	}
	return n, nil
}

func (s *PostgresStore) UpsertAthletes(ctx context.Context, athletes []model.Athlete) (int64, error) {
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        athletesTable.name,
		Columns:      athletesTable.columns,
		ConflictKeys: athletesTable.keys,
	}, athleteRows(athletes))
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert athletes")
	}
	return n, nil
}

func (s *PostgresStore) ReplaceBoxScores(ctx context.Context, rows []model.BoxScore) (int64, error) {
	return s.replace(ctx, boxScoresTable, boxScoreRows(rows))
}

func (s *PostgresStore) ReplaceSocial(ctx context.Context, rows []model.SocialObservation) (int64, error) {
	return s.replace(ctx, socialTable, socialRows(rows))
}

func (s *PostgresStore) ReplaceSearch(ctx context.Context, rows []model.SearchObservation) (int64, error) {
	return s.replace(ctx, searchTable, searchRows(rows))
}

func (s *PostgresStore) ReplaceDeals(ctx context.Context, rows []model.Deal) (int64, error) {
	return s.replace(ctx, dealsTable, dealRows(rows))
}

func (s *PostgresStore) ReplaceFeatures(ctx context.Context, rows []model.FeatureRow) (int64, error) {
	return s.replace(ctx, featuresTable, featureRows(rows))
}

func (s *PostgresStore) ReplaceValuations(ctx context.Context, rows []model.Valuation) (int64, error) {
	return s.replace(ctx, valuationsTable, valuationRows(rows))
}

func pgQueryAll[T any](ctx context.Context, pool db.Pool, what, query string, scan func(scannable) (T, error), args ...any) ([]T, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: query %s", what)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s", what)
		}
		out = append(out, v)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: iterate %s", what)
}

func (s *PostgresStore) LoadSnapshot(ctx context.Context) (*model.Snapshot, error) {
	var snap model.Snapshot
	var err error
	if snap.Athletes, err = pgQueryAll(ctx, s.pool, "athletes", selectAthletes, scanAthlete); err != nil {
		return nil, err
	}
	if snap.BoxScores, err = pgQueryAll(ctx, s.pool, "box scores", selectBoxScores, scanBoxScore); err != nil {
		return nil, err
	}
	if snap.Social, err = pgQueryAll(ctx, s.pool, "social stats", selectSocial, scanSocial); err != nil {
		return nil, err
	}
	if snap.Search, err = pgQueryAll(ctx, s.pool, "search interest", selectSearch, scanSearch); err != nil {
		return nil, err
	}
	if snap.Deals, err = pgQueryAll(ctx, s.pool, "deals", selectDeals, scanDeal); err != nil {
		return nil, err
	}
	return &snap, nil
}

const pgLatestValuations = `SELECT DISTINCT ON (athlete_id) ` + valuationColumns + `
	FROM nil_valuations ORDER BY athlete_id, as_of DESC`

func (s *PostgresStore) Leaderboard(ctx context.Context, limit int) ([]model.AthleteValuation, error) {
	query := `SELECT ` + athleteValuationColumns + `
		FROM (` + pgLatestValuations + `) v
		JOIN athletes a ON a.athlete_id = v.athlete_id
		ORDER BY v.nil_value DESC, v.athlete_id
		LIMIT $1`
	scan := func(row scannable) (model.AthleteValuation, error) {
		av, err := scanAthleteValuation(row)
		if err != nil {
			return model.AthleteValuation{}, err
		}
		return *av, nil
	}
	return pgQueryAll(ctx, s.pool, "leaderboard", query, scan, limit)
}

func (s *PostgresStore) LatestValuation(ctx context.Context, athleteID string) (*model.AthleteValuation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+athleteValuationColumns+`
		 FROM nil_valuations v
		 JOIN athletes a ON a.athlete_id = v.athlete_id
		 WHERE v.athlete_id = $1
		 ORDER BY v.as_of DESC LIMIT 1`,
		athleteID,
	)
	av, err := scanAthleteValuation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: latest valuation %s", athleteID)
	}
	return av, nil
}

func (s *PostgresStore) LatestValuations(ctx context.Context) ([]model.Valuation, error) {
	return pgQueryAll(ctx, s.pool, "latest valuations", pgLatestValuations, scanValuation)
}

func (s *PostgresStore) AthleteFeatures(ctx context.Context, athleteID string) ([]model.FeatureRow, error) {
	return pgQueryAll(ctx, s.pool, "features",
		`SELECT `+featureColumns+` FROM features WHERE athlete_id = $1 ORDER BY as_of`,
		scanFeature, athleteID)
}

func (s *PostgresStore) CreateRun(ctx context.Context, asOf time.Time) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, as_of, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, asOf.UTC(), string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		AsOf:      asOf.UTC(),
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunResult(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
		resultJSON, string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run result %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func scanPGRun(row scannable) (model.Run, error) {
	var r model.Run
	var resultJSON []byte
	if err := row.Scan(&r.ID, &r.AsOf, &r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return r, err
	}
	if resultJSON != nil {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal(resultJSON, r.Result); err != nil {
			return r, eris.Wrap(err, "unmarshal result")
		}
	}
	return r, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanPGRun(s.pool.QueryRow(ctx,
		`SELECT id, as_of, status, result, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, as_of, status, result, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.Since.UTC())
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	return pgQueryAll(ctx, s.pool, "runs", query, scanPGRun, args...)
}

func (s *PostgresStore) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		id, runID, name, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert phase for run %s", runID)
	}

	return &model.RunPhase{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal phase result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE run_phases SET status = $1, result = $2 WHERE id = $3`,
		string(result.Status), resultJSON, phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete phase %s", phaseID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("phase not found: %s", phaseID)
	}
	return nil
}
