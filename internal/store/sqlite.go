package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/blaze-intel/nil-valuation/internal/db"
	"github.com/blaze-intel/nil-valuation/internal/model"
)

// SQLiteStore implements Warehouse using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS athletes (
	athlete_id TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	sport      TEXT NOT NULL DEFAULT '',
	school     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS box_scores (
	athlete_id TEXT NOT NULL,
	game_date  DATETIME NOT NULL,
	opponent   TEXT NOT NULL DEFAULT '',
	points     REAL NOT NULL DEFAULT 0,
	assists    REAL NOT NULL DEFAULT 0,
	rebounds   REAL NOT NULL DEFAULT 0,
	efficiency REAL NOT NULL DEFAULT 0,
	minutes    REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (athlete_id, game_date, opponent)
);

CREATE TABLE IF NOT EXISTS social_stats (
	athlete_id      TEXT NOT NULL,
	channel         TEXT NOT NULL,
	stat_date       DATETIME NOT NULL,
	followers       INTEGER NOT NULL DEFAULT 0,
	engagement_rate REAL NOT NULL DEFAULT 0,
	growth_rate     REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (athlete_id, channel, stat_date)
);

CREATE TABLE IF NOT EXISTS search_interest (
	athlete_id     TEXT NOT NULL,
	stat_date      DATETIME NOT NULL,
	interest_score REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (athlete_id, stat_date)
);

CREATE TABLE IF NOT EXISTS nil_deals (
	athlete_id TEXT NOT NULL,
	deal_date  DATETIME NOT NULL,
	deal_value REAL NOT NULL,
	PRIMARY KEY (athlete_id, deal_date)
);

CREATE TABLE IF NOT EXISTS features (
	athlete_id           TEXT NOT NULL,
	as_of                DATETIME NOT NULL,
	attention_score      REAL NOT NULL,
	performance_index    REAL NOT NULL,
	context_multiplier   REAL NOT NULL,
	adjusted_attention   REAL NOT NULL,
	adjusted_performance REAL NOT NULL,
	PRIMARY KEY (athlete_id, as_of)
);

CREATE TABLE IF NOT EXISTS nil_valuations (
	athlete_id        TEXT NOT NULL,
	as_of             DATETIME NOT NULL,
	nil_value         REAL NOT NULL,
	confidence_lower  REAL NOT NULL,
	confidence_upper  REAL NOT NULL,
	attention_score   REAL NOT NULL,
	performance_index REAL NOT NULL,
	PRIMARY KEY (athlete_id, as_of),
	CHECK (0 <= confidence_lower AND confidence_lower <= nil_value AND nil_value <= confidence_upper)
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	as_of      DATETIME NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_phases (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     TEXT,
	started_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// inTx runs fn in a transaction, rolling back on any error.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "commit tx")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (s *SQLiteStore) replace(ctx context.Context, t table, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	rows, err := db.DedupeByKeys(t.columns, t.keys, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: replace %s", t.name)
	}

	conds := make([]string, len(t.keys))
	keyPos := make([]int, len(t.keys))
	for i, k := range t.keys {
		conds[i] = k + " = ?"
		for j, c := range t.columns {
			if c == k {
				keyPos[i] = j
			}
		}
	}
	deleteSQL := "DELETE FROM " + t.name + " WHERE " + strings.Join(conds, " AND ")
	insertSQL := "INSERT INTO " + t.name + " (" + strings.Join(t.columns, ", ") + ") VALUES (" + placeholders(len(t.columns)) + ")"

	var inserted int64
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		del, err := tx.PrepareContext(ctx, deleteSQL)
		if err != nil {
			return eris.Wrap(err, "prepare delete")
		}
		defer del.Close() //nolint:errcheck
		ins, err := tx.PrepareContext(ctx, insertSQL)
		if err != nil {
			return eris.Wrap(err, "prepare insert")
		}
		defer ins.Close() //nolint:errcheck

		keyArgs := make([]any, len(keyPos))
		for _, row := range rows {
			for i, p := range keyPos {
				keyArgs[i] = row[p]
			}
			if _, err := del.ExecContext(ctx, keyArgs...); err != nil {
				return eris.Wrap(err, "delete matching keys")
			}
		}
		for _, row := range rows {
			if _, err := ins.ExecContext(ctx, row...); err != nil {
				return eris.Wrap(err, "insert")
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: replace %s", t.name)
	}
	return inserted, nil
}

func (s *SQLiteStore) UpsertAthletes(ctx context.Context, athletes []model.Athlete) (int64, error) {
	if len(athletes) == 0 {
		return 0, nil
	}
	t := athletesTable
	rows, err := db.DedupeByKeys(t.columns, t.keys, athleteRows(athletes))
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert athletes")
	}

	upsertSQL := `INSERT INTO athletes (athlete_id, name, sport, school) VALUES (?, ?, ?, ?)
		ON CONFLICT (athlete_id) DO UPDATE SET name = excluded.name, sport = excluded.sport, school = excluded.school`

	var n int64
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		for _, row := range rows {
			if _, err := tx.ExecContext(ctx, upsertSQL, row...); err != nil {
				return eris.Wrapf(err, "upsert athlete %v", row[0])
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert athletes")
	}
	return n, nil
}

func (s *SQLiteStore) ReplaceBoxScores(ctx context.Context, rows []model.BoxScore) (int64, error) {
	return s.replace(ctx, boxScoresTable, boxScoreRows(rows))
}

func (s *SQLiteStore) ReplaceSocial(ctx context.Context, rows []model.SocialObservation) (int64, error) {
	return s.replace(ctx, socialTable, socialRows(rows))
}

func (s *SQLiteStore) ReplaceSearch(ctx context.Context, rows []model.SearchObservation) (int64, error) {
	return s.replace(ctx, searchTable, searchRows(rows))
}

func (s *SQLiteStore) ReplaceDeals(ctx context.Context, rows []model.Deal) (int64, error) {
	return s.replace(ctx, dealsTable, dealRows(rows))
}

func (s *SQLiteStore) ReplaceFeatures(ctx context.Context, rows []model.FeatureRow) (int64, error) {
	return s.replace(ctx, featuresTable, featureRows(rows))
}

func (s *SQLiteStore) ReplaceValuations(ctx context.Context, rows []model.Valuation) (int64, error) {
	return s.replace(ctx, valuationsTable, valuationRows(rows))
}

func sqliteQueryAll[T any](ctx context.Context, conn *sql.DB, what, query string, scan func(scannable) (T, error), args ...any) ([]T, error) {
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query %s", what)
	}
	defer rows.Close() //nolint:errcheck

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan %s", what)
		}
		out = append(out, v)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: iterate %s", what)
}

func (s *SQLiteStore) LoadSnapshot(ctx context.Context) (*model.Snapshot, error) {
	var snap model.Snapshot
	var err error
	if snap.Athletes, err = sqliteQueryAll(ctx, s.db, "athletes", selectAthletes, scanAthlete); err != nil {
		return nil, err
	}
	if snap.BoxScores, err = sqliteQueryAll(ctx, s.db, "box scores", selectBoxScores, scanBoxScore); err != nil {
		return nil, err
	}
	if snap.Social, err = sqliteQueryAll(ctx, s.db, "social stats", selectSocial, scanSocial); err != nil {
		return nil, err
	}
	if snap.Search, err = sqliteQueryAll(ctx, s.db, "search interest", selectSearch, scanSearch); err != nil {
		return nil, err
	}
	if snap.Deals, err = sqliteQueryAll(ctx, s.db, "deals", selectDeals, scanDeal); err != nil {
		return nil, err
	}
	return &snap, nil
}

const sqliteLatestValuations = `SELECT ` + valuationColumns + ` FROM (
	SELECT *, ROW_NUMBER() OVER (PARTITION BY athlete_id ORDER BY as_of DESC) AS rn
	FROM nil_valuations
) WHERE rn = 1`

func (s *SQLiteStore) Leaderboard(ctx context.Context, limit int) ([]model.AthleteValuation, error) {
	query := `SELECT ` + athleteValuationColumns + `
		FROM (` + sqliteLatestValuations + `) v
		JOIN athletes a ON a.athlete_id = v.athlete_id
		ORDER BY v.nil_value DESC, v.athlete_id
		LIMIT ?`
	scan := func(row scannable) (model.AthleteValuation, error) {
		av, err := scanAthleteValuation(row)
		if err != nil {
			return model.AthleteValuation{}, err
		}
		return *av, nil
	}
	return sqliteQueryAll(ctx, s.db, "leaderboard", query, scan, limit)
}

func (s *SQLiteStore) LatestValuation(ctx context.Context, athleteID string) (*model.AthleteValuation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+athleteValuationColumns+`
		 FROM nil_valuations v
		 JOIN athletes a ON a.athlete_id = v.athlete_id
		 WHERE v.athlete_id = ?
		 ORDER BY v.as_of DESC LIMIT 1`,
		athleteID,
	)
	av, err := scanAthleteValuation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: latest valuation %s", athleteID)
	}
	return av, nil
}

func (s *SQLiteStore) LatestValuations(ctx context.Context) ([]model.Valuation, error) {
	return sqliteQueryAll(ctx, s.db, "latest valuations", sqliteLatestValuations+` ORDER BY athlete_id`, scanValuation)
}

func (s *SQLiteStore) AthleteFeatures(ctx context.Context, athleteID string) ([]model.FeatureRow, error) {
	return sqliteQueryAll(ctx, s.db, "features",
		`SELECT `+featureColumns+` FROM features WHERE athlete_id = ? ORDER BY as_of`,
		scanFeature, athleteID)
}

func (s *SQLiteStore) CreateRun(ctx context.Context, asOf time.Time) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, as_of, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, asOf.UTC(), string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		AsOf:      asOf.UTC(),
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) UpdateRunResult(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET result = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run result %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, as_of, status, result, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanSQLiteRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return &r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, as_of, status, result, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	return sqliteQueryAll(ctx, s.db, "runs", query, scanSQLiteRun, args...)
}

func (s *SQLiteStore) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, runID, name, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert phase for run %s", runID)
	}

	return &model.RunPhase{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal phase result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE run_phases SET status = ?, result = ? WHERE id = ?`,
		string(result.Status), string(resultJSON), phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete phase %s", phaseID)
	}
	return checkRowsAffected(res, "phase", phaseID)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func scanSQLiteRun(row scannable) (model.Run, error) {
	var r model.Run
	var resultJSON sql.NullString

	if err := row.Scan(&r.ID, &r.AsOf, &r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return r, err
	}
	if resultJSON.Valid {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return r, eris.Wrap(err, "unmarshal result")
		}
	}
	return r, nil
}
