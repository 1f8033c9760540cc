// Package store persists the warehouse tables and the run audit log.
package store

import (
	"context"
	"time"

	"github.com/blaze-intel/nil-valuation/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Since  time.Time       `json:"since,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Warehouse defines the persistence interface for the valuation pipeline.
//
// Athletes are upserted by id. Every other table is written with
// delete-matching-keys-then-insert so a rerun for the same day replaces rows
// instead of accumulating them. Each call is one transaction.
type Warehouse interface {
	// Dimension
	UpsertAthletes(ctx context.Context, athletes []model.Athlete) (int64, error)

	// Observations
	ReplaceBoxScores(ctx context.Context, rows []model.BoxScore) (int64, error)
	ReplaceSocial(ctx context.Context, rows []model.SocialObservation) (int64, error)
	ReplaceSearch(ctx context.Context, rows []model.SearchObservation) (int64, error)
	ReplaceDeals(ctx context.Context, rows []model.Deal) (int64, error)
	LoadSnapshot(ctx context.Context) (*model.Snapshot, error)

	// Derived
	ReplaceFeatures(ctx context.Context, rows []model.FeatureRow) (int64, error)
	ReplaceValuations(ctx context.Context, rows []model.Valuation) (int64, error)

	// Serving reads
	Leaderboard(ctx context.Context, limit int) ([]model.AthleteValuation, error)
	LatestValuation(ctx context.Context, athleteID string) (*model.AthleteValuation, error)
	LatestValuations(ctx context.Context) ([]model.Valuation, error)
	AthleteFeatures(ctx context.Context, athleteID string) ([]model.FeatureRow, error)

	// Runs
	CreateRun(ctx context.Context, asOf time.Time) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Phases
	CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error)
	CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// table describes a keyed warehouse table shared by both backends.
type table struct {
	name    string
	columns []string
	keys    []string
}

var (
	athletesTable = table{
		name:    "athletes",
		columns: []string{"athlete_id", "name", "sport", "school"},
		keys:    []string{"athlete_id"},
	}
	boxScoresTable = table{
		name:    "box_scores",
		columns: []string{"athlete_id", "game_date", "opponent", "points", "assists", "rebounds", "efficiency", "minutes"},
		keys:    []string{"athlete_id", "game_date", "opponent"},
	}
	socialTable = table{
		name:    "social_stats",
		columns: []string{"athlete_id", "channel", "stat_date", "followers", "engagement_rate", "growth_rate"},
		keys:    []string{"athlete_id", "channel", "stat_date"},
	}
	searchTable = table{
		name:    "search_interest",
		columns: []string{"athlete_id", "stat_date", "interest_score"},
		keys:    []string{"athlete_id", "stat_date"},
	}
	dealsTable = table{
		name:    "nil_deals",
		columns: []string{"athlete_id", "deal_date", "deal_value"},
		keys:    []string{"athlete_id", "deal_date"},
	}
	featuresTable = table{
		name:    "features",
		columns: []string{"athlete_id", "as_of", "attention_score", "performance_index", "context_multiplier", "adjusted_attention", "adjusted_performance"},
		keys:    []string{"athlete_id", "as_of"},
	}
	valuationsTable = table{
		name:    "nil_valuations",
		columns: []string{"athlete_id", "as_of", "nil_value", "confidence_lower", "confidence_upper", "attention_score", "performance_index"},
		keys:    []string{"athlete_id", "as_of"},
	}
)

// Row builders. Times are bound in UTC so keys compare equal across runs.

func athleteRows(in []model.Athlete) [][]any {
	out := make([][]any, len(in))
	for i, a := range in {
		out[i] = []any{a.ID, a.Name, a.Sport, a.School}
	}
	return out
}

func boxScoreRows(in []model.BoxScore) [][]any {
	out := make([][]any, len(in))
	for i, b := range in {
		out[i] = []any{b.AthleteID, b.GameDate.UTC(), b.Opponent, b.Points, b.Assists, b.Rebounds, b.Efficiency, b.Minutes}
	}
	return out
}

func socialRows(in []model.SocialObservation) [][]any {
	out := make([][]any, len(in))
	for i, s := range in {
		out[i] = []any{s.AthleteID, s.Channel, s.Date.UTC(), s.Followers, s.EngagementRate, s.GrowthRate}
	}
	return out
}

func searchRows(in []model.SearchObservation) [][]any {
	out := make([][]any, len(in))
	for i, s := range in {
		out[i] = []any{s.AthleteID, s.Date.UTC(), s.InterestScore}
	}
	return out
}

func dealRows(in []model.Deal) [][]any {
	out := make([][]any, len(in))
	for i, d := range in {
		out[i] = []any{d.AthleteID, d.DealDate.UTC(), d.Value}
	}
	return out
}

func featureRows(in []model.FeatureRow) [][]any {
	out := make([][]any, len(in))
	for i, f := range in {
		out[i] = []any{f.AthleteID, f.AsOf.UTC(), f.AttentionScore, f.PerformanceIndex, f.ContextMultiplier, f.AdjustedAttention, f.AdjustedPerformance}
	}
	return out
}

func valuationRows(in []model.Valuation) [][]any {
	out := make([][]any, len(in))
	for i, v := range in {
		out[i] = []any{v.AthleteID, v.AsOf.UTC(), v.NILValue, v.ConfidenceLower, v.ConfidenceUpper, v.AttentionScore, v.PerformanceIndex}
	}
	return out
}

type scannable interface {
	Scan(dest ...any) error
}

const athleteValuationColumns = `a.athlete_id, a.name, a.sport, a.school,
	v.as_of, v.nil_value, v.confidence_lower, v.confidence_upper, v.attention_score, v.performance_index`

func scanAthleteValuation(row scannable) (*model.AthleteValuation, error) {
	var av model.AthleteValuation
	err := row.Scan(
		&av.Athlete.ID, &av.Athlete.Name, &av.Athlete.Sport, &av.Athlete.School,
		&av.Valuation.AsOf, &av.Valuation.NILValue, &av.Valuation.ConfidenceLower, &av.Valuation.ConfidenceUpper,
		&av.Valuation.AttentionScore, &av.Valuation.PerformanceIndex,
	)
	if err != nil {
		return nil, err
	}
	av.Valuation.AthleteID = av.Athlete.ID
	av.Valuation.AsOf = av.Valuation.AsOf.UTC()
	return &av, nil
}

const valuationColumns = `athlete_id, as_of, nil_value, confidence_lower, confidence_upper, attention_score, performance_index`

func scanValuation(row scannable) (model.Valuation, error) {
	var v model.Valuation
	err := row.Scan(&v.AthleteID, &v.AsOf, &v.NILValue, &v.ConfidenceLower, &v.ConfidenceUpper, &v.AttentionScore, &v.PerformanceIndex)
	v.AsOf = v.AsOf.UTC()
	return v, err
}

const featureColumns = `athlete_id, as_of, attention_score, performance_index, context_multiplier, adjusted_attention, adjusted_performance`

func scanFeature(row scannable) (model.FeatureRow, error) {
	var f model.FeatureRow
	err := row.Scan(&f.AthleteID, &f.AsOf, &f.AttentionScore, &f.PerformanceIndex, &f.ContextMultiplier, &f.AdjustedAttention, &f.AdjustedPerformance)
	f.AsOf = f.AsOf.UTC()
	return f, err
}

// Snapshot reads. Column order matches the row builders.

const (
	selectAthletes  = `SELECT athlete_id, name, sport, school FROM athletes ORDER BY athlete_id`
	selectBoxScores = `SELECT athlete_id, game_date, opponent, points, assists, rebounds, efficiency, minutes FROM box_scores ORDER BY athlete_id, game_date, opponent`
	selectSocial    = `SELECT athlete_id, channel, stat_date, followers, engagement_rate, growth_rate FROM social_stats ORDER BY athlete_id, stat_date, channel`
	selectSearch    = `SELECT athlete_id, stat_date, interest_score FROM search_interest ORDER BY athlete_id, stat_date`
	selectDeals     = `SELECT athlete_id, deal_date, deal_value FROM nil_deals ORDER BY athlete_id, deal_date`
)

func scanAthlete(row scannable) (model.Athlete, error) {
	var a model.Athlete
	err := row.Scan(&a.ID, &a.Name, &a.Sport, &a.School)
	return a, err
}

func scanBoxScore(row scannable) (model.BoxScore, error) {
	var b model.BoxScore
	err := row.Scan(&b.AthleteID, &b.GameDate, &b.Opponent, &b.Points, &b.Assists, &b.Rebounds, &b.Efficiency, &b.Minutes)
	b.GameDate = b.GameDate.UTC()
	return b, err
}

func scanSocial(row scannable) (model.SocialObservation, error) {
	var s model.SocialObservation
	err := row.Scan(&s.AthleteID, &s.Channel, &s.Date, &s.Followers, &s.EngagementRate, &s.GrowthRate)
	s.Date = s.Date.UTC()
	return s, err
}

func scanSearch(row scannable) (model.SearchObservation, error) {
	var s model.SearchObservation
	err := row.Scan(&s.AthleteID, &s.Date, &s.InterestScore)
	s.Date = s.Date.UTC()
	return s, err
}

func scanDeal(row scannable) (model.Deal, error) {
	var d model.Deal
	err := row.Scan(&d.AthleteID, &d.DealDate, &d.Value)
	d.DealDate = d.DealDate.UTC()
	return d, err
}
