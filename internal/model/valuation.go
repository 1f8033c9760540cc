package model

import (
	"encoding/json"
	"math"
	"time"
)

// AttentionScore is the decayed popularity composite for one athlete.
type AttentionScore struct {
	AthleteID string    `json:"athlete_id"`
	AsOf      time.Time `json:"as_of"`
	Score     float64   `json:"attention_score"`
}

// PerformanceIndex is the weighted blend of box score means for one athlete.
type PerformanceIndex struct {
	AthleteID string    `json:"athlete_id"`
	AsOf      time.Time `json:"as_of"`
	Index     float64   `json:"performance_index"`
	GameCount int       `json:"game_count"`
}

// FeatureRow is the context-adjusted feature vector for an athlete at a run.
// Unique per (AthleteID, AsOf).
type FeatureRow struct {
	AthleteID           string    `json:"athlete_id"`
	AsOf                time.Time `json:"as_of"`
	AttentionScore      float64   `json:"attention_score"`
	PerformanceIndex    float64   `json:"performance_index"`
	ContextMultiplier   float64   `json:"context_multiplier"`
	AdjustedAttention   float64   `json:"adjusted_attention"`
	AdjustedPerformance float64   `json:"adjusted_performance"`
}

// Valuation is the published NIL estimate for an athlete at a run.
// Invariant: 0 <= ConfidenceLower <= NILValue <= ConfidenceUpper.
type Valuation struct {
	AthleteID        string    `json:"athlete_id"`
	AsOf             time.Time `json:"as_of"`
	NILValue         float64   `json:"nil_value"`
	ConfidenceLower  float64   `json:"confidence_lower"`
	ConfidenceUpper  float64   `json:"confidence_upper"`
	AttentionScore   float64   `json:"attention_score"`
	PerformanceIndex float64   `json:"performance_index"`
}

// AthleteValuation is a valuation joined with its athlete dimension row.
type AthleteValuation struct {
	Athlete
	Valuation
}

// BacktestResult summarizes valuation accuracy against observed deals.
// MAPE and Bias are NaN when no valuation overlaps a deal.
type BacktestResult struct {
	MAPE     float64 `json:"mape"`
	Bias     float64 `json:"bias"`
	Coverage float64 `json:"coverage"`
	Matched  int     `json:"matched"`
}

type backtestJSON struct {
	MAPE     *float64 `json:"mape"`
	Bias     *float64 `json:"bias"`
	Coverage float64  `json:"coverage"`
	Matched  int      `json:"matched"`
}

// MarshalJSON encodes NaN metrics as null.
func (r BacktestResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(backtestJSON{
		MAPE:     finiteOrNil(r.MAPE),
		Bias:     finiteOrNil(r.Bias),
		Coverage: r.Coverage,
		Matched:  r.Matched,
	})
}

// UnmarshalJSON decodes null metrics back to NaN.
func (r *BacktestResult) UnmarshalJSON(data []byte) error {
	var raw backtestJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.MAPE = math.NaN()
	if raw.MAPE != nil {
		r.MAPE = *raw.MAPE
	}
	r.Bias = math.NaN()
	if raw.Bias != nil {
		r.Bias = *raw.Bias
	}
	r.Coverage = raw.Coverage
	r.Matched = raw.Matched
	return nil
}

func finiteOrNil(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
