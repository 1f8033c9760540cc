package api

import (
	"time"

	"github.com/blaze-intel/nil-valuation/internal/model"
)

// LeaderboardEntry is one ranked athlete.
type LeaderboardEntry struct {
	Rank      int     `json:"rank"`
	AthleteID string  `json:"athlete_id"`
	Name      string  `json:"name"`
	Sport     string  `json:"sport"`
	School    string  `json:"school"`
	NILValue  float64 `json:"nil_value"`
	Trend     float64 `json:"trend"`
}

// LeaderboardResponse is the body of GET /leaderboard.
type LeaderboardResponse struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Results     []LeaderboardEntry `json:"results"`
	Disclaimer  string             `json:"disclaimer"`
}

// ValuationDrivers are the features behind a valuation.
type ValuationDrivers struct {
	AttentionScore   float64 `json:"attention_score"`
	PerformanceIndex float64 `json:"performance_index"`
}

// AthleteValuationResponse is the body of GET /athlete/{id}/value.
type AthleteValuationResponse struct {
	AthleteID       string           `json:"athlete_id"`
	Name            string           `json:"name"`
	Sport           string           `json:"sport"`
	School          string           `json:"school"`
	AsOf            time.Time        `json:"as_of"`
	NILValue        float64          `json:"nil_value"`
	ConfidenceLower float64          `json:"confidence_lower"`
	ConfidenceUpper float64          `json:"confidence_upper"`
	Drivers         ValuationDrivers `json:"drivers"`
	Disclaimer      string           `json:"disclaimer"`
}

// FeaturesResponse is the body of GET /athlete/{id}/features.
type FeaturesResponse struct {
	AthleteID string             `json:"athlete_id"`
	Features  []model.FeatureRow `json:"features"`
}

// buildLeaderboard ranks rows as given (nil_value descending) and computes
// each entry's trend against the top entry. A zero baseline yields zero trend.
func buildLeaderboard(rows []model.AthleteValuation, now time.Time, disclaimer string) LeaderboardResponse {
	resp := LeaderboardResponse{
		GeneratedAt: now,
		Results:     make([]LeaderboardEntry, 0, len(rows)),
		Disclaimer:  disclaimer,
	}
	var baseline float64
	if len(rows) > 0 {
		baseline = rows[0].NILValue
	}
	for i, row := range rows {
		trend := 0.0
		if baseline != 0 {
			trend = (row.NILValue - baseline) / baseline
		}
		resp.Results = append(resp.Results, LeaderboardEntry{
			Rank:      i + 1,
			AthleteID: row.Valuation.AthleteID,
			Name:      row.Name,
			Sport:     row.Sport,
			School:    row.School,
			NILValue:  row.NILValue,
			Trend:     trend,
		})
	}
	return resp
}

func buildAthleteValuation(av model.AthleteValuation, disclaimer string) AthleteValuationResponse {
	return AthleteValuationResponse{
		AthleteID:       av.Valuation.AthleteID,
		Name:            av.Name,
		Sport:           av.Sport,
		School:          av.School,
		AsOf:            av.AsOf,
		NILValue:        av.NILValue,
		ConfidenceLower: av.ConfidenceLower,
		ConfidenceUpper: av.ConfidenceUpper,
		Drivers: ValuationDrivers{
			AttentionScore:   av.Valuation.AttentionScore,
			PerformanceIndex: av.Valuation.PerformanceIndex,
		},
		Disclaimer: disclaimer,
	}
}
