package valuation

import (
	"math"
	"time"

	"github.com/blaze-intel/nil-valuation/internal/config"
	"github.com/blaze-intel/nil-valuation/internal/model"
)

// Band holds the confidence band settings.
type Band struct {
	Z     float64
	Floor float64
}

// ShrinkageFactor returns games/(games+strength).
func ShrinkageFactor(games int, strength float64) float64 {
	n := float64(games)
	return n / (n + strength)
}

// Shrink blends raw toward prior by the evidence factor. An undefined raw
// value or result yields prior, and the result is never negative.
func Shrink(raw, prior float64, games int, strength float64) float64 {
	if !finite(raw) {
		raw = prior
	}
	f := ShrinkageFactor(games, strength)
	v := prior*(1-f) + raw*f
	if !finite(v) {
		v = prior
	}
	return math.Max(v, 0)
}

// Interval returns the confidence band around value.
func Interval(value, residualStd float64, b Band) (lower, upper float64) {
	std := residualStd
	if math.IsNaN(std) {
		std = b.Floor
	}
	margin := b.Z * math.Max(std, b.Floor)
	return math.Max(value-margin, 0), value + margin
}

// GameCounts counts box scores per athlete.
func GameCounts(boxScores []model.BoxScore) map[string]int {
	out := make(map[string]int)
	for _, b := range boxScores {
		out[b.AthleteID]++
	}
	return out
}

// Generate values every athlete in features. Stage A's prediction is used
// when present, otherwise the raw attention score feeds stage B.
func Generate(features []model.FeatureRow, models *TrainedModels, gameCounts map[string]int, cfg config.ModelingConfig, asOf time.Time) []model.Valuation {
	band := Band{Z: cfg.CIZ, Floor: cfg.CIFloor}
	out := make([]model.Valuation, 0, len(features))
	for _, f := range sortedFeatures(features) {
		attention := f.AttentionScore
		if models.StageA != nil {
			if p, ok := models.StageA.Predictions[f.AthleteID]; ok {
				attention = p
			}
		}

		raw := math.NaN()
		if models.StageB != nil {
			raw = models.StageB.Model.Predict(stageBVector(attention, f))
		}
		value := Shrink(raw, cfg.ShrinkagePrior, gameCounts[f.AthleteID], cfg.ShrinkageStrength)
		lower, upper := Interval(value, models.ResidualStd, band)

		out = append(out, model.Valuation{
			AthleteID:        f.AthleteID,
			AsOf:             asOf,
			NILValue:         value,
			ConfidenceLower:  lower,
			ConfidenceUpper:  upper,
			AttentionScore:   f.AttentionScore,
			PerformanceIndex: f.PerformanceIndex,
		})
	}
	return out
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
