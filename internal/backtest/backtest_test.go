package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/blaze-intel/nil-valuation/internal/model"
)

var asOf = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

func TestEvaluate_NoOverlap(t *testing.T) {
	tests := []struct {
		name       string
		valuations []model.Valuation
		deals      []model.Deal
	}{
		{"both empty", nil, nil},
		{"no deals", []model.Valuation{{AthleteID: "a", NILValue: 100}}, nil},
		{"no valuations", nil, []model.Deal{{AthleteID: "a", Value: 100}}},
		{"disjoint ids", []model.Valuation{{AthleteID: "a", NILValue: 100}}, []model.Deal{{AthleteID: "b", Value: 100}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Evaluate(tt.valuations, tt.deals)
			assert.True(t, math.IsNaN(r.MAPE))
			assert.True(t, math.IsNaN(r.Bias))
			assert.Equal(t, 0.0, r.Coverage)
			assert.Equal(t, 0, r.Matched)
		})
	}
}

func TestEvaluate(t *testing.T) {
	valuations := []model.Valuation{
		{AthleteID: "a", AsOf: asOf, NILValue: 110, ConfidenceLower: 90, ConfidenceUpper: 130},
		{AthleteID: "b", AsOf: asOf, NILValue: 150, ConfidenceLower: 140, ConfidenceUpper: 160},
		{AthleteID: "c", AsOf: asOf, NILValue: 999},
	}
	deals := []model.Deal{
		{AthleteID: "a", Value: 100}, // ape 0.10, err +10, covered
		{AthleteID: "b", Value: 200}, // ape 0.25, err -50, not covered
		{AthleteID: "z", Value: 500}, // unmatched
	}

	r := Evaluate(valuations, deals)
	assert.Equal(t, 2, r.Matched)
	assert.InDelta(t, 0.175, r.MAPE, 1e-12)
	assert.InDelta(t, -20, r.Bias, 1e-12)
	assert.InDelta(t, 0.5, r.Coverage, 1e-12)
}

func TestEvaluate_OnePairPerDeal(t *testing.T) {
	valuations := []model.Valuation{
		{AthleteID: "a", AsOf: asOf.AddDate(0, 0, -1), NILValue: 1, ConfidenceUpper: 2},
		{AthleteID: "a", AsOf: asOf, NILValue: 100, ConfidenceLower: 50, ConfidenceUpper: 150},
	}
	deals := []model.Deal{
		{AthleteID: "a", Value: 100},
		{AthleteID: "a", Value: 200},
	}

	r := Evaluate(valuations, deals)
	assert.Equal(t, 2, r.Matched)
	assert.InDelta(t, 0.25, r.MAPE, 1e-12)
	assert.InDelta(t, -50, r.Bias, 1e-12)
	assert.InDelta(t, 0.5, r.Coverage, 1e-12)
}

func TestEvaluate_ZeroDealValue(t *testing.T) {
	r := Evaluate(
		[]model.Valuation{{AthleteID: "a", NILValue: 0}},
		[]model.Deal{{AthleteID: "a", Value: 0}},
	)
	assert.Equal(t, 0.0, r.MAPE)
	assert.Equal(t, 1.0, r.Coverage)
}
