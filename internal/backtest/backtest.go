// Package backtest scores published valuations against observed deals.
package backtest

import (
	"math"

	"github.com/blaze-intel/nil-valuation/internal/model"
)

// epsilon guards the percentage error denominator for zero-valued deals.
const epsilon = 2.220446049250313e-16

// Evaluate joins valuations to deals by athlete id, pairing every deal with
// the athlete's most recent valuation. With no pairs the result is NaN MAPE,
// NaN bias and 0 coverage.
func Evaluate(valuations []model.Valuation, deals []model.Deal) model.BacktestResult {
	latest := make(map[string]model.Valuation, len(valuations))
	for _, v := range valuations {
		cur, ok := latest[v.AthleteID]
		if !ok || v.AsOf.After(cur.AsOf) {
			latest[v.AthleteID] = v
		}
	}

	var apeSum, errSum float64
	var covered, n int
	for _, d := range deals {
		v, ok := latest[d.AthleteID]
		if !ok {
			continue
		}
		n++
		apeSum += math.Abs(d.Value-v.NILValue) / math.Max(math.Abs(d.Value), epsilon)
		errSum += v.NILValue - d.Value
		if v.ConfidenceLower <= d.Value && d.Value <= v.ConfidenceUpper {
			covered++
		}
	}

	if n == 0 {
		return model.BacktestResult{MAPE: math.NaN(), Bias: math.NaN(), Coverage: 0}
	}
	return model.BacktestResult{
		MAPE:     apeSum / float64(n),
		Bias:     errSum / float64(n),
		Coverage: float64(covered) / float64(n),
		Matched:  n,
	}
}
