package features

import (
	"math"
	"sort"
	"time"

	"github.com/blaze-intel/nil-valuation/internal/model"
)

const weightEpsilon = 1e-6

// ComputePerformance blends each athlete's per-game statistic means using
// weights. Statistics a box score does not carry count as 0. The sum is
// divided by max(Σweights, 1e-6).
func ComputePerformance(boxScores []model.BoxScore, weights map[string]float64, asOf time.Time) []model.PerformanceIndex {
	stats := make([]string, 0, len(weights))
	var weightSum float64
	for name, w := range weights {
		stats = append(stats, name)
		weightSum += w
	}
	sort.Strings(stats)
	denom := math.Max(weightSum, weightEpsilon)

	type acc struct {
		sums  map[string]float64
		games int
	}
	byAthlete := make(map[string]*acc)
	for _, b := range boxScores {
		a, ok := byAthlete[b.AthleteID]
		if !ok {
			a = &acc{sums: make(map[string]float64, len(stats))}
			byAthlete[b.AthleteID] = a
		}
		a.games++
		for _, name := range stats {
			v, _ := b.Stat(name)
			a.sums[name] += v
		}
	}

	out := make([]model.PerformanceIndex, 0, len(byAthlete))
	for id, a := range byAthlete {
		var blended float64
		for _, name := range stats {
			blended += a.sums[name] / float64(a.games) * weights[name]
		}
		out = append(out, model.PerformanceIndex{
			AthleteID: id,
			AsOf:      asOf,
			Index:     blended / denom,
			GameCount: a.games,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AthleteID < out[j].AthleteID })
	return out
}
