package features

import (
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/blaze-intel/nil-valuation/internal/config"
	"github.com/blaze-intel/nil-valuation/internal/model"
)

// MarketContext resolves the sport and school factors that scale an
// athlete's features. Lookups are case-insensitive.
type MarketContext struct {
	sports  map[string]float64
	schools map[string]config.SchoolContext
}

// NewMarketContext builds a MarketContext from configured sport adjustments
// and school factors.
func NewMarketContext(sports map[string]float64, schools map[string]config.SchoolContext) *MarketContext {
	mc := &MarketContext{
		sports:  make(map[string]float64, len(sports)),
		schools: make(map[string]config.SchoolContext, len(schools)),
	}
	for k, v := range sports {
		mc.sports[fold(k)] = v
	}
	for k, v := range schools {
		mc.schools[fold(k)] = v
	}
	return mc
}

// Multiplier returns sport_adjustment · market_size · tv_exposure. Any factor
// missing from configuration is 1.0.
func (mc *MarketContext) Multiplier(sport, school string) float64 {
	m := 1.0
	if adj, ok := mc.sports[fold(sport)]; ok {
		m *= adj
	}
	if sc, ok := mc.schools[fold(school)]; ok {
		if sc.MarketSize != nil {
			m *= *sc.MarketSize
		}
		if sc.TVExposure != nil {
			m *= *sc.TVExposure
		}
	}
	return m
}

// JoinContext inner-joins athletes with their attention and performance
// scores and applies the market multiplier. Rows are stamped with asOf and
// sorted by athlete id.
func JoinContext(athletes []model.Athlete, attention []model.AttentionScore, performance []model.PerformanceIndex, mc *MarketContext, asOf time.Time) []model.FeatureRow {
	att := make(map[string]float64, len(attention))
	for _, a := range attention {
		att[a.AthleteID] = a.Score
	}
	perf := make(map[string]float64, len(performance))
	for _, p := range performance {
		perf[p.AthleteID] = p.Index
	}

	seen := make(map[string]bool, len(athletes))
	out := make([]model.FeatureRow, 0, len(athletes))
	for _, a := range athletes {
		if seen[a.ID] {
			continue
		}
		score, okA := att[a.ID]
		index, okP := perf[a.ID]
		if !okA || !okP {
			continue
		}
		seen[a.ID] = true

		m := mc.Multiplier(a.Sport, a.School)
		out = append(out, model.FeatureRow{
			AthleteID:           a.ID,
			AsOf:                asOf,
			AttentionScore:      score,
			PerformanceIndex:    index,
			ContextMultiplier:   m,
			AdjustedAttention:   score * m,
			AdjustedPerformance: index * m,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AthleteID < out[j].AthleteID })
	return out
}

func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}
