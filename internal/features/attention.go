// Package features derives the per-athlete attention, performance and
// context-adjusted feature rows consumed by the valuation stages.
package features

import (
	"math"
	"sort"
	"time"

	"github.com/blaze-intel/nil-valuation/internal/config"
	"github.com/blaze-intel/nil-valuation/internal/model"
)

type dayKey struct {
	athleteID string
	day       time.Time
}

// socialDay is the per-(athlete, day) aggregate across channels.
type socialDay struct {
	followers     float64
	engagementSum float64
	n             int
}

// ComputeAttention scores each athlete's decayed popularity as of now.
//
// Social observations are collapsed per athlete and day (followers summed
// across channels, engagement averaged) and percentile ranked against the
// other athletes seen that day. Search interest is ranked the same way. A day
// present in only one source contributes 0 for the other. Each day's score is
// weighted by exp(-days_ago/decayDays), days_ago counted from now truncated to
// its UTC day. Results are sorted by athlete id.
func ComputeAttention(social []model.SocialObservation, search []model.SearchObservation, w config.AttentionWeights, decayDays float64, now time.Time) []model.AttentionScore {
	today := utcDay(now)

	socialAgg := make(map[dayKey]*socialDay)
	for _, o := range social {
		k := dayKey{athleteID: o.AthleteID, day: utcDay(o.Date)}
		agg, ok := socialAgg[k]
		if !ok {
			agg = &socialDay{}
			socialAgg[k] = agg
		}
		agg.followers += float64(o.Followers)
		agg.engagementSum += o.EngagementRate
		agg.n++
	}

	searchAgg := make(map[dayKey][]float64)
	for _, o := range search {
		k := dayKey{athleteID: o.AthleteID, day: utcDay(o.Date)}
		searchAgg[k] = append(searchAgg[k], o.InterestScore)
	}

	// Group per day for ranking.
	followersByDay := make(map[time.Time]map[string]float64)
	engagementByDay := make(map[time.Time]map[string]float64)
	for k, agg := range socialAgg {
		if followersByDay[k.day] == nil {
			followersByDay[k.day] = make(map[string]float64)
			engagementByDay[k.day] = make(map[string]float64)
		}
		followersByDay[k.day][k.athleteID] = agg.followers
		engagementByDay[k.day][k.athleteID] = agg.engagementSum / float64(agg.n)
	}
	interestByDay := make(map[time.Time]map[string]float64)
	for k, vals := range searchAgg {
		if interestByDay[k.day] == nil {
			interestByDay[k.day] = make(map[string]float64)
		}
		interestByDay[k.day][k.athleteID] = mean(vals)
	}

	daily := make(map[dayKey]float64)
	for day, byAthlete := range followersByDay {
		fr := PercentileRank(byAthlete)
		er := PercentileRank(engagementByDay[day])
		for id := range byAthlete {
			daily[dayKey{athleteID: id, day: day}] += w.SocialFollowers*fr[id] + w.SocialEngagement*er[id]
		}
	}
	for day, byAthlete := range interestByDay {
		ir := PercentileRank(byAthlete)
		for id := range byAthlete {
			daily[dayKey{athleteID: id, day: day}] += w.SearchInterest * ir[id]
		}
	}

	totals := make(map[string]float64)
	for k, score := range daily {
		daysAgo := today.Sub(k.day).Hours() / 24
		totals[k.athleteID] += score * DecayWeight(daysAgo, decayDays)
	}

	out := make([]model.AttentionScore, 0, len(totals))
	for id, score := range totals {
		out = append(out, model.AttentionScore{AthleteID: id, AsOf: now, Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AthleteID < out[j].AthleteID })
	return out
}

// DecayWeight returns exp(-daysAgo/decayDays).
func DecayWeight(daysAgo, decayDays float64) float64 {
	return math.Exp(-daysAgo / decayDays)
}

// PercentileRank ranks values in (0, 1]. Ties share their average rank and
// ranks are divided by the number of values.
func PercentileRank(values map[string]float64) map[string]float64 {
	type entry struct {
		id string
		v  float64
	}
	entries := make([]entry, 0, len(values))
	for id, v := range values {
		entries = append(entries, entry{id: id, v: v})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].v != entries[j].v {
			return entries[i].v < entries[j].v
		}
		return entries[i].id < entries[j].id
	})

	n := float64(len(entries))
	ranks := make(map[string]float64, len(entries))
	for i := 0; i < len(entries); {
		j := i
		for j+1 < len(entries) && entries[j+1].v == entries[i].v {
			j++
		}
		// 1-based ranks i+1..j+1 averaged.
		avg := float64(i+j+2) / 2
		for k := i; k <= j; k++ {
			ranks[entries[k].id] = avg / n
		}
		i = j + 1
	}
	return ranks
}

func utcDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
