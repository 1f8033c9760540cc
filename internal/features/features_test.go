package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blaze-intel/nil-valuation/internal/config"
	"github.com/blaze-intel/nil-valuation/internal/model"
)

var runTime = time.Date(2024, 3, 15, 18, 30, 0, 0, time.UTC)

func day(offset int) time.Time {
	return time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

func TestPercentileRank(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]float64
		want   map[string]float64
	}{
		{
			name:   "single value",
			values: map[string]float64{"a": 5},
			want:   map[string]float64{"a": 1},
		},
		{
			name:   "distinct values",
			values: map[string]float64{"a": 10, "b": 30, "c": 20, "d": 40},
			want:   map[string]float64{"a": 0.25, "c": 0.5, "b": 0.75, "d": 1},
		},
		{
			name:   "ties share average rank",
			values: map[string]float64{"a": 1, "b": 2, "c": 2},
			want:   map[string]float64{"a": 1.0 / 3, "b": 2.5 / 3, "c": 2.5 / 3},
		},
		{
			name:   "empty",
			values: map[string]float64{},
			want:   map[string]float64{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PercentileRank(tt.values)
			require.Len(t, got, len(tt.want))
			for id, want := range tt.want {
				assert.InDelta(t, want, got[id], 1e-9, id)
			}
		})
	}
}

func TestComputeAttention_DecayRatio(t *testing.T) {
	w := config.AttentionWeights{SearchInterest: 1}
	search := []model.SearchObservation{
		{AthleteID: "fresh", Date: day(0), InterestScore: 50},
		{AthleteID: "stale", Date: day(-30), InterestScore: 50},
	}

	scores := ComputeAttention(nil, search, w, 30, runTime)
	require.Len(t, scores, 2)
	assert.Equal(t, "fresh", scores[0].AthleteID)
	assert.Equal(t, "stale", scores[1].AthleteID)

	// Each athlete is alone on its day, so both ranks are 1.
	assert.InDelta(t, 1.0, scores[0].Score, 1e-12)
	assert.InDelta(t, math.Exp(-1), scores[1].Score, 1e-12)
	assert.InDelta(t, math.Exp(-1), scores[1].Score/scores[0].Score, 1e-12)
}

func TestComputeAttention_SocialAggregatesChannels(t *testing.T) {
	w := config.AttentionWeights{SocialFollowers: 0.4, SocialEngagement: 0.3, SearchInterest: 0.3}
	social := []model.SocialObservation{
		// a: 300 followers total, mean engagement 0.02
		{AthleteID: "a", Channel: "instagram", Date: day(0), Followers: 100, EngagementRate: 0.01},
		{AthleteID: "a", Channel: "tiktok", Date: day(0), Followers: 200, EngagementRate: 0.03},
		// b: 250 followers, engagement 0.05
		{AthleteID: "b", Channel: "instagram", Date: day(0), Followers: 250, EngagementRate: 0.05},
	}

	scores := ComputeAttention(social, nil, w, 30, runTime)
	require.Len(t, scores, 2)

	// a ranks top on followers, bottom on engagement.
	assert.InDelta(t, 0.4*1.0+0.3*0.5, scores[0].Score, 1e-12)
	assert.InDelta(t, 0.4*0.5+0.3*1.0, scores[1].Score, 1e-12)
	assert.Equal(t, runTime, scores[0].AsOf)
}

func TestComputeAttention_OuterMerge(t *testing.T) {
	w := config.AttentionWeights{SocialFollowers: 0.5, SocialEngagement: 0, SearchInterest: 0.5}
	social := []model.SocialObservation{
		{AthleteID: "social-only", Channel: "x", Date: day(0), Followers: 10},
	}
	search := []model.SearchObservation{
		{AthleteID: "search-only", Date: day(0), InterestScore: 10},
	}

	scores := ComputeAttention(social, search, w, 30, runTime)
	require.Len(t, scores, 2)
	assert.Equal(t, "search-only", scores[0].AthleteID)
	assert.InDelta(t, 0.5, scores[0].Score, 1e-12)
	assert.Equal(t, "social-only", scores[1].AthleteID)
	assert.InDelta(t, 0.5, scores[1].Score, 1e-12)
}

func TestComputeAttention_Empty(t *testing.T) {
	scores := ComputeAttention(nil, nil, config.AttentionWeights{SocialFollowers: 1}, 30, runTime)
	assert.Empty(t, scores)
}

func TestComputeAttention_NonNegative(t *testing.T) {
	w := config.AttentionWeights{SocialFollowers: 0.4, SocialEngagement: 0.3, SearchInterest: 0.3}
	var social []model.SocialObservation
	var search []model.SearchObservation
	for i := 0; i < 10; i++ {
		social = append(social, model.SocialObservation{
			AthleteID: string(rune('a' + i%3)), Channel: "instagram", Date: day(-i),
			Followers: int64(i * 10), EngagementRate: float64(i) / 100,
		})
		search = append(search, model.SearchObservation{
			AthleteID: string(rune('a' + i%4)), Date: day(-i), InterestScore: float64(i),
		})
	}

	for _, s := range ComputeAttention(social, search, w, 30, runTime) {
		assert.GreaterOrEqual(t, s.Score, 0.0, s.AthleteID)
	}
}

func TestComputePerformance(t *testing.T) {
	weights := map[string]float64{"points": 0.4, "assists": 0.2, "rebounds": 0.2, "efficiency": 0.2}
	box := []model.BoxScore{
		{AthleteID: "a", GameDate: day(-1), Opponent: "X", Points: 20, Assists: 4, Rebounds: 6, Efficiency: 0.5},
		{AthleteID: "a", GameDate: day(-2), Opponent: "Y", Points: 10, Assists: 6, Rebounds: 4, Efficiency: 0.7},
		{AthleteID: "b", GameDate: day(-1), Opponent: "Z", Points: 5},
	}

	got := ComputePerformance(box, weights, runTime)
	require.Len(t, got, 2)

	// a means: points 15, assists 5, rebounds 5, efficiency 0.6
	assert.Equal(t, "a", got[0].AthleteID)
	assert.InDelta(t, (0.4*15+0.2*5+0.2*5+0.2*0.6)/1.0, got[0].Index, 1e-9)
	assert.Equal(t, 2, got[0].GameCount)

	assert.Equal(t, "b", got[1].AthleteID)
	assert.InDelta(t, 0.4*5, got[1].Index, 1e-9)
	assert.Equal(t, 1, got[1].GameCount)
}

func TestComputePerformance_UnknownStatCountsAsZero(t *testing.T) {
	weights := map[string]float64{"points": 1, "steals": 1}
	box := []model.BoxScore{{AthleteID: "a", Points: 10}}

	got := ComputePerformance(box, weights, runTime)
	require.Len(t, got, 1)
	assert.InDelta(t, 5.0, got[0].Index, 1e-9)
}

func TestComputePerformance_ZeroWeightsGuarded(t *testing.T) {
	weights := map[string]float64{"points": 0}
	box := []model.BoxScore{{AthleteID: "a", Points: 10}}

	got := ComputePerformance(box, weights, runTime)
	require.Len(t, got, 1)
	assert.False(t, math.IsNaN(got[0].Index))
	assert.False(t, math.IsInf(got[0].Index, 0))
	assert.Equal(t, 0.0, got[0].Index)
}

func ptr(v float64) *float64 { return &v }

func TestMarketContext_Multiplier(t *testing.T) {
	mc := NewMarketContext(
		map[string]float64{"football": 1.5, "Basketball": 1.3},
		map[string]config.SchoolContext{
			"state university": {MarketSize: ptr(1.2), TVExposure: ptr(1.1)},
			"small college":    {MarketSize: ptr(0.8)},
		},
	)

	tests := []struct {
		name   string
		sport  string
		school string
		want   float64
	}{
		{"both known", "Football", "State University", 1.5 * 1.2 * 1.1},
		{"case folded sport", "BASKETBALL", "", 1.3},
		{"partial school", "hockey", "Small College", 0.8},
		{"unknown everything", "curling", "nowhere", 1.0},
		{"blank", "", "", 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, mc.Multiplier(tt.sport, tt.school), 1e-12)
		})
	}
}

func TestJoinContext(t *testing.T) {
	mc := NewMarketContext(map[string]float64{"football": 2}, nil)
	athletes := []model.Athlete{
		{ID: "b", Sport: "football", School: "Unknown U"},
		{ID: "a", Sport: "rowing"},
		{ID: "c", Sport: "football"}, // no performance
	}
	attention := []model.AttentionScore{
		{AthleteID: "a", Score: 1.5},
		{AthleteID: "b", Score: 2},
		{AthleteID: "c", Score: 3},
	}
	performance := []model.PerformanceIndex{
		{AthleteID: "a", Index: 10},
		{AthleteID: "b", Index: 4},
	}

	rows := JoinContext(athletes, attention, performance, mc, runTime)
	require.Len(t, rows, 2)

	assert.Equal(t, model.FeatureRow{
		AthleteID: "a", AsOf: runTime, AttentionScore: 1.5, PerformanceIndex: 10,
		ContextMultiplier: 1, AdjustedAttention: 1.5, AdjustedPerformance: 10,
	}, rows[0])
	assert.Equal(t, model.FeatureRow{
		AthleteID: "b", AsOf: runTime, AttentionScore: 2, PerformanceIndex: 4,
		ContextMultiplier: 2, AdjustedAttention: 4, AdjustedPerformance: 8,
	}, rows[1])
}

func TestJoinContext_DefaultMultiplier(t *testing.T) {
	mc := NewMarketContext(nil, nil)
	rows := JoinContext(
		[]model.Athlete{{ID: "a", Sport: "lacrosse", School: "Nowhere"}},
		[]model.AttentionScore{{AthleteID: "a", Score: 1}},
		[]model.PerformanceIndex{{AthleteID: "a", Index: 1}},
		mc, runTime,
	)
	require.Len(t, rows, 1)
	assert.Equal(t, 1.0, rows[0].ContextMultiplier)
}
