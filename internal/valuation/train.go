// Package valuation trains the two-stage NIL regression and turns its output
// into shrunken valuations with calibrated confidence bands.
package valuation

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/blaze-intel/nil-valuation/internal/config"
	"github.com/blaze-intel/nil-valuation/internal/model"
	"github.com/blaze-intel/nil-valuation/internal/regress"
)

// StageAResult is the fitted attention proxy and its per-athlete output.
type StageAResult struct {
	Model       *regress.GBRegressor
	Predictions map[string]float64
	RMSE        float64
	Rows        int
}

// StageBResult is the fitted valuation regressor.
type StageBResult struct {
	Model       *regress.GBRegressor
	ResidualStd float64
	RMSE        float64
	Rows        int
}

// TrainedModels is everything Generate needs from training. It lives for one
// run and is never persisted.
type TrainedModels struct {
	StageA      *StageAResult
	StageB      *StageBResult
	ResidualStd float64
}

// signalAggregate holds the smoothed per-athlete inputs to stage A.
type signalAggregate struct {
	followersMean  float64
	engagementMean float64
	growthMean     float64
	searchMean     float64
	searchMax      float64
}

func (s signalAggregate) vector() []float64 {
	return []float64{s.followersMean, s.engagementMean, s.growthMean, s.searchMean, s.searchMax}
}

func aggregateSignals(social []model.SocialObservation, search []model.SearchObservation) map[string]*signalAggregate {
	type socialAcc struct {
		followers, engagement, growth float64
		n                             int
	}
	type searchAcc struct {
		sum, max float64
		n        int
	}
	sa := make(map[string]*socialAcc)
	for _, o := range social {
		a, ok := sa[o.AthleteID]
		if !ok {
			a = &socialAcc{}
			sa[o.AthleteID] = a
		}
		a.followers += float64(o.Followers)
		a.engagement += o.EngagementRate
		a.growth += o.GrowthRate
		a.n++
	}
	qa := make(map[string]*searchAcc)
	for _, o := range search {
		a, ok := qa[o.AthleteID]
		if !ok {
			a = &searchAcc{max: math.Inf(-1)}
			qa[o.AthleteID] = a
		}
		a.sum += o.InterestScore
		a.max = math.Max(a.max, o.InterestScore)
		a.n++
	}

	out := make(map[string]*signalAggregate, len(sa)+len(qa))
	get := func(id string) *signalAggregate {
		if out[id] == nil {
			out[id] = &signalAggregate{}
		}
		return out[id]
	}
	for id, a := range sa {
		agg := get(id)
		n := float64(a.n)
		agg.followersMean = a.followers / n
		agg.engagementMean = a.engagement / n
		agg.growthMean = a.growth / n
	}
	for id, a := range qa {
		agg := get(id)
		agg.searchMean = a.sum / float64(a.n)
		agg.searchMax = a.max
	}
	return out
}

// TrainStageA learns each athlete's attention score from smoothed signal
// aggregates. Athletes need both a feature row and some signal history to
// take part. With no such athletes the result has no predictions and
// Generate falls back to raw attention.
func TrainStageA(features []model.FeatureRow, social []model.SocialObservation, search []model.SearchObservation, p regress.Params) (*StageAResult, error) {
	signals := aggregateSignals(social, search)

	var ids []string
	var X [][]float64
	var y []float64
	for _, f := range sortedFeatures(features) {
		agg, ok := signals[f.AthleteID]
		if !ok {
			continue
		}
		ids = append(ids, f.AthleteID)
		X = append(X, agg.vector())
		y = append(y, f.AttentionScore)
	}

	res := &StageAResult{Model: regress.New(p), Predictions: make(map[string]float64, len(ids)), Rows: len(ids)}
	if len(ids) == 0 {
		zap.L().Warn("valuation: stage A has no training rows")
		return res, nil
	}
	if err := res.Model.Fit(X, y); err != nil {
		return nil, eris.Wrap(err, "valuation: fit stage A")
	}

	pred := res.Model.PredictAll(X)
	for i, id := range ids {
		res.Predictions[id] = pred[i]
	}
	res.RMSE = regress.RMSE(y, pred)
	zap.L().Info("valuation: stage A trained",
		zap.Int("rows", res.Rows),
		zap.Float64("rmse", res.RMSE),
	)
	return res, nil
}

// TrainStageB fits the valuation regressor on athletes with at least one
// known deal. The target is the athlete's mean deal value. Fewer than two
// rows leave residual std at fallback; zero rows leave the model unfitted so
// every prediction is NaN.
func TrainStageB(features []model.FeatureRow, predictedAttention map[string]float64, deals []model.Deal, p regress.Params, fallback float64) (*StageBResult, error) {
	dealSums := make(map[string]float64)
	dealCounts := make(map[string]int)
	for _, d := range deals {
		dealSums[d.AthleteID] += d.Value
		dealCounts[d.AthleteID]++
	}

	var X [][]float64
	var y []float64
	for _, f := range sortedFeatures(features) {
		pa, ok := predictedAttention[f.AthleteID]
		if !ok {
			continue
		}
		n := dealCounts[f.AthleteID]
		if n == 0 {
			continue
		}
		X = append(X, stageBVector(pa, f))
		y = append(y, dealSums[f.AthleteID]/float64(n))
	}

	res := &StageBResult{Model: regress.New(p), ResidualStd: fallback, Rows: len(y)}
	if len(y) == 0 {
		zap.L().Warn("valuation: stage B has no training rows, valuations fall back to prior")
		return res, nil
	}
	if err := res.Model.Fit(X, y); err != nil {
		return nil, eris.Wrap(err, "valuation: fit stage B")
	}

	pred := res.Model.PredictAll(X)
	res.RMSE = regress.RMSE(y, pred)
	if len(y) >= 2 {
		residuals := make([]float64, len(y))
		for i := range y {
			residuals[i] = y[i] - pred[i]
		}
		res.ResidualStd = regress.SampleStd(residuals)
	}
	zap.L().Info("valuation: stage B trained",
		zap.Int("rows", res.Rows),
		zap.Float64("rmse", res.RMSE),
		zap.Float64("residual_std", res.ResidualStd),
	)
	return res, nil
}

// Train runs both stages with the configured hyperparameters.
func Train(features []model.FeatureRow, snap *model.Snapshot, cfg config.ModelingConfig) (*TrainedModels, error) {
	a, err := TrainStageA(features, snap.Social, snap.Search, paramsFrom(cfg.StageA))
	if err != nil {
		return nil, err
	}
	b, err := TrainStageB(features, a.Predictions, snap.Deals, paramsFrom(cfg.StageB), cfg.ResidualStdFallback)
	if err != nil {
		return nil, err
	}
	return &TrainedModels{StageA: a, StageB: b, ResidualStd: b.ResidualStd}, nil
}

func paramsFrom(rc config.RegressorConfig) regress.Params {
	return regress.Params{
		NEstimators:    rc.NEstimators,
		LearningRate:   rc.LearningRate,
		MaxDepth:       rc.MaxDepth,
		MinSamplesLeaf: rc.MinSamplesLeaf,
	}
}

func stageBVector(predictedAttention float64, f model.FeatureRow) []float64 {
	return []float64{predictedAttention, f.AdjustedPerformance, f.ContextMultiplier}
}

func sortedFeatures(features []model.FeatureRow) []model.FeatureRow {
	out := make([]model.FeatureRow, len(features))
	copy(out, features)
	sort.SliceStable(out, func(i, j int) bool { return out[i].AthleteID < out[j].AthleteID })
	return out
}
