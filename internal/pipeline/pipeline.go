// Package pipeline orchestrates a nightly valuation run: features, two-stage
// training, valuation and backtest, with a run/phase audit trail.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/blaze-intel/nil-valuation/internal/backtest"
	"github.com/blaze-intel/nil-valuation/internal/config"
	"github.com/blaze-intel/nil-valuation/internal/features"
	"github.com/blaze-intel/nil-valuation/internal/metrics"
	"github.com/blaze-intel/nil-valuation/internal/model"
	"github.com/blaze-intel/nil-valuation/internal/store"
	"github.com/blaze-intel/nil-valuation/internal/valuation"
)

// Phase names, in execution order.
const (
	PhaseLoad        = "load"
	PhaseAttention   = "attention"
	PhasePerformance = "performance"
	PhaseContext     = "context"
	PhaseTrain       = "train"
	PhaseValue       = "value"
	PhaseBacktest    = "backtest"
)

var phaseOrder = []string{PhaseLoad, PhaseAttention, PhasePerformance, PhaseContext, PhaseTrain, PhaseValue, PhaseBacktest}

// Pipeline runs the valuation stages against a warehouse.
type Pipeline struct {
	cfg     *config.Config
	store   store.Warehouse
	metrics *metrics.Registry
}

// New creates a Pipeline. m may be nil.
func New(cfg *config.Config, st store.Warehouse, m *metrics.Registry) *Pipeline {
	return &Pipeline{cfg: cfg, store: st, metrics: m}
}

// Run executes one nightly run stamped with asOf. Derived rows are keyed by
// (athlete_id, asOf), so rerunning the same asOf replaces them. A failing
// stage aborts the run: later stages are recorded as skipped and write
// nothing. The returned run carries the result even when err is non-nil.
func (p *Pipeline) Run(ctx context.Context, asOf time.Time) (*model.Run, error) {
	asOf = asOf.UTC()
	log := zap.L().With(zap.String("component", "pipeline"), zap.Time("as_of", asOf))
	log.Info("pipeline: starting run")
	runStart := time.Now()

	run, err := p.store.CreateRun(ctx, asOf)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	log = log.With(zap.String("run_id", run.ID))

	result := &model.RunResult{}

	setStatus := func(status model.RunStatus) {
		if statusErr := p.store.UpdateRunStatus(ctx, run.ID, status); statusErr != nil {
			log.Warn("pipeline: failed to update status", zap.Error(statusErr))
		}
	}

	// Phase tracking helper with mutex for concurrent access.
	var phasesMu sync.Mutex
	trackPhase := func(name string, fn func() (map[string]any, error)) error {
		phase, phaseErr := p.store.CreatePhase(ctx, run.ID, name)
		if phaseErr != nil {
			log.Warn("pipeline: failed to create phase", zap.String("phase", name), zap.Error(phaseErr))
		}

		start := time.Now()
		meta, fnErr := fn()
		elapsed := time.Since(start)

		pr := model.PhaseResult{Name: name, Duration: elapsed.Milliseconds(), Metadata: meta}
		if fnErr != nil {
			pr.Status = model.PhaseStatusFailed
			pr.Error = fnErr.Error()
			log.Error("pipeline: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", pr.Duration),
				zap.Error(fnErr),
			)
		} else {
			pr.Status = model.PhaseStatusComplete
			log.Info("pipeline: phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", pr.Duration),
			)
		}
		p.metrics.ObserveStage(name, elapsed, fnErr)

		if phase != nil {
			if err := p.store.CompletePhase(ctx, phase.ID, &pr); err != nil {
				log.Warn("pipeline: failed to complete phase", zap.String("phase", name), zap.Error(err))
			}
		}
		phasesMu.Lock()
		result.Phases = append(result.Phases, pr)
		phasesMu.Unlock()
		return fnErr
	}

	fail := func(stageErr error) (*model.Run, error) {
		p.markSkipped(result)
		result.Error = stageErr.Error()
		run.Status = model.RunStatusFailed
		run.Result = result
		if err := p.store.UpdateRunResult(ctx, run.ID, model.RunStatusFailed, result); err != nil {
			log.Warn("pipeline: failed to record run failure", zap.Error(err))
		}
		p.metrics.RunFinished(model.RunStatusFailed)
		log.Error("pipeline: run failed", zap.Duration("elapsed", time.Since(runStart)), zap.Error(stageErr))
		return run, stageErr
	}

	// ===== Load =====
	setStatus(model.RunStatusFeaturing)

	var snap *model.Snapshot
	if err := trackPhase(PhaseLoad, func() (map[string]any, error) {
		s, loadErr := p.store.LoadSnapshot(ctx)
		if loadErr != nil {
			return nil, eris.Wrap(loadErr, "pipeline: load snapshot")
		}
		snap = s
		return map[string]any{
			"athletes":   len(s.Athletes),
			"box_scores": len(s.BoxScores),
			"social":     len(s.Social),
			"search":     len(s.Search),
			"deals":      len(s.Deals),
		}, nil
	}); err != nil {
		return fail(err)
	}
	result.Athletes = len(snap.Athletes)

	// ===== Attention ‖ Performance =====
	var attention []model.AttentionScore
	var performance []model.PerformanceIndex

	g, gCtx := errgroup.WithContext(ctx)
	fcfg := p.cfg.Features

	g.Go(func() error {
		return trackPhase(PhaseAttention, func() (map[string]any, error) {
			if gCtx.Err() != nil {
				return nil, gCtx.Err()
			}
			attention = features.ComputeAttention(snap.Social, snap.Search, fcfg.AttentionWeights, fcfg.AttentionDecayDays, asOf)
			return map[string]any{"athletes": len(attention)}, nil
		})
	})

	g.Go(func() error {
		return trackPhase(PhasePerformance, func() (map[string]any, error) {
			if gCtx.Err() != nil {
				return nil, gCtx.Err()
			}
			performance = features.ComputePerformance(snap.BoxScores, fcfg.PerformanceWeights, asOf)
			return map[string]any{"athletes": len(performance)}, nil
		})
	})

	if err := g.Wait(); err != nil {
		return fail(err)
	}

	// ===== Context join =====
	var featureRows []model.FeatureRow
	if err := trackPhase(PhaseContext, func() (map[string]any, error) {
		mc := features.NewMarketContext(fcfg.MarketAdjustment, p.cfg.Context.Schools)
		featureRows = features.JoinContext(snap.Athletes, attention, performance, mc, asOf)
		n, storeErr := p.store.ReplaceFeatures(ctx, featureRows)
		if storeErr != nil {
			return nil, eris.Wrap(storeErr, "pipeline: store features")
		}
		return map[string]any{"rows": len(featureRows), "written": n}, nil
	}); err != nil {
		return fail(err)
	}
	result.Features = len(featureRows)

	// ===== Train =====
	setStatus(model.RunStatusTraining)

	var models *valuation.TrainedModels
	if err := trackPhase(PhaseTrain, func() (map[string]any, error) {
		m, trainErr := valuation.Train(featureRows, snap, p.cfg.Modeling)
		if trainErr != nil {
			return nil, eris.Wrap(trainErr, "pipeline: train")
		}
		models = m
		return map[string]any{
			"stage_a_rows": m.StageA.Rows,
			"stage_b_rows": m.StageB.Rows,
			"residual_std": m.ResidualStd,
		}, nil
	}); err != nil {
		return fail(err)
	}
	result.StageARMSE = models.StageA.RMSE
	result.StageBRMSE = models.StageB.RMSE
	result.StageBRows = models.StageB.Rows
	result.ResidualStd = models.ResidualStd

	// ===== Value =====
	setStatus(model.RunStatusValuing)

	var valuations []model.Valuation
	if err := trackPhase(PhaseValue, func() (map[string]any, error) {
		valuations = valuation.Generate(featureRows, models, valuation.GameCounts(snap.BoxScores), p.cfg.Modeling, asOf)
		n, storeErr := p.store.ReplaceValuations(ctx, valuations)
		if storeErr != nil {
			return nil, eris.Wrap(storeErr, "pipeline: store valuations")
		}
		return map[string]any{"rows": len(valuations), "written": n}, nil
	}); err != nil {
		return fail(err)
	}
	result.Valuations = len(valuations)
	p.metrics.SetValuations(len(valuations))

	// ===== Backtest =====
	setStatus(model.RunStatusBacktesting)

	if err := trackPhase(PhaseBacktest, func() (map[string]any, error) {
		result.Backtest = backtest.Evaluate(valuations, snap.Deals)
		return map[string]any{"matched": result.Backtest.Matched}, nil
	}); err != nil {
		return fail(err)
	}
	p.metrics.SetBacktest(result.Backtest)

	if err := p.store.UpdateRunResult(ctx, run.ID, model.RunStatusComplete, result); err != nil {
		return fail(eris.Wrap(err, "pipeline: record run result"))
	}
	run.Status = model.RunStatusComplete
	run.Result = result
	p.metrics.RunFinished(model.RunStatusComplete)

	log.Info("pipeline: run complete",
		zap.Int("athletes", result.Athletes),
		zap.Int("valuations", result.Valuations),
		zap.Float64("stage_a_rmse", result.StageARMSE),
		zap.Float64("stage_b_rmse", result.StageBRMSE),
		zap.Float64("coverage", result.Backtest.Coverage),
		zap.Float64("mape", result.Backtest.MAPE),
		zap.Float64("bias", result.Backtest.Bias),
		zap.Duration("elapsed", time.Since(runStart)),
	)
	log.Info(p.cfg.Project.Disclaimer)

	return run, nil
}

// markSkipped appends a skipped entry for every phase that never ran.
func (p *Pipeline) markSkipped(result *model.RunResult) {
	ran := make(map[string]bool, len(result.Phases))
	for _, pr := range result.Phases {
		ran[pr.Name] = true
	}
	for _, name := range phaseOrder {
		if !ran[name] {
			result.Phases = append(result.Phases, model.PhaseResult{Name: name, Status: model.PhaseStatusSkipped})
		}
	}
}
