package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/blaze-intel/nil-valuation/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker evaluates run health on a fixed interval while the API is serving.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	lookback  int
	interval  time.Duration
	log       *zap.Logger
}

// NewChecker creates a background alert checker. A non-positive
// check_interval_secs falls back to five minutes.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		lookback:  cfg.LookbackHours,
		interval:  interval,
		log:       zap.L().With(zap.String("component", "monitoring.checker")),
	}
}

// Run checks once immediately, then on every tick until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	c.log.Info("monitoring: alert checker started",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() == nil {
			c.Check(ctx)
		}
		select {
		case <-ctx.Done():
			c.log.Info("monitoring: alert checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check collects one snapshot, evaluates it and delivers any alerts. It
// returns the number of alerts triggered and sent.
func (c *Checker) Check(ctx context.Context) (triggered, sent int) {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		c.log.Error("monitoring: collect run metrics", zap.Error(err))
		return 0, 0
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		c.log.Debug("monitoring: healthy",
			zap.Int("runs", snap.RunsTotal),
			zap.String("latest_run", snap.LatestRunID),
		)
		return 0, 0
	}

	sent = c.alerter.SendAlerts(ctx, alerts)
	c.log.Warn("monitoring: alerts triggered",
		zap.Int("triggered", len(alerts)),
		zap.Int("sent", sent),
	)
	return len(alerts), sent
}
