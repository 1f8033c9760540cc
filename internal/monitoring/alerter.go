package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/blaze-intel/nil-valuation/internal/config"
	"github.com/blaze-intel/nil-valuation/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate AlertType = "run_failure_rate"
	AlertNoCompleteRun  AlertType = "no_complete_run"
	AlertLowCoverage    AlertType = "backtest_low_coverage"
	AlertHighMAPE       AlertType = "backtest_high_mape"
)

// minFinishedRuns is the sample size below which the failure rate is not judged.
const minFinishedRuns = 3

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.Backoff
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry: resilience.Backoff{
			Attempts: 3,
			Initial:  time.Second,
			Max:      5 * time.Second,
			Factor:   2,
			Jitter:   0.2,
			OnRetry:  resilience.LogRetry("monitoring.webhook"),
		},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.RunsComplete + snap.RunsFailed
	if finished >= minFinishedRuns && snap.FailRate > a.cfg.MaxFailureRate {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.FailRate*100, a.cfg.MaxFailureRate*100,
				snap.RunsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.MaxFailureRate,
				"failed":       snap.RunsFailed,
				"finished":     finished,
				"last_error":   snap.LastError,
			},
			Timestamp: now,
		})
	}

	if snap.RunsComplete == 0 {
		alerts = append(alerts, Alert{
			Type:     AlertNoCompleteRun,
			Severity: "high",
			Message:  fmt.Sprintf("No complete valuation run in last %dh", snap.LookbackHours),
			Details: map[string]any{
				"runs_total":  snap.RunsTotal,
				"runs_failed": snap.RunsFailed,
			},
			Timestamp: now,
		})
	}

	// Backtest thresholds only apply when the latest run matched a deal.
	bt := snap.LatestBacktest
	if snap.HasBacktest && bt.Matched > 0 {
		if bt.Coverage < a.cfg.MinCoverage {
			alerts = append(alerts, Alert{
				Type:     AlertLowCoverage,
				Severity: "medium",
				Message: fmt.Sprintf(
					"Backtest coverage %.1f%% below threshold %.1f%% (%d deals, run %s)",
					bt.Coverage*100, a.cfg.MinCoverage*100, bt.Matched, snap.LatestRunID,
				),
				Details: map[string]any{
					"coverage":  bt.Coverage,
					"threshold": a.cfg.MinCoverage,
					"matched":   bt.Matched,
				},
				Timestamp: now,
			})
		}
		if a.cfg.MaxMAPE > 0 && bt.MAPE > a.cfg.MaxMAPE {
			alerts = append(alerts, Alert{
				Type:     AlertHighMAPE,
				Severity: "medium",
				Message: fmt.Sprintf(
					"Backtest MAPE %.1f%% exceeds threshold %.1f%% (%d deals, run %s)",
					bt.MAPE*100, a.cfg.MaxMAPE*100, bt.Matched, snap.LatestRunID,
				),
				Details: map[string]any{
					"mape":      bt.MAPE,
					"bias":      bt.Bias,
					"threshold": a.cfg.MaxMAPE,
					"matched":   bt.Matched,
				},
				Timestamp: now,
			})
		}
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
			return a.sendWebhook(ctx, alert)
		})
		if err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return &resilience.StatusError{Code: resp.StatusCode}
	}
	return nil
}
