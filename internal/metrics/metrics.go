// Package metrics exposes Prometheus instrumentation for valuation runs,
// pipeline stages, the serving cache and backtest accuracy.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rotisserie/eris"

	"github.com/blaze-intel/nil-valuation/internal/model"
)

// Registry holds all collectors. A nil *Registry is valid and records nothing.
type Registry struct {
	reg *prometheus.Registry

	StageDuration *prometheus.HistogramVec
	Runs          *prometheus.CounterVec
	Valuations    prometheus.Gauge
	CacheRequests *prometheus.CounterVec
	CacheFallback prometheus.Counter

	BacktestMAPE     prometheus.Gauge
	BacktestBias     prometheus.Gauge
	BacktestCoverage prometheus.Gauge
	BacktestMatched  prometheus.Gauge

	HTTPRequests *prometheus.CounterVec
}

// New creates a registry with Go runtime and process collectors plus the
// valuation collectors.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nil_stage_duration_seconds",
				Help:    "Duration of each pipeline stage in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
			},
			[]string{"stage", "result"},
		),
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nil_runs_total",
				Help: "Total number of valuation runs by final status",
			},
			[]string{"status"},
		),
		Valuations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "nil_valuations_published",
				Help: "Number of valuations written by the last run",
			},
		),
		CacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nil_cache_requests_total",
				Help: "Cache lookups by backend and result",
			},
			[]string{"backend", "result"},
		),
		CacheFallback: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "nil_cache_fallback_total",
				Help: "Cache operations served by the in-process store after a redis failure",
			},
		),
		BacktestMAPE: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nil_backtest_mape",
			Help: "Mean absolute percentage error of the last backtest",
		}),
		BacktestBias: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nil_backtest_bias",
			Help: "Mean signed error of the last backtest",
		}),
		BacktestCoverage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nil_backtest_coverage",
			Help: "Fraction of deals inside the confidence interval in the last backtest",
		}),
		BacktestMatched: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nil_backtest_matched",
			Help: "Number of deals paired with a valuation in the last backtest",
		}),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nil_http_requests_total",
				Help: "HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.StageDuration,
		r.Runs,
		r.Valuations,
		r.CacheRequests,
		r.CacheFallback,
		r.BacktestMAPE,
		r.BacktestBias,
		r.BacktestCoverage,
		r.BacktestMatched,
		r.HTTPRequests,
	)
	return r
}

// Gatherer returns the underlying registry for scraping or tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Push replaces the metrics grouped under job on the Pushgateway at url. Batch
// runs exit before any scrape, so this is how their metrics are exported.
func (r *Registry) Push(ctx context.Context, url, job string) error {
	if r == nil {
		return nil
	}
	if err := push.New(url, job).Gatherer(r.reg).PushContext(ctx); err != nil {
		return eris.Wrapf(err, "metrics: push to %s", url)
	}
	return nil
}

// ObserveStage records a stage duration with result "ok" or "error".
func (r *Registry) ObserveStage(stage string, d time.Duration, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.StageDuration.WithLabelValues(stage, result).Observe(d.Seconds())
}

// RunFinished counts a finished run by status.
func (r *Registry) RunFinished(status model.RunStatus) {
	if r == nil {
		return
	}
	r.Runs.WithLabelValues(string(status)).Inc()
}

// SetValuations records the number of valuations the last run wrote.
func (r *Registry) SetValuations(n int) {
	if r == nil {
		return
	}
	r.Valuations.Set(float64(n))
}

// SetBacktest publishes backtest metrics. Undefined metrics are exported as NaN.
func (r *Registry) SetBacktest(res model.BacktestResult) {
	if r == nil {
		return
	}
	r.BacktestMAPE.Set(res.MAPE)
	r.BacktestBias.Set(res.Bias)
	r.BacktestCoverage.Set(res.Coverage)
	r.BacktestMatched.Set(float64(res.Matched))
}

// CacheLookup counts a cache lookup.
func (r *Registry) CacheLookup(backend string, hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.CacheRequests.WithLabelValues(backend, result).Inc()
}

// CacheFellBack counts an operation rerouted to the in-process store.
func (r *Registry) CacheFellBack() {
	if r == nil {
		return
	}
	r.CacheFallback.Inc()
}

// HTTPRequest counts a served request.
func (r *Registry) HTTPRequest(route string, code int) {
	if r == nil {
		return
	}
	r.HTTPRequests.WithLabelValues(route, statusText(code)).Inc()
}

func statusText(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
