package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gaswatch"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	registry      *prom.Registry
	cycleDuration *prom.HistogramVec
	cycleResults  *prom.CounterVec
	fetchDuration *prom.HistogramVec
	alerts        prom.Counter
	lastGas       prom.Gauge
	threshold     prom.Gauge
	notifications prom.Gauge
}

// NewPrometheusRecorder constructs and registers the metrics on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		registry: reg,
		cycleDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of update cycles by result",
			Buckets:   prom.DefBuckets,
		}, []string{"result"}),
		cycleResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_results_total",
			Help:      "Update cycles by result",
		}, []string{"result"}),
		fetchDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_fetch_duration_seconds",
			Help:      "Duration of gas feed fetches",
			Buckets:   prom.DefBuckets,
		}, []string{"result"}),
		alerts: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Low gas alerts emitted",
		}),
		lastGas: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "last_gas_gwei",
			Help:      "Most recently observed gas price",
		}),
		threshold: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "threshold_gwei",
			Help:      "Configured alert threshold, -1 when unset",
		}),
		notifications: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "notifications_enabled",
			Help:      "1 when alerts are enabled",
		}),
	}
	reg.MustRegister(pr.cycleDuration, pr.cycleResults, pr.fetchDuration, pr.alerts, pr.lastGas, pr.threshold, pr.notifications)
	return pr
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *PrometheusRecorder) ObserveCycle(result CycleResult, d time.Duration) {
	p.cycleResults.WithLabelValues(string(result)).Inc()
	p.cycleDuration.WithLabelValues(string(result)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveFetch(d time.Duration, success bool) {
	res := "failed"
	if success {
		res = "success"
	}
	p.fetchDuration.WithLabelValues(res).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncAlert() {
	p.alerts.Inc()
}

func (p *PrometheusRecorder) SetLastGas(gwei int) {
	p.lastGas.Set(float64(gwei))
}

func (p *PrometheusRecorder) SetThreshold(gwei int, set bool) {
	if !set {
		p.threshold.Set(-1)
		return
	}
	p.threshold.Set(float64(gwei))
}

func (p *PrometheusRecorder) SetNotificationsEnabled(enabled bool) {
	if enabled {
		p.notifications.Set(1)
		return
	}
	p.notifications.Set(0)
}

var (
	_ Recorder = NoopRecorder{}
	_ Recorder = (*PrometheusRecorder)(nil)
)
