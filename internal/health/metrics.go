package health

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the session bot.
type Metrics struct {
	ChecksTotal  *prometheus.CounterVec
	RepairsTotal *prometheus.CounterVec
	CheckHealthy *prometheus.GaugeVec

	SessionPhase prometheus.Gauge
	OpenTrade    prometheus.Gauge
	LessonsTotal prometheus.Gauge
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all metrics. Registration happens once per
// process; later calls return the shared instance.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			ChecksTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sessionbot_health_checks_total",
					Help: "Health check executions by check name and result",
				},
				[]string{"check", "result"},
			),
			RepairsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sessionbot_health_repairs_total",
					Help: "Repair attempts by check name and result",
				},
				[]string{"check", "result"},
			),
			CheckHealthy: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "sessionbot_check_healthy",
					Help: "Last observed state per health check (1 healthy, 0 failing)",
				},
				[]string{"check"},
			),
			SessionPhase: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "sessionbot_session_phase",
					Help: "Current session phase as its numeric state value",
				},
			),
			OpenTrade: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "sessionbot_open_trade",
					Help: "Whether a trade is currently being monitored (0/1)",
				},
			),
			LessonsTotal: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "sessionbot_lessons_total",
					Help: "Number of lessons in the memory store",
				},
			),
		}
	})
	return sharedMetrics
}
