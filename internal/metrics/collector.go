// Package metrics exposes engine activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const DefaultNamespace = "statwatch"

// Collector records analysis passes, alerts and store activity. A nil
// *Collector is valid and records nothing.
type Collector struct {
	analysesTotal    *prometheus.CounterVec
	analysisDuration *prometheus.HistogramVec
	alertsTotal      *prometheus.CounterVec
	anomaliesTotal   *prometheus.CounterVec
	storeErrors      *prometheus.CounterVec
	activeTests      prometheus.Gauge
	pValue           *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector registers the engine metrics with reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.analysesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Total number of analysis passes",
		},
		[]string{"test_id", "status"}, // status: ok, error
	)

	c.analysisDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Analysis pass duration in seconds",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"test_id"},
	)

	c.alertsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Total number of alerts raised",
		},
		[]string{"test_id", "alert_type"},
	)

	c.anomaliesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Total number of anomalies detected",
		},
		[]string{"type", "severity"},
	)

	c.storeErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Total number of failed history store operations",
		},
		[]string{"operation"},
	)

	c.activeTests = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_tests",
			Help:      "Number of tests currently monitored",
		},
	)

	c.pValue = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "headline_p_value",
			Help:      "p-value of the headline comparison of the latest pass",
		},
		[]string{"test_id"},
	)

	c.logger.Debug("metrics collector registered", zap.String("namespace", namespace))
	return c
}

func (c *Collector) RecordAnalysis(testID string, ok bool, duration time.Duration) {
	if c == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	c.analysesTotal.WithLabelValues(testID, status).Inc()
	c.analysisDuration.WithLabelValues(testID).Observe(duration.Seconds())
}

func (c *Collector) RecordAlert(testID, alertType string) {
	if c == nil {
		return
	}
	c.alertsTotal.WithLabelValues(testID, alertType).Inc()
}

func (c *Collector) RecordAnomaly(anomalyType, severity string) {
	if c == nil {
		return
	}
	c.anomaliesTotal.WithLabelValues(anomalyType, severity).Inc()
}

func (c *Collector) RecordStoreError(operation string) {
	if c == nil {
		return
	}
	c.storeErrors.WithLabelValues(operation).Inc()
}

func (c *Collector) SetActiveTests(n int) {
	if c == nil {
		return
	}
	c.activeTests.Set(float64(n))
}

func (c *Collector) SetPValue(testID string, p float64) {
	if c == nil {
		return
	}
	c.pValue.WithLabelValues(testID).Set(p)
}

// ForgetTest drops the per-test gauge of a test that is no longer monitored.
func (c *Collector) ForgetTest(testID string) {
	if c == nil {
		return
	}
	c.pValue.DeleteLabelValues(testID)
}
