package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carebridge/shiftcover/pkg/logger"
)

type PrometheusMetrics struct {
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

func NewPrometheusMetrics() *PrometheusMetrics {
	pm := &PrometheusMetrics{
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}

	pm.registerMetrics()

	return pm
}

var instance *PrometheusMetrics

// Initialize installs the process-wide metrics instance. Called once
// from cmd/shiftcoverd at startup.
func Initialize() *PrometheusMetrics {
	instance = NewPrometheusMetrics()
	return instance
}

// Get returns the process-wide metrics instance. Panics if Initialize
// hasn't run, the same startup-ordering contract rediscache.Get and
// db.GetDB use.
func Get() *PrometheusMetrics {
	if instance == nil {
		panic("metrics not initialized")
	}
	return instance
}

func (pm *PrometheusMetrics) registerMetrics() {
	// Counters
	pm.counters["calls_processed"] = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shiftcover_calls_processed_total",
			Help: "Total number of inbound calls processed, by final phase",
		},
		[]string{"phase", "provider"},
	)

	pm.counters["calls_failed"] = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shiftcover_calls_failed_total",
			Help: "Total number of calls that ended in abandonment or a transfer to a human",
		},
		[]string{"reason", "provider"},
	)

	pm.counters["webhook_requests_total"] = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shiftcover_webhook_requests_total",
			Help: "Total telephony/SMS webhook requests received",
		},
		[]string{"channel", "event"},
	)

	pm.counters["sms_sent_total"] = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shiftcover_sms_sent_total",
			Help: "Total outbound SMS messages sent, by wave",
		},
		[]string{"provider", "wave"},
	)

	pm.counters["arbiter_transitions_total"] = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shiftcover_arbiter_transitions_total",
			Help: "Total occurrence status transitions applied by the assignment arbiter",
		},
		[]string{"from", "to"},
	)

	pm.counters["arbiter_race_losses_total"] = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shiftcover_arbiter_race_losses_total",
			Help: "Total compare-and-set attempts that lost the race on an occurrence's status",
		},
		[]string{"from", "to"},
	)

	pm.counters["outbound_dials_total"] = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shiftcover_outbound_dials_total",
			Help: "Total outbound escalation calls placed, by outcome",
		},
		[]string{"provider", "outcome"},
	)

	// Histograms
	pm.histograms["call_duration"] = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shiftcover_call_duration_seconds",
			Help:    "Inbound call duration in seconds",
			Buckets: []float64{5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"direction"},
	)

	pm.histograms["webhook_processing_time"] = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shiftcover_webhook_processing_seconds",
			Help:    "Time to process a telephony/SMS webhook request",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"channel"},
	)

	pm.histograms["speech_confidence"] = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shiftcover_speech_confidence",
			Help:    "Confidence score returned by the speech interpreter, by grammar",
			Buckets: []float64{0, 0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 1},
		},
		[]string{"grammar"},
	)

	// Gauges
	pm.gauges["active_calls"] = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shiftcover_active_calls",
			Help: "Current number of in-progress calls",
		},
		[]string{"provider"},
	)

	pm.gauges["queue_depth"] = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shiftcover_queue_depth",
			Help: "Current number of pending delayed jobs, by kind",
		},
		[]string{"kind"},
	)

	pm.gauges["open_occurrences"] = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shiftcover_open_occurrences",
			Help: "Current number of shift occurrences awaiting coverage, by provider",
		},
		[]string{"provider"},
	)

	for _, counter := range pm.counters {
		prometheus.MustRegister(counter)
	}
	for _, histogram := range pm.histograms {
		prometheus.MustRegister(histogram)
	}
	for _, gauge := range pm.gauges {
		prometheus.MustRegister(gauge)
	}
}

func (pm *PrometheusMetrics) IncrementCounter(name string, labels map[string]string) {
	if counter, exists := pm.counters[name]; exists {
		counter.With(prometheus.Labels(labels)).Inc()
	}
}

func (pm *PrometheusMetrics) ObserveHistogram(name string, value float64, labels map[string]string) {
	if histogram, exists := pm.histograms[name]; exists {
		histogram.With(prometheus.Labels(labels)).Observe(value)
	}
}

func (pm *PrometheusMetrics) SetGauge(name string, value float64, labels map[string]string) {
	if gauge, exists := pm.gauges[name]; exists {
		if labels == nil {
			labels = make(map[string]string)
		}
		gauge.With(prometheus.Labels(labels)).Set(value)
	}
}

func (pm *PrometheusMetrics) ServeHTTP(port int) error {
	http.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	logger.WithField("addr", addr).Info("metrics server started")
	return http.ListenAndServe(addr, nil)
}
