// v1
// internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels of processed readings.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Metrics owns the engine collectors. Every method is safe on a nil
// receiver so components can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	readingsTotal      *prometheus.CounterVec
	actionsTotal       *prometheus.CounterVec
	predictionsTotal   *prometheus.CounterVec
	anomaliesTotal     *prometheus.CounterVec
	achievementsTotal  *prometheus.CounterVec
	decodeDropTotal    *prometheus.CounterVec
	reportDuration     prometheus.Histogram
	reportFailures     prometheus.Counter
	notificationsTotal *prometheus.CounterVec
	httpRequestsTotal  *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	cbState            *prometheus.GaugeVec
	campusTotal        *prometheus.GaugeVec
}

// New builds the collectors on a private registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		readingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ecoversa_readings_processed_total",
			Help: "Sensor readings handled by metric type and outcome.",
		}, []string{"metric", "outcome"}),
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ecoversa_actions_ingested_total",
			Help: "User actions handled by outcome.",
		}, []string{"outcome"}),
		predictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ecoversa_predictions_ingested_total",
			Help: "Prediction batches handled by outcome.",
		}, []string{"outcome"}),
		anomaliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ecoversa_anomalies_detected_total",
			Help: "Anomalies flagged by severity.",
		}, []string{"severity"}),
		achievementsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ecoversa_achievements_granted_total",
			Help: "Achievements granted by type.",
		}, []string{"type"}),
		decodeDropTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ecoversa_ingest_decode_drop_total",
			Help: "Inbound payloads dropped during decoding by source and reason.",
		}, []string{"source", "reason"}),
		reportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ecoversa_report_generation_duration_seconds",
			Help:    "Duration of daily report generation.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		reportFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ecoversa_report_generation_failures_total",
			Help: "Daily report generations that aborted.",
		}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ecoversa_notifications_total",
			Help: "Notifications handed to the publisher by kind and outcome.",
		}, []string{"kind", "outcome"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ecoversa_http_requests_total",
			Help: "HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ecoversa_http_request_duration_seconds",
			Help:    "HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		cbState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ecoversa_cb_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open).",
		}, []string{"target"}),
		campusTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ecoversa_campus_total",
			Help: "Campus-wide sum of the latest building values per metric.",
		}, []string{"metric"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.readingsTotal,
		m.actionsTotal,
		m.predictionsTotal,
		m.anomaliesTotal,
		m.achievementsTotal,
		m.decodeDropTotal,
		m.reportDuration,
		m.reportFailures,
		m.notificationsTotal,
		m.httpRequestsTotal,
		m.httpDuration,
		m.cbState,
		m.campusTotal,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Reading(metric, outcome string) {
	if m == nil {
		return
	}
	m.readingsTotal.WithLabelValues(labelOr(metric, "unknown"), outcome).Inc()
}

func (m *Metrics) Action(outcome string) {
	if m == nil {
		return
	}
	m.actionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Prediction(outcome string) {
	if m == nil {
		return
	}
	m.predictionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Anomaly(severity string) {
	if m == nil {
		return
	}
	m.anomaliesTotal.WithLabelValues(severity).Inc()
}

func (m *Metrics) Achievement(kind string) {
	if m == nil {
		return
	}
	m.achievementsTotal.WithLabelValues(kind).Inc()
}

// DecodeDrop counts a payload rejected by an ingest source.
func (m *Metrics) DecodeDrop(source, reason string) {
	if m == nil {
		return
	}
	m.decodeDropTotal.WithLabelValues(source, labelOr(reason, "unknown")).Inc()
}

// ReportGenerated records one report run.
func (m *Metrics) ReportGenerated(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.reportDuration.Observe(d.Seconds())
	if err != nil {
		m.reportFailures.Inc()
	}
}

func (m *Metrics) Notification(kind string, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeFailed
	}
	m.notificationsTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) HTTPRequest(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// SetBreakerState maps closed/half_open/open to 0/1/2.
func (m *Metrics) SetBreakerState(target, state string) {
	if m == nil {
		return
	}
	var v float64
	switch state {
	case "half_open":
		v = 1
	case "open":
		v = 2
	}
	m.cbState.WithLabelValues(target).Set(v)
}

func (m *Metrics) SetCampusTotal(metric string, total float64) {
	if m == nil {
		return
	}
	m.campusTotal.WithLabelValues(metric).Set(total)
}

func labelOr(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
