package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

// Metrics holds the process-wide prometheus collectors. Registration is
// idempotent so tests can build multiple instances.
type Metrics struct {
	once        sync.Once
	initialized bool

	requestTotal    *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
	deployTotal     *prometheus.CounterVec
	deployDuration  *prometheus.HistogramVec
	restartTotal    *prometheus.CounterVec
	logChunksTotal  *prometheus.CounterVec
	webhookAccepted *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{}
	m.init()
	return m
}

func (m *Metrics) init() {
	m.once.Do(func() {
		m.requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webops",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"})

		m.requestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "webops",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"})

		m.deployTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webops",
			Subsystem: "deploy",
			Name:      "deployments_total",
			Help:      "Deployments by outcome",
		}, []string{"outcome"})

		m.deployDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "webops",
			Subsystem: "deploy",
			Name:      "duration_seconds",
			Help:      "Wall time of whole deploy runs",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"kind"})

		m.restartTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webops",
			Subsystem: "restart",
			Name:      "attempts_total",
			Help:      "Restart engine decisions",
		}, []string{"decision"})

		m.logChunksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webops",
			Subsystem: "logtail",
			Name:      "chunks_total",
			Help:      "Log chunks published to subscribers",
		}, []string{"deployment"})

		m.webhookAccepted = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webops",
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Webhook deliveries by outcome",
		}, []string{"accepted"})

		collectors := []prometheus.Collector{
			m.requestTotal, m.requestLatency, m.deployTotal,
			m.deployDuration, m.restartTotal, m.logChunksTotal,
			m.webhookAccepted,
		}
		for i, collector := range collectors {
			if err := prometheus.Register(collector); err != nil {
				if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
					switch v := are.ExistingCollector.(type) {
					case *prometheus.CounterVec:
						switch i {
						case 0:
							m.requestTotal = v
						case 2:
							m.deployTotal = v
						case 4:
							m.restartTotal = v
						case 5:
							m.logChunksTotal = v
						case 6:
							m.webhookAccepted = v
						}
					case *prometheus.HistogramVec:
						switch i {
						case 1:
							m.requestLatency = v
						case 3:
							m.deployDuration = v
						}
					}
				}
			}
		}
		m.initialized = true
	})
}

func (m *Metrics) RecordRequest(method, route string, status int, duration time.Duration) {
	if !m.initialized {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	m.requestTotal.With(labels).Inc()
	m.requestLatency.With(labels).Observe(duration.Seconds())
}

func (m *Metrics) RecordDeploy(outcome, kind string, duration time.Duration) {
	if !m.initialized {
		return
	}
	m.deployTotal.With(prometheus.Labels{"outcome": outcome}).Inc()
	m.deployDuration.With(prometheus.Labels{"kind": kind}).Observe(duration.Seconds())
}

func (m *Metrics) RecordRestartDecision(decision string) {
	if !m.initialized {
		return
	}
	m.restartTotal.With(prometheus.Labels{"decision": decision}).Inc()
}

func (m *Metrics) RecordLogChunk(deployment string) {
	if !m.initialized {
		return
	}
	m.logChunksTotal.With(prometheus.Labels{"deployment": deployment}).Inc()
}

func (m *Metrics) RecordWebhookDelivery(accepted bool) {
	if !m.initialized {
		return
	}
	m.webhookAccepted.With(prometheus.Labels{"accepted": strconv.FormatBool(accepted)}).Inc()
}
